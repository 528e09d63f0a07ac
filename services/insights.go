package services

import (
	"fmt"
	"sort"
	"strings"

	"listing-watcher/models"
	"listing-watcher/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(records map[string]models.TrackedRecord) *models.InsightReport {
	report := &models.InsightReport{
		ListingsByNeighborhood: make(map[string]int),
	}

	if len(records) == 0 {
		return report
	}

	report.TotalListings = len(records)

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var total, priced int
	for _, id := range ids {
		l := records[id].Listing
		if l.IsAgency() {
			report.AgencyListings++
		} else {
			report.PrivateListings++
		}
		if n := strings.TrimSpace(l.Address.Neighborhood); n != "" {
			report.ListingsByNeighborhood[n]++
		}
		if l.Price == nil {
			continue
		}

		p := *l.Price
		total += p
		priced++
		if priced == 1 || p < report.MinPrice {
			report.MinPrice = p
			cheapest := l
			report.Cheapest = &cheapest
		}
		if p > report.MaxPrice {
			report.MaxPrice = p
		}
	}

	if priced > 0 {
		report.AveragePrice = (total + priced/2) / priced
	}

	s.logger.Debug("[insights] report generated", "total", report.TotalListings, "priced", priced)
	return report
}

// Summary renders the report as a few message lines for the digest header.
func (s *InsightService) Summary(r *models.InsightReport, c *Composer) string {
	lines := []string{
		fmt.Sprintf("📊 %d private, %d agency", r.PrivateListings, r.AgencyListings),
	}
	if r.AveragePrice > 0 {
		lines = append(lines, fmt.Sprintf("💰 Avg %s, min %s, max %s",
			c.price(&r.AveragePrice), c.price(&r.MinPrice), c.price(&r.MaxPrice)))
	}

	type neighborhoodCount struct {
		name  string
		count int
	}
	var counts []neighborhoodCount
	for name, n := range r.ListingsByNeighborhood {
		counts = append(counts, neighborhoodCount{name, n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].name < counts[j].name
	})
	for _, nc := range counts {
		lines = append(lines, fmt.Sprintf("📍 %s: %d", nc.name, nc.count))
	}
	return strings.Join(lines, "\n")
}

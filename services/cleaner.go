package services

import (
	"strings"
	"unicode"

	"listing-watcher/models"
	"listing-watcher/utils"
)

// Cleaner tidies fetched listings before reconciliation.
type Cleaner struct {
	logger        *utils.Logger
	neighborhoods map[string]struct{}
}

// NewCleaner creates a Cleaner. When neighborhoods is non-empty, only
// listings in one of them are kept.
func NewCleaner(logger *utils.Logger, neighborhoods []string) *Cleaner {
	c := &Cleaner{logger: logger}
	if len(neighborhoods) > 0 {
		c.neighborhoods = make(map[string]struct{}, len(neighborhoods))
		for _, n := range neighborhoods {
			if n = normaliseText(n); n != "" {
				c.neighborhoods[n] = struct{}{}
			}
		}
	}
	return c
}

// Clean normalises text fields and drops listings without an id or outside
// the configured neighborhoods. Duplicates are left for the reconciler.
func (c *Cleaner) Clean(raw []models.Listing) []models.Listing {
	result := make([]models.Listing, 0, len(raw))
	var missingID, outside int

	for _, l := range raw {
		l.ID = strings.TrimSpace(l.ID)
		if l.ID == "" {
			missingID++
			c.logger.Warn("[cleaner] dropping listing without id", "title", l.Title)
			continue
		}

		l.Title = normaliseText(l.Title)
		l.Description = normaliseText(l.Description)
		l.Agency = normaliseText(l.Agency)
		l.Address.Street = normaliseText(l.Address.Street)
		l.Address.Number = normaliseText(l.Address.Number)
		l.Address.Floor = normaliseText(l.Address.Floor)
		l.Address.Neighborhood = normaliseText(l.Address.Neighborhood)
		l.Address.City = normaliseText(l.Address.City)
		if l.Price != nil && *l.Price <= 0 {
			l.Price = nil
		}

		if c.neighborhoods != nil {
			if _, ok := c.neighborhoods[l.Address.Neighborhood]; !ok {
				outside++
				continue
			}
		}
		result = append(result, l)
	}

	c.logger.Info("[cleaner] cleaned listings",
		"in", len(raw), "out", len(result), "missing_id", missingID, "outside_neighborhoods", outside)
	return result
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

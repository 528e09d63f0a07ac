package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"listing-watcher/models"
)

// CSVWriter exports the tracked listings to a timestamped CSV file per run.
// It is safe for concurrent use.
type CSVWriter struct {
	mu  sync.Mutex
	dir string
}

// NewCSVWriter creates the output directory and returns a writer into it.
func NewCSVWriter(dir string) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}
	return &CSVWriter{dir: dir}, nil
}

var csvHeader = []string{
	"id", "type", "title", "price", "street", "number", "floor", "neighborhood", "city",
	"rooms", "square_meters", "agency", "link", "first_seen", "last_updated",
}

// WriteSnapshot writes every record, most recently seen first, and returns
// the file path.
func (c *CSVWriter) WriteSnapshot(records map[string]models.TrackedRecord, at time.Time) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := filepath.Join(c.dir, fmt.Sprintf("listings_%s.csv", at.Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("csv: create file %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("csv: write header: %w", err)
	}

	for _, rec := range sortedByFirstSeen(records) {
		l := rec.Listing
		price := ""
		if l.Price != nil {
			price = strconv.Itoa(*l.Price)
		}
		row := []string{
			l.ID,
			l.Type,
			l.Title,
			price,
			l.Address.Street,
			l.Address.Number,
			l.Address.Floor,
			l.Address.Neighborhood,
			l.Address.City,
			strconv.FormatFloat(l.Details.Rooms, 'f', -1, 64),
			strconv.Itoa(l.Details.SquareMeters),
			l.Agency,
			l.Link,
			rec.FirstSeen.Format(time.RFC3339),
			rec.LastUpdated.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("csv: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("csv: flush: %w", err)
	}
	return path, nil
}

func sortedByFirstSeen(records map[string]models.TrackedRecord) []models.TrackedRecord {
	out := make([]models.TrackedRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.After(out[j].FirstSeen)
		}
		return out[i].Listing.ID < out[j].Listing.ID
	})
	return out
}

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"listing-watcher/models"
	"listing-watcher/utils"
)

// TrackedListingsFile is the file name of the tracked listings snapshot.
const TrackedListingsFile = "tracked_listings.json"

// JSONListingStore keeps the tracked listings in one JSON document keyed by
// listing id.
type JSONListingStore struct {
	path   string
	logger *utils.Logger
}

// NewJSONListingStore returns a store backed by the file at path.
func NewJSONListingStore(path string, logger *utils.Logger) *JSONListingStore {
	return &JSONListingStore{path: path, logger: logger}
}

// storedRecord is the on-disk shape of a TrackedRecord. Files written by
// earlier versions quote ids inconsistently and carry offset-less
// timestamps, so those fields are decoded leniently.
type storedRecord struct {
	Details     storedListing `json:"details"`
	FirstSeen   string        `json:"first_seen"`
	LastUpdated string        `json:"last_updated"`
}

type storedListing struct {
	models.Listing
	ID      models.FlexString `json:"id"`
	Address storedAddress     `json:"address"`
}

type storedAddress struct {
	models.Address
	Number models.FlexString `json:"number"`
	Floor  models.FlexString `json:"floor"`
}

func (r storedRecord) record(id string) (models.TrackedRecord, error) {
	firstSeen, err := parseTimestamp(r.FirstSeen)
	if err != nil {
		return models.TrackedRecord{}, fmt.Errorf("first_seen %q: %w", r.FirstSeen, err)
	}
	lastUpdated := firstSeen
	if r.LastUpdated != "" {
		if t, err := parseTimestamp(r.LastUpdated); err == nil && !t.IsZero() {
			lastUpdated = t
		}
	}

	l := r.Details.Listing
	l.ID = string(r.Details.ID)
	if l.ID == "" {
		l.ID = id
	}
	l.Address = r.Details.Address.Address
	l.Address.Number = string(r.Details.Address.Number)
	l.Address.Floor = string(r.Details.Address.Floor)

	return models.TrackedRecord{Listing: l, FirstSeen: firstSeen, LastUpdated: lastUpdated}, nil
}

// Load returns the persisted mapping. A missing file is a first run and a
// corrupt file is logged; both yield an empty mapping. A single unreadable
// entry is skipped with a warning.
func (s *JSONListingStore) Load() map[string]models.TrackedRecord {
	records := make(map[string]models.TrackedRecord)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("[listings] could not read tracked listings, starting empty",
				"path", s.path, "error", err)
		}
		return records
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("[listings] tracked listings file is corrupt, starting empty",
			"path", s.path, "error", err)
		return records
	}

	for id, entry := range raw {
		if id == "" {
			continue
		}
		var stored storedRecord
		if err := json.Unmarshal(entry, &stored); err != nil {
			s.logger.Warn("[listings] skipping unreadable record", "listing_id", id, "error", err)
			continue
		}
		rec, err := stored.record(id)
		if err != nil {
			s.logger.Warn("[listings] skipping unreadable record", "listing_id", id, "error", err)
			continue
		}
		records[id] = rec
	}
	return records
}

// Save atomically replaces the persisted snapshot.
func (s *JSONListingStore) Save(records map[string]models.TrackedRecord) error {
	if records == nil {
		records = map[string]models.TrackedRecord{}
	}
	data, err := marshalIndented(records)
	if err != nil {
		return fmt.Errorf("listings: encode: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("listings: save %q: %w", s.path, err)
	}
	return nil
}

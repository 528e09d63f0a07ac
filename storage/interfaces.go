package storage

import (
	"context"
	"errors"
	"time"

	"listing-watcher/models"
)

var (
	// ErrRuleNotFound is returned by Remove when no rule has the given key.
	ErrRuleNotFound = errors.New("exclusion rule not found")
	// ErrDuplicateRule is returned when an equivalent rule already exists.
	ErrDuplicateRule = errors.New("exclusion rule already exists")
)

// ListingStore persists the tracked listings snapshot.
type ListingStore interface {
	Load() map[string]models.TrackedRecord
	Save(records map[string]models.TrackedRecord) error
}

// RuleStore persists user-owned exclusion rules.
type RuleStore interface {
	Rules() []models.ExclusionRule
	AddID(id, reason string) (models.ExclusionRule, error)
	AddAddress(street, number, reason string) (models.ExclusionRule, error)
	AddStreet(street, reason string) (models.ExclusionRule, error)
	Remove(key string) (models.ExclusionRule, error)
}

// RunArchive records each completed run for later analysis.
type RunArchive interface {
	Record(ctx context.Context, run RunRecord) error
	Close() error
}

// SnapshotWriter exports the current tracked set.
type SnapshotWriter interface {
	WriteSnapshot(records map[string]models.TrackedRecord, at time.Time) (string, error)
}

// RunRecord is what a RunArchive stores for one run.
type RunRecord struct {
	RunID     string
	StartedAt time.Time
	Fetched   int
	Excluded  int
	Changes   models.ChangeSet
	Tracked   map[string]models.TrackedRecord
}

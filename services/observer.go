package services

import (
	"time"

	"listing-watcher/models"
	"listing-watcher/utils"
)

// ChangeKind names a ChangeSet category.
type ChangeKind string

const (
	ChangeNew          ChangeKind = "new"
	ChangeUpdated      ChangeKind = "updated"
	ChangePriceChanged ChangeKind = "price_changed"
	ChangeRemoved      ChangeKind = "removed"
)

// RunSummary is reported once per run.
type RunSummary struct {
	RunID        string
	Mode         string
	Fetched      int
	Excluded     int
	Tracked      int
	New          int
	Updated      int
	PriceChanged int
	Removed      int
	ChunksSent   int
	ChunksFailed int
	Duration     time.Duration
}

// Observer receives structured events from the engine. Implementations
// must not block.
type Observer interface {
	RunStarted(runID, mode string)
	ListingsFetched(count int)
	ListingExcluded(l models.Listing, kind models.ExclusionKind)
	ListingClassified(kind ChangeKind, l models.Listing)
	ChunkDispatched(index, total int, err error)
	RunFinished(summary RunSummary, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) RunStarted(string, string) {}
func (NopObserver) ListingsFetched(int) {}
func (NopObserver) ListingExcluded(models.Listing, models.ExclusionKind) {}
func (NopObserver) ListingClassified(ChangeKind, models.Listing) {}
func (NopObserver) ChunkDispatched(int, int, error) {}
func (NopObserver) RunFinished(RunSummary, error) {}

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) RunStarted(runID, mode string) {
	for _, o := range m {
		o.RunStarted(runID, mode)
	}
}

func (m MultiObserver) ListingsFetched(count int) {
	for _, o := range m {
		o.ListingsFetched(count)
	}
}

func (m MultiObserver) ListingExcluded(l models.Listing, kind models.ExclusionKind) {
	for _, o := range m {
		o.ListingExcluded(l, kind)
	}
}

func (m MultiObserver) ListingClassified(kind ChangeKind, l models.Listing) {
	for _, o := range m {
		o.ListingClassified(kind, l)
	}
}

func (m MultiObserver) ChunkDispatched(index, total int, err error) {
	for _, o := range m {
		o.ChunkDispatched(index, total, err)
	}
}

func (m MultiObserver) RunFinished(summary RunSummary, err error) {
	for _, o := range m {
		o.RunFinished(summary, err)
	}
}

// LogObserver writes every event to the structured logger.
type LogObserver struct {
	logger *utils.Logger
}

// NewLogObserver returns an Observer backed by logger.
func NewLogObserver(logger *utils.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) RunStarted(runID, mode string) {
	o.logger.Info("[run] started", "run_id", runID, "mode", mode)
}

func (o *LogObserver) ListingsFetched(count int) {
	if count == 0 {
		o.logger.Warn("[run] source returned no listings, keeping previous state")
		return
	}
	o.logger.Info("[run] listings fetched", "count", count)
}

func (o *LogObserver) ListingExcluded(l models.Listing, kind models.ExclusionKind) {
	o.logger.Debug("[exclusions] listing excluded",
		"listing_id", l.ID, "rule_kind", kind, "street", l.Address.Street, "number", l.Address.Number)
}

func (o *LogObserver) ListingClassified(kind ChangeKind, l models.Listing) {
	o.logger.Debug("[reconcile] listing classified", "kind", kind, "listing_id", l.ID, "title", l.Title)
}

func (o *LogObserver) ChunkDispatched(index, total int, err error) {
	if err != nil {
		o.logger.Error("[notify] chunk failed", "chunk", index, "total", total, "error", err)
		return
	}
	o.logger.Debug("[notify] chunk sent", "chunk", index, "total", total)
}

func (o *LogObserver) RunFinished(s RunSummary, err error) {
	fields := []any{
		"run_id", s.RunID,
		"mode", s.Mode,
		"fetched", s.Fetched,
		"excluded", s.Excluded,
		"tracked", s.Tracked,
		"new", s.New,
		"updated", s.Updated,
		"price_changed", s.PriceChanged,
		"removed", s.Removed,
		"chunks_sent", s.ChunksSent,
		"chunks_failed", s.ChunksFailed,
		"duration", s.Duration,
	}
	if err != nil {
		o.logger.Error("[run] failed", append(fields, "error", err)...)
		return
	}
	o.logger.Info("[run] finished", fields...)
}

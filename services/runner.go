package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"listing-watcher/models"
	"listing-watcher/storage"
	"listing-watcher/utils"
)

// Run modes.
const (
	// ModeChanges reports the change set of the run.
	ModeChanges = "changes"
	// ModeDigest sends the full digest of tracked listings, preceded by the
	// change set when there is one.
	ModeDigest = "digest"
	// ModeAuto reports the change set and appends the digest when it is due.
	ModeAuto = "auto"
)

// Source fetches the current batch of listings.
type Source interface {
	Fetch(ctx context.Context) ([]models.Listing, error)
}

// Dispatcher sends text chunks in order and returns one error slot per
// chunk (nil on success). A failed chunk must not stop the others.
type Dispatcher interface {
	Dispatch(ctx context.Context, chunks []string) []error
}

// TimestampStore persists a single point in time.
type TimestampStore interface {
	Load() (time.Time, bool)
	Save(t time.Time) error
}

// RunMarker records that a run happened.
type RunMarker interface {
	Mark(t time.Time) error
}

// Deps wires a Runner. Snapshot, Archive and History are optional.
type Deps struct {
	Source     Source
	Listings   storage.ListingStore
	Rules      storage.RuleStore
	Dispatcher Dispatcher
	Composer   *Composer
	Cleaner    *Cleaner
	Insights   *InsightService
	LastDigest TimestampStore
	Policy     DigestPolicy
	Snapshot   storage.SnapshotWriter
	Archive    storage.RunArchive
	History    RunMarker
	Observer   Observer
	Logger     *utils.Logger
	Now        func() time.Time
	NewRunID   func() string
}

// Runner executes one watch run: fetch, reconcile, persist, notify.
type Runner struct {
	Deps
}

// NewRunner fills in defaults for the optional collaborators.
func NewRunner(d Deps) *Runner {
	if d.Logger == nil {
		d.Logger = utils.NewNopLogger()
	}
	if d.Observer == nil {
		d.Observer = NopObserver{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewRunID == nil {
		d.NewRunID = func() string { return fmt.Sprintf("run-%d", time.Now().UnixNano()) }
	}
	if d.Composer == nil {
		d.Composer = NewComposer(DefaultBudget, d.Policy.Location)
	}
	if d.Insights == nil {
		d.Insights = NewInsightService(d.Logger)
	}
	return &Runner{Deps: d}
}

// Run executes a single run in the given mode. The returned error is only
// set for fatal failures; dispatch failures are counted in the summary.
func (r *Runner) Run(ctx context.Context, mode string) (RunSummary, error) {
	started := r.Now()
	summary := RunSummary{RunID: r.NewRunID(), Mode: mode}
	r.Observer.RunStarted(summary.RunID, mode)

	err := r.run(ctx, mode, started, &summary)
	summary.Duration = r.Now().Sub(started)
	if err != nil {
		r.notifyFailure(ctx, err)
	}
	r.Observer.RunFinished(summary, err)
	return summary, err
}

func (r *Runner) run(ctx context.Context, mode string, started time.Time, summary *RunSummary) error {
	switch mode {
	case ModeChanges, ModeDigest, ModeAuto:
	default:
		return fmt.Errorf("runner: unknown mode %q", mode)
	}

	previous := r.Listings.Load()

	fetched, err := r.Source.Fetch(ctx)
	if err != nil {
		r.Logger.Warn("[run] fetch failed, treating as empty batch", "error", err)
		fetched = nil
	}
	if r.Cleaner != nil {
		fetched = r.Cleaner.Clean(fetched)
	}
	summary.Fetched = len(fetched)
	r.Observer.ListingsFetched(len(fetched))

	matcher := NewMatcher(r.Rules.Rules(), r.Logger)
	exclude := func(l models.Listing) bool {
		m, ok := matcher.Match(l)
		if ok {
			summary.Excluded++
			r.Observer.ListingExcluded(l, m.Kind)
		}
		return ok
	}

	cs, next := NewReconciler(r.Observer).Reconcile(previous, fetched, exclude, started)
	if err := Verify(cs, next); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	summary.Tracked = len(next)
	summary.New = len(cs.New)
	summary.Updated = len(cs.Updated)
	summary.PriceChanged = len(cs.PriceChanged)
	summary.Removed = len(cs.Removed)

	if len(fetched) > 0 {
		if err := r.Listings.Save(next); err != nil {
			return fmt.Errorf("runner: save tracked listings: %w", err)
		}
	}

	r.export(ctx, summary.RunID, started, len(fetched), summary.Excluded, cs, next)

	// The change set goes out in every mode since the state was already
	// advanced past it.
	chunks := r.Composer.ChangeMessages(cs)
	digest := mode == ModeDigest
	if mode != ModeDigest {
		if len(chunks) == 0 {
			chunks = []string{r.Composer.NoChangesMessage(len(next), len(fetched) == 0)}
		}
		if mode == ModeAuto {
			digest = r.digestDue(started)
		}
	}
	sent, failed := r.dispatch(ctx, chunks)

	if digest {
		report := r.Insights.Generate(next)
		dsent, dfailed := r.dispatch(ctx, r.Composer.DigestMessages(next, started, r.Insights.Summary(report, r.Composer)))
		sent, failed = sent+dsent, failed+dfailed
		if dfailed == 0 && r.LastDigest != nil {
			if err := r.LastDigest.Save(started); err != nil {
				r.Logger.Warn("[run] could not record digest time", "error", err)
			}
		}
	}
	summary.ChunksSent, summary.ChunksFailed = sent, failed

	if r.History != nil {
		if err := r.History.Mark(started); err != nil {
			r.Logger.Warn("[run] could not record run history", "error", err)
		}
	}
	return nil
}

func (r *Runner) digestDue(now time.Time) bool {
	if r.LastDigest == nil {
		return r.Policy.IsDue(time.Time{}, false, now)
	}
	last, ok := r.LastDigest.Load()
	return r.Policy.IsDue(last, ok, now)
}

func (r *Runner) dispatch(ctx context.Context, chunks []string) (sent, failed int) {
	if len(chunks) == 0 {
		return 0, 0
	}
	errs := r.Dispatcher.Dispatch(ctx, chunks)
	for i := range chunks {
		var err error
		if i < len(errs) {
			err = errs[i]
		} else {
			err = errors.New("no dispatch result")
		}
		r.Observer.ChunkDispatched(i+1, len(chunks), err)
		if err != nil {
			failed++
		} else {
			sent++
		}
	}
	return sent, failed
}

// export writes the optional CSV snapshot and archive row. Failures are
// logged and never fail the run.
func (r *Runner) export(ctx context.Context, runID string, at time.Time, fetched, excluded int, cs models.ChangeSet, next map[string]models.TrackedRecord) {
	if r.Snapshot != nil && len(next) > 0 {
		path, err := r.Snapshot.WriteSnapshot(next, at)
		if err != nil {
			r.Logger.Warn("[run] snapshot failed", "error", err)
		} else {
			r.Logger.Debug("[run] snapshot written", "path", path)
		}
	}
	if r.Archive != nil {
		rec := storage.RunRecord{
			RunID:     runID,
			StartedAt: at,
			Fetched:   fetched,
			Excluded:  excluded,
			Changes:   cs,
			Tracked:   next,
		}
		if err := r.Archive.Record(ctx, rec); err != nil {
			r.Logger.Warn("[run] archive failed", "error", err)
		}
	}
}

// notifyFailure sends a best-effort error message. Its own failure is only
// logged so the original error is what the caller sees.
func (r *Runner) notifyFailure(ctx context.Context, runErr error) {
	if r.Dispatcher == nil {
		return
	}
	errs := r.Dispatcher.Dispatch(ctx, []string{r.Composer.ErrorMessage(runErr)})
	for _, err := range errs {
		if err != nil {
			r.Logger.Error("[run] error notification failed", "error", err, "run_error", runErr)
		}
	}
}

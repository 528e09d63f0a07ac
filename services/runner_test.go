package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-watcher/models"
	"listing-watcher/storage"
)

type fakeSource struct {
	listings []models.Listing
	err      error
}

func (f *fakeSource) Fetch(context.Context) ([]models.Listing, error) {
	return f.listings, f.err
}

type memListings struct {
	records map[string]models.TrackedRecord
	saves   int
	err     error
}

func (m *memListings) Load() map[string]models.TrackedRecord {
	out := make(map[string]models.TrackedRecord, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out
}

func (m *memListings) Save(records map[string]models.TrackedRecord) error {
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.records = records
	return nil
}

type memRules struct {
	storage.RuleStore
	rules []models.ExclusionRule
}

func (m *memRules) Rules() []models.ExclusionRule { return m.rules }

type fakeDispatcher struct {
	sent    [][]string
	failAt  map[int]bool
	failAll bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, chunks []string) []error {
	f.sent = append(f.sent, chunks)
	errs := make([]error, len(chunks))
	for i := range chunks {
		if f.failAll || f.failAt[i] {
			errs[i] = errors.New("telegram rejected chunk")
		}
	}
	return errs
}

func (f *fakeDispatcher) texts() string {
	var all []string
	for _, batch := range f.sent {
		all = append(all, batch...)
	}
	return strings.Join(all, "\n---\n")
}

type memStamp struct {
	t  time.Time
	ok bool
}

func (m *memStamp) Load() (time.Time, bool) { return m.t, m.ok }
func (m *memStamp) Save(t time.Time) error {
	m.t, m.ok = t, true
	return nil
}

type countingMarker struct{ marks int }

func (c *countingMarker) Mark(time.Time) error {
	c.marks++
	return nil
}

type fakeArchive struct {
	runs []storage.RunRecord
}

func (f *fakeArchive) Record(_ context.Context, run storage.RunRecord) error {
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeArchive) Close() error { return nil }

type runnerFixture struct {
	source     *fakeSource
	listings   *memListings
	rules      *memRules
	dispatcher *fakeDispatcher
	stamp      *memStamp
	history    *countingMarker
	archive    *fakeArchive
	runner     *Runner
}

func newRunnerFixture(prev map[string]models.TrackedRecord, fetched ...models.Listing) *runnerFixture {
	f := &runnerFixture{
		source:     &fakeSource{listings: fetched},
		listings:   &memListings{records: prev},
		rules:      &memRules{},
		dispatcher: &fakeDispatcher{},
		stamp:      &memStamp{t: t1, ok: true},
		history:    &countingMarker{},
		archive:    &fakeArchive{},
	}
	f.runner = NewRunner(Deps{
		Source:     f.source,
		Listings:   f.listings,
		Rules:      f.rules,
		Dispatcher: f.dispatcher,
		LastDigest: f.stamp,
		Policy:     DigestPolicy{Period: 24 * time.Hour, Hour: 9, Location: time.UTC},
		Archive:    f.archive,
		History:    f.history,
		Now:        func() time.Time { return t1 },
		NewRunID:   func() string { return "run-1" },
	})
	return f
}

func TestRunnerReportsChanges(t *testing.T) {
	f := newRunnerFixture(tracked(listing("A", 1000)), listing("A", 1200), listing("B", 500))

	summary, err := f.runner.Run(context.Background(), ModeChanges)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.PriceChanged)
	assert.Equal(t, 2, summary.Tracked)
	assert.Equal(t, 1, summary.ChunksSent)
	assert.Equal(t, 1, f.listings.saves)
	assert.Equal(t, 1200, *f.listings.records["A"].Listing.Price)
	assert.Contains(t, f.dispatcher.texts(), "🆕 New Listings (1):")
	assert.Contains(t, f.dispatcher.texts(), "💸 Price Changes (1):")
	assert.Equal(t, 1, f.history.marks)
	require.Len(t, f.archive.runs, 1)
	assert.Equal(t, "run-1", f.archive.runs[0].RunID)
}

func TestRunnerNoChanges(t *testing.T) {
	f := newRunnerFixture(tracked(listing("A", 1000)), listing("A", 1000))

	summary, err := f.runner.Run(context.Background(), ModeChanges)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.New+summary.Updated+summary.PriceChanged+summary.Removed)
	require.Len(t, f.dispatcher.sent, 1)
	assert.Contains(t, f.dispatcher.sent[0][0], "No changes")
}

func TestRunnerFetchFailureKeepsState(t *testing.T) {
	prev := tracked(listing("A", 1000))
	f := newRunnerFixture(prev)
	f.source.err = errors.New("yad2 blocked us")

	_, err := f.runner.Run(context.Background(), ModeChanges)
	require.NoError(t, err)

	assert.Equal(t, 0, f.listings.saves, "state must not be rewritten on an empty fetch")
	assert.Equal(t, prev, f.listings.records)
	assert.Contains(t, f.dispatcher.texts(), "source returned no results")
}

func TestRunnerAppliesExclusions(t *testing.T) {
	excluded := listing("X", 1)
	excluded.Address.Street = "ויסוצקי"
	f := newRunnerFixture(nil, excluded, listing("B", 2))
	f.rules.rules = []models.ExclusionRule{streetRule("ויסוצקי")}

	summary, err := f.runner.Run(context.Background(), ModeChanges)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Excluded)
	assert.Equal(t, 1, summary.New)
	assert.NotContains(t, f.listings.records, "X")
}

func TestRunnerDispatchFailureDoesNotBlockPersistence(t *testing.T) {
	f := newRunnerFixture(nil, listing("A", 1))
	f.dispatcher.failAll = true

	summary, err := f.runner.Run(context.Background(), ModeChanges)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ChunksFailed)
	assert.Equal(t, 1, f.listings.saves)
}

func TestRunnerSaveFailureIsFatalAndNotified(t *testing.T) {
	f := newRunnerFixture(nil, listing("A", 1))
	f.listings.err = errors.New("read-only filesystem")

	_, err := f.runner.Run(context.Background(), ModeChanges)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only filesystem")

	require.Len(t, f.dispatcher.sent, 1)
	assert.Contains(t, f.dispatcher.sent[0][0], "🚨")
	assert.Equal(t, 0, f.history.marks)
}

func TestRunnerErrorNotificationFailureKeepsOriginalError(t *testing.T) {
	f := newRunnerFixture(nil, listing("A", 1))
	f.listings.err = errors.New("read-only filesystem")
	f.dispatcher.failAll = true

	_, err := f.runner.Run(context.Background(), ModeChanges)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only filesystem")
}

func TestRunnerDigestMode(t *testing.T) {
	f := newRunnerFixture(tracked(listing("A", 1000), listing("B", 2000)), listing("A", 1000), listing("B", 2000))
	f.stamp.ok = false

	summary, err := f.runner.Run(context.Background(), ModeDigest)
	require.NoError(t, err)

	require.Len(t, f.dispatcher.sent, 1)
	assert.Contains(t, f.dispatcher.texts(), "2 tracked listings")
	assert.NotContains(t, f.dispatcher.texts(), "No changes")
	assert.Equal(t, 1, summary.ChunksSent)
	assert.True(t, f.stamp.ok)
	assert.Equal(t, t1, f.stamp.t)
}

func TestRunnerAutoModeAddsDueDigest(t *testing.T) {
	f := newRunnerFixture(tracked(listing("A", 1000)), listing("A", 1000))
	f.stamp.t = t1.Add(-25 * time.Hour)

	_, err := f.runner.Run(context.Background(), ModeAuto)
	require.NoError(t, err)

	require.Len(t, f.dispatcher.sent, 2)
	assert.Contains(t, f.dispatcher.sent[0][0], "No changes")
	assert.Contains(t, f.dispatcher.sent[1][0], "1 tracked listings")
	assert.Equal(t, t1, f.stamp.t)
}

func TestRunnerAutoModeSkipsDigestWhenNotDue(t *testing.T) {
	f := newRunnerFixture(tracked(listing("A", 1000)), listing("A", 1000))

	_, err := f.runner.Run(context.Background(), ModeAuto)
	require.NoError(t, err)

	assert.Len(t, f.dispatcher.sent, 1)
}

func TestRunnerFailedDigestIsRetriedNextTime(t *testing.T) {
	f := newRunnerFixture(tracked(listing("A", 1000)), listing("A", 1000))
	f.stamp.ok = false
	f.dispatcher.failAll = true

	_, err := f.runner.Run(context.Background(), ModeDigest)
	require.NoError(t, err)

	assert.False(t, f.stamp.ok)
}

func TestRunnerUnknownMode(t *testing.T) {
	f := newRunnerFixture(nil, listing("A", 1))

	_, err := f.runner.Run(context.Background(), "weekly")
	require.Error(t, err)
	assert.Equal(t, 0, f.listings.saves)
}

func TestRunnerDigestModeStillReportsChanges(t *testing.T) {
	f := newRunnerFixture(tracked(listing("A", 1000)), listing("A", 1200), listing("B", 500))
	f.stamp.ok = false

	summary, err := f.runner.Run(context.Background(), ModeDigest)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.PriceChanged)
	require.Len(t, f.dispatcher.sent, 2)
	assert.Contains(t, f.dispatcher.sent[0][0], "💸 Price Changes (1):")
	assert.Contains(t, f.dispatcher.sent[0][0], "🆕 New Listings (1):")
	assert.Contains(t, f.dispatcher.sent[1][0], "2 tracked listings")

	// A following changes run has nothing left to report.
	next := newRunnerFixture(f.listings.records, listing("A", 1200), listing("B", 500))
	_, err = next.runner.Run(context.Background(), ModeChanges)
	require.NoError(t, err)
	assert.Contains(t, next.dispatcher.sent[0][0], "No changes")
}

package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-watcher/models"
)

var (
	t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 = t0.Add(2 * time.Hour)
)

func listing(id string, price int) models.Listing {
	return models.Listing{
		ID:      id,
		Title:   "Apartment " + id,
		Price:   models.IntPtr(price),
		Address: models.Address{Street: "דיזנגוף", Number: "100", Neighborhood: "הצפון הישן - צפון"},
		Details: models.Details{Rooms: 3, SquareMeters: 70},
		Link:    "https://www.yad2.co.il/item/" + id,
	}
}

func tracked(ls ...models.Listing) map[string]models.TrackedRecord {
	m := make(map[string]models.TrackedRecord, len(ls))
	for _, l := range ls {
		m[l.ID] = models.TrackedRecord{Listing: l, FirstSeen: t0, LastUpdated: t0}
	}
	return m
}

func ids(ls []models.Listing) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.ID)
	}
	return out
}

func changeIDs(cs []models.Change) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Current.ID)
	}
	return out
}

type recordingObserver struct {
	NopObserver
	classified map[ChangeKind][]string
}

func (o *recordingObserver) ListingClassified(kind ChangeKind, l models.Listing) {
	if o.classified == nil {
		o.classified = make(map[ChangeKind][]string)
	}
	o.classified[kind] = append(o.classified[kind], l.ID)
}

func TestReconcileNewAndPriceChange(t *testing.T) {
	prev := tracked(listing("A", 1000))

	cs, next := NewReconciler(nil).Reconcile(prev, []models.Listing{listing("A", 1200), listing("B", 500)}, nil, t1)

	assert.Equal(t, []string{"B"}, ids(cs.New))
	assert.Equal(t, []string{"A"}, changeIDs(cs.PriceChanged))
	assert.Empty(t, cs.Updated)
	assert.Empty(t, cs.Removed)

	require.Contains(t, next, "A")
	assert.Equal(t, t0, next["A"].FirstSeen)
	assert.Equal(t, t1, next["A"].LastUpdated)
	assert.Equal(t, 1200, *next["A"].Listing.Price)
	assert.Equal(t, 1000, *cs.PriceChanged[0].Previous.Price)

	require.Contains(t, next, "B")
	assert.Equal(t, t1, next["B"].FirstSeen)
	assert.Equal(t, t1, next["B"].LastUpdated)
	require.NoError(t, Verify(cs, next))

	// previous must not be touched.
	assert.Equal(t, 1000, *prev["A"].Listing.Price)
	assert.Len(t, prev, 1)
}

func TestReconcileEmptyFetchKeepsState(t *testing.T) {
	prev := tracked(listing("A", 1000), listing("B", 2000))

	cs, next := NewReconciler(nil).Reconcile(prev, nil, nil, t1)

	assert.True(t, cs.Empty())
	assert.Equal(t, prev, next)
}

func TestReconcileIdempotent(t *testing.T) {
	r := NewReconciler(nil)
	batch := []models.Listing{listing("A", 1000), listing("B", 2000)}

	_, first := r.Reconcile(nil, batch, nil, t0)
	cs, second := r.Reconcile(first, batch, nil, t1)

	assert.True(t, cs.Empty())
	assert.Equal(t, first, second)
}

func TestReconcileRemoved(t *testing.T) {
	prev := tracked(listing("C", 1), listing("A", 1), listing("B", 1))

	cs, next := NewReconciler(nil).Reconcile(prev, []models.Listing{listing("B", 1)}, nil, t1)

	assert.Equal(t, []string{"A", "C"}, ids(cs.Removed))
	assert.NotContains(t, next, "A")
	assert.NotContains(t, next, "C")
	assert.Contains(t, next, "B")
	require.NoError(t, Verify(cs, next))
}

func TestReconcileRemovedListingComesBackAsNew(t *testing.T) {
	r := NewReconciler(nil)
	prev := tracked(listing("A", 1000))

	_, afterRemoval := r.Reconcile(prev, []models.Listing{listing("B", 1)}, nil, t1)
	require.NotContains(t, afterRemoval, "A")

	later := t1.Add(time.Hour)
	cs, next := r.Reconcile(afterRemoval, []models.Listing{listing("A", 1000), listing("B", 1)}, nil, later)

	assert.Equal(t, []string{"A"}, ids(cs.New))
	assert.Equal(t, later, next["A"].FirstSeen)
}

func TestReconcilePriceTakesPriorityOverOtherChanges(t *testing.T) {
	prev := tracked(listing("A", 1000))
	changed := listing("A", 900)
	changed.Title = "Renovated apartment"
	changed.Details.Rooms = 4

	cs, _ := NewReconciler(nil).Reconcile(prev, []models.Listing{changed}, nil, t1)

	assert.Equal(t, []string{"A"}, changeIDs(cs.PriceChanged))
	assert.Empty(t, cs.Updated)
	assert.Equal(t, -100, cs.PriceChanged[0].PriceDelta())
}

func TestReconcileUpdatedFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Listing)
		want   bool
	}{
		{"title", func(l *models.Listing) { l.Title = "Other" }, true},
		{"rooms", func(l *models.Listing) { l.Details.Rooms = 2.5 }, true},
		{"street number", func(l *models.Listing) { l.Address.Number = "102" }, true},
		{"floor", func(l *models.Listing) { l.Address.Floor = "3" }, true},
		{"description only", func(l *models.Listing) { l.Description = "new text" }, false},
		{"tags only", func(l *models.Listing) { l.Tags = []string{"משופצת"} }, false},
		{"images only", func(l *models.Listing) { l.Images = []string{"x.jpg"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := tracked(listing("A", 1000))
			cur := listing("A", 1000)
			tt.mutate(&cur)

			cs, next := NewReconciler(nil).Reconcile(prev, []models.Listing{cur}, nil, t1)
			if tt.want {
				assert.Equal(t, []string{"A"}, changeIDs(cs.Updated))
				assert.Equal(t, t1, next["A"].LastUpdated)
			} else {
				assert.True(t, cs.Empty())
				assert.Equal(t, t0, next["A"].LastUpdated)
			}
		})
	}
}

func TestReconcilePriceAppearsOrDisappears(t *testing.T) {
	prev := tracked(listing("A", 1000))
	noPrice := listing("A", 0)
	noPrice.Price = nil

	cs, next := NewReconciler(nil).Reconcile(prev, []models.Listing{noPrice}, nil, t1)
	assert.Equal(t, []string{"A"}, changeIDs(cs.PriceChanged))

	cs, _ = NewReconciler(nil).Reconcile(next, []models.Listing{listing("A", 1000)}, nil, t1)
	assert.Equal(t, []string{"A"}, changeIDs(cs.PriceChanged))
}

func TestReconcileExclusion(t *testing.T) {
	prev := tracked(listing("A", 1000), listing("B", 1000))
	excludeA := func(l models.Listing) bool { return l.ID == "A" || l.ID == "X" }

	cs, next := NewReconciler(nil).Reconcile(prev,
		[]models.Listing{listing("A", 1500), listing("B", 1000), listing("X", 1)}, excludeA, t1)

	assert.True(t, cs.Empty(), "excluded listings never show up in a change set")
	assert.NotContains(t, next, "A")
	assert.NotContains(t, next, "X")
	assert.Contains(t, next, "B")
	require.NoError(t, Verify(cs, next))
}

func TestReconcileDuplicatesLaterWins(t *testing.T) {
	cs, next := NewReconciler(nil).Reconcile(nil,
		[]models.Listing{listing("A", 1), listing("B", 2), listing("A", 3)}, nil, t1)

	assert.Equal(t, []string{"A", "B"}, ids(cs.New))
	assert.Equal(t, 3, *next["A"].Listing.Price)
	assert.Equal(t, 3, *cs.New[0].Price)
}

func TestReconcileReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	prev := tracked(listing("A", 1000), listing("R", 1))

	NewReconciler(obs).Reconcile(prev, []models.Listing{listing("A", 1100), listing("N", 1)}, nil, t1)

	assert.Equal(t, []string{"N"}, obs.classified[ChangeNew])
	assert.Equal(t, []string{"A"}, obs.classified[ChangePriceChanged])
	assert.Equal(t, []string{"R"}, obs.classified[ChangeRemoved])
}

func TestVerifyDetectsViolations(t *testing.T) {
	a := listing("A", 1)

	err := Verify(models.ChangeSet{New: []models.Listing{a}, Removed: []models.Listing{a}}, tracked(a))
	assert.ErrorIs(t, err, ErrInvariant)

	err = Verify(models.ChangeSet{New: []models.Listing{a}}, nil)
	assert.ErrorIs(t, err, ErrInvariant)

	err = Verify(models.ChangeSet{Removed: []models.Listing{a}}, tracked(a))
	assert.ErrorIs(t, err, ErrInvariant)

	stale := models.Change{Previous: a, Current: listing("A", 2)}
	err = Verify(models.ChangeSet{PriceChanged: []models.Change{stale}}, tracked(a))
	assert.ErrorIs(t, err, ErrInvariant)
}

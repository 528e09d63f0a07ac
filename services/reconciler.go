package services

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"listing-watcher/models"
)

// ErrInvariant is returned when a reconciliation result violates one of the
// engine's own guarantees. It is fatal for the run.
var ErrInvariant = errors.New("reconciliation invariant violated")

// ExcludeFunc decides whether a listing must be ignored.
type ExcludeFunc func(models.Listing) bool

// Reconciler computes the ChangeSet between the tracked listings and a
// freshly fetched batch. It performs no I/O.
type Reconciler struct {
	observer Observer
}

// NewReconciler returns a Reconciler reporting to observer (nil is allowed).
func NewReconciler(observer Observer) *Reconciler {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Reconciler{observer: observer}
}

// Reconcile classifies every fetched listing against previous and returns
// the change set together with the next tracked mapping. previous is never
// modified. An empty batch is treated as a failed fetch: nothing changes and
// previous itself is returned.
func (r *Reconciler) Reconcile(
	previous map[string]models.TrackedRecord,
	fetched []models.Listing,
	exclude ExcludeFunc,
	now time.Time,
) (models.ChangeSet, map[string]models.TrackedRecord) {
	var cs models.ChangeSet
	if len(fetched) == 0 {
		return cs, previous
	}
	if exclude == nil {
		exclude = func(models.Listing) bool { return false }
	}

	// Later duplicates win, but the batch keeps first-seen order.
	index := make(map[string]models.Listing, len(fetched))
	order := make([]string, 0, len(fetched))
	for _, l := range fetched {
		if _, seen := index[l.ID]; !seen {
			order = append(order, l.ID)
		}
		index[l.ID] = l
	}

	next := make(map[string]models.TrackedRecord, len(previous)+len(index))
	for id, rec := range previous {
		next[id] = rec
	}

	for _, id := range order {
		l := index[id]
		if exclude(l) {
			delete(next, id)
			continue
		}

		rec, tracked := previous[id]
		if !tracked {
			cs.New = append(cs.New, l)
			next[id] = models.TrackedRecord{Listing: l, FirstSeen: now, LastUpdated: now}
			r.observer.ListingClassified(ChangeNew, l)
			continue
		}

		kind, changed := classify(rec.Listing, l)
		if !changed {
			continue
		}
		change := models.Change{Previous: rec.Listing, Current: l}
		if kind == ChangePriceChanged {
			cs.PriceChanged = append(cs.PriceChanged, change)
		} else {
			cs.Updated = append(cs.Updated, change)
		}
		next[id] = models.TrackedRecord{Listing: l, FirstSeen: rec.FirstSeen, LastUpdated: now}
		r.observer.ListingClassified(kind, l)
	}

	removedIDs := make([]string, 0)
	for id := range previous {
		if _, present := index[id]; !present {
			removedIDs = append(removedIDs, id)
		}
	}
	sort.Strings(removedIDs)
	for _, id := range removedIDs {
		l := previous[id].Listing
		cs.Removed = append(cs.Removed, l)
		delete(next, id)
		r.observer.ListingClassified(ChangeRemoved, l)
	}

	return cs, next
}

// classify compares the stored listing with the fetched one. A price change
// takes priority over, and suppresses, any other difference.
func classify(stored, fetched models.Listing) (ChangeKind, bool) {
	if !models.PriceEqual(stored.Price, fetched.Price) {
		return ChangePriceChanged, true
	}
	if stored.Title != fetched.Title ||
		stored.Details != fetched.Details ||
		stored.Address != fetched.Address {
		return ChangeUpdated, true
	}
	return "", false
}

// Verify checks the change set against the mapping it was produced with:
// categories are disjoint, removed ids are gone and every other classified
// id is tracked.
func Verify(cs models.ChangeSet, next map[string]models.TrackedRecord) error {
	seen := make(map[string]string, cs.Total())
	mark := func(id, kind string) error {
		if other, dup := seen[id]; dup {
			return fmt.Errorf("%w: listing %q classified as both %s and %s", ErrInvariant, id, other, kind)
		}
		seen[id] = kind
		return nil
	}

	for _, l := range cs.New {
		if err := mark(l.ID, string(ChangeNew)); err != nil {
			return err
		}
		if _, ok := next[l.ID]; !ok {
			return fmt.Errorf("%w: new listing %q is not tracked", ErrInvariant, l.ID)
		}
	}
	for _, group := range []struct {
		kind    ChangeKind
		changes []models.Change
	}{{ChangePriceChanged, cs.PriceChanged}, {ChangeUpdated, cs.Updated}} {
		for _, c := range group.changes {
			if err := mark(c.Current.ID, string(group.kind)); err != nil {
				return err
			}
			rec, ok := next[c.Current.ID]
			if !ok || !reflect.DeepEqual(rec.Listing, c.Current) {
				return fmt.Errorf("%w: %s listing %q not stored", ErrInvariant, group.kind, c.Current.ID)
			}
		}
	}
	for _, l := range cs.Removed {
		if err := mark(l.ID, string(ChangeRemoved)); err != nil {
			return err
		}
		if _, ok := next[l.ID]; ok {
			return fmt.Errorf("%w: removed listing %q is still tracked", ErrInvariant, l.ID)
		}
	}
	return nil
}

package models

import "time"

// Listing is one classified-ad record as produced by a source on every run.
// It is ephemeral until the reconciler wraps it in a TrackedRecord.
type Listing struct {
	ID          string   `json:"id"`
	Type        string   `json:"type,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Price       *int     `json:"price,omitempty"`
	Address     Address  `json:"address"`
	Details     Details  `json:"details"`
	Agency      string   `json:"agency,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Images      []string `json:"images,omitempty"`
	CoverImage  string   `json:"cover_image,omitempty"`
	Link        string   `json:"link"`
}

// Address is kept as free text because the upstream formatting is inconsistent.
type Address struct {
	Street       string `json:"street"`
	Number       string `json:"number"`
	Floor        string `json:"floor,omitempty"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
}

// Details must stay comparable with == since the reconciler compares it as a whole.
type Details struct {
	Rooms             float64 `json:"rooms,omitempty"`
	SquareMeters      int     `json:"square_meters,omitempty"`
	SquareMetersBuild int     `json:"square_meters_build,omitempty"`
	Condition         int     `json:"condition,omitempty"`
	DateAdded         string  `json:"date_added,omitempty"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
}

// ListingTypeAgency marks listings published by a real-estate agency.
const ListingTypeAgency = "agency"

// IsAgency reports whether the listing was published by an agency.
func (l *Listing) IsAgency() bool {
	return l.Type == ListingTypeAgency
}

// PriceEqual reports whether two optional prices are the same, treating two
// absent prices as equal.
func PriceEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// TrackedRecord is the persisted wrapper around the last known Listing.
// FirstSeen is set once at creation and never touched again.
type TrackedRecord struct {
	Listing     Listing   `json:"details"`
	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// Change pairs the stored listing with the freshly fetched one.
type Change struct {
	Previous Listing
	Current  Listing
}

// PriceDelta returns current minus previous price; absent prices count as 0.
func (c Change) PriceDelta() int {
	var prev, cur int
	if c.Previous.Price != nil {
		prev = *c.Previous.Price
	}
	if c.Current.Price != nil {
		cur = *c.Current.Price
	}
	return cur - prev
}

// ChangeSet is the result of one reconciliation pass. The four sequences
// never share a listing id.
type ChangeSet struct {
	New          []Listing
	Updated      []Change
	PriceChanged []Change
	Removed      []Listing
}

// Empty reports whether nothing changed.
func (cs *ChangeSet) Empty() bool {
	return cs.Total() == 0
}

// Total is the number of classified listings across all categories.
func (cs *ChangeSet) Total() int {
	return len(cs.New) + len(cs.Updated) + len(cs.PriceChanged) + len(cs.Removed)
}

package models

// InsightReport holds aggregate numbers over the tracked listings. Prices
// are only averaged over listings that carry one.
type InsightReport struct {
	TotalListings          int
	AgencyListings         int
	PrivateListings        int
	AveragePrice           int
	MinPrice               int
	MaxPrice               int
	Cheapest               *Listing
	ListingsByNeighborhood map[string]int
}

// Package marketplace defines the shared adapter contract the two
// concrete marketplace clients (adaptera, adapterb) implement.
package marketplace

import "context"

// RawListing is what an adapter yields before the Cost Model and
// Title & Quality Filter touch it.
type RawListing struct {
	Source           string
	ListingID        string
	Title            string
	URL              string
	ImageURL         string
	SellerID         string
	SellerUsername   string
	SellerRating     *float64
	SellerFeedback   *int
	ShipFrom         string
	Condition        string // "new" | "used" | "unknown"
	Price            float64
	Shipping         float64 // 0 when unknown; adapter sets ShippingKnown accordingly
	ShippingKnown    bool
	CurrencyOriginal string
}

// Adapter is the shared contract both marketplace clients satisfy.
type Adapter interface {
	Search(ctx context.Context, itemRef, shipToCountry string, limit, offset int) ([]RawListing, error)
	Resolve(ctx context.Context, codeOrQuery, kind string) (opaqueID string, ok bool, err error)
}

// AvailabilityAdapter is implemented only by adapter B, which requires a
// pre-resolved opaque id rather than a free-text search.
type AvailabilityAdapter interface {
	Availability(ctx context.Context, opaqueID, shipToCountry string) ([]RawListing, error)
}

package domain

import "time"

type Listing struct {
	ID                string
	Address           string
	Price             *int // whole dollars per month
	NetEffectivePrice *int
	// Beds and Baths are nil when the card shows no readable count.
	Beds         *float64
	Baths        *float64
	HasLaundry   bool
	NoFee        bool
	URL          string
	SourceSearch string
	Neighborhood string
	Sqft         *int
}

// EffectivePrice returns the net effective rent when known, otherwise the
// listed rent. Nil means the price could not be parsed.
func (l Listing) EffectivePrice() *int {
	if l.NetEffectivePrice != nil {
		return l.NetEffectivePrice
	}
	return l.Price
}

// SeenRecord is the only trace a listing leaves in the store.
type SeenRecord struct {
	ListingID   string    `db:"listing_id"`
	FirstSeenAt time.Time `db:"first_seen_at"`
}

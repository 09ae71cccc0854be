package domain

// Search is one configured search page together with the bounds applied to
// the units found on it.
type Search struct {
	Name          string
	URL           string
	Neighborhoods []string
	Filters       Filters
}

// Filters are ANDed. Nil upper bounds are unbounded.
type Filters struct {
	MinBeds  float64
	MaxBeds  *float64
	MinBaths float64
	MaxPrice *int
}

// Admits reports whether the listing passes every configured bound. A bound
// is skipped when the listing's value for it is unknown, so a missing price,
// bed count or bath count never rejects a listing.
func (f Filters) Admits(l Listing) bool {
	if l.Beds != nil {
		if *l.Beds < f.MinBeds {
			return false
		}
		if f.MaxBeds != nil && *l.Beds > *f.MaxBeds {
			return false
		}
	}
	if l.Baths != nil && *l.Baths < f.MinBaths {
		return false
	}
	if f.MaxPrice != nil {
		if price := l.EffectivePrice(); price != nil && *price > *f.MaxPrice {
			return false
		}
	}
	return true
}

package domain

import "github.com/google/uuid"

// Digest is the rendered notification handed to the mail transport.
type Digest struct {
	// RunID is zero for digests built outside a pipeline run.
	RunID        uuid.UUID `json:"run_id"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	Total        int       `json:"total"`
	LaundryCount int       `json:"laundry_count"`
	ListingIDs   []string  `json:"listing_ids"`
}

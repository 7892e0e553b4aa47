// Package book maintains the in-memory state of a single instrument's limit
// order book under a stream of incremental level updates. The hot structure
// keeps near-top levels in dense per-side arrays and spills far-from-top
// levels into ordered overflow maps, so touching the top of book stays O(1).
package book

// TickLevel is the book's internal representation of one price level:
// an integer tick and an aggregated size.
type TickLevel struct {
	Tick uint32  `json:"tick"`
	Size float64 `json:"size"`
}

// FloatLevel is the externally-facing view of a level after tick-to-price
// conversion.
type FloatLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// TickUpdate is one sequenced batch of level changes, applied atomically.
// A size of zero deletes the level at that tick.
//
// Producer contract: Asks sorted ascending by tick, Bids sorted descending.
// The book reads an update but never mutates it.
type TickUpdate struct {
	SequenceID uint64 `json:"sequence_id"`
	// invariant: sorted lowest to highest tick
	Asks []TickLevel `json:"asks"`
	// invariant: sorted highest to lowest tick
	Bids []TickLevel `json:"bids"`
}

// BestAsk returns the first (lowest) ask of the update, if any.
func (u *TickUpdate) BestAsk() (TickLevel, bool) {
	if len(u.Asks) == 0 {
		return TickLevel{}, false
	}
	return u.Asks[0], true
}

// BestBid returns the first (highest) bid of the update, if any.
func (u *TickUpdate) BestBid() (TickLevel, bool) {
	if len(u.Bids) == 0 {
		return TickLevel{}, false
	}
	return u.Bids[0], true
}

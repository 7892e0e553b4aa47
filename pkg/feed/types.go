// Package feed decodes an exchange depth stream into book tick updates.
// The decoder owns the producer side of the book's contract: it quantizes
// quoted prices onto the tick grid, sorts each side, and collapses duplicate
// ticks last-writer-wins before an update is handed downstream.
package feed

// EventType is the type of a feed message.
type EventType string

const (
	EventTypeDepth     EventType = "depth"
	EventTypeSnapshot  EventType = "snapshot"
	EventTypeHeartbeat EventType = "heartbeat"
)

// Envelope is the generic feed message header.
type Envelope struct {
	Type   string `json:"event_type"`
	Symbol string `json:"symbol,omitempty"`
}

// DepthEvent carries one sequenced batch of level changes. Levels are
// [price, size] string pairs; a size of "0" deletes the level.
type DepthEvent struct {
	Symbol     string      `json:"symbol"`
	SequenceID uint64      `json:"sequence_id"`
	Bids       [][2]string `json:"bids"`
	Asks       [][2]string `json:"asks"`
}

// --- Subscription Messages ---

type subscribeMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
}

type snapshotMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// Package ingest runs the apply loop: it owns one order book, consumes
// decoded tick updates, and publishes book state to metrics and streaming
// consumers. All book access from other goroutines goes through its lock.
package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/phenomenon0/tickbook/pkg/book"
	"github.com/phenomenon0/tickbook/pkg/metrics"
	"github.com/phenomenon0/tickbook/pkg/streaming"
)

// Config configures the apply loop.
type Config struct {
	Symbol string

	// LadderInterval throttles full-ladder broadcasts; 0 disables them.
	LadderInterval time.Duration
	// LadderDepth bounds levels per side in ladder broadcasts (default 20).
	LadderDepth int
}

// Stats summarizes the ingest history.
type Stats struct {
	UpdatesApplied uint64 `json:"updates_applied"`
	LevelsSeen     uint64 `json:"levels_seen"`
	SequenceGaps   uint64 `json:"sequence_gaps"`
	LastSequenceID uint64 `json:"last_sequence_id"`
}

// Status is a point-in-time snapshot for the HTTP API.
type Status struct {
	Symbol     string          `json:"symbol"`
	Running    bool            `json:"running"`
	SequenceID uint64          `json:"sequence_id"`
	BestBid    book.FloatLevel `json:"best_bid"`
	BestAsk    book.FloatLevel `json:"best_ask"`
	AskHeap    int             `json:"ask_heap_levels"`
	BidHeap    int             `json:"bid_heap_levels"`
	Stats      Stats           `json:"stats"`
}

// Ingestor applies updates to one book.
type Ingestor struct {
	config Config

	mu   sync.RWMutex
	book *book.OrderBook

	bm  *metrics.BookMetrics
	hub *streaming.Hub

	running bool
	stopCh  chan struct{}

	stats      Stats
	lastStats  book.Stats
	lastLadder time.Time

	onApplied func(*book.TickUpdate)
	onGap     func(from, to uint64)
	onError   func(error)
}

// New creates an ingestor around an existing book. Metrics and hub are
// optional.
func New(config Config, bk *book.OrderBook, bm *metrics.BookMetrics, hub *streaming.Hub) *Ingestor {
	if config.LadderDepth <= 0 {
		config.LadderDepth = 20
	}
	return &Ingestor{
		config: config,
		book:   bk,
		bm:     bm,
		hub:    hub,
	}
}

// OnApplied registers a callback invoked after each applied update.
func (in *Ingestor) OnApplied(fn func(*book.TickUpdate)) {
	in.onApplied = fn
}

// OnGap registers a callback invoked on sequence discontinuities.
func (in *Ingestor) OnGap(fn func(from, to uint64)) {
	in.onGap = fn
}

// OnError registers an error callback.
func (in *Ingestor) OnError(fn func(error)) {
	in.onError = fn
}

// Start consumes updates until the channel closes, the context is done, or
// Stop is called.
func (in *Ingestor) Start(ctx context.Context, updates <-chan *book.TickUpdate) error {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return errors.New("ingestor already running")
	}
	in.running = true
	in.stopCh = make(chan struct{})
	stopCh := in.stopCh
	in.mu.Unlock()

	go func() {
		defer func() {
			in.mu.Lock()
			in.running = false
			in.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				in.Apply(update)
			}
		}
	}()

	return nil
}

// Stop halts the apply loop.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.running {
		return
	}
	close(in.stopCh)
	in.running = false
}

// IsRunning reports whether the apply loop is active.
func (in *Ingestor) IsRunning() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.running
}

// Apply applies one update to the book and publishes derived state. Safe to
// call directly when not using Start.
func (in *Ingestor) Apply(update *book.TickUpdate) {
	in.mu.Lock()

	prevSeq := in.stats.LastSequenceID
	gap := in.stats.UpdatesApplied > 0 && update.SequenceID != prevSeq+1

	start := time.Now()
	in.book.ProcessTickUpdate(update)
	elapsed := time.Since(start)

	levels := len(update.Asks) + len(update.Bids)
	in.stats.UpdatesApplied++
	in.stats.LevelsSeen += uint64(levels)
	in.stats.LastSequenceID = update.SequenceID
	if gap {
		in.stats.SequenceGaps++
	}

	bid := in.book.BestBid()
	ask := in.book.BestAsk()
	seq := in.book.SequenceID()
	askHeap, bidHeap := in.book.HeapSizes()

	bookStats := in.book.Stats()
	deltas := book.Stats{
		AskFavorableRebalances: bookStats.AskFavorableRebalances - in.lastStats.AskFavorableRebalances,
		BidFavorableRebalances: bookStats.BidFavorableRebalances - in.lastStats.BidFavorableRebalances,
		AskCompactions:         bookStats.AskCompactions - in.lastStats.AskCompactions,
		BidCompactions:         bookStats.BidCompactions - in.lastStats.BidCompactions,
	}
	in.lastStats = bookStats

	var ladder *streaming.Ladder
	if in.hub != nil && in.config.LadderInterval > 0 && time.Since(in.lastLadder) >= in.config.LadderInterval {
		in.lastLadder = time.Now()
		ladder = &streaming.Ladder{
			Symbol:     in.config.Symbol,
			SequenceID: seq,
			Bids:       in.topLevelsLocked(in.config.LadderDepth, in.book.Bids()),
			Asks:       in.topLevelsLocked(in.config.LadderDepth, in.book.Asks()),
		}
	}

	in.mu.Unlock()

	if in.bm != nil {
		in.bm.RecordApply(in.config.Symbol, levels, elapsed.Seconds())
		in.bm.RecordRebalances(in.config.Symbol,
			deltas.AskFavorableRebalances, deltas.BidFavorableRebalances,
			deltas.AskCompactions, deltas.BidCompactions)
		in.bm.UpdateHeapLevels(in.config.Symbol, askHeap, bidHeap)
		in.bm.UpdateTop(in.config.Symbol, bid.Price, bid.Size, ask.Price, ask.Size)
		if gap {
			in.bm.RecordGap(in.config.Symbol)
		}
	}

	if in.hub != nil {
		in.hub.BroadcastTop(streaming.TopOfBook{
			Symbol:     in.config.Symbol,
			SequenceID: seq,
			Bid:        bid,
			Ask:        ask,
		})
		if ladder != nil {
			in.hub.BroadcastLadder(*ladder)
		}
	}

	if gap && in.onGap != nil {
		in.onGap(prevSeq, update.SequenceID)
	}
	if in.onApplied != nil {
		in.onApplied(update)
	}
}

// topLevelsLocked collects up to depth levels; caller holds the lock.
func (in *Ingestor) topLevelsLocked(depth int, seq func(func(book.FloatLevel) bool)) []book.FloatLevel {
	levels := make([]book.FloatLevel, 0, depth)
	seq(func(l book.FloatLevel) bool {
		levels = append(levels, l)
		return len(levels) < depth
	})
	return levels
}

// Stats returns cumulative ingest counters.
func (in *Ingestor) Stats() Stats {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.stats
}

// TopOfBook returns the current best bid and ask.
func (in *Ingestor) TopOfBook() (bid, ask book.FloatLevel, sequenceID uint64) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.book.BestBid(), in.book.BestAsk(), in.book.SequenceID()
}

// Ladder returns up to depth levels per side.
func (in *Ingestor) Ladder(depth int) (bids, asks []book.FloatLevel) {
	if depth <= 0 {
		depth = in.config.LadderDepth
	}

	in.mu.RLock()
	defer in.mu.RUnlock()

	bids = in.topLevelsLocked(depth, in.book.Bids())
	asks = in.topLevelsLocked(depth, in.book.Asks())
	return bids, asks
}

// GetStatus returns a snapshot for the HTTP API.
func (in *Ingestor) GetStatus() Status {
	in.mu.RLock()
	defer in.mu.RUnlock()

	askHeap, bidHeap := in.book.HeapSizes()
	return Status{
		Symbol:     in.config.Symbol,
		Running:    in.running,
		SequenceID: in.book.SequenceID(),
		BestBid:    in.book.BestBid(),
		BestAsk:    in.book.BestAsk(),
		AskHeap:    askHeap,
		BidHeap:    bidHeap,
		Stats:      in.stats,
	}
}

// RenderBook writes the diagnostic ladder table.
func (in *Ingestor) RenderBook(w io.Writer) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	in.book.Render(w)
}

// ReportError forwards an out-of-band error (feed, transport) to the error
// callback and the stream.
func (in *Ingestor) ReportError(err error, context string) {
	if in.onError != nil {
		in.onError(err)
	}
	if in.hub != nil {
		in.hub.BroadcastError(err, context)
	}
}

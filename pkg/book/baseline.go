package book

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
)

// TreeOrderBook is the clear-and-rebuild ordered-map book the hybrid window
// replaced. It treats every update as a full snapshot of the levels it
// names. Kept as the benchmark baseline; not for the hot path.
type TreeOrderBook struct {
	bestBid TickLevel
	bestAsk TickLevel
	hasBid  bool
	hasAsk  bool

	bids *treemap.Map
	asks *treemap.Map

	lastSequence    uint64
	lastTopUpdateID uint64
}

// NewTreeOrderBook creates an empty baseline book.
func NewTreeOrderBook() *TreeOrderBook {
	return &TreeOrderBook{
		bids: treemap.NewWith(utils.UInt32Comparator),
		asks: treemap.NewWith(utils.UInt32Comparator),
	}
}

// ProcessTickUpdate rebuilds both sides from the update. Top of book is only
// refreshed when the update is not older than the last refresh.
func (b *TreeOrderBook) ProcessTickUpdate(update *TickUpdate) {
	b.bids.Clear()
	b.asks.Clear()

	for _, level := range update.Bids {
		b.bids.Put(level.Tick, level)
	}

	for _, level := range update.Asks {
		b.asks.Put(level.Tick, level)
	}

	b.lastSequence = update.SequenceID

	if update.SequenceID < b.lastTopUpdateID {
		return
	}

	b.updateTop()
}

// BestBid returns the best bid and whether one exists.
func (b *TreeOrderBook) BestBid() (TickLevel, bool) {
	return b.bestBid, b.hasBid
}

// BestAsk returns the best ask and whether one exists.
func (b *TreeOrderBook) BestAsk() (TickLevel, bool) {
	return b.bestAsk, b.hasAsk
}

// SequenceID returns the sequence id of the last applied update.
func (b *TreeOrderBook) SequenceID() uint64 {
	return b.lastSequence
}

func (b *TreeOrderBook) updateTop() {
	if _, v := b.bids.Max(); v != nil {
		b.bestBid = v.(TickLevel)
		b.hasBid = true
	} else {
		b.hasBid = false
	}

	if _, v := b.asks.Min(); v != nil {
		b.bestAsk = v.(TickLevel)
		b.hasAsk = true
	} else {
		b.hasAsk = false
	}

	b.lastTopUpdateID = b.lastSequence
}

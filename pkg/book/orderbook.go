package book

import (
	"errors"
	"iter"
	"math"

	"github.com/tidwall/btree"
)

// Epsilon is the size below which a level is treated as absent.
const Epsilon = 1e-15

// MaxCacheSlots bounds the dense window so best indices fit in uint16.
const MaxCacheSlots = math.MaxUint16

// Construction errors.
var (
	ErrCacheSlots      = errors.New("cache slots must be less than 65535")
	ErrCacheEmptySlots = errors.New("cache slots must be more than twice the empty-slot cushion")
)

// OrderBook is a hybrid level-aggregated order book. Each side keeps a dense
// window of cacheSlots contiguous ticks anchored at asks0Tick/bids0Tick, and
// spills levels past the window's unfavorable edge into an ordered overflow
// map keyed by tick. A level never lives in both halves at once.
//
// The book is single-threaded cooperative: ProcessTickUpdate requires
// exclusive access, reads require at least shared access, and nothing here
// locks. Callers that share a book across goroutines wrap it themselves.
type OrderBook struct {
	sequenceID uint64

	tickDecimals Decimals

	cacheSlots      int
	cacheEmptySlots int

	// anchor ticks: the tick represented by index 0 on each side
	asks0Tick uint32
	bids0Tick uint32

	bestAskI uint16
	bestBidI uint16

	// index i holds the size at tick asks0Tick+i
	asks []float64
	// index i holds the size at tick bids0Tick-i
	bids []float64

	asksHeap btree.Map[uint32, float64]
	bidsHeap btree.Map[uint32, float64]

	stats Stats
}

// Stats counts window maintenance events since construction.
type Stats struct {
	AskFavorableRebalances uint64
	BidFavorableRebalances uint64
	AskCompactions         uint64
	BidCompactions         uint64
}

// New creates an empty book. cacheSlots is the dense window length per side;
// cacheEmptySlots is the head cushion left after a rebalance. The anchors
// start at the sentinel extremes so the first update on each side always
// rebalances the window around the first observed best price.
func New(tickDecimals Decimals, cacheSlots, cacheEmptySlots int) (*OrderBook, error) {
	if cacheSlots >= MaxCacheSlots {
		return nil, ErrCacheSlots
	}
	if cacheEmptySlots < 0 || cacheSlots <= cacheEmptySlots*2 {
		return nil, ErrCacheEmptySlots
	}

	return &OrderBook{
		tickDecimals:    tickDecimals,
		cacheSlots:      cacheSlots,
		cacheEmptySlots: cacheEmptySlots,
		asks0Tick:       math.MaxUint32,
		bids0Tick:       0,
		asks:            make([]float64, cacheSlots),
		bids:            make([]float64, cacheSlots),
	}, nil
}

// --- Read Operations ---

// BestBid returns the current best bid. If the bid side holds no live level
// the result is the zero slot under the best index; callers that care must
// check Size against Epsilon.
func (b *OrderBook) BestBid() FloatLevel {
	return FloatLevel{
		Price: b.tickDecimals.FastTickToFloat(b.bids0Tick - uint32(b.bestBidI)),
		Size:  b.bids[b.bestBidI],
	}
}

// BestAsk returns the current best ask. Same caveat as BestBid for an empty
// side.
func (b *OrderBook) BestAsk() FloatLevel {
	return FloatLevel{
		Price: b.tickDecimals.FastTickToFloat(b.asks0Tick + uint32(b.bestAskI)),
		Size:  b.asks[b.bestAskI],
	}
}

// Asks yields all live ask levels in ascending price order: the window from
// the best index up, then the overflow map.
func (b *OrderBook) Asks() iter.Seq[FloatLevel] {
	return func(yield func(FloatLevel) bool) {
		for i := int(b.bestAskI); i < b.cacheSlots; i++ {
			sz := b.asks[i]
			if sz < Epsilon {
				continue
			}
			level := FloatLevel{
				Price: b.tickDecimals.FastTickToFloat(b.asks0Tick + uint32(i)),
				Size:  sz,
			}
			if !yield(level) {
				return
			}
		}
		b.asksHeap.Scan(func(tick uint32, sz float64) bool {
			return yield(FloatLevel{
				Price: b.tickDecimals.FastTickToFloat(tick),
				Size:  sz,
			})
		})
	}
}

// Bids yields all live bid levels in descending price order. The overflow
// map is keyed by raw tick, so logical bid order is its reverse traversal.
func (b *OrderBook) Bids() iter.Seq[FloatLevel] {
	return func(yield func(FloatLevel) bool) {
		for i := int(b.bestBidI); i < b.cacheSlots; i++ {
			sz := b.bids[i]
			if sz < Epsilon {
				continue
			}
			level := FloatLevel{
				Price: b.tickDecimals.FastTickToFloat(b.bids0Tick - uint32(i)),
				Size:  sz,
			}
			if !yield(level) {
				return
			}
		}
		b.bidsHeap.Reverse(func(tick uint32, sz float64) bool {
			return yield(FloatLevel{
				Price: b.tickDecimals.FastTickToFloat(tick),
				Size:  sz,
			})
		})
	}
}

// SequenceID returns the sequence id of the last applied update.
func (b *OrderBook) SequenceID() uint64 {
	return b.sequenceID
}

// Decimals returns the book's tick precision.
func (b *OrderBook) Decimals() Decimals {
	return b.tickDecimals
}

// HeapSizes returns the number of overflow levels per side.
func (b *OrderBook) HeapSizes() (asks, bids int) {
	return b.asksHeap.Len(), b.bidsHeap.Len()
}

// Stats returns cumulative window maintenance counters.
func (b *OrderBook) Stats() Stats {
	return b.stats
}

// --- Write Operations ---

// ProcessTickUpdate applies one update in place. Ordering across calls is
// not handled by the book: this always updates the book, and upstream owns
// sequencing. Per side, a new best outside the window shifts the window
// before any insert; the unfavorable-side rebalance runs after all inserts
// so removals in the same update can free window space first.
func (b *OrderBook) ProcessTickUpdate(update *TickUpdate) {
	b.sequenceID = update.SequenceID

	// asks lowest -> highest
	if len(update.Asks) > 0 {
		lowestAsk := update.Asks[0]
		if lowestAsk.Tick < b.asks0Tick {
			b.rebalanceAsksLower(lowestAsk.Tick)
			b.bestAskI = uint16(lowestAsk.Tick - b.asks0Tick)
		} else if lowestAsk.Tick < b.asks0Tick+uint32(b.bestAskI) {
			b.bestAskI = uint16(lowestAsk.Tick - b.asks0Tick)
		}

		for _, ask := range update.Asks {
			b.insertAsk(ask)
		}
	}

	b.rebalanceAsksHigherAndUpdateBest()

	// bids highest -> lowest
	if len(update.Bids) > 0 {
		highestBid := update.Bids[0]
		if highestBid.Tick > b.bids0Tick {
			b.rebalanceBidsHigher(highestBid.Tick)
			b.bestBidI = uint16(b.bids0Tick - highestBid.Tick)
		} else if highestBid.Tick > b.bids0Tick-uint32(b.bestBidI) {
			b.bestBidI = uint16(b.bids0Tick - highestBid.Tick)
		}

		for _, bid := range update.Bids {
			b.insertBid(bid)
		}
	}

	b.rebalanceBidsLowerAndUpdateBest()
}

// invariant: ask.Tick >= asks0Tick
func (b *OrderBook) insertAsk(ask TickLevel) {
	i := int(ask.Tick - b.asks0Tick)

	switch {
	// cache
	case i < b.cacheSlots:
		b.asks[i] = ask.Size
	// heap escape - 0 size
	case ask.Size < Epsilon:
		b.asksHeap.Delete(ask.Tick)
	// heap escape - upsert
	default:
		b.asksHeap.Set(ask.Tick, ask.Size)
	}
}

// invariant: bid.Tick <= bids0Tick
func (b *OrderBook) insertBid(bid TickLevel) {
	i := int(b.bids0Tick - bid.Tick)

	switch {
	case i < b.cacheSlots:
		b.bids[i] = bid.Size
	case bid.Size < Epsilon:
		b.bidsHeap.Delete(bid.Tick)
	default:
		b.bidsHeap.Set(bid.Tick, bid.Size)
	}
}

// rebalanceAsksLower shifts the ask window down so lowestTick lands
// cacheEmptySlots in from the head, spilling levels pushed past the tail
// into the overflow map. Saturates at tick zero.
//
// invariant: lowestTick < asks0Tick
func (b *OrderBook) rebalanceAsksLower(lowestTick uint32) {
	newAsks0Tick := lowestTick - uint32(b.cacheEmptySlots)
	if lowestTick < uint32(b.cacheEmptySlots) {
		newAsks0Tick = 0
	}
	shift := int(b.asks0Tick - newAsks0Tick)

	evictStart := 0
	if shift < b.cacheSlots {
		evictStart = b.cacheSlots - shift
	}

	for i := evictStart; i < b.cacheSlots; i++ {
		if b.asks[i] > Epsilon {
			b.asksHeap.Set(b.asks0Tick+uint32(i), b.asks[i])
			b.asks[i] = 0
		}
	}

	for i := evictStart - 1; i >= 0; i-- {
		b.asks[i+shift] = b.asks[i]
		b.asks[i] = 0
	}

	b.asks0Tick = newAsks0Tick
	b.stats.AskFavorableRebalances++
}

// rebalanceBidsHigher mirrors rebalanceAsksLower for the bid side.
//
// invariant: highestTick > bids0Tick
func (b *OrderBook) rebalanceBidsHigher(highestTick uint32) {
	newBids0Tick := highestTick + uint32(b.cacheEmptySlots)
	shift := int(newBids0Tick - b.bids0Tick)

	evictStart := 0
	if shift < b.cacheSlots {
		evictStart = b.cacheSlots - shift
	}

	for i := evictStart; i < b.cacheSlots; i++ {
		if b.bids[i] > Epsilon {
			b.bidsHeap.Set(b.bids0Tick-uint32(i), b.bids[i])
			b.bids[i] = 0
		}
	}

	for i := evictStart - 1; i >= 0; i-- {
		b.bids[i+shift] = b.bids[i]
		b.bids[i] = 0
	}

	b.bids0Tick = newBids0Tick
	b.stats.BidFavorableRebalances++
}

// rebalanceAsksHigherAndUpdateBest re-finds the best ask after inserts may
// have cleared it, then compacts the window when the best has retreated past
// twice the cushion. Compaction reclaims head space and pulls overflow
// levels back into the uncovered tail; this is the only path that promotes
// heap entries into the window.
func (b *OrderBook) rebalanceAsksHigherAndUpdateBest() {
	if b.asks[b.bestAskI] > Epsilon {
		return
	}

	best := 0
	for i := 0; i < b.cacheSlots; i++ {
		if b.asks[i] > Epsilon {
			best = i
			break
		}
	}
	b.bestAskI = uint16(best)

	if best > 2*b.cacheEmptySlots {
		shift := best - b.cacheEmptySlots
		b.asks0Tick += uint32(shift)
		b.bestAskI -= uint16(shift)

		for i := b.cacheEmptySlots; i < b.cacheSlots-shift; i++ {
			b.asks[i] = b.asks[i+shift]
		}

		for i := b.cacheSlots - shift; i < b.cacheSlots; i++ {
			tick := b.asks0Tick + uint32(i)
			if sz, ok := b.asksHeap.Get(tick); ok {
				b.asks[i] = sz
				b.asksHeap.Delete(tick)
			} else {
				b.asks[i] = 0
			}
		}
		b.stats.AskCompactions++
	}
}

// rebalanceBidsLowerAndUpdateBest mirrors rebalanceAsksHigherAndUpdateBest
// for the bid side.
func (b *OrderBook) rebalanceBidsLowerAndUpdateBest() {
	if b.bids[b.bestBidI] > Epsilon {
		return
	}

	best := 0
	for i := 0; i < b.cacheSlots; i++ {
		if b.bids[i] > Epsilon {
			best = i
			break
		}
	}
	b.bestBidI = uint16(best)

	if best > 2*b.cacheEmptySlots {
		shift := best - b.cacheEmptySlots
		b.bids0Tick -= uint32(shift)
		b.bestBidI -= uint16(shift)

		for i := b.cacheEmptySlots; i < b.cacheSlots-shift; i++ {
			b.bids[i] = b.bids[i+shift]
		}

		for i := b.cacheSlots - shift; i < b.cacheSlots; i++ {
			tick := b.bids0Tick - uint32(i)
			if sz, ok := b.bidsHeap.Get(tick); ok {
				b.bids[i] = sz
				b.bidsHeap.Delete(tick)
			} else {
				b.bids[i] = 0
			}
		}
		b.stats.BidCompactions++
	}
}

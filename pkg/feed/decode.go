package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/tickbook/pkg/book"
)

var maxTick = decimal.NewFromInt(math.MaxUint32)

// Decoder converts depth events into book tick updates for one instrument's
// tick precision.
type Decoder struct {
	decimals book.Decimals
}

// NewDecoder creates a decoder for the given tick precision.
func NewDecoder(decimals book.Decimals) *Decoder {
	return &Decoder{decimals: decimals}
}

// DecodeUpdate parses raw depth-event JSON and converts it.
func (d *Decoder) DecodeUpdate(data []byte) (*book.TickUpdate, error) {
	var event DepthEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("depth event unmarshal failed: %w", err)
	}
	return d.Convert(&event)
}

// Convert turns a depth event into a tick update satisfying the book's
// producer contract: asks ascending, bids descending, one entry per tick.
func (d *Decoder) Convert(event *DepthEvent) (*book.TickUpdate, error) {
	asks, err := d.convertSide(event.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	sort.Slice(asks, func(i, j int) bool { return asks[i].Tick < asks[j].Tick })

	bids, err := d.convertSide(event.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Tick > bids[j].Tick })

	return &book.TickUpdate{
		SequenceID: event.SequenceID,
		Asks:       asks,
		Bids:       bids,
	}, nil
}

func (d *Decoder) convertSide(entries [][2]string) ([]book.TickLevel, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	// last entry for a tick wins
	sizes := make(map[uint32]float64, len(entries))
	for _, entry := range entries {
		tick, err := d.PriceToTick(entry[0])
		if err != nil {
			return nil, err
		}
		size, err := parseSize(entry[1])
		if err != nil {
			return nil, err
		}
		sizes[tick] = size
	}

	levels := make([]book.TickLevel, 0, len(sizes))
	for tick, size := range sizes {
		levels = append(levels, book.TickLevel{Tick: tick, Size: size})
	}
	return levels, nil
}

// PriceToTick quantizes a quoted price onto the tick grid. Prices off the
// grid, negative, or past the 32-bit tick space are malformed.
func (d *Decoder) PriceToTick(s string) (uint32, error) {
	price, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("bad price %q: %w", s, err)
	}

	scaled := price.Shift(int32(d.decimals.Value()))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("price %q is off the %s tick grid", s, d.decimals)
	}
	if scaled.IsNegative() || scaled.GreaterThan(maxTick) {
		return 0, fmt.Errorf("price %q outside tick range", s)
	}

	return uint32(scaled.IntPart()), nil
}

func parseSize(s string) (float64, error) {
	size, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("bad size %q: %w", s, err)
	}
	if size.IsNegative() {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return size.InexactFloat64(), nil
}

package book

import (
	"math"
	"testing"
)

const midpriceTick = math.MaxUint32 / 2

func benchTickUpdate(sideSize int) *TickUpdate {
	asks := make([]TickLevel, 0, sideSize)
	bids := make([]TickLevel, 0, sideSize)

	for i := 0; i < sideSize; i++ {
		asks = append(asks, tl(midpriceTick+1+uint32(i), 0.5+float64(i)))
		bids = append(bids, tl(midpriceTick-1-uint32(i), float64(i)))
	}

	return &TickUpdate{
		SequenceID: 0,
		Asks:       asks,
		Bids:       bids,
	}
}

func benchBook(b *testing.B, slots, empty int, warm bool) {
	b.Helper()

	update := benchTickUpdate(20)

	if warm {
		book, err := New(MustDecimals(2), slots, empty)
		if err != nil {
			b.Fatalf("New failed: %v", err)
		}
		book.ProcessTickUpdate(update)

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			book.ProcessTickUpdate(update)
		}
		return
	}

	// cold path: each iteration applies to a fresh book so the first-update
	// window establishment is what gets measured
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		book, err := New(MustDecimals(2), slots, empty)
		if err != nil {
			b.Fatalf("New failed: %v", err)
		}
		b.StartTimer()
		book.ProcessTickUpdate(update)
	}
}

func BenchmarkProcessTickUpdateInit8x2(b *testing.B)   { benchBook(b, 8, 2, false) }
func BenchmarkProcessTickUpdateInit32x4(b *testing.B)  { benchBook(b, 32, 4, false) }
func BenchmarkProcessTickUpdateSteady8x2(b *testing.B) { benchBook(b, 8, 2, true) }
func BenchmarkProcessTickUpdateSteady32x4(b *testing.B) {
	benchBook(b, 32, 4, true)
}

func BenchmarkTreeOrderBookProcess(b *testing.B) {
	book := NewTreeOrderBook()
	update := benchTickUpdate(20)
	book.ProcessTickUpdate(update)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		book.ProcessTickUpdate(update)
	}
}

func BenchmarkFastTickToFloat(b *testing.B) {
	d := MustDecimals(2)
	var sink float64
	for i := 0; i < b.N; i++ {
		sink = d.FastTickToFloat(1234)
	}
	_ = sink
}

func BenchmarkReferenceTickToFloat(b *testing.B) {
	d := MustDecimals(2)
	var sink float64
	for i := 0; i < b.N; i++ {
		sink = d.ReferenceTickToFloat(1234)
	}
	_ = sink
}

package feed

import (
	"strings"
	"testing"

	"github.com/phenomenon0/tickbook/pkg/book"
)

func newDecoder(t *testing.T, decimals int) *Decoder {
	t.Helper()
	return NewDecoder(book.MustDecimals(decimals))
}

func TestPriceToTick(t *testing.T) {
	d := newDecoder(t, 2)

	cases := map[string]uint32{
		"1.01":   101,
		"0.01":   1,
		"0":      0,
		"123.45": 12345,
		"99":     9900,
	}
	for price, want := range cases {
		tick, err := d.PriceToTick(price)
		if err != nil {
			t.Errorf("PriceToTick(%q) failed: %v", price, err)
			continue
		}
		if tick != want {
			t.Errorf("PriceToTick(%q) = %d, want %d", price, tick, want)
		}
	}
}

func TestPriceToTickRejectsMalformed(t *testing.T) {
	d := newDecoder(t, 2)

	for _, price := range []string{"1.005", "-0.01", "50000000", "abc", ""} {
		if _, err := d.PriceToTick(price); err == nil {
			t.Errorf("PriceToTick(%q) should fail", price)
		}
	}
}

func TestDecodeUpdate(t *testing.T) {
	d := newDecoder(t, 2)

	data := []byte(`{
		"event_type": "depth",
		"symbol": "BTC-USD",
		"sequence_id": 77,
		"asks": [["1.02", "15"], ["1.01", "5"]],
		"bids": [["0.98", "20"], ["0.99", "10"], ["0.97", "0"]]
	}`)

	update, err := d.DecodeUpdate(data)
	if err != nil {
		t.Fatalf("DecodeUpdate failed: %v", err)
	}

	if update.SequenceID != 77 {
		t.Errorf("Wrong sequence id: %d", update.SequenceID)
	}

	// asks sorted ascending regardless of wire order
	if len(update.Asks) != 2 || update.Asks[0].Tick != 101 || update.Asks[1].Tick != 102 {
		t.Errorf("Wrong asks: %+v", update.Asks)
	}
	if update.Asks[0].Size != 5 || update.Asks[1].Size != 15 {
		t.Errorf("Wrong ask sizes: %+v", update.Asks)
	}

	// bids sorted descending; the zero-size deletion level is preserved
	if len(update.Bids) != 3 {
		t.Fatalf("Wrong bid count: %d", len(update.Bids))
	}
	wantTicks := []uint32{99, 98, 97}
	for i, want := range wantTicks {
		if update.Bids[i].Tick != want {
			t.Errorf("bids[%d].Tick = %d, want %d", i, update.Bids[i].Tick, want)
		}
	}
	if update.Bids[2].Size != 0 {
		t.Errorf("Deletion level should keep size 0, got %v", update.Bids[2].Size)
	}
}

func TestConvertDeduplicatesLastWriterWins(t *testing.T) {
	d := newDecoder(t, 2)

	update, err := d.Convert(&DepthEvent{
		SequenceID: 1,
		Asks:       [][2]string{{"1.01", "5"}, {"1.01", "9"}},
	})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	if len(update.Asks) != 1 {
		t.Fatalf("Duplicate ticks should collapse, got %d levels", len(update.Asks))
	}
	if update.Asks[0].Size != 9 {
		t.Errorf("Last write should win: got size %v", update.Asks[0].Size)
	}
}

func TestConvertRejectsBadLevels(t *testing.T) {
	d := newDecoder(t, 2)

	_, err := d.Convert(&DepthEvent{
		Asks: [][2]string{{"1.005", "5"}},
	})
	if err == nil || !strings.Contains(err.Error(), "asks") {
		t.Errorf("Off-grid ask should fail with side context, got %v", err)
	}

	_, err = d.Convert(&DepthEvent{
		Bids: [][2]string{{"1.01", "-3"}},
	})
	if err == nil || !strings.Contains(err.Error(), "bids") {
		t.Errorf("Negative bid size should fail with side context, got %v", err)
	}
}

// Decoded updates must satisfy the book's producer contract end to end.
func TestDecodedUpdateFeedsBook(t *testing.T) {
	d := newDecoder(t, 2)

	update, err := d.Convert(&DepthEvent{
		SequenceID: 5,
		Asks:       [][2]string{{"1.03", "25"}, {"1.01", "5"}, {"1.02", "15"}},
		Bids:       [][2]string{{"0.97", "30"}, {"0.99", "10"}, {"0.98", "20"}},
	})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	bk, err := book.New(book.MustDecimals(2), 3, 1)
	if err != nil {
		t.Fatalf("book.New failed: %v", err)
	}
	bk.ProcessTickUpdate(update)

	if bk.SequenceID() != 5 {
		t.Errorf("Wrong sequence id: %d", bk.SequenceID())
	}
	if best := bk.BestAsk(); best.Size != 5 {
		t.Errorf("Wrong best ask size: %v", best.Size)
	}
	if best := bk.BestBid(); best.Size != 10 {
		t.Errorf("Wrong best bid size: %v", best.Size)
	}
}

// replay drives a captured depth-event stream through the hybrid book and
// the treemap baseline, reporting timings and whether the two books agree on
// the best bid. The rest of the ladder is not compared.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/tickbook/pkg/book"
	"github.com/phenomenon0/tickbook/pkg/feed"
)

var (
	dataFile   = flag.String("data", "", "Path to JSON-lines depth capture")
	decimalsN  = flag.Int("decimals", 2, "Tick decimals (0-18)")
	cacheSlots = flag.Int("slots", 128, "Dense window slots per side")
	emptySlots = flag.Int("empty", 16, "Head cushion slots after a rebalance")
	printBook  = flag.Bool("print", false, "Print the final ladder table")
)

func main() {
	flag.Parse()

	if *dataFile == "" {
		log.Fatal("No capture file: pass -data")
	}

	tickDecimals, err := book.NewDecimals(*decimalsN)
	if err != nil {
		log.Fatalf("Invalid -decimals %d: %v", *decimalsN, err)
	}

	updates, skipped, err := loadCapture(*dataFile, tickDecimals)
	if err != nil {
		log.Fatalf("Failed to load capture: %v", err)
	}
	log.Printf("Loaded %d updates (%d malformed lines skipped)", len(updates), skipped)

	hybrid, err := book.New(tickDecimals, *cacheSlots, *emptySlots)
	if err != nil {
		log.Fatalf("Invalid window (-slots %d, -empty %d): %v", *cacheSlots, *emptySlots, err)
	}

	start := time.Now()
	for _, u := range updates {
		hybrid.ProcessTickUpdate(u)
	}
	hybridElapsed := time.Since(start)

	baseline := book.NewTreeOrderBook()
	start = time.Now()
	for _, u := range updates {
		baseline.ProcessTickUpdate(u)
	}
	baselineElapsed := time.Since(start)

	printResults(hybrid, baseline, tickDecimals, len(updates), hybridElapsed, baselineElapsed)

	if *printBook {
		hybrid.Render(os.Stdout)
	}
}

func loadCapture(path string, tickDecimals book.Decimals) ([]*book.TickUpdate, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	decoder := feed.NewDecoder(tickDecimals)

	var updates []*book.TickUpdate
	skipped := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		update, err := decoder.DecodeUpdate(line)
		if err != nil {
			skipped++
			continue
		}
		updates = append(updates, update)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}

	return updates, skipped, nil
}

func printResults(hybrid *book.OrderBook, baseline *book.TreeOrderBook, d book.Decimals, n int, hybridElapsed, baselineElapsed time.Duration) {
	fmt.Println()
	fmt.Println("=== Replay Results ===")
	fmt.Printf("Updates:         %d\n", n)
	fmt.Printf("Hybrid book:     %v (%.0f ns/update)\n", hybridElapsed, perUpdate(hybridElapsed, n))
	fmt.Printf("Baseline book:   %v (%.0f ns/update)\n", baselineElapsed, perUpdate(baselineElapsed, n))
	if baselineElapsed > 0 && hybridElapsed > 0 {
		fmt.Printf("Speedup:         %.2fx\n", float64(baselineElapsed)/float64(hybridElapsed))
	}

	fmt.Println()
	bid := hybrid.BestBid()
	ask := hybrid.BestAsk()
	fmt.Printf("Hybrid top:      bid %s x %s | ask %s x %s (seq %d)\n",
		formatDec(bid.Price), formatDec(bid.Size), formatDec(ask.Price), formatDec(ask.Size), hybrid.SequenceID())

	// The baseline treats each update as a snapshot, so its top only agrees
	// with the hybrid book when the capture ends in a snapshot; report both
	// and flag a mismatch instead of guessing.
	if bbid, ok := baseline.BestBid(); ok {
		price := d.FastTickToFloat(bbid.Tick)
		fmt.Printf("Baseline top:    bid %s x %s (seq %d)\n", formatDec(price), formatDec(bbid.Size), baseline.SequenceID())
		if price != bid.Price || bbid.Size != bid.Size {
			fmt.Println("NOTE: tops diverge; baseline is snapshot-only and forgets unmentioned levels")
		}
	}
}

func perUpdate(elapsed time.Duration, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(elapsed.Nanoseconds()) / float64(n)
}

func formatDec(f float64) string {
	return decimal.NewFromFloat(f).String()
}

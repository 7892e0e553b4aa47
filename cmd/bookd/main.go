// bookd maintains one instrument's order book from a depth feed and serves
// top-of-book, ladder snapshots and metrics over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phenomenon0/tickbook/pkg/book"
	"github.com/phenomenon0/tickbook/pkg/feed"
	"github.com/phenomenon0/tickbook/pkg/ingest"
	"github.com/phenomenon0/tickbook/pkg/metrics"
	"github.com/phenomenon0/tickbook/pkg/streaming"
)

var (
	symbol     = flag.String("symbol", "BTC-USD", "Instrument symbol")
	decimals   = flag.Int("decimals", 2, "Tick decimals (0-18)")
	cacheSlots = flag.Int("slots", 128, "Dense window slots per side")
	emptySlots = flag.Int("empty", 16, "Head cushion slots after a rebalance")
	feedURL    = flag.String("feed-url", "", "Depth feed WebSocket URL (or TICKBOOK_FEED_URL env)")
	httpAddr   = flag.String("http", ":8080", "HTTP server address")
	ladderMs   = flag.Int("ladder-ms", 1000, "Ladder broadcast interval in ms (0 disables)")
	verbose    = flag.Bool("verbose", false, "Verbose logging")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("Starting tickbook daemon")

	url := *feedURL
	if url == "" {
		url = os.Getenv("TICKBOOK_FEED_URL")
	}
	if url == "" {
		log.Fatal("No feed URL: pass -feed-url or set TICKBOOK_FEED_URL")
	}

	tickDecimals, err := book.NewDecimals(*decimals)
	if err != nil {
		log.Fatalf("Invalid -decimals %d: %v", *decimals, err)
	}

	bk, err := book.New(tickDecimals, *cacheSlots, *emptySlots)
	if err != nil {
		log.Fatalf("Invalid window (-slots %d, -empty %d): %v", *cacheSlots, *emptySlots, err)
	}

	bm := metrics.Default()

	hub := streaming.NewHub()
	hub.OnClientCount(bm.UpdateStreamClients)
	go hub.Run()

	ing := ingest.New(ingest.Config{
		Symbol:         *symbol,
		LadderInterval: time.Duration(*ladderMs) * time.Millisecond,
	}, bk, bm, hub)

	ing.OnGap(func(from, to uint64) {
		log.Printf("[GAP] Sequence jumped %d -> %d", from, to)
	})
	if *verbose {
		ing.OnApplied(func(u *book.TickUpdate) {
			log.Printf("[APPLY] seq=%d asks=%d bids=%d", u.SequenceID, len(u.Asks), len(u.Bids))
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	feedConfig := feed.DefaultConfig(url, *symbol, tickDecimals)
	feedConfig.Handlers = feed.Handlers{
		OnConnect: func() {
			log.Printf("[FEED] Connected to %s", url)
		},
		OnDisconnect: func(err error) {
			log.Printf("[FEED] Disconnected: %v", err)
		},
		OnDecodeError: func(err error) {
			bm.RecordDecodeError(*symbol)
			if *verbose {
				log.Printf("[FEED] Skipped malformed event: %v", err)
			}
		},
		OnError: func(err error) {
			log.Printf("[FEED] Error: %v", err)
			ing.ReportError(err, "feed")
		},
	}

	streams, err := feed.StartStreaming(ctx, feedConfig, feed.StreamConfig{})
	if err != nil {
		log.Fatalf("Failed to start feed: %v", err)
	}
	defer streams.Close()

	if err := ing.Start(ctx, streams.Updates); err != nil {
		log.Fatalf("Failed to start ingest: %v", err)
	}

	// fold stream backpressure drops into metrics
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		var last uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if d := streams.Dropped(); d > last {
					bm.DroppedUpdates.WithLabelValues(*symbol).Add(float64(d - last))
					last = d
				}
			}
		}
	}()

	go serveHTTP(ing, bm, hub)

	log.Printf("Book running (symbol=%s, decimals=%d, window=%dx%d, http=%s)",
		*symbol, *decimals, *cacheSlots, *emptySlots, *httpAddr)
	log.Printf("WebSocket streaming available at ws://%s/ws", *httpAddr)
	log.Println("Press Ctrl+C to stop")

	<-sigCh
	log.Println("Shutting down...")

	ing.Stop()
	cancel()

	stats := ing.Stats()
	log.Printf("Final Stats: updates=%d, levels=%d, gaps=%d, dropped=%d, last_seq=%d",
		stats.UpdatesApplied, stats.LevelsSeen, stats.SequenceGaps,
		streams.Dropped(), stats.LastSequenceID)
}

func serveHTTP(ing *ingest.Ingestor, bm *metrics.BookMetrics, hub *streaming.Hub) {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ing.GetStatus())
	})

	mux.HandleFunc("/book", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		ing.RenderBook(w)
	})

	mux.HandleFunc("/ladder", func(w http.ResponseWriter, r *http.Request) {
		depth := 0
		if s := r.URL.Query().Get("depth"); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				depth = n
			}
		}
		bids, asks := ing.Ladder(depth)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"bids": bids,
			"asks": asks,
		})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(bm.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", hub.ServeWS)

	if err := http.ListenAndServe(*httpAddr, mux); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}

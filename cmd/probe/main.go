// Command probe is a one-shot diagnostic for the price backend: fetch a
// batch of quotes for a source, or tail its push stream for a while.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"github.com/Wing9897/StockenBoard-sub000/internal/feed"
	"github.com/Wing9897/StockenBoard-sub000/internal/source"
)

func main() {
	baseURL := flag.String("url", "http://localhost:9000", "price backend REST URL")
	wsURL := flag.String("ws-url", "", "price backend stream URL (defaults from -url)")
	sourceID := flag.String("source", "binance", "source id")
	symbols := flag.String("symbols", "", "comma-separated symbols (required)")
	stream := flag.Bool("stream", false, "tail the push stream instead of fetching once")
	duration := flag.Duration("duration", 30*time.Second, "how long to tail the stream")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if *symbols == "" {
		fmt.Fprintln(os.Stderr, "probe: -symbols is required")
		os.Exit(2)
	}
	symbolList := strings.Split(*symbols, ",")

	if info, ok := source.Lookup(*sourceID); ok {
		fmt.Printf("source %s (%s), streaming=%v\n", info.ID, info.Name, info.SupportsStream)
	} else {
		fmt.Printf("source %s (unknown to the metadata table)\n", *sourceID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration+30*time.Second)
	defer cancel()

	if *stream {
		tailStream(ctx, *baseURL, *wsURL, *sourceID, symbolList, *duration, logger)
		return
	}
	fetchOnce(ctx, *baseURL, *sourceID, symbolList, logger)
}

func fetchOnce(ctx context.Context, baseURL, sourceID string, symbols []string, logger *slog.Logger) {
	client := feed.NewClient(baseURL,
		feed.WithAPIKey(os.Getenv("FEED_API_KEY")),
		feed.WithLogger(logger),
	)

	quotes, err := client.FetchPrices(ctx, sourceID, symbols)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: fetch failed: %v\n", err)
		os.Exit(1)
	}

	for _, quote := range quotes {
		line, _ := json.Marshal(quote)
		fmt.Println(string(line))
	}
}

func tailStream(ctx context.Context, baseURL, wsURL, sourceID string, symbols []string, duration time.Duration, logger *slog.Logger) {
	if wsURL == "" {
		wsURL = strings.Replace(baseURL, "http", "ws", 1)
	}

	cfg := feed.DefaultStreamConfig(wsURL)
	cfg.APIKey = os.Getenv("FEED_API_KEY")
	client := feed.NewStreamClient(cfg, logger)
	defer client.Close()

	if err := client.EnsureStream(ctx, sourceID, symbols); err != nil {
		fmt.Fprintf(os.Stderr, "probe: stream registration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "tailing %s for %s...\n", sourceID, duration)
	deadline := time.After(duration)
	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			fmt.Fprintf(os.Stderr, "done, %d updates\n", count)
			return
		case update := <-client.Updates():
			line, _ := json.Marshal(update)
			fmt.Println(string(line))
			count++
		}
	}
}

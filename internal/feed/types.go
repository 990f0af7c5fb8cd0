package feed

import (
	"context"
	"errors"

	"github.com/Wing9897/StockenBoard-sub000/internal/model"
)

// Errors
var (
	ErrStreamClosed = errors.New("stream client closed")
	ErrNoSymbols    = errors.New("no symbols to register")
)

// Fetcher fetches a batch of quotes for one source. A failure is reported as
// one aggregate error for the whole batch, never per symbol.
type Fetcher interface {
	FetchPrices(ctx context.Context, sourceID string, symbols []string) ([]model.AssetQuote, error)
}

// Streamer maintains push registrations with the backend. EnsureStream is
// idempotent per exact (source, symbol set); updates for all sources arrive
// interleaved on the Updates channel.
type Streamer interface {
	EnsureStream(ctx context.Context, sourceID string, symbols []string) error
	Updates() <-chan model.StreamUpdate
	Close() error
}

// VisibilityReporter tells the backend which subscriptions are on screen.
// Fire-and-forget: failures are swallowed by implementations.
type VisibilityReporter interface {
	ReportVisible(ctx context.Context, ids []string, scope string)
}

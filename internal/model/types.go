package model

import (
	"fmt"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Subscription Types
// -----------------------------------------------------------------------------

// AssetKind classifies what a subscription tracks.
type AssetKind string

const (
	KindCrypto AssetKind = "crypto"
	KindStock  AssetKind = "stock"
	KindDex    AssetKind = "dex"
)

// Subscription is one tracked symbol and the source it is fetched from.
// Owned by the store; the sync engine only reads snapshots.
type Subscription struct {
	ID          uuid.UUID // Primary key
	Symbol      string    // Display symbol (e.g., "BTCUSDT")
	DisplayName string    // Optional user-facing name
	Kind        AssetKind // crypto, stock, or dex
	SourceID    string    // Selected data source (e.g., "binance")

	// DEX-only pool addressing
	PoolAddress string
	TokenFrom   string
	TokenTo     string

	// History recording
	RecordEnabled  bool
	RecordFromHour *int // Local hour window start (nil = source/all-day default)
	RecordToHour   *int // Local hour window end

	SortOrder int
}

// FetchSymbol returns the symbol string sent to the price backend.
// DEX subscriptions are addressed by pool:tokenFrom:tokenTo instead of the
// display symbol.
func (s Subscription) FetchSymbol() string {
	if s.Kind == KindDex {
		return fmt.Sprintf("%s:%s:%s", s.PoolAddress, s.TokenFrom, s.TokenTo)
	}
	return s.Symbol
}

// -----------------------------------------------------------------------------
// Source Settings
// -----------------------------------------------------------------------------

// ConnectionMode selects how a source is synchronized.
type ConnectionMode string

const (
	ModeInterval ConnectionMode = "interval" // Periodic batch polling
	ModeStream   ConnectionMode = "stream"   // Push-based updates after registration
)

// SourceSettings are the persisted per-source settings. Zero values mean
// "no override"; the resolver combines these with static source metadata.
type SourceSettings struct {
	SourceID        string
	APIKey          string
	APISecret       string
	APIURL          string         // Custom endpoint, empty = default
	RefreshInterval *int64         // Explicit poll interval override (ms)
	Mode            ConnectionMode // Explicit connection-mode override, "" = auto
	RecordFromHour  *int           // Source-level recording window
	RecordToHour    *int
}

// -----------------------------------------------------------------------------
// Quote Types
// -----------------------------------------------------------------------------

// AssetQuote is one price observation for a symbol from a source.
// Optional 24h statistics are nil when the source does not report them.
type AssetQuote struct {
	Symbol           string             `json:"symbol"`
	SourceID         string             `json:"source_id"`
	Price            float64            `json:"price"`
	Currency         string             `json:"currency"`
	Change24h        *float64           `json:"change_24h,omitempty"`
	ChangePercent24h *float64           `json:"change_percent_24h,omitempty"`
	High24h          *float64           `json:"high_24h,omitempty"`
	Low24h           *float64           `json:"low_24h,omitempty"`
	Volume           *float64           `json:"volume,omitempty"`
	MarketCap        *float64           `json:"market_cap,omitempty"`
	LastUpdated      int64              `json:"last_updated"` // ms since epoch
	Extra            map[string]float64 `json:"extra,omitempty"`
}

// StreamUpdate is one push-delivered quote from a streaming source.
type StreamUpdate struct {
	SourceID string     `json:"source_id"`
	Symbol   string     `json:"symbol"`
	Quote    AssetQuote `json:"quote"`
}

// PollTick records the last fetch attempt for a source, used to drive
// countdown/progress display. Updated on success and failure alike.
type PollTick struct {
	SourceID   string `json:"source_id"`
	FetchedAt  int64  `json:"fetched_at"`  // ms since epoch
	IntervalMs int64  `json:"interval_ms"` // Current poll interval
}

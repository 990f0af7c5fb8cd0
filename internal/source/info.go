package source

import "github.com/Wing9897/StockenBoard-sub000/internal/model"

// Info is the static capability metadata for one price source.
type Info struct {
	ID              string          // Source id (e.g., "binance")
	Name            string          // Display name
	Kind            model.AssetKind // Primary asset kind served
	SupportsStream  bool            // Push-stream capable
	RequiresAPIKey  bool
	FreeIntervalMs  int64 // Default poll interval without credentials
	KeyedIntervalMs int64 // Default poll interval with credentials
	SymbolFormat    string
}

// infos lists every supported source. Intervals reflect each source's
// documented free-tier and keyed-tier rate limits.
var infos = []Info{
	// Crypto exchanges
	{ID: "binance", Name: "Binance", Kind: model.KindCrypto, SupportsStream: true, FreeIntervalMs: 5000, KeyedIntervalMs: 5000, SymbolFormat: "BTCUSDT"},
	{ID: "coinbase", Name: "Coinbase", Kind: model.KindCrypto, SupportsStream: true, FreeIntervalMs: 5000, KeyedIntervalMs: 5000, SymbolFormat: "BTC-USD"},
	{ID: "kraken", Name: "Kraken", Kind: model.KindCrypto, FreeIntervalMs: 5000, KeyedIntervalMs: 5000, SymbolFormat: "XBTUSD"},
	{ID: "okx", Name: "OKX", Kind: model.KindCrypto, FreeIntervalMs: 5000, KeyedIntervalMs: 5000, SymbolFormat: "BTC-USDT"},
	{ID: "bybit", Name: "Bybit", Kind: model.KindCrypto, FreeIntervalMs: 5000, KeyedIntervalMs: 5000, SymbolFormat: "BTCUSDT"},
	{ID: "kucoin", Name: "KuCoin", Kind: model.KindCrypto, FreeIntervalMs: 5000, KeyedIntervalMs: 5000, SymbolFormat: "BTC-USDT"},
	{ID: "gateio", Name: "Gate.io", Kind: model.KindCrypto, FreeIntervalMs: 5000, KeyedIntervalMs: 5000, SymbolFormat: "BTC_USDT"},
	{ID: "bitfinex", Name: "Bitfinex", Kind: model.KindCrypto, FreeIntervalMs: 10000, KeyedIntervalMs: 10000, SymbolFormat: "tBTCUSD"},

	// Aggregators
	{ID: "coingecko", Name: "CoinGecko", Kind: model.KindCrypto, FreeIntervalMs: 60000, KeyedIntervalMs: 20000, SymbolFormat: "bitcoin"},
	{ID: "coinmarketcap", Name: "CoinMarketCap", Kind: model.KindCrypto, RequiresAPIKey: true, FreeIntervalMs: 60000, KeyedIntervalMs: 30000, SymbolFormat: "BTC"},
	{ID: "cryptocompare", Name: "CryptoCompare", Kind: model.KindCrypto, SupportsStream: true, FreeIntervalMs: 30000, KeyedIntervalMs: 10000, SymbolFormat: "BTC"},

	// Stocks
	{ID: "yahoo", Name: "Yahoo Finance", Kind: model.KindStock, FreeIntervalMs: 15000, KeyedIntervalMs: 15000, SymbolFormat: "AAPL"},
	{ID: "finnhub", Name: "Finnhub", Kind: model.KindStock, SupportsStream: true, RequiresAPIKey: true, FreeIntervalMs: 60000, KeyedIntervalMs: 10000, SymbolFormat: "AAPL"},
	{ID: "twelvedata", Name: "Twelve Data", Kind: model.KindStock, SupportsStream: true, RequiresAPIKey: true, FreeIntervalMs: 15000, KeyedIntervalMs: 8000, SymbolFormat: "AAPL"},
	{ID: "alphavantage", Name: "Alpha Vantage", Kind: model.KindStock, RequiresAPIKey: true, FreeIntervalMs: 180000, KeyedIntervalMs: 60000, SymbolFormat: "AAPL"},

	// DEX aggregators
	{ID: "jupiter", Name: "Jupiter", Kind: model.KindDex, RequiresAPIKey: true, FreeIntervalMs: 10000, KeyedIntervalMs: 5000, SymbolFormat: "pool:tokenFrom:tokenTo"},
	{ID: "raydium", Name: "Raydium", Kind: model.KindDex, RequiresAPIKey: true, FreeIntervalMs: 10000, KeyedIntervalMs: 5000, SymbolFormat: "pool:tokenFrom:tokenTo"},
	{ID: "subgraph", Name: "Subgraph", Kind: model.KindDex, RequiresAPIKey: true, FreeIntervalMs: 15000, KeyedIntervalMs: 10000, SymbolFormat: "protocol:pool:tokenFrom:tokenTo"},
}

var infoByID = func() map[string]Info {
	m := make(map[string]Info, len(infos))
	for _, i := range infos {
		m[i.ID] = i
	}
	return m
}()

// All returns metadata for every supported source.
func All() []Info {
	out := make([]Info, len(infos))
	copy(out, infos)
	return out
}

// Lookup returns metadata for a single source id.
func Lookup(id string) (Info, bool) {
	i, ok := infoByID[id]
	return i, ok
}

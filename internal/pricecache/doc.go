// Package pricecache implements the key-addressed price cache.
//
// The cache is the single source of truth for last-known quotes, last fetch
// errors, and per-source poll ticks. All writers (interval fetch completions,
// stream callbacks, the tick recorder) go through its mutation API, which
// centralizes the did-this-change check that gates listener notification.
//
// Listeners subscribe per (source, symbol) key or per source (ticks) and are
// only invoked when their own key observably changed. Notification cost is
// O(listeners of the changed key), never a broadcast.
package pricecache

// Package history records accepted quotes for recording-enabled
// subscriptions into the price_history table. Writes are batched and
// flushed on size or interval; per-subscription recording-hour windows and
// a short dedup window keep the table from filling with near-duplicates.
package history

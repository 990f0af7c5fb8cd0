// Package model defines shared data types used across the price sync daemon.
//
// Conventions:
//   - Prices: float64 in the quote currency
//   - Timestamps: int64 milliseconds since Unix epoch
//   - IDs: uuid.UUID for subscriptions, string for source ids
package model

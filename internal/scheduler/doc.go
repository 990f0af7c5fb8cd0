// Package scheduler owns the sync lifecycle: it partitions subscriptions
// into per-source interval and stream groups, drives the poll timers and
// stream registrations, and funnels every result into the price cache.
// Rebuilds are serialized by a generation counter so a newer rebuild always
// invalidates in-flight work from an older one.
package scheduler

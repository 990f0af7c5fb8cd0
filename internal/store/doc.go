// Package store persists subscriptions and per-source settings in
// PostgreSQL. The sync engine only reads snapshots; the HTTP API writes
// through the CRUD methods and triggers an engine reload afterwards.
package store

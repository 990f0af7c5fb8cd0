// Package database provides connection pool management for PostgreSQL.
//
// The daemon keeps everything in one database: subscriptions, per-source
// settings, and recorded price history.
package database

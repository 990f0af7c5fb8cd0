// Package server exposes the daemon's HTTP API: cache reads (prices,
// ticks, history), subscription and source-settings management, and the
// control endpoints that drive the sync engine (visibility, unattended
// mode, reload).
package server

// Package feed implements the collaborator interfaces to the price backend.
//
// The backend is opaque to the sync engine: it exposes batch price fetches
// per (source, symbols) over REST and push streams per source over WebSocket.
// A batch fetch fails as a whole with one aggregate error; streams deliver
// StreamUpdate tuples on a shared channel after a one-time registration.
package feed

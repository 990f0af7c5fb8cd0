package pricecache

import (
	"log/slog"
	"sync"

	"github.com/Wing9897/StockenBoard-sub000/internal/model"
)

// Key addresses one cached quote.
type Key struct {
	SourceID string
	Symbol   string
}

func (k Key) String() string { return k.SourceID + ":" + k.Symbol }

// Entry is a point-in-time view of one cache slot. Quote and Err follow the
// mutual-exclusion rule: a successful write clears Err, an error write keeps
// the previous Quote retrievable so the UI can show stale data over nothing.
type Entry struct {
	Quote *model.AssetQuote
	Err   string
}

// KeyListener receives the new entry state after a change to its key.
type KeyListener func(Entry)

// TickListener receives the new poll tick for its source.
type TickListener func(model.PollTick)

// Stats summarizes cache occupancy.
type Stats struct {
	Entries       int
	Errored       int
	Ticks         int
	KeyListeners  int
	TickListeners int
}

type entry struct {
	quote *model.AssetQuote
	err   string
}

// view copies the slot into the exported form handed to listeners. The quote
// is copied so a listener never holds the cache's internal pointer.
func (e *entry) view() Entry {
	v := Entry{Err: e.err}
	if e.quote != nil {
		q := *e.quote
		v.Quote = &q
	}
	return v
}

// Cache is the shared price store with fine-grained pub/sub. Safe for use
// from multiple goroutines; listener callbacks run outside the cache lock and
// must not block for long.
type Cache struct {
	logger *slog.Logger

	mu        sync.Mutex
	entries   map[Key]*entry
	ticks     map[string]model.PollTick
	keySubs   map[Key]map[int]KeyListener
	tickSubs  map[string]map[int]TickListener
	nextSubID int
}

// New creates an empty cache.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		logger:   logger,
		entries:  make(map[Key]*entry),
		ticks:    make(map[string]model.PollTick),
		keySubs:  make(map[Key]map[int]KeyListener),
		tickSubs: make(map[string]map[int]TickListener),
	}
}

// notification pairs a listener with the state it should observe. Collected
// under the lock, fired after release.
type notification struct {
	fn    KeyListener
	state Entry
}

// ApplyFetchResults stores a batch of fetched quotes for a source. A quote is
// written (and its key's listeners notified) only when price or timestamp
// differs from the stored value; a write clears any stored error for the key.
func (c *Cache) ApplyFetchResults(sourceID string, quotes []model.AssetQuote) {
	var pending []notification

	c.mu.Lock()
	for i := range quotes {
		q := quotes[i]
		key := Key{SourceID: sourceID, Symbol: q.Symbol}

		e, ok := c.entries[key]
		if ok && e.err == "" && e.quote != nil &&
			e.quote.Price == q.Price && e.quote.LastUpdated == q.LastUpdated {
			continue // no-op write, no notification
		}
		if !ok {
			e = &entry{}
			c.entries[key] = e
		}
		stored := q
		e.quote = &stored
		e.err = ""

		pending = c.collectKeyLocked(key, e.view(), pending)
	}
	c.mu.Unlock()

	fire(pending)
}

// ApplyFetchError records one aggregate failure against each affected symbol
// key. The previously cached quote for a key is kept; only the error string
// changes. Listeners fire only when the message differs from the stored one.
func (c *Cache) ApplyFetchError(sourceID string, symbolErrs map[string]string) {
	var pending []notification

	c.mu.Lock()
	for symbol, msg := range symbolErrs {
		key := Key{SourceID: sourceID, Symbol: symbol}

		e, ok := c.entries[key]
		if ok && e.err == msg {
			continue
		}
		if !ok {
			e = &entry{}
			c.entries[key] = e
		}
		e.err = msg

		pending = c.collectKeyLocked(key, e.view(), pending)
	}
	c.mu.Unlock()

	fire(pending)
}

// ApplyStreamUpdate overwrites a key with a pushed quote and always notifies.
// Push updates are authoritative; streaming cadence is low enough that the
// redundant-notification check is not worth its complexity.
func (c *Cache) ApplyStreamUpdate(u model.StreamUpdate) {
	key := Key{SourceID: u.SourceID, Symbol: u.Symbol}
	var pending []notification

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	stored := u.Quote
	e.quote = &stored
	e.err = ""
	pending = c.collectKeyLocked(key, e.view(), pending)
	c.mu.Unlock()

	fire(pending)
}

// RecordTick updates a source's poll tick metadata and notifies that source's
// tick listeners when either field changed.
func (c *Cache) RecordTick(sourceID string, fetchedAt, intervalMs int64) {
	tick := model.PollTick{SourceID: sourceID, FetchedAt: fetchedAt, IntervalMs: intervalMs}

	c.mu.Lock()
	old, ok := c.ticks[sourceID]
	if ok && old.FetchedAt == fetchedAt && old.IntervalMs == intervalMs {
		c.mu.Unlock()
		return
	}
	c.ticks[sourceID] = tick

	var fns []TickListener
	for _, fn := range c.tickSubs[sourceID] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(tick)
	}
}

// SubscribeKey registers a listener for one key. The returned func removes
// the registration; the last unsubscribe for a key releases its listener set.
func (c *Cache) SubscribeKey(key Key, fn KeyListener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	set, ok := c.keySubs[key]
	if !ok {
		set = make(map[int]KeyListener)
		c.keySubs[key] = set
	}
	set[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if set, ok := c.keySubs[key]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(c.keySubs, key)
			}
		}
	}
}

// SubscribeTick registers a listener for one source's poll ticks.
func (c *Cache) SubscribeTick(sourceID string, fn TickListener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	set, ok := c.tickSubs[sourceID]
	if !ok {
		set = make(map[int]TickListener)
		c.tickSubs[sourceID] = set
	}
	set[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if set, ok := c.tickSubs[sourceID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(c.tickSubs, sourceID)
			}
		}
	}
}

// Quote returns the cached quote for a key, if one exists.
func (c *Cache) Quote(key Key) (model.AssetQuote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.quote != nil {
		return *e.quote, true
	}
	return model.AssetQuote{}, false
}

// Error returns the stored error for a key, if one exists.
func (c *Cache) Error(key Key) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.err != "" {
		return e.err, true
	}
	return "", false
}

// Tick returns the last recorded poll tick for a source.
func (c *Cache) Tick(sourceID string) (model.PollTick, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.ticks[sourceID]
	return t, ok
}

// SnapshotQuotes returns all cached quotes.
func (c *Cache) SnapshotQuotes() []model.AssetQuote {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.AssetQuote, 0, len(c.entries))
	for _, e := range c.entries {
		if e.quote != nil {
			out = append(out, *e.quote)
		}
	}
	return out
}

// SnapshotTicks returns all recorded poll ticks.
func (c *Cache) SnapshotTicks() []model.PollTick {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.PollTick, 0, len(c.ticks))
	for _, t := range c.ticks {
		out = append(out, t)
	}
	return out
}

// Retain drops entries whose keys are no longer tracked and ticks for sources
// with no remaining group. Called by the scheduler after each rebuild.
func (c *Cache) Retain(validKeys map[Key]struct{}, activeSources map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if _, ok := validKeys[key]; !ok {
			delete(c.entries, key)
		}
	}
	for sourceID := range c.ticks {
		if _, ok := activeSources[sourceID]; !ok {
			delete(c.ticks, sourceID)
		}
	}
}

// Clear empties all quotes and ticks. Listener registrations survive.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*entry)
	c.ticks = make(map[string]model.PollTick)
}

// Stats returns current occupancy counts.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries: len(c.entries),
		Ticks:   len(c.ticks),
	}
	for _, e := range c.entries {
		if e.err != "" {
			s.Errored++
		}
	}
	for _, set := range c.keySubs {
		s.KeyListeners += len(set)
	}
	for _, set := range c.tickSubs {
		s.TickListeners += len(set)
	}
	return s
}

// collectKeyLocked queues notifications for every listener of key. Caller
// holds c.mu.
func (c *Cache) collectKeyLocked(key Key, state Entry, pending []notification) []notification {
	for _, fn := range c.keySubs[key] {
		pending = append(pending, notification{fn: fn, state: state})
	}
	return pending
}

func fire(pending []notification) {
	for _, n := range pending {
		n.fn(n.state)
	}
}

package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wing9897/StockenBoard-sub000/internal/feed"
	"github.com/Wing9897/StockenBoard-sub000/internal/model"
	"github.com/Wing9897/StockenBoard-sub000/internal/pricecache"
	"github.com/Wing9897/StockenBoard-sub000/internal/source"
)

// SnapshotLoader provides read-only snapshots of the subscription registry.
// The engine re-reads on every rebuild; there is no live-update contract.
type SnapshotLoader interface {
	LoadSubscriptions(ctx context.Context) ([]model.Subscription, error)
	LoadSourceSettings(ctx context.Context) ([]model.SourceSettings, error)
}

// Recorder receives every quote the engine accepts for a subscription with
// recording enabled. Implementations decide whether to persist it.
type Recorder interface {
	Record(sub model.Subscription, quote model.AssetQuote)
}

// Config holds engine configuration.
type Config struct {
	FetchTimeout time.Duration // Per batch-fetch deadline (default: 20s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FetchTimeout: 20 * time.Second,
	}
}

// group is one (source, mode) scheduling unit built during a rebuild.
type group struct {
	sourceID string
	interval time.Duration
	symbols  []string // sorted fetch symbols, deduped
	subs     []model.Subscription
}

// Engine is the grouping scheduler. One instance owns all timers, stream
// registrations, and the generation counter that arbitrates between
// overlapping rebuilds.
type Engine struct {
	cfg      Config
	loader   SnapshotLoader
	fetcher  feed.Fetcher
	streamer feed.Streamer
	cache    *pricecache.Cache
	recorder Recorder
	logger   *slog.Logger

	generation atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	visible     map[string]map[string]struct{} // scope → subscription id set
	unattended  bool
	groupCancel context.CancelFunc             // tears down the current generation's goroutines
	streamSrcs  map[string]struct{}            // sources with a live stream group
	subsByKey   map[pricecache.Key][]model.Subscription
}

// New creates an engine. streamer and recorder may be nil; a nil streamer
// downgrades every stream-mode source to interval polling.
func New(cfg Config, loader SnapshotLoader, fetcher feed.Fetcher, streamer feed.Streamer, cache *pricecache.Cache, recorder Recorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	return &Engine{
		cfg:        cfg,
		loader:     loader,
		fetcher:    fetcher,
		streamer:   streamer,
		cache:      cache,
		recorder:   recorder,
		logger:     logger,
		visible:    make(map[string]map[string]struct{}),
		streamSrcs: make(map[string]struct{}),
		subsByKey:  make(map[pricecache.Key][]model.Subscription),
	}
}

// Start launches the stream consumer and performs the initial rebuild.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if e.streamer != nil {
		e.wg.Add(1)
		go e.consumeStream()
	}

	if err := e.Rebuild(ctx); err != nil {
		return err
	}

	e.logger.Info("sync engine started")
	return nil
}

// Stop tears down all groups and waits for goroutines to exit.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.groupCancel != nil {
		e.groupCancel()
		e.groupCancel = nil
	}
	e.mu.Unlock()

	// Invalidate any in-flight fetch results.
	e.generation.Add(1)

	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("sync engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload re-reads the registry snapshot and rebuilds all groups. Called
// after subscriptions or source settings change.
func (e *Engine) Reload(ctx context.Context) error {
	return e.Rebuild(ctx)
}

// SetVisible replaces the visible subscription id set for one scope and
// rebuilds. Polling is restricted to the union of all scopes' sets;
// streaming sources always track every subscription regardless.
func (e *Engine) SetVisible(ctx context.Context, scope string, ids []string) error {
	e.mu.Lock()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	e.visible[scope] = set
	e.mu.Unlock()

	return e.Rebuild(ctx)
}

// SetUnattended toggles unattended mode. While unattended the visibility
// filter is ignored and every subscription polls.
func (e *Engine) SetUnattended(ctx context.Context, on bool) error {
	e.mu.Lock()
	changed := e.unattended != on
	e.unattended = on
	e.mu.Unlock()

	if !changed {
		return nil
	}
	return e.Rebuild(ctx)
}

// Generation returns the current rebuild generation.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// activeFilter returns the current polling filter: nil means unfiltered, a
// non-nil set restricts interval groups to those subscription ids. An empty
// non-nil set means nothing is visible.
func (e *Engine) activeFilter() map[string]struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.unattended || len(e.visible) == 0 {
		return nil
	}
	union := make(map[string]struct{})
	for _, set := range e.visible {
		for id := range set {
			union[id] = struct{}{}
		}
	}
	return union
}

// Rebuild tears down the current groups and schedules fresh ones from a new
// registry snapshot. Overlapping calls are resolved by the generation
// counter: the latest call wins and earlier in-flight work is discarded.
func (e *Engine) Rebuild(ctx context.Context) error {
	gen := e.generation.Add(1)

	parent := e.ctx
	if parent == nil {
		parent = context.Background()
	}

	// Timer teardown is synchronous and immediate.
	e.mu.Lock()
	if e.groupCancel != nil {
		e.groupCancel()
	}
	groupCtx, groupCancel := context.WithCancel(parent)
	e.groupCancel = groupCancel
	e.mu.Unlock()

	subs, err := e.loader.LoadSubscriptions(ctx)
	if err != nil {
		return err
	}
	settings, err := e.loader.LoadSourceSettings(ctx)
	if err != nil {
		return err
	}
	if e.stale(gen) {
		return nil
	}

	resolver := source.NewResolver(settings)
	filter := e.activeFilter()

	intervalGroups, streamGroups := e.partition(subs, resolver, filter)

	if e.stale(gen) {
		return nil
	}

	// Publish the new tracking state before any goroutine starts writing.
	streamSrcs := make(map[string]struct{}, len(streamGroups))
	subsByKey := make(map[pricecache.Key][]model.Subscription)
	for _, g := range streamGroups {
		streamSrcs[g.sourceID] = struct{}{}
		indexGroup(subsByKey, g)
	}
	for _, g := range intervalGroups {
		indexGroup(subsByKey, g)
	}

	// Known scopes with nothing visible and no streaming groups to keep
	// means the cache empties instead of being pruned.
	clearCache := filter != nil && len(filter) == 0 && len(streamGroups) == 0

	if !e.publish(gen, streamSrcs, subsByKey, intervalGroups, streamGroups, clearCache) {
		return nil
	}
	if clearCache {
		e.logger.Debug("rebuild: nothing visible, cache cleared", "generation", gen)
		return nil
	}

	for _, g := range intervalGroups {
		e.wg.Add(1)
		go e.runIntervalGroup(groupCtx, gen, g)
	}
	for _, g := range streamGroups {
		e.wg.Add(1)
		go e.startStreamGroup(groupCtx, gen, g)
	}

	e.logger.Info("rebuild complete",
		"generation", gen,
		"interval_groups", len(intervalGroups),
		"stream_groups", len(streamGroups),
		"subscriptions", len(subs),
	)

	return nil
}

// partition splits subscriptions into stream and interval groups per the
// resolved mode of each source. The visibility filter applies to interval
// groups only.
func (e *Engine) partition(subs []model.Subscription, resolver *source.Resolver, filter map[string]struct{}) (interval, stream []*group) {
	intervalBySource := make(map[string]*group)
	streamBySource := make(map[string]*group)

	for _, sub := range subs {
		resolved := resolver.Resolve(sub.SourceID)

		if resolved.Mode == model.ModeStream && e.streamer != nil {
			g, ok := streamBySource[sub.SourceID]
			if !ok {
				g = &group{sourceID: sub.SourceID, interval: resolved.Interval}
				streamBySource[sub.SourceID] = g
			}
			g.subs = append(g.subs, sub)
			continue
		}

		if filter != nil {
			if _, visible := filter[sub.ID.String()]; !visible {
				continue
			}
		}
		g, ok := intervalBySource[sub.SourceID]
		if !ok {
			g = &group{sourceID: sub.SourceID, interval: resolved.Interval}
			intervalBySource[sub.SourceID] = g
		}
		g.subs = append(g.subs, sub)
	}

	for _, g := range intervalBySource {
		g.symbols = groupSymbols(g.subs)
		interval = append(interval, g)
	}
	for _, g := range streamBySource {
		g.symbols = groupSymbols(g.subs)
		stream = append(stream, g)
	}
	return interval, stream
}

// groupSymbols returns the sorted, deduplicated fetch symbols of a group.
func groupSymbols(subs []model.Subscription) []string {
	seen := make(map[string]struct{}, len(subs))
	symbols := make([]string, 0, len(subs))
	for _, sub := range subs {
		fs := sub.FetchSymbol()
		if _, ok := seen[fs]; ok {
			continue
		}
		seen[fs] = struct{}{}
		symbols = append(symbols, fs)
	}
	sort.Strings(symbols)
	return symbols
}

func indexGroup(byKey map[pricecache.Key][]model.Subscription, g *group) {
	for _, sub := range g.subs {
		key := pricecache.Key{SourceID: g.sourceID, Symbol: sub.FetchSymbol()}
		byKey[key] = append(byKey[key], sub)
	}
}

// publish installs the tracking maps for gen and prunes (or clears) the
// cache to match. The generation re-check and the cache mutation share one
// critical section, so a rebuild that lost the race after its last stale
// check can neither overwrite the winner's tracking state nor delete
// entries the winner cached.
func (e *Engine) publish(gen uint64, streamSrcs map[string]struct{}, subsByKey map[pricecache.Key][]model.Subscription, intervalGroups, streamGroups []*group, clearCache bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stale(gen) {
		return false
	}
	e.streamSrcs = streamSrcs
	e.subsByKey = subsByKey
	if clearCache {
		e.cache.Clear()
	} else {
		e.retain(intervalGroups, streamGroups)
	}
	return true
}

// retain drops cache bookkeeping for keys and sources no longer scheduled.
func (e *Engine) retain(intervalGroups, streamGroups []*group) {
	validKeys := make(map[pricecache.Key]struct{})
	activeSources := make(map[string]struct{})
	for _, set := range [][]*group{intervalGroups, streamGroups} {
		for _, g := range set {
			activeSources[g.sourceID] = struct{}{}
			for _, symbol := range g.symbols {
				validKeys[pricecache.Key{SourceID: g.sourceID, Symbol: symbol}] = struct{}{}
			}
		}
	}
	e.cache.Retain(validKeys, activeSources)
}

// stale reports whether gen has been superseded by a newer rebuild.
func (e *Engine) stale(gen uint64) bool {
	return e.generation.Load() != gen
}

// runIntervalGroup polls one source until its generation is torn down.
// Immediate first fetch, then a steady ticker. At most one fetch is in
// flight per group; ticks that fire while a fetch is still running are
// skipped, not queued.
func (e *Engine) runIntervalGroup(ctx context.Context, gen uint64, g *group) {
	defer e.wg.Done()

	e.fetchGroup(ctx, gen, g)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.stale(gen) {
				return
			}
			e.fetchGroup(ctx, gen, g)
			// Drop the tick that may have accumulated during a slow fetch.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// fetchGroup performs one batch fetch for a group and applies the result.
// A failure is fanned out as one error string per symbol key; the tick is
// recorded on success and failure alike.
func (e *Engine) fetchGroup(ctx context.Context, gen uint64, g *group) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	quotes, err := e.fetcher.FetchPrices(fetchCtx, g.sourceID, g.symbols)
	cancel()

	if e.stale(gen) || ctx.Err() != nil {
		return
	}

	e.cache.RecordTick(g.sourceID, time.Now().UnixMilli(), g.interval.Milliseconds())

	if err != nil {
		msg := err.Error()
		symbolErrs := make(map[string]string, len(g.symbols))
		for _, symbol := range g.symbols {
			symbolErrs[symbol] = msg
		}
		e.cache.ApplyFetchError(g.sourceID, symbolErrs)
		e.logger.Warn("batch fetch failed",
			"source", g.sourceID,
			"symbols", len(g.symbols),
			"error", err,
		)
		return
	}

	e.cache.ApplyFetchResults(g.sourceID, quotes)
	e.recordQuotes(g.sourceID, quotes)
}

// startStreamGroup seeds a stream group with one batch fetch and registers
// the push stream. A failed registration downgrades the group to interval
// polling until the next rebuild re-attempts streaming.
func (e *Engine) startStreamGroup(ctx context.Context, gen uint64, g *group) {
	defer e.wg.Done()

	e.fetchGroup(ctx, gen, g)

	if e.stale(gen) || ctx.Err() != nil {
		return
	}

	if err := e.streamer.EnsureStream(ctx, g.sourceID, g.symbols); err != nil {
		e.logger.Warn("stream registration failed, falling back to polling",
			"source", g.sourceID,
			"error", err,
		)
		if e.stale(gen) || ctx.Err() != nil {
			return
		}
		e.mu.Lock()
		delete(e.streamSrcs, g.sourceID)
		e.mu.Unlock()

		e.wg.Add(1)
		e.runFallback(ctx, gen, g)
	}
}

// runFallback polls a stream group whose registration failed. The seed
// fetch already ran, so this skips the immediate fetch.
func (e *Engine) runFallback(ctx context.Context, gen uint64, g *group) {
	defer e.wg.Done()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.stale(gen) {
				return
			}
			e.fetchGroup(ctx, gen, g)
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// consumeStream applies push updates for as long as their source still has
// a live stream group. Updates for untracked sources are dropped.
func (e *Engine) consumeStream() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case update, ok := <-e.streamer.Updates():
			if !ok {
				return
			}

			e.mu.Lock()
			_, tracked := e.streamSrcs[update.SourceID]
			e.mu.Unlock()
			if !tracked {
				e.logger.Debug("dropping update for untracked source",
					"source", update.SourceID,
					"symbol", update.Symbol,
				)
				continue
			}

			e.cache.ApplyStreamUpdate(update)
			e.recordQuotes(update.SourceID, []model.AssetQuote{update.Quote})
		}
	}
}

// recordQuotes forwards accepted quotes to the history recorder for every
// recording-enabled subscription addressed by each quote.
func (e *Engine) recordQuotes(sourceID string, quotes []model.AssetQuote) {
	if e.recorder == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, quote := range quotes {
		key := pricecache.Key{SourceID: sourceID, Symbol: quote.Symbol}
		for _, sub := range e.subsByKey[key] {
			if sub.RecordEnabled {
				e.recorder.Record(sub, quote)
			}
		}
	}
}

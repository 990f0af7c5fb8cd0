package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Wing9897/StockenBoard-sub000/internal/model"
)

// SettingsProvider supplies the per-source settings snapshot used for
// source-level recording windows.
type SettingsProvider interface {
	LoadSourceSettings(ctx context.Context) ([]model.SourceSettings, error)
}

// Config holds recorder configuration.
type Config struct {
	BatchSize     int           // Rows per insert batch (default: 200)
	FlushInterval time.Duration // Max time a row waits in the batch (default: 2s)
	BufferSize    int           // Inbound row buffer (default: 2000)
	DedupWindow   time.Duration // Min spacing between rows per subscription (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     200,
		FlushInterval: 2 * time.Second,
		BufferSize:    2000,
		DedupWindow:   5 * time.Second,
	}
}

// historyRow is one pending insert.
type historyRow struct {
	subscriptionID uuid.UUID
	sourceID       string
	price          float64
	changePct      *float64
	volume         *float64
	recordedAt     int64
}

// window is a resolved recording-hour window. nil means record all day.
type window struct {
	from int
	to   int
}

// Recorder batches price observations into Postgres.
type Recorder struct {
	cfg      Config
	db       *pgxpool.Pool
	settings SettingsProvider
	logger   *slog.Logger

	input chan historyRow

	mu            sync.Mutex
	batch         []historyRow
	lastWrite     map[uuid.UUID]time.Time
	sourceWindows map[string]window
	inserts       int64
	dropped       int64

	flushTicker *time.Ticker
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	now func() time.Time
}

// New creates a recorder. settings may be nil when only subscription-level
// windows are in use.
func New(cfg Config, db *pgxpool.Pool, settings SettingsProvider, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = def.DedupWindow
	}
	return &Recorder{
		cfg:           cfg,
		db:            db,
		settings:      settings,
		logger:        logger,
		input:         make(chan historyRow, cfg.BufferSize),
		batch:         make([]historyRow, 0, cfg.BatchSize),
		lastWrite:     make(map[uuid.UUID]time.Time),
		sourceWindows: make(map[string]window),
		now:           time.Now,
	}
}

// Start begins consuming rows and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.refreshSourceWindows(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("history recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the recorder and performs a final flush.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("history recorder stop timed out")
	}

	r.flush()
	r.logger.Info("history recorder stopped")
	return nil
}

// Record enqueues one observation if the subscription's recording window
// admits it and it is not a near-duplicate. Never blocks; rows are dropped
// with a warning when the buffer is full.
func (r *Recorder) Record(sub model.Subscription, quote model.AssetQuote) {
	now := r.now()

	if !r.shouldRecord(sub, now) {
		return
	}

	r.mu.Lock()
	if last, ok := r.lastWrite[sub.ID]; ok && now.Sub(last) < r.cfg.DedupWindow {
		r.mu.Unlock()
		return
	}
	r.lastWrite[sub.ID] = now
	r.mu.Unlock()

	row := transform(sub, quote, now)

	select {
	case r.input <- row:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.logger.Warn("history buffer full, dropping",
			"subscription", sub.ID,
			"symbol", sub.Symbol,
		)
	}
}

// shouldRecord applies the recording-hour window. The subscription's own
// window wins over the source-level one; with neither set, recording runs
// all day. Windows may wrap midnight (e.g. 22 to 6).
func (r *Recorder) shouldRecord(sub model.Subscription, now time.Time) bool {
	if sub.RecordFromHour != nil && sub.RecordToHour != nil {
		return inWindow(now.Hour(), *sub.RecordFromHour, *sub.RecordToHour)
	}

	r.mu.Lock()
	w, ok := r.sourceWindows[sub.SourceID]
	r.mu.Unlock()
	if ok {
		return inWindow(now.Hour(), w.from, w.to)
	}
	return true
}

// inWindow reports whether hour falls inside [from, to). from == to means
// the window is unbounded; from > to wraps midnight.
func inWindow(hour, from, to int) bool {
	switch {
	case from == to:
		return true
	case from < to:
		return hour >= from && hour < to
	default:
		return hour >= from || hour < to
	}
}

// transform converts an accepted quote into a pending row.
func transform(sub model.Subscription, quote model.AssetQuote, now time.Time) historyRow {
	recordedAt := quote.LastUpdated
	if recordedAt <= 0 {
		recordedAt = now.UnixMilli()
	}
	return historyRow{
		subscriptionID: sub.ID,
		sourceID:       quote.SourceID,
		price:          quote.Price,
		changePct:      quote.ChangePercent24h,
		volume:         quote.Volume,
		recordedAt:     recordedAt,
	}
}

// refreshSourceWindows reloads the source-level window map from settings.
func (r *Recorder) refreshSourceWindows(ctx context.Context) {
	if r.settings == nil {
		return
	}
	settings, err := r.settings.LoadSourceSettings(ctx)
	if err != nil {
		r.logger.Warn("load source settings for recording windows", "error", err)
		return
	}

	windows := make(map[string]window)
	for _, cfg := range settings {
		if cfg.RecordFromHour != nil && cfg.RecordToHour != nil {
			windows[cfg.SourceID] = window{from: *cfg.RecordFromHour, to: *cfg.RecordToHour}
		}
	}

	r.mu.Lock()
	r.sourceWindows = windows
	r.mu.Unlock()
}

// run accumulates rows and flushes on size or interval. Source windows are
// refreshed opportunistically on the flush tick.
func (r *Recorder) run() {
	defer r.wg.Done()

	refresh := time.NewTicker(time.Minute)
	defer refresh.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-refresh.C:
			r.refreshSourceWindows(r.ctx)
		case <-r.flushTicker.C:
			r.flush()
		case row := <-r.input:
			r.mu.Lock()
			r.batch = append(r.batch, row)
			shouldFlush := len(r.batch) >= r.cfg.BatchSize
			r.mu.Unlock()
			if shouldFlush {
				r.flush()
			}
		}
	}
}

// flush writes the current batch.
func (r *Recorder) flush() {
	r.mu.Lock()
	if len(r.batch) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.batch
	r.batch = make([]historyRow, 0, r.cfg.BatchSize)
	r.mu.Unlock()

	start := time.Now()
	if err := r.batchInsert(batch); err != nil {
		r.logger.Error("history batch insert failed", "error", err, "count", len(batch))
		return
	}

	r.mu.Lock()
	r.inserts += int64(len(batch))
	r.mu.Unlock()

	r.logger.Debug("flushed history",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (r *Recorder) batchInsert(rows []historyRow) error {
	if r.db == nil {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO price_history (subscription_id, source_id, price, change_pct, volume, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, row.subscriptionID, row.sourceID, row.price, row.changePct, row.volume, row.recordedAt)
	}

	ctx := r.ctx
	if ctx == nil || ctx.Err() != nil {
		// Final flush after Stop still needs a usable context.
		ctx = context.Background()
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

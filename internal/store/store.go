package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Wing9897/StockenBoard-sub000/internal/model"
)

// ErrNotFound is returned when a subscription id does not exist.
var ErrNotFound = errors.New("subscription not found")

// Store reads and writes the subscription registry.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a store over an existing pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Pool exposes the underlying pool for collaborators that batch their own
// writes, such as the history recorder.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// LoadSubscriptions returns all subscriptions ordered for display.
func (s *Store) LoadSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, display_name, kind, source_id,
		       pool_address, token_from, token_to,
		       record_enabled, record_from_hour, record_to_hour, sort_order
		FROM subscriptions
		ORDER BY sort_order, symbol`)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		var kind string
		if err := rows.Scan(
			&sub.ID, &sub.Symbol, &sub.DisplayName, &kind, &sub.SourceID,
			&sub.PoolAddress, &sub.TokenFrom, &sub.TokenTo,
			&sub.RecordEnabled, &sub.RecordFromHour, &sub.RecordToHour, &sub.SortOrder,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Kind = model.AssetKind(kind)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// LoadSourceSettings returns all persisted per-source settings.
func (s *Store) LoadSourceSettings(ctx context.Context) ([]model.SourceSettings, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_id, api_key, api_secret, api_url,
		       refresh_interval, connection_mode, record_from_hour, record_to_hour
		FROM source_settings`)
	if err != nil {
		return nil, fmt.Errorf("query source settings: %w", err)
	}
	defer rows.Close()

	var settings []model.SourceSettings
	for rows.Next() {
		var cfg model.SourceSettings
		var mode string
		if err := rows.Scan(
			&cfg.SourceID, &cfg.APIKey, &cfg.APISecret, &cfg.APIURL,
			&cfg.RefreshInterval, &mode, &cfg.RecordFromHour, &cfg.RecordToHour,
		); err != nil {
			return nil, fmt.Errorf("scan source settings: %w", err)
		}
		cfg.Mode = model.ConnectionMode(mode)
		settings = append(settings, cfg)
	}
	return settings, rows.Err()
}

// AddSubscription inserts a subscription, assigning an id when none is set.
func (s *Store) AddSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions
			(id, symbol, display_name, kind, source_id,
			 pool_address, token_from, token_to,
			 record_enabled, record_from_hour, record_to_hour, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sub.ID, sub.Symbol, sub.DisplayName, string(sub.Kind), sub.SourceID,
		sub.PoolAddress, sub.TokenFrom, sub.TokenTo,
		sub.RecordEnabled, sub.RecordFromHour, sub.RecordToHour, sub.SortOrder,
	)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	return sub, nil
}

// UpdateSubscription replaces an existing subscription row.
func (s *Store) UpdateSubscription(ctx context.Context, sub model.Subscription) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET
			symbol = $2, display_name = $3, kind = $4, source_id = $5,
			pool_address = $6, token_from = $7, token_to = $8,
			record_enabled = $9, record_from_hour = $10, record_to_hour = $11,
			sort_order = $12
		WHERE id = $1`,
		sub.ID, sub.Symbol, sub.DisplayName, string(sub.Kind), sub.SourceID,
		sub.PoolAddress, sub.TokenFrom, sub.TokenTo,
		sub.RecordEnabled, sub.RecordFromHour, sub.RecordToHour, sub.SortOrder,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSubscription removes a subscription and, via cascade, its history.
func (s *Store) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertSourceSettings inserts or replaces the settings row for a source.
func (s *Store) UpsertSourceSettings(ctx context.Context, cfg model.SourceSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO source_settings
			(source_id, api_key, api_secret, api_url,
			 refresh_interval, connection_mode, record_from_hour, record_to_hour)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			api_secret = EXCLUDED.api_secret,
			api_url = EXCLUDED.api_url,
			refresh_interval = EXCLUDED.refresh_interval,
			connection_mode = EXCLUDED.connection_mode,
			record_from_hour = EXCLUDED.record_from_hour,
			record_to_hour = EXCLUDED.record_to_hour`,
		cfg.SourceID, cfg.APIKey, cfg.APISecret, cfg.APIURL,
		cfg.RefreshInterval, string(cfg.Mode), cfg.RecordFromHour, cfg.RecordToHour,
	)
	if err != nil {
		return fmt.Errorf("upsert source settings: %w", err)
	}
	return nil
}

// HistoryPoint is one recorded price observation.
type HistoryPoint struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	SourceID       string    `json:"source_id"`
	Price          float64   `json:"price"`
	ChangePct      *float64  `json:"change_pct,omitempty"`
	Volume         *float64  `json:"volume,omitempty"`
	RecordedAt     int64     `json:"recorded_at"` // ms since epoch
}

// HistoryFilter narrows a history query. Zero values mean no constraint;
// Limit defaults to 1000.
type HistoryFilter struct {
	SubscriptionID uuid.UUID
	From           int64 // ms since epoch, inclusive
	To             int64 // ms since epoch, inclusive
	Limit          int
}

// QueryHistory returns recorded points, newest first.
func (s *Store) QueryHistory(ctx context.Context, filter HistoryFilter) ([]HistoryPoint, error) {
	query := `
		SELECT subscription_id, source_id, price, change_pct, volume, recorded_at
		FROM price_history
		WHERE 1=1`
	args := []any{}

	if filter.SubscriptionID != uuid.Nil {
		args = append(args, filter.SubscriptionID)
		query += fmt.Sprintf(" AND subscription_id = $%d", len(args))
	}
	if filter.From > 0 {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND recorded_at >= $%d", len(args))
	}
	if filter.To > 0 {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND recorded_at <= $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY recorded_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (HistoryPoint, error) {
		var p HistoryPoint
		err := row.Scan(&p.SubscriptionID, &p.SourceID, &p.Price, &p.ChangePct, &p.Volume, &p.RecordedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return points, nil
}

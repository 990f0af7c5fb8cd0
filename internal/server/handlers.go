package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Wing9897/StockenBoard-sub000/internal/model"
	"github.com/Wing9897/StockenBoard-sub000/internal/pricecache"
	"github.com/Wing9897/StockenBoard-sub000/internal/source"
	"github.com/Wing9897/StockenBoard-sub000/internal/store"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// priceEntry is the wire shape of one cache entry.
type priceEntry struct {
	Key   string            `json:"key"`
	Quote *model.AssetQuote `json:"quote,omitempty"`
	Error string            `json:"error,omitempty"`
}

// GET /api/prices
func (s *Server) handlePrices(c echo.Context) error {
	return successResponse(c, s.cache.SnapshotQuotes())
}

// GET /api/prices/:source/:symbol
func (s *Server) handlePrice(c echo.Context) error {
	key := pricecache.Key{
		SourceID: c.Param("source"),
		Symbol:   c.Param("symbol"),
	}

	entry := priceEntry{Key: key.String()}
	if quote, ok := s.cache.Quote(key); ok {
		entry.Quote = &quote
	}
	if msg, ok := s.cache.Error(key); ok {
		entry.Error = msg
	}
	if entry.Quote == nil && entry.Error == "" {
		return notFoundResponse(c, "no cached price for "+key.String())
	}
	return successResponse(c, entry)
}

// GET /api/ticks
func (s *Server) handleTicks(c echo.Context) error {
	return successResponse(c, s.cache.SnapshotTicks())
}

// GET /api/history?subscription_id=&from=&to=&limit=
func (s *Server) handleHistory(c echo.Context) error {
	var filter store.HistoryFilter

	if raw := c.QueryParam("subscription_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return badRequestResponse(c, "invalid subscription_id")
		}
		filter.SubscriptionID = id
	}
	var err error
	if filter.From, err = parseInt64Param(c, "from"); err != nil {
		return badRequestResponse(c, "invalid from")
	}
	if filter.To, err = parseInt64Param(c, "to"); err != nil {
		return badRequestResponse(c, "invalid to")
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return badRequestResponse(c, "invalid limit")
		}
		filter.Limit = limit
	}

	points, err := s.registry.QueryHistory(c.Request().Context(), filter)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "query history", err)
	}
	return successResponse(c, points)
}

func parseInt64Param(c echo.Context, name string) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// GET /api/sources
func (s *Server) handleSources(c echo.Context) error {
	return successResponse(c, source.All())
}

// sourceSettingsRequest is the write shape of per-source settings.
type sourceSettingsRequest struct {
	APIKey          string `json:"api_key"`
	APISecret       string `json:"api_secret"`
	APIURL          string `json:"api_url"`
	RefreshInterval *int64 `json:"refresh_interval"`
	Mode            string `json:"connection_mode"`
	RecordFromHour  *int   `json:"record_from_hour"`
	RecordToHour    *int   `json:"record_to_hour"`
}

// PUT /api/sources/:id/settings
func (s *Server) handleUpsertSourceSettings(c echo.Context) error {
	var req sourceSettingsRequest
	if err := c.Bind(&req); err != nil {
		return badRequestResponse(c, "invalid settings body")
	}

	switch model.ConnectionMode(req.Mode) {
	case "", model.ModeInterval, model.ModeStream:
	default:
		return badRequestResponse(c, "connection_mode must be interval, stream, or empty")
	}

	cfg := model.SourceSettings{
		SourceID:        c.Param("id"),
		APIKey:          req.APIKey,
		APISecret:       req.APISecret,
		APIURL:          req.APIURL,
		RefreshInterval: req.RefreshInterval,
		Mode:            model.ConnectionMode(req.Mode),
		RecordFromHour:  req.RecordFromHour,
		RecordToHour:    req.RecordToHour,
	}

	ctx := c.Request().Context()
	if err := s.registry.UpsertSourceSettings(ctx, cfg); err != nil {
		return errorResponse(c, http.StatusInternalServerError, "save source settings", err)
	}
	if err := s.engine.Reload(ctx); err != nil {
		return errorResponse(c, http.StatusInternalServerError, "reload engine", err)
	}
	return successResponse(c, cfg)
}

// GET /api/subscriptions
func (s *Server) handleListSubscriptions(c echo.Context) error {
	subs, err := s.registry.LoadSubscriptions(c.Request().Context())
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "load subscriptions", err)
	}
	return successResponse(c, subs)
}

// subscriptionRequest is the write shape of a subscription.
type subscriptionRequest struct {
	Symbol         string `json:"symbol"`
	DisplayName    string `json:"display_name"`
	Kind           string `json:"kind"`
	SourceID       string `json:"source_id"`
	PoolAddress    string `json:"pool_address"`
	TokenFrom      string `json:"token_from"`
	TokenTo        string `json:"token_to"`
	RecordEnabled  bool   `json:"record_enabled"`
	RecordFromHour *int   `json:"record_from_hour"`
	RecordToHour   *int   `json:"record_to_hour"`
	SortOrder      int    `json:"sort_order"`
}

func (req *subscriptionRequest) toModel() (model.Subscription, string) {
	if req.Symbol == "" {
		return model.Subscription{}, "symbol is required"
	}
	if req.SourceID == "" {
		return model.Subscription{}, "source_id is required"
	}

	kind := model.AssetKind(req.Kind)
	switch kind {
	case "":
		kind = model.KindCrypto
	case model.KindCrypto, model.KindStock, model.KindDex:
	default:
		return model.Subscription{}, "kind must be crypto, stock, or dex"
	}
	if kind == model.KindDex && (req.PoolAddress == "" || req.TokenFrom == "" || req.TokenTo == "") {
		return model.Subscription{}, "dex subscriptions need pool_address, token_from, and token_to"
	}

	return model.Subscription{
		Symbol:         req.Symbol,
		DisplayName:    req.DisplayName,
		Kind:           kind,
		SourceID:       req.SourceID,
		PoolAddress:    req.PoolAddress,
		TokenFrom:      req.TokenFrom,
		TokenTo:        req.TokenTo,
		RecordEnabled:  req.RecordEnabled,
		RecordFromHour: req.RecordFromHour,
		RecordToHour:   req.RecordToHour,
		SortOrder:      req.SortOrder,
	}, ""
}

// POST /api/subscriptions
func (s *Server) handleAddSubscription(c echo.Context) error {
	var req subscriptionRequest
	if err := c.Bind(&req); err != nil {
		return badRequestResponse(c, "invalid subscription body")
	}
	sub, problem := req.toModel()
	if problem != "" {
		return badRequestResponse(c, problem)
	}

	ctx := c.Request().Context()
	created, err := s.registry.AddSubscription(ctx, sub)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "add subscription", err)
	}
	if err := s.engine.Reload(ctx); err != nil {
		return errorResponse(c, http.StatusInternalServerError, "reload engine", err)
	}
	return createdResponse(c, created)
}

// PUT /api/subscriptions/:id
func (s *Server) handleUpdateSubscription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequestResponse(c, "invalid subscription id")
	}

	var req subscriptionRequest
	if err := c.Bind(&req); err != nil {
		return badRequestResponse(c, "invalid subscription body")
	}
	sub, problem := req.toModel()
	if problem != "" {
		return badRequestResponse(c, problem)
	}
	sub.ID = id

	ctx := c.Request().Context()
	if err := s.registry.UpdateSubscription(ctx, sub); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundResponse(c, "subscription not found")
		}
		return errorResponse(c, http.StatusInternalServerError, "update subscription", err)
	}
	if err := s.engine.Reload(ctx); err != nil {
		return errorResponse(c, http.StatusInternalServerError, "reload engine", err)
	}
	return successResponse(c, sub)
}

// DELETE /api/subscriptions/:id
func (s *Server) handleDeleteSubscription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequestResponse(c, "invalid subscription id")
	}

	ctx := c.Request().Context()
	if err := s.registry.DeleteSubscription(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundResponse(c, "subscription not found")
		}
		return errorResponse(c, http.StatusInternalServerError, "delete subscription", err)
	}
	if err := s.engine.Reload(ctx); err != nil {
		return errorResponse(c, http.StatusInternalServerError, "reload engine", err)
	}
	return successResponse(c, map[string]string{"deleted": id.String()})
}

// visibleRequest sets the on-screen subscription set for one scope.
type visibleRequest struct {
	Scope string   `json:"scope"`
	IDs   []string `json:"ids"`
}

// POST /api/visible
func (s *Server) handleVisible(c echo.Context) error {
	var req visibleRequest
	if err := c.Bind(&req); err != nil {
		return badRequestResponse(c, "invalid visible body")
	}
	if req.Scope == "" {
		req.Scope = "default"
	}

	if err := s.engine.SetVisible(c.Request().Context(), req.Scope, req.IDs); err != nil {
		return errorResponse(c, http.StatusInternalServerError, "set visible", err)
	}

	if s.reporter != nil {
		// Fire-and-forget; the backend notification must not block the API.
		go func(ids []string, scope string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.reporter.ReportVisible(ctx, ids, scope)
		}(req.IDs, req.Scope)
	}

	return successResponse(c, map[string]any{"scope": req.Scope, "count": len(req.IDs)})
}

// unattendedRequest toggles unattended polling.
type unattendedRequest struct {
	Unattended bool `json:"unattended"`
}

// POST /api/unattended
func (s *Server) handleUnattended(c echo.Context) error {
	var req unattendedRequest
	if err := c.Bind(&req); err != nil {
		return badRequestResponse(c, "invalid unattended body")
	}
	if err := s.engine.SetUnattended(c.Request().Context(), req.Unattended); err != nil {
		return errorResponse(c, http.StatusInternalServerError, "set unattended", err)
	}
	return successResponse(c, map[string]bool{"unattended": req.Unattended})
}

// POST /api/reload
func (s *Server) handleReload(c echo.Context) error {
	if err := s.engine.Reload(c.Request().Context()); err != nil {
		return errorResponse(c, http.StatusInternalServerError, "reload engine", err)
	}
	return successResponse(c, map[string]string{"status": "reloaded"})
}

package source

import (
	"time"

	"github.com/Wing9897/StockenBoard-sub000/internal/model"
)

// FallbackInterval is used when a source id is not in the metadata table.
const FallbackInterval = 30 * time.Second

// Resolved is the effective sync configuration for one source.
type Resolved struct {
	Mode     model.ConnectionMode
	Interval time.Duration // Meaningful for ModeInterval only
}

// Resolver derives per-source sync configuration from static metadata and a
// snapshot of persisted settings.
type Resolver struct {
	settings map[string]model.SourceSettings
}

// NewResolver builds a resolver over a settings snapshot. The snapshot is
// taken once per scheduler rebuild; the resolver itself never re-reads.
func NewResolver(settings []model.SourceSettings) *Resolver {
	m := make(map[string]model.SourceSettings, len(settings))
	for _, s := range settings {
		m[s.SourceID] = s
	}
	return &Resolver{settings: m}
}

// Resolve returns the connection mode and poll interval for a source.
//
// Precedence: explicit overrides from settings win; otherwise stream mode is
// preferred when the source supports it, and the interval defaults to the
// keyed tier when credentials are present. Unknown sources fall back to
// interval mode with a conservative period instead of failing.
func (r *Resolver) Resolve(sourceID string) Resolved {
	info, known := Lookup(sourceID)
	cfg, hasCfg := r.settings[sourceID]

	if !known {
		out := Resolved{Mode: model.ModeInterval, Interval: FallbackInterval}
		if hasCfg && cfg.RefreshInterval != nil && *cfg.RefreshInterval > 0 {
			out.Interval = time.Duration(*cfg.RefreshInterval) * time.Millisecond
		}
		return out
	}

	mode := model.ModeInterval
	if info.SupportsStream {
		mode = model.ModeStream
	}
	if hasCfg {
		switch cfg.Mode {
		case model.ModeInterval:
			mode = model.ModeInterval
		case model.ModeStream:
			// Honored only when the source actually streams.
			if info.SupportsStream {
				mode = model.ModeStream
			}
		}
	}

	intervalMs := info.FreeIntervalMs
	if hasCfg && cfg.APIKey != "" {
		intervalMs = info.KeyedIntervalMs
	}
	if hasCfg && cfg.RefreshInterval != nil && *cfg.RefreshInterval > 0 {
		intervalMs = *cfg.RefreshInterval
	}

	return Resolved{
		Mode:     mode,
		Interval: time.Duration(intervalMs) * time.Millisecond,
	}
}

// Settings returns the settings snapshot entry for a source, if present.
func (r *Resolver) Settings(sourceID string) (model.SourceSettings, bool) {
	s, ok := r.settings[sourceID]
	return s, ok
}

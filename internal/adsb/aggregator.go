package adsb

import (
	"context"

	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/pkg/logger"
)

// Aggregator merges the primary and secondary feeds into at most one report per aircraft
type Aggregator struct {
	primary   Adapter
	secondary Adapter // may be nil
	logger    *logger.Logger
}

// NewAggregator creates an aggregator. secondary may be nil to use the bulk feed only.
func NewAggregator(primary, secondary Adapter, log *logger.Logger) *Aggregator {
	return &Aggregator{
		primary:   primary,
		secondary: secondary,
		logger:    log.Named("aggregator"),
	}
}

// Sources lists the configured feed names in priority order
func (a *Aggregator) Sources() []string {
	out := []string{a.primary.Name()}
	if a.secondary != nil {
		out = append(out, a.secondary.Name())
	}
	return out
}

// Collect runs one polling round. Aircraft missing from the result were not observed.
func (a *Aggregator) Collect(ctx context.Context, hexes []string) map[string]fleet.Report {
	merged := make(map[string]fleet.Report, len(hexes))
	for hex, r := range a.primary.Poll(ctx, hexes) {
		merged[hex] = r
	}

	if a.secondary == nil || ctx.Err() != nil {
		return merged
	}

	var missing []string
	for _, h := range hexes {
		if _, ok := merged[NormalizeHex(h)]; !ok {
			missing = append(missing, NormalizeHex(h))
		}
	}
	if len(missing) == 0 {
		return merged
	}

	for hex, r := range a.secondary.Poll(ctx, missing) {
		if _, ok := merged[hex]; !ok {
			merged[hex] = r
		}
	}

	a.logger.Debug("Collected reports",
		logger.Int("tracked", len(hexes)),
		logger.Int("observed", len(merged)),
		logger.Int("fallback_queried", len(missing)))
	return merged
}

package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aformulationoftruth/questionnaire/internal/metrics"
	"github.com/robfig/cron/v3"
)

// Orphaned gate responses belong to visitors who answered the gate but
// never clicked their magic link; give the link a full day before the
// response is swept.
const gateResponseGrace = 24 * time.Hour

// Store is the subset of the session store the pruner needs.
type Store interface {
	DeleteExpiredMagicLinkTokens(ctx context.Context, before time.Time) (int64, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
	DeleteOrphanGateResponses(ctx context.Context, before time.Time) (int64, error)
}

// Pruner removes expired magic-link tokens, expired incomplete sessions,
// and orphaned gate responses on a cron schedule. It runs as its own
// binary; the HTTP server never prunes.
type Pruner struct {
	store    Store
	schedule cron.Schedule
	logger   *slog.Logger
	now      func() time.Time
}

func NewPruner(store Store, scheduleExpr string, logger *slog.Logger) (*Pruner, error) {
	schedule, err := cron.ParseStandard(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("parse prune schedule %q: %w", scheduleExpr, err)
	}
	return &Pruner{
		store:    store,
		schedule: schedule,
		logger:   logger.With("component", "pruner"),
		now:      time.Now,
	}, nil
}

// Run sweeps at each schedule activation until ctx is canceled.
func (p *Pruner) Run(ctx context.Context) error {
	for {
		next := p.schedule.Next(p.now())
		p.logger.InfoContext(ctx, "next sweep scheduled", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := p.Sweep(ctx); err != nil {
			p.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
	}
}

// Sweep runs one pass over all three tables. Counts go to the log and the
// Prometheus registry.
func (p *Pruner) Sweep(ctx context.Context) error {
	start := p.now()
	defer func() {
		metrics.PrunerSweepDuration.Observe(time.Since(start).Seconds())
	}()

	now := p.now()
	sweeps := []struct {
		table  string
		before time.Time
		fn     func(context.Context, time.Time) (int64, error)
	}{
		{"magic_link_tokens", now, p.store.DeleteExpiredMagicLinkTokens},
		{"questionnaire_sessions", now, p.store.DeleteExpiredSessions},
		{"gate_responses", now.Add(-gateResponseGrace), p.store.DeleteOrphanGateResponses},
	}

	var firstErr error
	for _, s := range sweeps {
		n, err := s.fn(ctx, s.before)
		if err != nil {
			p.logger.ErrorContext(ctx, "prune table", "table", s.table, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("prune %s: %w", s.table, err)
			}
			continue
		}
		metrics.PrunedRowsTotal.WithLabelValues(s.table).Add(float64(n))
		if n > 0 {
			p.logger.InfoContext(ctx, "pruned rows", "table", s.table, "rows", n)
		}
	}
	return firstErr
}

package maintenance_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aformulationoftruth/questionnaire/internal/maintenance"
)

type fakeStore struct {
	tokens   func(ctx context.Context, before time.Time) (int64, error)
	sessions func(ctx context.Context, before time.Time) (int64, error)
	gates    func(ctx context.Context, before time.Time) (int64, error)
}

func (f *fakeStore) DeleteExpiredMagicLinkTokens(ctx context.Context, before time.Time) (int64, error) {
	return f.tokens(ctx, before)
}

func (f *fakeStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	return f.sessions(ctx, before)
}

func (f *fakeStore) DeleteOrphanGateResponses(ctx context.Context, before time.Time) (int64, error) {
	return f.gates(ctx, before)
}

func count(n int64, calls *int) func(context.Context, time.Time) (int64, error) {
	return func(context.Context, time.Time) (int64, error) {
		*calls++
		return n, nil
	}
}

func TestSweep_HitsAllThreeTables(t *testing.T) {
	var tokenCalls, sessionCalls, gateCalls int
	store := &fakeStore{
		tokens:   count(3, &tokenCalls),
		sessions: count(1, &sessionCalls),
		gates:    count(0, &gateCalls),
	}
	p, err := maintenance.NewPruner(store, "*/30 * * * *", slog.Default())
	if err != nil {
		t.Fatalf("new pruner: %v", err)
	}

	if err := p.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if tokenCalls != 1 || sessionCalls != 1 || gateCalls != 1 {
		t.Errorf("calls tokens=%d sessions=%d gates=%d, want one each", tokenCalls, sessionCalls, gateCalls)
	}
}

func TestSweep_GateCutoffLagsBehindNow(t *testing.T) {
	var gateBefore time.Time
	store := &fakeStore{
		tokens:   func(context.Context, time.Time) (int64, error) { return 0, nil },
		sessions: func(context.Context, time.Time) (int64, error) { return 0, nil },
		gates: func(_ context.Context, before time.Time) (int64, error) {
			gateBefore = before
			return 0, nil
		},
	}
	p, _ := maintenance.NewPruner(store, "@hourly", slog.Default())

	if err := p.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	lag := time.Until(gateBefore)
	if lag > -23*time.Hour {
		t.Errorf("gate cutoff only %v in the past, want about a day", -lag)
	}
}

func TestSweep_ErrorInOneTableDoesNotSkipOthers(t *testing.T) {
	var sessionCalls, gateCalls int
	store := &fakeStore{
		tokens: func(context.Context, time.Time) (int64, error) {
			return 0, errors.New("db down")
		},
		sessions: count(0, &sessionCalls),
		gates:    count(0, &gateCalls),
	}
	p, _ := maintenance.NewPruner(store, "@hourly", slog.Default())

	if err := p.Sweep(context.Background()); err == nil {
		t.Error("expected sweep error")
	}
	if sessionCalls != 1 || gateCalls != 1 {
		t.Errorf("later tables skipped: sessions=%d gates=%d", sessionCalls, gateCalls)
	}
}

func TestNewPruner_RejectsBadSchedule(t *testing.T) {
	if _, err := maintenance.NewPruner(&fakeStore{}, "not a schedule", slog.Default()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := &fakeStore{
		tokens:   func(context.Context, time.Time) (int64, error) { return 0, nil },
		sessions: func(context.Context, time.Time) (int64, error) { return 0, nil },
		gates:    func(context.Context, time.Time) (int64, error) { return 0, nil },
	}
	p, _ := maintenance.NewPruner(store, "@hourly", slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Error("run did not stop after cancel")
	}
}

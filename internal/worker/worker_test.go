package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/faturas-core/internal/worker"

	"go.uber.org/zap"
)

func TestRunOnce_FansOutOverTenants(t *testing.T) {
	w := worker.New(worker.StaticTenants("acme", "globex", "initech"), 2, zap.NewNop())

	var mu sync.Mutex
	seen := map[string]bool{}
	w.Add(worker.Task{
		Name:      "sweep",
		PerTenant: true,
		Run: func(_ context.Context, tenantID string, _ time.Time) error {
			mu.Lock()
			seen[tenantID] = true
			mu.Unlock()
			return nil
		},
	})

	if err := w.RunOnce(context.Background(), "sweep"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 tenants, got %v", seen)
	}
}

func TestRunOnce_TenantFailureIsolated(t *testing.T) {
	w := worker.New(worker.StaticTenants("acme", "globex"), 2, zap.NewNop())

	var ran atomic.Int32
	w.Add(worker.Task{
		Name:      "audit",
		PerTenant: true,
		Run: func(_ context.Context, tenantID string, _ time.Time) error {
			ran.Add(1)
			if tenantID == "acme" {
				return errors.New("boom")
			}
			return nil
		},
	})

	err := w.RunOnce(context.Background(), "audit")
	if err == nil || !strings.Contains(err.Error(), "tenant acme") {
		t.Fatalf("expected the acme failure, got %v", err)
	}
	if ran.Load() != 2 {
		t.Errorf("expected both tenants to run, got %d", ran.Load())
	}
}

func TestRunOnce_BoundsConcurrency(t *testing.T) {
	w := worker.New(worker.StaticTenants("a", "b", "c", "d", "e", "f"), 2, zap.NewNop())

	var active, peak atomic.Int32
	w.Add(worker.Task{
		Name:      "generate",
		PerTenant: true,
		Run: func(context.Context, string, time.Time) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			return nil
		},
	})

	if err := w.RunOnce(context.Background(), "generate"); err != nil {
		t.Fatal(err)
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent tenants, got %d", peak.Load())
	}
}

func TestRunOnce_GlobalTask(t *testing.T) {
	w := worker.New(func(context.Context) ([]string, error) {
		return nil, errors.New("tenant source should not be consulted")
	}, 1, zap.NewNop())

	var got []string
	w.Add(worker.Task{
		Name: "relay",
		Run: func(_ context.Context, tenantID string, _ time.Time) error {
			got = append(got, tenantID)
			return nil
		},
	})

	if err := w.RunOnce(context.Background(), "relay"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "" {
		t.Errorf("expected a single global run, got %v", got)
	}
}

func TestRunOnce_UnknownTask(t *testing.T) {
	w := worker.New(worker.StaticTenants(), 1, zap.NewNop())
	if err := w.RunOnce(context.Background(), "nope"); err == nil {
		t.Error("expected an error for an unknown task")
	}
}

func TestRunOnce_TenantSourceError(t *testing.T) {
	w := worker.New(func(context.Context) ([]string, error) {
		return nil, errors.New("db down")
	}, 1, zap.NewNop())
	w.Add(worker.Task{Name: "sweep", PerTenant: true, Run: func(context.Context, string, time.Time) error { return nil }})

	if err := w.RunOnce(context.Background(), "sweep"); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("expected the tenant source error, got %v", err)
	}
}

func TestStart_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	w := worker.New(worker.StaticTenants("acme"), 1, zap.NewNop())

	ran := make(chan struct{}, 16)
	w.Add(worker.Task{
		Name:     "relay",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context, string, time.Time) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	})
	w.Add(worker.Task{Name: "manual", Run: func(context.Context, string, time.Time) error {
		t.Error("unscheduled task must not run")
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("task did not run")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected a clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

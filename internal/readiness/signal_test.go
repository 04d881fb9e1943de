package readiness

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"
)

func TestFireOnce(t *testing.T) {
	s := New(0)
	var calls atomic.Int32
	s.On("insights", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	if !s.Fire(context.Background()) {
		t.Fatal("first Fire should report true")
	}
	if s.Fire(context.Background()) {
		t.Error("second Fire should report false")
	}
	s.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected listener called once, got %d", calls.Load())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done should be closed after Fire")
	}
	if s.FiredAt().IsZero() {
		t.Error("expected FiredAt to be set")
	}
}

func TestLateListenerNotInvoked(t *testing.T) {
	s := New(0)
	s.Fire(context.Background())

	called := false
	if s.On("late", func(ctx context.Context) error {
		called = true
		return nil
	}) {
		t.Error("On after Fire should report false")
	}
	s.Wait()
	if called {
		t.Error("listener attached after Fire must not run")
	}
}

func TestFiresWithNoListeners(t *testing.T) {
	s := New(2)
	if !s.Fire(context.Background()) {
		t.Fatal("expected Fire to succeed with no listeners")
	}
	if res := s.Wait(); len(res) != 0 {
		t.Errorf("expected no results, got %v", res)
	}
}

func TestListenerFaultIsolation(t *testing.T) {
	s := New(1)
	var ok atomic.Int32
	s.On("broken", func(ctx context.Context) error { return errors.New("fetch failed") })
	s.On("panics", func(ctx context.Context) error { panic("nil map") })
	s.On("fine", func(ctx context.Context) error {
		ok.Add(1)
		return nil
	})

	s.Fire(context.Background())
	res := s.Wait()

	if ok.Load() != 1 {
		t.Error("healthy listener should still run")
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res))
	}
	failed := 0
	for _, r := range res {
		if r.Error != "" {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("expected 2 failed listeners, got %d", failed)
	}
}

func TestSignalProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		before := rapid.IntRange(0, 20).Draw(t, "before")
		after := rapid.IntRange(0, 5).Draw(t, "after")
		fires := rapid.IntRange(1, 4).Draw(t, "fires")
		limit := rapid.IntRange(0, 4).Draw(t, "limit")

		s := New(limit)
		counts := make([]atomic.Int32, before+after)
		for i := 0; i < before; i++ {
			i := i
			if !s.On("l", func(ctx context.Context) error {
				counts[i].Add(1)
				return nil
			}) {
				t.Fatalf("listener %d refused before fire", i)
			}
		}

		fired := 0
		for i := 0; i < fires; i++ {
			if s.Fire(context.Background()) {
				fired++
			}
		}
		for i := before; i < before+after; i++ {
			i := i
			s.On("late", func(ctx context.Context) error {
				counts[i].Add(1)
				return nil
			})
		}
		s.Wait()

		if fired != 1 {
			t.Fatalf("signal fired %d times", fired)
		}
		for i := range counts {
			want := int32(0)
			if i < before {
				want = 1
			}
			if got := counts[i].Load(); got != want {
				t.Fatalf("listener %d ran %d times, want %d", i, got, want)
			}
		}
	})
}

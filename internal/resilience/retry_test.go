package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	p := BackoffPolicy(attempts)
	p.Base = time.Millisecond
	p.Max = time.Millisecond
	p.Jitter = 0
	return p
}

func TestDoVal_FirstTry(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		return "Acme", nil
	})
	if err != nil || v != "Acme" {
		t.Fatalf("got %q, %v", v, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_RetriesTransient(t *testing.T) {
	calls := 0
	var logged []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, _ error) { logged = append(logged, attempt) }

	v, err := DoVal(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, Transient(errors.New("503"), 503)
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
	if len(logged) != 2 || logged[0] != 1 || logged[1] != 2 {
		t.Errorf("unexpected retry log %v", logged)
	}
}

func TestDoVal_PermanentErrorStops(t *testing.T) {
	calls := 0
	perm := errors.New("404")
	_, err := DoVal(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		return 0, Transient(errors.New("reset"), 0)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoVal_ContextCancelledStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := fastPolicy(5)
	p.Base, p.Max = time.Hour, time.Hour

	_, err := DoVal(ctx, p, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, Transient(errors.New("reset"), 0)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call after cancel, got %d", calls)
	}
}

func TestPolitePolicy_RetriesAnyError(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), PolitePolicy(2, time.Millisecond), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("no results rendered")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestPolicy_Normalized(t *testing.T) {
	p := Policy{}.normalized()
	if p.Attempts != 1 || p.Base != 500*time.Millisecond || p.Max != p.Base || p.Factor != 1 {
		t.Errorf("unexpected defaults %+v", p)
	}
	if p.Retryable == nil {
		t.Error("expected default Retryable")
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Max: time.Second, Factor: 2}.normalized()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := p.delay(i); got != w {
			t.Errorf("delay(%d) = %s, want %s", i, got, w)
		}
	}

	p.Jitter = 0.5
	for i := 0; i < 50; i++ {
		if d := p.delay(0); d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %s out of range", d)
		}
	}
}

func TestPause(t *testing.T) {
	if err := Pause(context.Background(), 0); err != nil {
		t.Errorf("zero pause: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Pause(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	start := time.Now()
	if err := Pause(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("pause returned early")
	}
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dealwatch/harvester/config"
)

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 3 * time.Second,
		MaxDelay:     time.Minute,
		Factor:       1.5,
	})

	if p.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", p.MaxAttempts)
	}
	if p.InitialDelay != 3*time.Second {
		t.Errorf("InitialDelay = %v, want 3s", p.InitialDelay)
	}
	if p.MaxDelay != time.Minute {
		t.Errorf("MaxDelay = %v, want 1m", p.MaxDelay)
	}
	if p.Factor != 1.5 {
		t.Errorf("Factor = %v, want 1.5", p.Factor)
	}
}

func TestDoValueFailsTwiceThenSucceeds(t *testing.T) {
	p := Policy{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     time.Second,
		Factor:       2.0,
	}

	calls := 0
	type retryEvent struct {
		attempt int
		delay   time.Duration
	}
	var events []retryEvent

	got, err := DoValue(context.Background(), p,
		func(attempt int, delay time.Duration, _ error, _ Class) {
			events = append(events, retryEvent{attempt, delay})
		},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})

	if err != nil {
		t.Fatalf("DoValue: %v", err)
	}
	if got != "ok" {
		t.Fatalf("result = %q, want ok", got)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}

	if len(events) != 2 {
		t.Fatalf("retry callbacks = %d, want 2", len(events))
	}
	if events[0].attempt != 2 || events[0].delay != 5*time.Millisecond {
		t.Errorf("first retry = %+v, want attempt 2 / 5ms", events[0])
	}
	if events[1].attempt != 3 || events[1].delay != 10*time.Millisecond {
		t.Errorf("second retry = %+v, want attempt 3 / 10ms (geometric)", events[1])
	}
}

func TestDoValueExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Second, Factor: 2}

	wantErr := errors.New("always")
	calls := 0
	_, err := DoValue(context.Background(), p, nil, func(context.Context) (int, error) {
		calls++
		return 0, wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestPermanentStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Second, Factor: 2}

	wantErr := errors.New("no session stored")
	calls := 0
	_, err := DoValue(context.Background(), p, nil, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(wantErr)
	})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	// The wrapper is stripped before returning.
	if !errors.Is(err, wantErr) || err.Error() != wantErr.Error() {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestDoCanceledContextStopsRetrying(t *testing.T) {
	p := Policy{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Factor: 2}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, p, nil, func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (context expiry is terminal)", calls)
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	p := Policy{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: 5 * time.Second, Factor: 3}

	if d := p.Delay(2); d != time.Second {
		t.Errorf("Delay(2) = %v, want 1s", d)
	}
	if d := p.Delay(3); d != 3*time.Second {
		t.Errorf("Delay(3) = %v, want 3s", d)
	}
	if d := p.Delay(4); d != 5*time.Second {
		t.Errorf("Delay(4) = %v, want 5s (capped)", d)
	}
	if d := p.Delay(9); d != 5*time.Second {
		t.Errorf("Delay(9) = %v, want 5s (capped)", d)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{errors.New("rod: browser has been closed"), ClassBrowserCrash},
		{errors.New("Target closed"), ClassBrowserCrash},
		{errors.New("websocket: close 1006 (abnormal closure)"), ClassBrowserCrash},
		{errors.New("element not found"), ClassContent},
		{errors.New("navigation timeout"), ClassContent},
		{nil, ClassContent},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var errBoom = errors.New("boom")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return New(Config{
		Name:        "test",
		MaxFailures: maxFailures,
		Cooldown:    cooldown,
		MaxProbes:   1,
	}, testLogger())
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Execute returned %v, want errBoom", err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("State = %s, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Execute returned %v, want ErrOpen", err)
	}
	if called {
		t.Error("Wrapped call ran while the breaker was open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })

	if cb.State() != StateClosed {
		t.Errorf("State = %s, want closed after interleaved success", cb.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)

	cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Fatalf("State = %s, want open", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	// First request after the cooldown goes through as a probe and closes
	// the breaker on success.
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State = %s, want closed after successful probe", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)

	cb.Execute(func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("Probe returned %v, want errBoom", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("State = %s, want open after failed probe", cb.State())
	}
}

func TestBreakerHalfOpenProbeBudget(t *testing.T) {
	cb := New(Config{
		Name:        "test",
		MaxFailures: 1,
		Cooldown:    20 * time.Millisecond,
		MaxProbes:   1,
	}, testLogger())

	cb.Execute(func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			<-release
			return nil
		})
	}()

	// Give the probe time to enter the breaker, then a second request
	// must be rejected while it is in flight.
	time.Sleep(10 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("Second half-open request returned %v, want ErrOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("Probe failed: %v", err)
	}
}

func TestBreakerReset(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)

	cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Fatalf("State = %s, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("State = %s, want closed after reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute after reset failed: %v", err)
	}
}

func TestBreakerConcurrentAccess(t *testing.T) {
	cb := newTestBreaker(50, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cb.Execute(func() error {
					if (n+j)%7 == 0 {
						return errBoom
					}
					return nil
				})
				cb.State()
				cb.Metrics()
			}
		}(i)
	}
	wg.Wait()

	metrics := cb.Metrics()
	requests := metrics["total_requests"].(int64)
	rejected := metrics["total_rejected"].(int64)
	if requests+rejected != 1000 {
		t.Errorf("requests+rejected = %d, want 1000", requests+rejected)
	}
}

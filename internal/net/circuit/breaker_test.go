package circuit

import (
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig("test-feed")
	cfg.ConsecutiveFailures = 3
	cfg.Timeout = time.Hour // keep the breaker open for the whole test
	return cfg
}

func TestTripsOnConsecutiveFailures(t *testing.T) {
	b := New(testConfig())
	boom := errors.New("feed down")

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: error = %v, want %v", i, err, boom)
		}
	}

	if !b.Open() {
		t.Fatal("breaker still closed after three consecutive failures")
	}
	err := b.Do(func() error {
		t.Fatal("call executed through an open breaker")
		return nil
	})
	if !Unavailable(err) {
		t.Fatalf("open breaker error = %v, want unavailable", err)
	}
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	b := New(testConfig())
	boom := errors.New("feed down")

	b.Do(func() error { return boom })
	b.Do(func() error { return boom })
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("recovery call error = %v", err)
	}
	b.Do(func() error { return boom })
	b.Do(func() error { return boom })

	if b.Open() {
		t.Fatal("breaker tripped without three consecutive failures")
	}
}

func TestExecuteReturnsResult(t *testing.T) {
	b := New(testConfig())

	got, err := b.Execute(func() (interface{}, error) { return 42, nil })
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.(int) != 42 {
		t.Fatalf("Execute() = %v, want 42", got)
	}
}

func TestStatus(t *testing.T) {
	b := New(testConfig())
	boom := errors.New("feed down")

	b.Do(func() error { return nil })
	b.Do(func() error { return boom })

	s := b.Status()
	if s.Name != "test-feed" {
		t.Errorf("status name = %q, want test-feed", s.Name)
	}
	if s.State != "closed" {
		t.Errorf("status state = %q, want closed", s.State)
	}
	if s.Requests != 2 || s.TotalFailures != 1 {
		t.Errorf("status counts = %d/%d, want 2 requests 1 failure", s.Requests, s.TotalFailures)
	}
	if s.ErrorRatePct != 50 {
		t.Errorf("error rate = %v, want 50", s.ErrorRatePct)
	}
}

func TestUnavailable(t *testing.T) {
	if Unavailable(errors.New("feed down")) {
		t.Error("ordinary errors must not read as breaker unavailability")
	}
	if Unavailable(nil) {
		t.Error("nil must not read as breaker unavailability")
	}
}

package lifecycle

import (
	"testing"
	"time"
)

func TestManagerWaitsForServices(t *testing.T) {
	m := NewManager(nil)

	stopped := make(chan struct{})
	if err := m.Go("worker", func(h *Handle) {
		<-h.Done()
		close(stopped)
	}); err != nil {
		t.Fatalf("go: %v", err)
	}

	if err := m.Go("worker", func(*Handle) {}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	m.Shutdown()
	if remaining := m.WaitWithTimeout(time.Second); len(remaining) != 0 {
		t.Fatalf("expected all services to stop, remaining %v", remaining)
	}
	select {
	case <-stopped:
	default:
		t.Fatal("worker did not observe shutdown")
	}
}

func TestManagerReportsStragglers(t *testing.T) {
	m := NewManager(nil)
	h, err := m.NewServiceHandle("stuck")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	m.Shutdown()
	remaining := m.WaitWithTimeout(20 * time.Millisecond)
	if len(remaining) != 1 || remaining[0] != "stuck" {
		t.Fatalf("expected [stuck], got %v", remaining)
	}
}

func TestHandleSleepInterrupted(t *testing.T) {
	m := NewManager(nil)
	h, _ := m.NewServiceHandle("sleeper")
	defer h.Close()

	m.Shutdown()
	if err := h.Sleep(time.Minute); err == nil {
		t.Fatal("expected sleep to be interrupted")
	}
}

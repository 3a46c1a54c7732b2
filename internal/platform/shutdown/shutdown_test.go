package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SlpAus/agm-voting-backend/internal/testutil"
	"github.com/SlpAus/agm-voting-backend/pkg/lifecycle"
)

func TestRunStopsServicesAndFinalizes(t *testing.T) {
	graceful := lifecycle.NewManager(testutil.Logger())
	forceful := lifecycle.NewManager(testutil.Logger())

	var stopped atomic.Bool
	graceful.Go("ticker", func(h *lifecycle.Handle) {
		h.Tick(10*time.Millisecond, func() {})
		stopped.Store(true)
	})

	c := NewCoordinator(graceful, forceful, testutil.Logger())
	var finalized atomic.Int32
	c.Finalizers = append(c.Finalizers, func() error {
		if !stopped.Load() {
			t.Error("finalizer ran before services stopped")
		}
		finalized.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, nil)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	if finalized.Load() != 1 {
		t.Fatalf("expected finalizer to run once, got %d", finalized.Load())
	}
}

func TestRunEscalatesToForceful(t *testing.T) {
	graceful := lifecycle.NewManager(testutil.Logger())
	forceful := lifecycle.NewManager(testutil.Logger())

	// 只响应强制信号的服务
	h, err := graceful.NewServiceHandle("stubborn")
	if err != nil {
		t.Fatal(err)
	}
	var forced atomic.Bool
	forceful.Go("stubborn", func(fh *lifecycle.Handle) {
		<-fh.Done()
		forced.Store(true)
		h.Close()
	})

	c := NewCoordinator(graceful, forceful, testutil.Logger())
	c.GracefulTimeout = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Run(ctx, nil)

	if !forced.Load() {
		t.Fatal("expected forceful shutdown signal")
	}
}

package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoReturnsResult(t *testing.T) {
	p := New(2, nil)
	p.Start()
	defer p.Stop()

	got, err := Do(context.Background(), p, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Do() = %q, %v", got, err)
	}

	wantErr := errors.New("boom")
	_, err = Do(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestDoBoundsConcurrency(t *testing.T) {
	const size = 3
	p := New(size, nil)
	p.Start()
	defer p.Stop()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Do(context.Background(), p, func(ctx context.Context) (struct{}, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() > size {
		t.Fatalf("expected at most %d concurrent jobs, saw %d", size, peak.Load())
	}
}

func TestDoRecoversPanic(t *testing.T) {
	p := New(1, nil)
	p.Start()
	defer p.Stop()

	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		panic("kaboom")
	})
	var pErr *PanicError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected *PanicError, got %T: %v", err, err)
	}
	if pErr.Value != "kaboom" {
		t.Errorf("unexpected panic value %v", pErr.Value)
	}

	// The worker survives the panic.
	got, err := Do(context.Background(), p, func(ctx context.Context) (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Fatalf("Do() after panic = %d, %v", got, err)
	}
}

func TestDoContextCancelledWhileWaiting(t *testing.T) {
	p := New(1, nil)
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	go Do(context.Background(), p, func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	})
	defer close(release)

	// Give the blocking job time to occupy the only worker.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := Do(ctx, p, func(ctx context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDoLifecycleErrors(t *testing.T) {
	p := New(1, nil)
	if _, err := Do(context.Background(), p, func(ctx context.Context) (int, error) { return 1, nil }); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	p.Start()
	p.Stop()
	p.Stop()
	if _, err := Do(context.Background(), p, func(ctx context.Context) (int, error) { return 1, nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestNewDefaultsSize(t *testing.T) {
	if got := New(0, nil).Size(); got != DefaultSize {
		t.Fatalf("expected %d workers, got %d", DefaultSize, got)
	}
}

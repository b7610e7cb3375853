package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startServer(t *testing.T, handler Handler) string {
	t.Helper()
	// Unix socket paths are length-limited; keep it short.
	dir, err := os.MkdirTemp("", "ipc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "s.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, path, handler, nil) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	})

	for i := 0; i < 100; i++ {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("socket never appeared")
	return ""
}

func TestSendReceivesData(t *testing.T) {
	path := startServer(t, func(ctx context.Context, req Request) (any, error) {
		if req.Cmd != "status" {
			return nil, errors.New("unknown command " + req.Cmd)
		}
		return map[string]int{"workers": 4}, nil
	})

	var out map[string]int
	if err := Send(path, "status", &out); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if out["workers"] != 4 {
		t.Errorf("unexpected data %v", out)
	}

	err := Send(path, "reboot", nil)
	if err == nil || err.Error() != "unknown command reboot" {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestSendNoDaemon(t *testing.T) {
	if err := Send(filepath.Join(t.TempDir(), "absent.sock"), "status", nil); err == nil {
		t.Fatal("expected dial error")
	}
}

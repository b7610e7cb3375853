// Package ipc is the local control socket used by voxbot-ctl.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

const DefaultSocketPath = "/tmp/voxbot.sock"

type Request struct {
	Cmd string `json:"cmd"`
}

type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler answers one control request.
type Handler func(ctx context.Context, req Request) (any, error)

// Serve listens on path until ctx is done. A stale socket file is replaced.
func Serve(ctx context.Context, path string, handler Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ipc")

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer os.Remove(path)

	logger.Debug("Control socket ready", "path", path)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("Accept failed", "err", err)
			continue
		}
		go handleConn(ctx, conn, handler, logger)
	}
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler, logger *slog.Logger) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		logger.Debug("Bad control request", "err", err)
		return
	}

	resp := Response{OK: true}
	data, err := handler(ctx, req)
	if err == nil && data != nil {
		resp.Data, err = json.Marshal(data)
	}
	if err != nil {
		resp = Response{Error: err.Error()}
	}
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		logger.Debug("Failed to write control response", "err", err)
	}
}

// Send issues cmd to the daemon at path and decodes the reply data into out
// (which may be nil).
func Send(path, cmd string, out any) error {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if err := json.NewEncoder(conn).Encode(Request{Cmd: cmd}); err != nil {
		return err
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	if out != nil && len(resp.Data) > 0 {
		return json.Unmarshal(resp.Data, out)
	}
	return nil
}

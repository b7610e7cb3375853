// Package proxy builds the HTTP clients shared by the Telegram and inference
// clients, optionally dialing through a SOCKS5 proxy.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// NewHTTPClient returns a client that dials through socksAddr, or directly
// when socksAddr is empty. A zero timeout means no client-level timeout.
func NewHTTPClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if socksAddr != "" {
		dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 %s: %w", socksAddr, err)
		}
		transport.Proxy = nil
		transport.DialContext = dialContext(dialer)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

func dialContext(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}

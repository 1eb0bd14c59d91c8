// Package httpclient builds the shared outbound HTTP clients.
package httpclient

import (
	"net"
	"net/http"

	"github.com/ridewise-ai/ridewise/internal/config"
)

// New constructs a pooled client from the http_clients configuration.
// Remote clients share one of these per endpoint; the transport bounds
// per-host concurrency and keeps connections alive across requests.
func New(cfg config.HTTPClientsConfig) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxConnsPerHost:     cfg.MaxConnsPerEndpoint,
		MaxIdleConnsPerHost: cfg.MaxConnsPerEndpoint,
		IdleConnTimeout:     cfg.PooledLifetime,
		ForceAttemptHTTP2:   cfg.EnableHTTP2,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
	}
}

// Package httpx builds HTTP clients for talking to devices on the local network.
package httpx

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultClientTimeout         = 5 * time.Second
	defaultDialTimeout           = 3 * time.Second
	defaultResponseHeaderTimeout = 5 * time.Second
	defaultIdleConnTimeout       = 30 * time.Second
	defaultMaxIdleConns          = 8
	defaultMaxIdleConnsPerHost   = 2
)

// Option customises a client.
type Option func(*options)

type options struct {
	tracing bool
}

// WithTracing wraps the transport with otelhttp so outbound calls join the
// caller's trace.
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}

// NewClient returns a hardened HTTP client. Devices are addressed by LAN IP,
// so proxies from the environment are ignored.
func NewClient(timeout time.Duration, opts ...Option) *http.Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	dialTimeout := min(timeout, defaultDialTimeout)
	responseHeaderTimeout := min(timeout, defaultResponseHeaderTimeout)

	var transport http.RoundTripper = &http.Transport{
		Proxy:                 nil,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
	}
	if o.tracing {
		transport = otelhttp.NewTransport(transport)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

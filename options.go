package multicall

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hashicorp/go-metrics"
)

type poolConfig struct {
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
	epDefaults   []EndpointOption
}

// PoolOption to pass to `NewPool`.
type PoolOption func(*poolConfig) error

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) PoolOption {
	return func(c *poolConfig) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to choose how to collect the metrics
// emitted by the pool and its endpoints.
func WithMetricSink(ms metrics.MetricSink) PoolOption {
	return func(c *poolConfig) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced through
// the pool and its endpoints.
func WithMetricLabels(labels []metrics.Label) PoolOption {
	return func(c *poolConfig) error {
		c.metricLabels = labels
		return nil
	}
}

// WithEndpointDefaults sets endpoint options applied to every endpoint
// built by `Pool.Add`, before the per-add options.
func WithEndpointDefaults(opts ...EndpointOption) PoolOption {
	return func(c *poolConfig) error {
		c.epDefaults = append(c.epDefaults, opts...)
		return nil
	}
}

type endpointConfig struct {
	name     string
	framed   bool
	timeout  time.Duration
	disabled bool
	dialer   Dialer
	sink     io.Writer

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label
}

// EndpointOption to pass to `NewEndpoint` or `Pool.Add`.
type EndpointOption func(*endpointConfig) error

// WithName overrides the auto-derived endpoint name. The name is the
// unique handle of an endpoint inside a pool.
func WithName(name string) EndpointOption {
	return func(c *endpointConfig) error {
		c.name = name
		return nil
	}
}

// WithTimeout bounds the dial-exchange-close cycle of each call. Zero
// keeps `DefaultTimeout`.
func WithTimeout(timeout time.Duration) EndpointOption {
	return func(c *endpointConfig) error {
		if timeout < 0 {
			return fmt.Errorf("%w: negative timeout", ErrInvalidCfg)
		}
		c.timeout = timeout
		return nil
	}
}

// WithFramed wraps the endpoint transport in length-prefixed framing.
// The remote side must speak the same framing.
func WithFramed(framed bool) EndpointOption {
	return func(c *endpointConfig) error {
		c.framed = framed
		return nil
	}
}

// WithDisabled inserts the endpoint already disabled; calls fail fast
// until `Endpoint.Enable` is invoked.
func WithDisabled() EndpointOption {
	return func(c *endpointConfig) error {
		c.disabled = true
		return nil
	}
}

// WithDialer replaces the default TCP dialer, for example with the
// QUIC dialer of pkg/quicdial.
func WithDialer(dialer Dialer) EndpointOption {
	return func(c *endpointConfig) error {
		if dialer == nil {
			return fmt.Errorf("%w: nil dialer", ErrInvalidCfg)
		}
		c.dialer = dialer
		return nil
	}
}

// WithCallLog mirrors every call attempt on w as one JSON line. Writes
// are best-effort: a failing sink never fails a call.
func WithCallLog(w io.Writer) EndpointOption {
	return func(c *endpointConfig) error {
		c.sink = w
		return nil
	}
}

// WithCallLogFile is `WithCallLog` on an append-mode file. The file
// stays open for the lifetime of the endpoint.
func WithCallLogFile(path string) EndpointOption {
	return func(c *endpointConfig) error {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
		c.sink = f
		return nil
	}
}

package multicall

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	uuid "github.com/satori/go.uuid"

	"github.com/avissian/multicall/pkg/frame"
)

// DefaultTimeout bounds the whole dial-exchange-close cycle of a
// single call when an endpoint has no explicit timeout.
const DefaultTimeout = 60001 * time.Millisecond

// Protocol is the wire-level collaborator of an `Endpoint`: it knows
// how to encode one method call onto an open transport and decode the
// outcome. Implementations must be safe for concurrent use; `Call` is
// invoked from as many goroutines as there are in-flight calls.
//
// `Name` identifies the remote interface the protocol speaks and is
// part of endpoint identity, see `Endpoint.Equal`.
type Protocol interface {
	Name() string
	Call(
		rw io.ReadWriter,
		method string,
		args []interface{},
		kwargs map[string]interface{},
	) (interface{}, error)
}

// Dialer opens the transport for exactly one call attempt. The
// returned handle is closed by the endpoint when the call finishes,
// whatever the outcome. `timeout` bounds both the connection attempt
// and the subsequent IO.
type Dialer func(ctx context.Context, addr string, timeout time.Duration) (io.ReadWriteCloser, error)

// Endpoint is one remote implementation of a `Protocol`. Every call
// runs a full dial-exchange-close cycle on a fresh connection, so a
// single Endpoint value can be invoked from many goroutines at once
// and can be a member of several pools.
//
// The enabled flag is the only mutable state of an Endpoint and is
// safe to toggle concurrently with in-flight calls.
type Endpoint struct {
	host  string
	port  int
	proto Protocol
	name  string

	framed  bool
	timeout time.Duration
	enabled atomic.Bool
	dialer  Dialer

	sinkLk sync.Mutex
	sink   io.Writer

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label
}

// NewEndpoint builds a standalone Endpoint from a "host:port" address.
// Endpoints meant to live in a `Pool` are usually built with
// `Pool.Add` instead so they inherit the pool defaults.
func NewEndpoint(proto Protocol, addr string, opts ...EndpointOption) (*Endpoint, error) {
	if proto == nil {
		return nil, fmt.Errorf("%w: protocol is required", ErrInvalidCfg)
	}

	host, port, err := splitHostPort(addr)
	if err != nil {
		return nil, err
	}

	var cfg endpointConfig
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return newEndpoint(proto, host, port, cfg), nil
}

func newEndpoint(proto Protocol, host string, port int, cfg endpointConfig) *Endpoint {
	ep := &Endpoint{
		host:    host,
		port:    port,
		proto:   proto,
		name:    cfg.name,
		framed:  cfg.framed,
		timeout: cfg.timeout,
		dialer:  cfg.dialer,
		sink:    cfg.sink,
		logger:  cfg.logger,
		msink:   cfg.msink,
		labels:  cfg.labels,
	}

	if ep.name == "" {
		uid, _ := uuid.NewV4()
		ep.name = fmt.Sprintf("%s-%s", proto.Name(), uid)
	}
	if ep.timeout == 0 {
		ep.timeout = DefaultTimeout
	}
	if ep.dialer == nil {
		ep.dialer = DialTCP
	}
	if ep.logger == nil {
		ep.logger = slog.Default()
	}
	if ep.msink == nil {
		ep.msink = metrics.Default()
	}
	ep.enabled.Store(!cfg.disabled)

	return ep
}

// Name returns the endpoint name, unique within a pool. When no name
// was configured it has the form "<protocol>-<uuid>".
func (ep *Endpoint) Name() string { return ep.name }

func (ep *Endpoint) Host() string { return ep.host }

func (ep *Endpoint) Port() int { return ep.port }

// Addr returns the "host:port" form of the endpoint address.
func (ep *Endpoint) Addr() string {
	return net.JoinHostPort(ep.host, strconv.Itoa(ep.port))
}

func (ep *Endpoint) Protocol() Protocol { return ep.proto }

func (ep *Endpoint) Timeout() time.Duration { return ep.timeout }

func (ep *Endpoint) Framed() bool { return ep.framed }

// Enable lifts a previous `Disable`.
func (ep *Endpoint) Enable() { ep.enabled.Store(true) }

// Disable makes subsequent calls fail fast with `ErrEndpointDisabled`
// before any network activity. Calls already in flight are not
// interrupted. Pools keep disabled endpoints addressable, so hash
// placement does not move while an endpoint is drained.
func (ep *Endpoint) Disable() { ep.enabled.Store(false) }

func (ep *Endpoint) Enabled() bool { return ep.enabled.Load() }

// Equal reports whether both endpoints designate the same remote
// interface: same host, same port, same protocol name. The name, the
// enabled flag and tuning knobs do not participate in identity.
func (ep *Endpoint) Equal(other *Endpoint) bool {
	if ep == nil || other == nil {
		return ep == other
	}
	return ep.host == other.host &&
		ep.port == other.port &&
		ep.proto.Name() == other.proto.Name()
}

// Key returns the identity of the endpoint as a string usable as a
// map key: two endpoints are `Equal` iff their keys match.
func (ep *Endpoint) Key() string {
	return ep.proto.Name() + "@" + ep.Addr()
}

func (ep *Endpoint) String() string {
	return fmt.Sprintf("%s[%s]", ep.name, ep.Addr())
}

func (ep *Endpoint) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", ep.name),
		slog.String("addr", ep.Addr()),
		slog.String("protocol", ep.proto.Name()),
	)
}

// Invoke performs one call against the endpoint: check the enabled
// flag, record the attempt on the call sink, dial, run the protocol
// exchange and release the connection. Transport and application
// errors are returned as the protocol produced them.
func (ep *Endpoint) Invoke(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	return ep.InvokeNamed(ctx, method, args, nil)
}

// InvokeNamed is `Invoke` with keyword arguments. A nil kwargs map is
// equivalent to an empty one.
func (ep *Endpoint) InvokeNamed(
	ctx context.Context,
	method string,
	args []interface{},
	kwargs map[string]interface{},
) (interface{}, error) {
	labels := append([]metrics.Label{
		LabelEndpoint.M(ep.name),
		LabelProtocol.M(ep.proto.Name()),
		LabelMethod.M(method),
	}, ep.labels...)

	if !ep.Enabled() {
		ep.msink.IncrCounterWithLabels(MetricCallDisabledCount, 1, labels)
		return nil, fmt.Errorf("%w: %s", ErrEndpointDisabled, ep.name)
	}

	ep.logCall(method, args, kwargs)

	start := time.Now()
	ep.msink.IncrCounterWithLabels(MetricCallCount, 1, labels)

	conn, err := ep.dialer(ctx, ep.Addr(), ep.timeout)
	if err != nil {
		ep.msink.IncrCounterWithLabels(MetricCallErrorCount, 1, labels)
		return nil, fmt.Errorf("%w: %w", ErrDialFailed, err)
	}
	defer conn.Close()

	var rw io.ReadWriter = conn
	if ep.framed {
		rw = frame.NewReadWriter(conn)
	}

	result, err := ep.proto.Call(rw, method, args, kwargs)
	ep.msink.AddSampleWithLabels(
		MetricCallDurationMs,
		float32(time.Since(start).Milliseconds()),
		labels,
	)
	if err != nil {
		ep.msink.IncrCounterWithLabels(MetricCallErrorCount, 1, labels)
		ep.logger.Debug(
			"call failed",
			LabelEndpoint.L(ep),
			LabelMethod.L(method),
			LabelError.L(err),
		)
		return nil, err
	}

	return result, nil
}

// DialTCP is the default `Dialer`: a plain TCP connection with an
// absolute deadline covering the whole exchange.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidAddr, addr)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 || host == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidAddr, addr)
	}

	return host, port, nil
}

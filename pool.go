package multicall

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/hashicorp/go-metrics"
)

// Pool is an ordered set of endpoints sharing one protocol, indexed by
// name. Order is stable: endpoints appear in insertion order, and hash
// routing addresses them by position.
//
// A Pool does no locking of its own. Mutating membership while calls
// or fan-outs are in flight is a data race; keep membership changes on
// one goroutine or synchronize externally. Only the endpoint enabled
// flag is safe to toggle concurrently with traffic.
type Pool struct {
	proto  Protocol
	eps    []*Endpoint
	byName map[string]*Endpoint

	epDefaults []EndpointOption

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label
}

// NewPool builds an empty pool whose endpoints all speak proto.
func NewPool(proto Protocol, opts ...PoolOption) (*Pool, error) {
	if proto == nil {
		return nil, fmt.Errorf("%w: protocol is required", ErrInvalidCfg)
	}

	var cfg poolConfig
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	pool := &Pool{
		proto:      proto,
		byName:     make(map[string]*Endpoint),
		epDefaults: cfg.epDefaults,
		msink:      cfg.msink,
		labels:     cfg.metricLabels,
	}

	if cfg.logHandler == nil {
		pool.logger = slog.Default()
	} else {
		pool.logger = slog.New(cfg.logHandler)
	}
	if pool.msink == nil {
		pool.msink = metrics.Default()
	}

	return pool, nil
}

// Add builds an endpoint from the pool defaults plus opts and inserts
// it. The returned endpoint is already addressable.
func (p *Pool) Add(addr string, opts ...EndpointOption) (*Endpoint, error) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return nil, err
	}

	var cfg endpointConfig
	for _, opt := range p.epDefaults {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.logger == nil {
		cfg.logger = p.logger
	}
	if cfg.msink == nil {
		cfg.msink = p.msink
	}
	if cfg.labels == nil {
		cfg.labels = p.labels
	}

	ep := newEndpoint(p.proto, host, port, cfg)
	if err := p.AddEndpoint(ep); err != nil {
		return nil, err
	}

	return ep, nil
}

// AddEndpoint inserts a prebuilt endpoint at the end of the pool
// order. The endpoint name must be free, `ErrDuplicateName` otherwise.
// An endpoint may be a member of several pools at once.
func (p *Pool) AddEndpoint(ep *Endpoint) error {
	if ep == nil {
		return fmt.Errorf("%w: nil endpoint", ErrInvalidCfg)
	}
	if _, taken := p.byName[ep.name]; taken {
		return fmt.Errorf("%w: %q", ErrDuplicateName, ep.name)
	}

	p.eps = append(p.eps, ep)
	p.byName[ep.name] = ep
	p.gauge()

	p.logger.Debug("endpoint added", LabelEndpoint.L(ep))
	return nil
}

// Remove drops ep from the pool, matching by reference. Removal from
// one pool never affects the other pools an endpoint belongs to.
func (p *Pool) Remove(ep *Endpoint) error {
	for i, member := range p.eps {
		if member == ep {
			p.removeAt(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, ep)
}

// RemoveNamed drops the endpoint registered under name.
func (p *Pool) RemoveNamed(name string) error {
	ep, ok := p.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p.Remove(ep)
}

// RemoveAddr drops every endpoint whose address matches "host:port"
// and returns how many were removed. Zero matches is not an error.
func (p *Pool) RemoveAddr(addr string) (int, error) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := 0; i < len(p.eps); {
		if p.eps[i].host == host && p.eps[i].port == port {
			p.removeAt(i)
			removed++
			continue
		}
		i++
	}

	return removed, nil
}

func (p *Pool) removeAt(i int) {
	ep := p.eps[i]
	p.eps = append(p.eps[:i], p.eps[i+1:]...)
	delete(p.byName, ep.name)
	p.gauge()

	p.logger.Debug("endpoint removed", LabelEndpoint.L(ep))
}

// Lookup returns the endpoint registered under name.
func (p *Pool) Lookup(name string) (*Endpoint, error) {
	ep, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return ep, nil
}

// LookupAddr returns the first endpoint matching "host:port" in pool
// order.
func (p *Pool) LookupAddr(addr string) (*Endpoint, error) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return nil, err
	}

	for _, ep := range p.eps {
		if ep.host == host && ep.port == port {
			return ep, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
}

// Random returns a uniformly chosen member, nil when the pool is
// empty. Handy to spread traffic which needs no stable placement.
func (p *Pool) Random() *Endpoint {
	if len(p.eps) == 0 {
		return nil
	}
	return p.eps[rand.IntN(len(p.eps))]
}

func (p *Pool) Len() int { return len(p.eps) }

// Endpoints returns the members in pool order. The slice is a private
// copy, the endpoints are shared.
func (p *Pool) Endpoints() []*Endpoint {
	out := make([]*Endpoint, len(p.eps))
	copy(out, p.eps)
	return out
}

func (p *Pool) Protocol() Protocol { return p.proto }

func (p *Pool) gauge() {
	p.msink.SetGaugeWithLabels(
		MetricPoolSize,
		float32(len(p.eps)),
		append([]metrics.Label{LabelProtocol.M(p.proto.Name())}, p.labels...),
	)
}

// Package discovery feeds a multicall Pool from gossip membership:
// every cluster member advertises the port its RPC endpoint listens
// on, and join, leave and update events become pool mutations.
//
// Membership events are queued on a channel instead of touching the
// pool from the gossip goroutine. The pool owner applies them, either
// by interleaving `Events` and `Apply` in its own loop or by giving a
// dedicated goroutine to `Run`, and so keeps the single-writer
// discipline the Pool asks for.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	leg_metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/memberlist"

	"github.com/avissian/multicall"
)

var (
	ErrInvalidCfg  = errors.New("discovery: invalid options")
	ErrJoinCluster = errors.New("discovery: could not join cluster")
)

const (
	leaveTimeout   = 5 * time.Second
	eventBufferLen = 512
)

// meta travels in the gossip node meta bytes.
type meta struct {
	Port int `json:"port"`
}

type config struct {
	mlCfg       *memberlist.Config
	logHandler  slog.Handler
	servicePort int
	neighbours  []string
}

// Option to pass to `New`.
type Option func(*config) error

// WithNodeName specifies the name gossiped to other peers. For a
// well-behaving cluster, the name MUST be unique. Defaults to the
// hostname.
func WithNodeName(name string) Option {
	return func(c *config) error {
		if name != "" {
			c.mlCfg.Name = name
		}
		return nil
	}
}

// WithBind specifies which UDP interface the gossip protocol uses.
func WithBind(addr string, port int) Option {
	return func(c *config) error {
		c.mlCfg.BindAddr = addr
		c.mlCfg.BindPort = port
		c.mlCfg.AdvertisePort = port
		return nil
	}
}

// WithServicePort advertises the port our own RPC endpoint serves on.
// Zero means this node only calls and never appears in peer pools.
func WithServicePort(port int) Option {
	return func(c *config) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: service port %d", ErrInvalidCfg, port)
		}
		c.servicePort = port
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricLabels adds static labels to the gossip metrics.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		// memberlist still speaks the armon flavor of go-metrics.
		c.mlCfg.MetricLabels = make([]leg_metrics.Label, len(labels))
		for i, label := range labels {
			c.mlCfg.MetricLabels[i] = leg_metrics.Label{
				Name:  label.Name,
				Value: label.Value,
			}
		}
		return nil
	}
}

// WithNeighbours controls which peers are tried by `Join`.
func WithNeighbours(neighbours []string) Option {
	return func(c *config) error {
		c.neighbours = neighbours
		return nil
	}
}

var _ memberlist.Delegate = (*Watcher)(nil)

// Watcher keeps one Pool in sync with cluster membership. The local
// node never lands in its own pool.
type Watcher struct {
	pool   *multicall.Pool
	logger *slog.Logger

	localName   string
	servicePort int
	neighbours  []string

	evCh   chan memberlist.NodeEvent
	list   *memberlist.Memberlist
	closed atomic.Bool
}

func New(pool *multicall.Pool, opts ...Option) (*Watcher, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidCfg)
	}

	cfg := config{mlCfg: memberlist.DefaultLANConfig()}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	w := newWatcher(pool, &cfg)
	cfg.mlCfg.Events = &memberlist.ChannelEventDelegate{Ch: w.evCh}
	cfg.mlCfg.Delegate = w
	if cfg.logHandler != nil {
		cfg.mlCfg.Logger = slog.NewLogLogger(cfg.logHandler, slog.LevelDebug)
	} else {
		cfg.mlCfg.Logger = slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug)
	}

	list, err := memberlist.Create(cfg.mlCfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: create memberlist: %w", err)
	}
	w.list = list

	return w, nil
}

// newWatcher builds the event-handling half without a live gossip
// instance; tests drive `Apply` directly.
func newWatcher(pool *multicall.Pool, cfg *config) *Watcher {
	logger := slog.Default()
	if cfg.logHandler != nil {
		logger = slog.New(cfg.logHandler)
	}

	return &Watcher{
		pool:        pool,
		logger:      logger,
		localName:   cfg.mlCfg.Name,
		servicePort: cfg.servicePort,
		neighbours:  cfg.neighbours,
		evCh:        make(chan memberlist.NodeEvent, eventBufferLen),
	}
}

func (w *Watcher) Pool() *multicall.Pool { return w.pool }

// Events returns the pending membership events. Feed each one to
// `Apply` from the goroutine owning the pool.
func (w *Watcher) Events() <-chan memberlist.NodeEvent { return w.evCh }

// Apply folds one membership event into the pool. It must run on the
// goroutine owning the pool.
func (w *Watcher) Apply(ev memberlist.NodeEvent) {
	switch ev.Event {
	case memberlist.NodeJoin:
		w.handleJoin(ev.Node)
	case memberlist.NodeLeave:
		w.handleLeave(ev.Node)
	case memberlist.NodeUpdate:
		w.handleUpdate(ev.Node)
	}
}

// Run applies membership events until ctx is done. The goroutine
// running it owns the pool: while Run is live, route or broadcast from
// elsewhere only with external synchronization.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-w.evCh:
			w.Apply(ev)
		}
	}
}

// Join reaches the configured neighbours. Without neighbours this is
// a no-op, the node simply waits to be contacted.
func (w *Watcher) Join() error {
	if len(w.neighbours) == 0 {
		return nil
	}

	joined, err := w.list.Join(w.neighbours)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrJoinCluster, err)
	}

	w.logger.Info("joined cluster", slog.Int("contacted", joined))
	return nil
}

// Shutdown leaves the cluster and stops gossiping. The pool keeps its
// last observed membership. Shutdown is idempotent.
func (w *Watcher) Shutdown() error {
	if w.closed.Swap(true) {
		return nil
	}
	if w.list == nil {
		return nil
	}

	if err := w.list.Leave(leaveTimeout); err != nil {
		w.logger.Warn("gossip leave failed", slog.Any("error", err))
	}
	return w.list.Shutdown()
}

// NodeMeta advertises our service port to the cluster.
func (w *Watcher) NodeMeta(limit int) []byte {
	if w.servicePort == 0 {
		return nil
	}

	buf, err := json.Marshal(meta{Port: w.servicePort})
	if err != nil || len(buf) > limit {
		w.logger.Warn("service meta not advertisable", slog.Any("error", err))
		return nil
	}
	return buf
}

func (w *Watcher) handleJoin(node *memberlist.Node) {
	if node.Name == w.localName {
		return
	}

	addr, ok := w.peerAddr(node)
	if !ok {
		return
	}

	if _, err := w.pool.Add(addr, multicall.WithName(node.Name)); err != nil {
		w.logger.Warn(
			"could not add discovered peer",
			slog.String("peer", node.Name),
			slog.Any("error", err),
		)
		return
	}

	w.logger.Info(
		"peer endpoint joined",
		slog.String("peer", node.Name),
		slog.String("addr", addr),
	)
}

func (w *Watcher) handleLeave(node *memberlist.Node) {
	if node.Name == w.localName {
		return
	}

	// peers which never advertised a service port are not pool members
	if err := w.pool.RemoveNamed(node.Name); err != nil {
		return
	}

	w.logger.Info("peer endpoint left", slog.String("peer", node.Name))
}

func (w *Watcher) handleUpdate(node *memberlist.Node) {
	if node.Name == w.localName {
		return
	}

	// the peer is not a member yet when this update is the first to
	// advertise a service port
	_ = w.pool.RemoveNamed(node.Name)

	addr, ok := w.peerAddr(node)
	if !ok {
		return
	}

	if _, err := w.pool.Add(addr, multicall.WithName(node.Name)); err != nil {
		w.logger.Warn(
			"could not refresh discovered peer",
			slog.String("peer", node.Name),
			slog.Any("error", err),
		)
		return
	}

	w.logger.Info(
		"peer endpoint updated",
		slog.String("peer", node.Name),
		slog.String("addr", addr),
	)
}

func (w *Watcher) peerAddr(node *memberlist.Node) (string, bool) {
	if len(node.Meta) == 0 {
		return "", false
	}

	var m meta
	if err := json.Unmarshal(node.Meta, &m); err != nil {
		w.logger.Warn(
			"peer meta unreadable",
			slog.String("peer", node.Name),
			slog.Any("error", err),
		)
		return "", false
	}
	if m.Port <= 0 || m.Port > 65535 {
		return "", false
	}

	return net.JoinHostPort(node.Addr.String(), strconv.Itoa(m.Port)), true
}

func (w *Watcher) NotifyMsg([]byte) {}

func (w *Watcher) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (w *Watcher) LocalState(join bool) []byte { return nil }

func (w *Watcher) MergeRemoteState(buf []byte, join bool) {}

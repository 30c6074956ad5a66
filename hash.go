package multicall

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"sync"
)

// KeyFunc derives the placement key of one call from its arguments.
// Equal keys land on the same pool bucket as long as membership is
// stable.
type KeyFunc func(args []interface{}, kwargs map[string]interface{}) ([]byte, error)

// HashRouter sends each call to exactly one endpoint, chosen by
// hashing the call arguments modulo the pool size. The same arguments
// always reach the same endpoint while membership is unchanged, which
// pins any state the remote side keeps per argument to one member.
//
// Bucket selection is plain modulo: growing or shrinking the pool
// remaps most keys. Workloads which cannot afford that movement need
// an external placement scheme; this router favors zero coordination
// state instead.
type HashRouter struct {
	pool *Pool
	all  Multicast

	keyLk  sync.RWMutex
	keyFns map[string]KeyFunc
}

type hashConfig struct {
	concurrentAll bool
	keyFns        map[string]KeyFunc
}

// HashOption to pass to `NewHashRouter`.
type HashOption func(*hashConfig) error

// WithConcurrentAll makes `All` fan out with one goroutine per
// endpoint instead of walking the pool serially. Placement is
// unaffected, only the administrative broadcast changes.
func WithConcurrentAll() HashOption {
	return func(c *hashConfig) error {
		c.concurrentAll = true
		return nil
	}
}

// WithKeyFunc registers fn for method at construction time, see
// `SetKeyFunc`.
func WithKeyFunc(method string, fn KeyFunc) HashOption {
	return func(c *hashConfig) error {
		if fn == nil {
			return fmt.Errorf("%w: nil key function", ErrInvalidCfg)
		}
		c.keyFns[method] = fn
		return nil
	}
}

func NewHashRouter(pool *Pool, opts ...HashOption) (*HashRouter, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidCfg)
	}

	cfg := hashConfig{keyFns: make(map[string]KeyFunc)}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	router := &HashRouter{
		pool:   pool,
		keyFns: cfg.keyFns,
	}
	if cfg.concurrentAll {
		router.all = NewConcurrentBroadcast(pool)
	} else {
		router.all = NewBroadcast(pool)
	}

	return router, nil
}

// SetKeyFunc installs a custom placement key for method, overriding
// the canonical argument serialization. This is where collocation
// rules live, for example keying both the write and the follow-up
// read of a record on its id only. A nil fn removes the override.
func (r *HashRouter) SetKeyFunc(method string, fn KeyFunc) {
	r.keyLk.Lock()
	defer r.keyLk.Unlock()
	if fn == nil {
		delete(r.keyFns, method)
		return
	}
	r.keyFns[method] = fn
}

// Pool returns the routed pool, shared with `All`.
func (r *HashRouter) Pool() *Pool { return r.pool }

// All returns the broadcast view of the router. It shares the pool,
// so membership always mirrors: an endpoint added for placement is
// immediately part of the broadcast and vice versa.
func (r *HashRouter) All() Multicast { return r.all }

// Route resolves which endpoint the arguments place on, without
// calling it. `ErrEmptyPool` when the pool has no members; no network
// activity on any failure path.
func (r *HashRouter) Route(method string, args ...interface{}) (*Endpoint, error) {
	return r.RouteNamed(method, args, nil)
}

func (r *HashRouter) RouteNamed(
	method string,
	args []interface{},
	kwargs map[string]interface{},
) (*Endpoint, error) {
	eps := r.pool.Endpoints()
	if len(eps) == 0 {
		return nil, ErrEmptyPool
	}

	key, err := r.callKey(method, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("derive key for %q: %w", method, err)
	}

	return eps[bucket(key, len(eps))], nil
}

// Call routes the arguments to their endpoint and invokes it once.
// The outcome comes back both ways, as a `Result` and as the annotated
// error, so single-shot callers need no fan-out plumbing.
func (r *HashRouter) Call(ctx context.Context, method string, args ...interface{}) (Result, error) {
	return r.CallNamed(ctx, method, args, nil)
}

// CallNamed is `Call` with keyword arguments. Routing failures, empty
// pool or unhashable arguments, return a zero Result and the bare
// error; endpoint failures return a failure Result and its annotated
// error.
func (r *HashRouter) CallNamed(
	ctx context.Context,
	method string,
	args []interface{},
	kwargs map[string]interface{},
) (Result, error) {
	ep, err := r.RouteNamed(method, args, kwargs)
	if err != nil {
		return Result{}, err
	}

	res := invokeResult(ctx, ep, method, args, kwargs)
	return res, res.Err()
}

func (r *HashRouter) callKey(
	method string,
	args []interface{},
	kwargs map[string]interface{},
) ([]byte, error) {
	r.keyLk.RLock()
	fn := r.keyFns[method]
	r.keyLk.RUnlock()

	if fn != nil {
		return fn(args, kwargs)
	}
	return canonicalKey(args, kwargs)
}

// canonicalKey is the default placement key: positional arguments
// followed by keyword pairs sorted by name, JSON-marshaled.
// `encoding/json` sorts nested map keys too, so keyword order never
// moves a call. Arguments without a JSON form fail the derivation.
func canonicalKey(args []interface{}, kwargs map[string]interface{}) ([]byte, error) {
	payload := make([]interface{}, 0, len(args)+len(kwargs))
	payload = append(payload, args...)
	for _, k := range slices.Sorted(maps.Keys(kwargs)) {
		payload = append(payload, []interface{}{k, kwargs[k]})
	}
	return json.Marshal(payload)
}

func bucket(key []byte, buckets int) int {
	h := fnv.New64a()
	h.Write(key)
	return int(h.Sum64() % uint64(buckets))
}

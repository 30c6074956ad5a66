package multicall

import (
	"context"
	"sync"

	"github.com/hashicorp/go-metrics"
)

// Multicast sends one logical call to every member of a pool and
// reports all outcomes. Implementations never fail as a whole: every
// endpoint outcome, error or not, lands in its own `Result`.
type Multicast interface {
	Call(ctx context.Context, method string, args ...interface{}) []Result
	CallNamed(
		ctx context.Context,
		method string,
		args []interface{},
		kwargs map[string]interface{},
	) []Result
	Pool() *Pool
}

var (
	_ Multicast = (*Broadcast)(nil)
	_ Multicast = (*ConcurrentBroadcast)(nil)
)

// Broadcast walks the pool serially: the i-th result belongs to the
// i-th member. A failing endpoint never stops the walk, and disabled
// members report `ErrEndpointDisabled` failures instead of being
// skipped.
type Broadcast struct {
	pool *Pool
}

func NewBroadcast(pool *Pool) *Broadcast {
	return &Broadcast{pool: pool}
}

func (b *Broadcast) Pool() *Pool { return b.pool }

func (b *Broadcast) Call(ctx context.Context, method string, args ...interface{}) []Result {
	return b.CallNamed(ctx, method, args, nil)
}

func (b *Broadcast) CallNamed(
	ctx context.Context,
	method string,
	args []interface{},
	kwargs map[string]interface{},
) []Result {
	eps := b.pool.Endpoints()
	results := make([]Result, 0, len(eps))
	for _, ep := range eps {
		results = append(results, invokeResult(ctx, ep, method, args, kwargs))
	}

	b.pool.countBroadcast("serial", method, results)
	return results
}

// ConcurrentBroadcast is `Broadcast` with one goroutine per endpoint
// and a join-all before returning. Results arrive in completion order,
// not pool order: consumers must key on `Result.Endpoint`. A slow
// member delays the join but never aborts its siblings.
type ConcurrentBroadcast struct {
	pool *Pool
}

func NewConcurrentBroadcast(pool *Pool) *ConcurrentBroadcast {
	return &ConcurrentBroadcast{pool: pool}
}

func (b *ConcurrentBroadcast) Pool() *Pool { return b.pool }

func (b *ConcurrentBroadcast) Call(ctx context.Context, method string, args ...interface{}) []Result {
	return b.CallNamed(ctx, method, args, nil)
}

func (b *ConcurrentBroadcast) CallNamed(
	ctx context.Context,
	method string,
	args []interface{},
	kwargs map[string]interface{},
) []Result {
	eps := b.pool.Endpoints()
	resCh := make(chan Result, len(eps))

	var wg sync.WaitGroup
	for _, ep := range eps {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			resCh <- invokeResult(ctx, ep, method, args, kwargs)
		}(ep)
	}
	wg.Wait()
	close(resCh)

	results := make([]Result, 0, len(eps))
	for res := range resCh {
		results = append(results, res)
	}

	b.pool.countBroadcast("concurrent", method, results)
	return results
}

func invokeResult(
	ctx context.Context,
	ep *Endpoint,
	method string,
	args []interface{},
	kwargs map[string]interface{},
) Result {
	value, err := ep.InvokeNamed(ctx, method, args, kwargs)
	if err != nil {
		return Failure(ep, err)
	}
	return Success(ep, value)
}

func (p *Pool) countBroadcast(router, method string, results []Result) {
	labels := append([]metrics.Label{
		LabelRouter.M(router),
		LabelProtocol.M(p.proto.Name()),
		LabelMethod.M(method),
	}, p.labels...)

	p.msink.IncrCounterWithLabels(MetricBroadcastCount, 1, labels)
	for _, res := range results {
		if res.IsError() {
			p.msink.IncrCounterWithLabels(MetricBroadcastFailCount, 1, labels)
		}
	}
}

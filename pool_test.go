package multicall

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T, size int, proto Protocol) (*Pool, *countingDialer) {
	t.Helper()

	dialer := &countingDialer{}
	pool, err := NewPool(proto, WithEndpointDefaults(WithDialer(dialer.dial)))
	require.NoError(t, err, "the pool should build")

	for i := 0; i < size; i++ {
		_, err := pool.Add(
			fmt.Sprintf("10.0.0.%d:9090", i+1),
			WithName(fmt.Sprintf("ep-%d", i)),
		)
		require.NoError(t, err, "endpoint %d should pool", i)
	}

	return pool, dialer
}

func TestNewPoolValidation(t *testing.T) {
	_, err := NewPool(nil)
	require.ErrorIs(t, err, ErrInvalidCfg, "a protocol is mandatory")
}

func TestAddAndLookup(t *testing.T) {
	pool, _ := testPool(t, 3, &stubProto{})

	require.Equal(t, 3, pool.Len())

	ep, err := pool.Lookup("ep-1")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2:9090", ep.Addr())

	_, err = pool.Lookup("stranger")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = pool.Add("nonsense")
	require.ErrorIs(t, err, ErrInvalidAddr)
}

func TestAddRejectsDuplicateNames(t *testing.T) {
	pool, _ := testPool(t, 1, &stubProto{})

	_, err := pool.Add("10.0.0.9:9090", WithName("ep-0"))
	require.ErrorIs(t, err, ErrDuplicateName)
	require.Equal(t, 1, pool.Len(), "the rejected endpoint should not be pooled")
}

func TestPoolOrderIsInsertionOrder(t *testing.T) {
	pool, _ := testPool(t, 3, &stubProto{})

	var names []string
	for _, ep := range pool.Endpoints() {
		names = append(names, ep.Name())
	}
	require.Equal(t, []string{"ep-0", "ep-1", "ep-2"}, names)

	require.NoError(t, pool.RemoveNamed("ep-1"))

	names = names[:0]
	for _, ep := range pool.Endpoints() {
		names = append(names, ep.Name())
	}
	require.Equal(t, []string{"ep-0", "ep-2"}, names, "removal should preserve relative order")
}

func TestEndpointsIsACopy(t *testing.T) {
	pool, _ := testPool(t, 2, &stubProto{})

	eps := pool.Endpoints()
	eps[0] = nil

	require.NotNil(t, pool.Endpoints()[0], "callers cannot corrupt pool order")
}

func TestPoolInjectsDefaults(t *testing.T) {
	dialer := &countingDialer{}
	pool, err := NewPool(&stubProto{}, WithEndpointDefaults(
		WithDialer(dialer.dial),
		WithFramed(true),
		WithTimeout(2*time.Second),
	))
	require.NoError(t, err)

	ep, err := pool.Add("10.0.0.1:9090")
	require.NoError(t, err)
	require.True(t, ep.Framed())
	require.Equal(t, 2*time.Second, ep.Timeout())

	over, err := pool.Add("10.0.0.2:9090", WithTimeout(time.Second))
	require.NoError(t, err)
	require.Equal(t, time.Second, over.Timeout(), "per-endpoint options override pool defaults")
	require.True(t, over.Framed(), "defaults which are not overridden still apply")
}

func TestEndpointSharedAcrossPools(t *testing.T) {
	ep, err := NewEndpoint(&stubProto{}, "10.0.0.1:9090", WithName("shared"))
	require.NoError(t, err)

	p1, err := NewPool(&stubProto{})
	require.NoError(t, err)
	p2, err := NewPool(&stubProto{})
	require.NoError(t, err)

	require.NoError(t, p1.AddEndpoint(ep))
	require.NoError(t, p2.AddEndpoint(ep))

	got1, err := p1.Lookup("shared")
	require.NoError(t, err)
	got2, err := p2.Lookup("shared")
	require.NoError(t, err)
	require.Same(t, got1, got2, "both pools should share the endpoint")

	require.NoError(t, p1.Remove(ep))
	require.Zero(t, p1.Len())
	require.Equal(t, 1, p2.Len(), "removal from one pool should not touch the other")

	require.ErrorIs(t, p1.AddEndpoint(nil), ErrInvalidCfg)
}

func TestRemove(t *testing.T) {
	pool, _ := testPool(t, 2, &stubProto{})
	ep, err := pool.Lookup("ep-0")
	require.NoError(t, err)

	require.NoError(t, pool.Remove(ep))
	require.Equal(t, 1, pool.Len())
	_, err = pool.Lookup("ep-0")
	require.ErrorIs(t, err, ErrNotFound, "removed endpoints lose their name slot")

	require.ErrorIs(t, pool.Remove(ep), ErrNotFound, "removing twice should fail")
	require.ErrorIs(t, pool.RemoveNamed("ep-0"), ErrNotFound)
}

func TestRemoveAddr(t *testing.T) {
	pool, err := NewPool(&stubProto{})
	require.NoError(t, err)
	_, err = pool.Add("10.0.0.1:9090", WithName("a"))
	require.NoError(t, err)
	_, err = pool.Add("10.0.0.2:9090", WithName("b"))
	require.NoError(t, err)
	_, err = pool.Add("10.0.0.1:9090", WithName("c"))
	require.NoError(t, err)

	n, err := pool.RemoveAddr("10.0.0.1:9090")
	require.NoError(t, err)
	require.Equal(t, 2, n, "every member at the address should go")
	require.Equal(t, 1, pool.Len())
	_, err = pool.Lookup("b")
	require.NoError(t, err, "other members should survive")

	n, err = pool.RemoveAddr("10.0.0.9:9090")
	require.NoError(t, err, "removing an absent address is not an error")
	require.Zero(t, n)

	_, err = pool.RemoveAddr("nonsense")
	require.ErrorIs(t, err, ErrInvalidAddr)
}

func TestLookupAddr(t *testing.T) {
	pool, err := NewPool(&stubProto{})
	require.NoError(t, err)
	first, err := pool.Add("10.0.0.1:9090", WithName("a"))
	require.NoError(t, err)
	_, err = pool.Add("10.0.0.1:9090", WithName("b"))
	require.NoError(t, err)

	got, err := pool.LookupAddr("10.0.0.1:9090")
	require.NoError(t, err)
	require.Same(t, first, got, "the first member in pool order should win")

	_, err = pool.LookupAddr("10.0.0.9:9090")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRandom(t *testing.T) {
	pool, err := NewPool(&stubProto{})
	require.NoError(t, err)
	require.Nil(t, pool.Random(), "an empty pool has nothing to offer")

	pool, _ = testPool(t, 3, &stubProto{})
	members := pool.Endpoints()
	for i := 0; i < 20; i++ {
		require.Contains(t, members, pool.Random(), "random picks should be members")
	}
}

func TestNilMetricSinkIsBlackholed(t *testing.T) {
	pool, err := NewPool(&stubProto{}, WithMetricSink(nil))
	require.NoError(t, err)

	_, err = pool.Add("10.0.0.1:9090")
	require.NoError(t, err, "gauging into the blackhole should work")
}

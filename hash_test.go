package multicall

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewHashRouterValidation(t *testing.T) {
	_, err := NewHashRouter(nil)
	require.ErrorIs(t, err, ErrInvalidCfg, "a pool is mandatory")

	pool, _ := testPool(t, 1, &stubProto{})
	_, err = NewHashRouter(pool, WithKeyFunc("get", nil))
	require.ErrorIs(t, err, ErrInvalidCfg, "a nil key function should be rejected")
}

func TestRouteIsDeterministic(t *testing.T) {
	pool, _ := testPool(t, 3, &stubProto{})
	router, err := NewHashRouter(pool)
	require.NoError(t, err)

	first, err := router.Route("get", "user-17")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := router.Route("get", "user-17")
		require.NoError(t, err)
		require.Same(t, first, again, "equal arguments should keep the same placement")
	}

	collocated, err := router.Route("set", "user-17")
	require.NoError(t, err)
	require.Same(t, first, collocated, "placement keys on arguments, not on the method")
}

func TestKeywordOrderDoesNotMovePlacement(t *testing.T) {
	pool, _ := testPool(t, 5, &stubProto{})
	router, err := NewHashRouter(pool)
	require.NoError(t, err)

	a, err := router.RouteNamed("get", []interface{}{"user-17"}, map[string]interface{}{
		"region": "eu",
		"ttl":    30,
	})
	require.NoError(t, err)
	b, err := router.RouteNamed("get", []interface{}{"user-17"}, map[string]interface{}{
		"ttl":    30,
		"region": "eu",
	})
	require.NoError(t, err)

	require.Same(t, a, b, "keyword order should not move placement")
}

func TestRouteSpreadsKeys(t *testing.T) {
	pool, _ := testPool(t, 5, &stubProto{})
	router, err := NewHashRouter(pool)
	require.NoError(t, err)

	hit := make(map[string]bool)
	for i := 0; i < 50; i++ {
		ep, err := router.Route("get", fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		hit[ep.Name()] = true
	}

	require.Greater(t, len(hit), 1, "distinct keys should reach distinct members")
}

func TestCustomKeyFunc(t *testing.T) {
	pool, _ := testPool(t, 5, &stubProto{})
	router, err := NewHashRouter(pool, WithKeyFunc("get", func(args []interface{}, _ map[string]interface{}) ([]byte, error) {
		return []byte(args[0].(string)), nil
	}))
	require.NoError(t, err)

	a, err := router.Route("get", "tenant-a", 1)
	require.NoError(t, err)
	b, err := router.Route("get", "tenant-a", 2)
	require.NoError(t, err)
	require.Same(t, a, b, "the custom key should ignore the extra arguments")

	// the same override installed later pins another method alongside
	router.SetKeyFunc("put", func(args []interface{}, _ map[string]interface{}) ([]byte, error) {
		return []byte(args[0].(string)), nil
	})
	c, err := router.Route("put", "tenant-a", 99)
	require.NoError(t, err)
	require.Same(t, a, c, "methods sharing a key function collocate")

	router.SetKeyFunc("get", nil)
	fresh, err := NewHashRouter(pool)
	require.NoError(t, err)
	want, err := fresh.Route("get", "tenant-a", 1)
	require.NoError(t, err)
	got, err := router.Route("get", "tenant-a", 1)
	require.NoError(t, err)
	require.Same(t, want, got, "removing the override should restore canonical placement")
}

func TestKeyFuncErrorsNameTheMethod(t *testing.T) {
	boom := errors.New("no key")
	pool, dialer := testPool(t, 3, &stubProto{})
	router, err := NewHashRouter(pool, WithKeyFunc("get", func([]interface{}, map[string]interface{}) ([]byte, error) {
		return nil, boom
	}))
	require.NoError(t, err)

	_, err = router.Route("get", "user-17")
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), `"get"`, "the failing method should be named")
	require.Zero(t, dialer.count(), "key derivation failures never reach the network")
}

func TestUnhashableArgumentsCannotPlace(t *testing.T) {
	pool, dialer := testPool(t, 3, &stubProto{})
	router, err := NewHashRouter(pool)
	require.NoError(t, err)

	_, err = router.Route("get", func() {})
	require.Error(t, err, "arguments without a canonical form cannot place")
	require.Zero(t, dialer.count())
}

func TestEmptyPoolRefusesToRoute(t *testing.T) {
	pool, err := NewPool(&stubProto{})
	require.NoError(t, err)
	router, err := NewHashRouter(pool)
	require.NoError(t, err)

	_, err = router.Route("get", "user-17")
	require.ErrorIs(t, err, ErrEmptyPool)

	res, err := router.Call(context.Background(), "get", "user-17")
	require.ErrorIs(t, err, ErrEmptyPool)
	require.Nil(t, res.Endpoint(), "no endpoint should be blamed")
}

func TestCallHitsTheRoutedMember(t *testing.T) {
	pool, dialer := testPool(t, 3, &stubProto{value: "pong"})
	router, err := NewHashRouter(pool)
	require.NoError(t, err)

	want, err := router.Route("get", "user-17")
	require.NoError(t, err)

	res, err := router.Call(context.Background(), "get", "user-17")
	require.NoError(t, err)
	value, err := res.Value()
	require.NoError(t, err)
	require.Equal(t, "pong", value)
	require.Same(t, want, res.Endpoint(), "the call should land on the routed member")
	require.Equal(t, 1, dialer.count(), "exactly one member should be dialed")
}

func TestCallFailuresAreAnnotated(t *testing.T) {
	boom := errors.New("wire cut")
	dialer := &countingDialer{err: boom}
	pool, err := NewPool(&stubProto{}, WithEndpointDefaults(WithDialer(dialer.dial)))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := pool.Add(fmt.Sprintf("10.0.0.%d:9090", i+1))
		require.NoError(t, err)
	}
	router, err := NewHashRouter(pool)
	require.NoError(t, err)

	res, err := router.Call(context.Background(), "get", "user-17")
	require.ErrorIs(t, err, ErrDialFailed)
	require.ErrorIs(t, err, boom)

	var epErr *EndpointError
	require.ErrorAs(t, err, &epErr)
	require.Same(t, res.Endpoint(), epErr.Endpoint, "the annotation should blame the routed member")
	require.True(t, res.IsError(), "the result should mirror the error")
}

func TestDisabledMemberKeepsItsPlacement(t *testing.T) {
	pool, dialer := testPool(t, 3, &stubProto{})
	router, err := NewHashRouter(pool)
	require.NoError(t, err)

	ep, err := router.Route("get", "user-17")
	require.NoError(t, err)
	ep.Disable()

	_, err = router.Call(context.Background(), "get", "user-17")
	require.ErrorIs(t, err, ErrEndpointDisabled, "placement does not dodge disabled members")
	require.Zero(t, dialer.count())

	again, err := router.Route("get", "user-17")
	require.NoError(t, err)
	require.Same(t, ep, again, "disabling should not move placement")

	ep.Enable()
	_, err = router.Call(context.Background(), "get", "user-17")
	require.NoError(t, err)
}

func TestAllSharesThePoolMembership(t *testing.T) {
	pool, _ := testPool(t, 3, &stubProto{})
	router, err := NewHashRouter(pool)
	require.NoError(t, err)

	require.IsType(t, &Broadcast{}, router.All())
	require.Len(t, router.All().Call(context.Background(), "ping"), 3)

	_, err = pool.Add("10.0.0.7:9090", WithName("late"))
	require.NoError(t, err)
	require.Len(t, router.All().Call(context.Background(), "ping"), 4,
		"the broadcast view should follow membership changes")

	removed, err := pool.RemoveAddr("10.0.0.7:9090")
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Len(t, router.All().Call(context.Background(), "ping"), 3,
		"a removed member should vanish from the broadcast view too")

	concurrent, err := NewHashRouter(pool, WithConcurrentAll())
	require.NoError(t, err)
	require.IsType(t, &ConcurrentBroadcast{}, concurrent.All())
	require.Len(t, concurrent.All().Call(context.Background(), "ping"), 3)

	require.Same(t, pool, router.Pool())
}

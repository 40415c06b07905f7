package sdk_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

// countingFetcher is a PermissionFetcher that counts calls and can block.
type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *countingFetcher) Permissions(ctx context.Context, bearer string) (*sdk.ResolvedPermissions, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return twoRoleResolution("Manager"), nil
}

func TestPermissionResolver_CachesByBearer(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := sdk.NewResponseCache(8, time.Minute)
	resolver := sdk.NewPermissionResolver(fetcher, cache, nil, nil)
	ctx := context.Background()

	_, err := resolver.Fetch(ctx, "bearer-1", sdk.FetchOptions{})
	require.NoError(t, err)
	_, err = resolver.Fetch(ctx, "bearer-1", sdk.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetcher.calls.Load())

	_, err = resolver.Fetch(ctx, "bearer-2", sdk.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
	assert.Equal(t, 2, cache.Len())
}

func TestPermissionResolver_FreshBypassesCache(t *testing.T) {
	fetcher := &countingFetcher{}
	resolver := sdk.NewPermissionResolver(fetcher, sdk.NewResponseCache(8, time.Minute), nil, nil)
	ctx := context.Background()

	_, err := resolver.Fetch(ctx, "bearer-1", sdk.FetchOptions{})
	require.NoError(t, err)
	_, err = resolver.Fetch(ctx, "bearer-1", sdk.FetchOptions{Fresh: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestPermissionResolver_InvalidatePurges(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := sdk.NewResponseCache(8, time.Minute)
	resolver := sdk.NewPermissionResolver(fetcher, cache, nil, nil)
	ctx := context.Background()

	_, err := resolver.Fetch(ctx, "bearer-1", sdk.FetchOptions{})
	require.NoError(t, err)
	resolver.Invalidate()
	assert.Equal(t, 0, cache.Len())

	_, err = resolver.Fetch(ctx, "bearer-1", sdk.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestPermissionResolver_InvalidateDuringFetchSkipsCache(t *testing.T) {
	fetcher := &countingFetcher{release: make(chan struct{})}
	cache := sdk.NewResponseCache(8, time.Minute)
	resolver := sdk.NewPermissionResolver(fetcher, cache, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := resolver.Fetch(context.Background(), "bearer-1", sdk.FetchOptions{})
		done <- err
	}()
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	resolver.Invalidate()
	close(fetcher.release)
	require.NoError(t, <-done)
	assert.Equal(t, 0, cache.Len(), "a fetch that began before Invalidate must not repopulate the cache")
}

func TestPermissionResolver_CoalescesConcurrentFetches(t *testing.T) {
	fetcher := &countingFetcher{release: make(chan struct{})}
	resolver := sdk.NewPermissionResolver(fetcher, nil, nil, nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*sdk.ResolvedPermissions, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = resolver.Fetch(context.Background(), "bearer-1", sdk.FetchOptions{})
		}(i)
	}

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Manager", results[i].RoleName)
	}
	assert.LessOrEqual(t, fetcher.calls.Load(), int32(2))
}

func TestPermissionResolver_ErrorsAreTyped(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("connection reset")}
	cache := sdk.NewResponseCache(8, time.Minute)
	resolver := sdk.NewPermissionResolver(fetcher, cache, nil, nil)

	_, err := resolver.Fetch(context.Background(), "bearer-1", sdk.FetchOptions{})
	assert.True(t, sdk.IsKind(err, sdk.KindPermissionFetch))
	assert.Equal(t, 0, cache.Len(), "failures are not cached")

	_, err = resolver.Fetch(context.Background(), "", sdk.FetchOptions{})
	assert.ErrorIs(t, err, sdk.ErrNotAuthenticated)
}

func TestResponseCache_Expires(t *testing.T) {
	cache := sdk.NewResponseCache(4, 20*time.Millisecond)
	cache.Add("bearer", twoRoleResolution("Manager"))

	_, ok := cache.Get("bearer")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := cache.Get("bearer")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestResponseCache_Defaults(t *testing.T) {
	cache := sdk.NewResponseCache(0, 0)
	cache.Add("a", twoRoleResolution("Manager"))
	cache.Remove("a")
	assert.Equal(t, 0, cache.Len())
}

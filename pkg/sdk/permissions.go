package sdk

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/terraconstructs/staffgrid/internal/logging"
	"github.com/terraconstructs/staffgrid/internal/telemetry"
)

// PermissionFetcher retrieves the permission set for a bearer token.
// *APIClient implements it.
type PermissionFetcher interface {
	Permissions(ctx context.Context, bearer string) (*ResolvedPermissions, error)
}

// FetchOptions tunes a permission fetch.
type FetchOptions struct {
	// Fresh bypasses the response cache. The result still refreshes it.
	Fresh bool
}

// PermissionResolver fetches permission sets, coalescing concurrent fetches
// for the same bearer and serving repeats from the response cache.
type PermissionResolver struct {
	api     PermissionFetcher
	cache   *ResponseCache
	group   singleflight.Group
	// gen advances on Invalidate so fetches started earlier neither share
	// results with later callers nor write back into the cache.
	gen     atomic.Uint64
	// cacheMu makes the generation check and cache write of a fetch atomic
	// with Invalidate.
	cacheMu sync.Mutex
	logger  *slog.Logger
	metrics *telemetry.AuthMetrics
}

// NewPermissionResolver creates a resolver. cache may be nil to disable caching.
func NewPermissionResolver(api PermissionFetcher, cache *ResponseCache, logger *slog.Logger, metrics *telemetry.AuthMetrics) *PermissionResolver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &PermissionResolver{
		api:     api,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// Fetch returns the permission set for bearer. Failures are KindPermissionFetch.
func (r *PermissionResolver) Fetch(ctx context.Context, bearer string, opts FetchOptions) (*ResolvedPermissions, error) {
	if bearer == "" {
		return nil, newError(KindPermissionFetch, "permissions", ErrNotAuthenticated)
	}

	if !opts.Fresh && r.cache != nil {
		if resolved, ok := r.cache.Get(bearer); ok {
			r.metrics.RecordCacheLookup(ctx, true)
			return resolved, nil
		}
		r.metrics.RecordCacheLookup(ctx, false)
	}

	gen := r.gen.Load()
	key := fingerprint(bearer) + ":" + strconv.FormatUint(gen, 10)
	if opts.Fresh {
		key += ":fresh"
	}

	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		ctx, span := telemetry.StartSpan(ctx, telemetry.TracerSDK, "permissions.Fetch",
			attribute.Bool("fresh", opts.Fresh),
		)
		defer span.End()

		resolved, err := r.api.Permissions(ctx, bearer)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, asError(err, KindPermissionFetch, "permissions")
		}
		span.SetAttributes(attribute.String(telemetry.AttrPrincipalRole, resolved.RoleName))
		r.store(gen, bearer, resolved)
		return resolved, nil
	})
	if err != nil {
		r.logger.Debug("permission fetch failed", "bearer", fingerprint(bearer)[:8], "error", err, "shared", shared)
		return nil, err
	}
	return v.(*ResolvedPermissions), nil
}

// store caches resolved unless Invalidate ran since the fetch began.
func (r *PermissionResolver) store(gen uint64, bearer string, resolved *ResolvedPermissions) {
	if r.cache == nil {
		return
	}
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if r.gen.Load() == gen {
		r.cache.Add(bearer, resolved)
	}
}

// Invalidate drops every cached permission response.
func (r *PermissionResolver) Invalidate() {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.gen.Add(1)
	if r.cache != nil {
		r.cache.Purge()
	}
}

// ShouldFetch reports whether p still needs its permission set loaded.
// A principal with a non-empty active-role permission set is skipped.
func ShouldFetch(p *Principal) bool {
	return !p.HasPermissions()
}

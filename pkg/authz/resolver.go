package authz

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store"
	"golang.org/x/sync/singleflight"
)

// AttributeCache is an optional cache shared across processes.
type AttributeCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, id uuid.UUID) (*Attributes, error)
	Set(ctx context.Context, attrs *Attributes) error
	// Delete evicts id and notifies every subscriber.
	Delete(ctx context.Context, id uuid.UUID) error
	// Subscribe calls evict for every Delete issued by any process until
	// ctx is done. It returns once the subscription is live.
	Subscribe(ctx context.Context, evict func(uuid.UUID)) error
}

// ResolverConfig configures a Resolver
type ResolverConfig struct {
	TTL     time.Duration
	Size    int
	Shared  AttributeCache
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Resolver answers "what is this principal's tenant and role" with a single
// primary-key read of the principal's own row. It never consults the
// evaluator, so no policy can recurse into itself through it.
//
// Lookups go request cache, local LRU, shared cache, then the store;
// concurrent store reads for one principal are coalesced. The cross-request
// caches only serve reads: ResolveFresh, used to gate writes, always reads
// the row in the caller's transaction.
//
// An invalidated principal is fenced for one TTL: no lookup may repopulate
// the local or shared cache for them, since the reading transaction may
// predate the change.
type Resolver struct {
	local   *expirable.LRU[uuid.UUID, Attributes]
	fences  *expirable.LRU[uuid.UUID, struct{}]
	shared  AttributeCache
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Size <= 0 {
		cfg.Size = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	return &Resolver{
		local:   expirable.NewLRU[uuid.UUID, Attributes](cfg.Size, nil, cfg.TTL),
		fences:  expirable.NewLRU[uuid.UUID, struct{}](cfg.Size, nil, cfg.TTL),
		shared:  cfg.Shared,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Resolve returns the attributes of principalID, or store.ErrNotFound when no
// such principal exists.
func (r *Resolver) Resolve(ctx context.Context, tx store.Tx, principalID uuid.UUID) (*Attributes, error) {
	if principalID == uuid.Nil {
		return nil, store.ErrNotFound
	}

	rc := requestCacheFrom(ctx)
	if a, ok := rc.get(principalID); ok {
		r.metrics.RecordResolverLookup("request")
		return a, nil
	}

	if a, ok := r.local.Get(principalID); ok {
		r.metrics.RecordResolverLookup("local")
		attrs := a
		rc.put(&attrs)
		return &attrs, nil
	}

	if r.shared != nil {
		a, err := r.shared.Get(ctx, principalID)
		if err != nil {
			r.logger.WithError(err).WithField("principal_id", principalID.String()).Warn("Shared attribute cache lookup failed")
		} else if a != nil {
			r.metrics.RecordResolverLookup("shared")
			r.local.Add(principalID, *a)
			rc.put(a)
			return a, nil
		}
	}

	r.metrics.RecordResolverLookup("miss")
	v, err, _ := r.group.Do(principalID.String(), func() (interface{}, error) {
		return r.load(ctx, tx, principalID)
	})
	if err != nil {
		return nil, err
	}

	attrs := v.(Attributes)
	r.remember(ctx, attrs)
	rc.put(&attrs)
	return &attrs, nil
}

// ResolveFresh reads principalID's own row in tx, bypassing the local and
// shared caches. Writes are gated on it so a revoked principal loses write
// access as soon as the change commits.
func (r *Resolver) ResolveFresh(ctx context.Context, tx store.Tx, principalID uuid.UUID) (*Attributes, error) {
	if principalID == uuid.Nil {
		return nil, store.ErrNotFound
	}
	r.metrics.RecordResolverLookup("fresh")
	attrs, err := r.load(ctx, tx, principalID)
	if err != nil {
		return nil, err
	}
	if cached, ok := r.local.Peek(principalID); ok && cached != attrs {
		r.local.Remove(principalID)
	}
	requestCacheFrom(ctx).put(&attrs)
	return &attrs, nil
}

func (r *Resolver) load(ctx context.Context, tx store.Tx, principalID uuid.UUID) (Attributes, error) {
	p, err := tx.GetPrincipal(ctx, principalID)
	if err != nil {
		return Attributes{}, err
	}
	return *AttributesOf(p), nil
}

func (r *Resolver) remember(ctx context.Context, attrs Attributes) {
	if r.fences.Contains(attrs.PrincipalID) {
		return
	}
	r.local.Add(attrs.PrincipalID, attrs)
	if r.shared != nil {
		if err := r.shared.Set(ctx, &attrs); err != nil {
			r.logger.WithError(err).Warn("Failed to populate shared attribute cache")
		}
	}
}

// Invalidate drops cached attributes after an approval, rejection, role
// change or deletion, here and, through the shared cache, on every replica
// that called Watch.
func (r *Resolver) Invalidate(ctx context.Context, principalID uuid.UUID) {
	r.evict(principalID)
	if rc := requestCacheFrom(ctx); rc != nil {
		rc.mu.Lock()
		delete(rc.attrs, principalID)
		rc.mu.Unlock()
	}
	if r.shared != nil {
		if err := r.shared.Delete(ctx, principalID); err != nil {
			r.logger.WithError(err).WithField("principal_id", principalID.String()).Warn("Failed to invalidate shared attribute cache")
		}
	}
}

func (r *Resolver) evict(principalID uuid.UUID) {
	r.fences.Add(principalID, struct{}{})
	r.local.Remove(principalID)
}

// Watch subscribes to invalidations issued by other replicas until ctx is
// done. It is a no-op without a shared cache.
func (r *Resolver) Watch(ctx context.Context) error {
	if r.shared == nil {
		return nil
	}
	return r.shared.Subscribe(ctx, r.evict)
}

package authz

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/models"
)

// Caller identifies who is performing an operation. It is created once per
// request and passed explicitly; PrincipalID is uuid.Nil for anonymous
// callers.
type Caller struct {
	PrincipalID uuid.UUID
	ShareToken  string
	// System marks internal sweeps. System callers bypass policies and are
	// recorded as such in the audit log.
	System bool
}

// Anonymous is the caller with no identity.
var Anonymous = Caller{}

// SystemCaller is used by scheduled sweeps.
var SystemCaller = Caller{System: true}

// PrincipalCaller returns a caller for an authenticated principal.
func PrincipalCaller(id uuid.UUID) Caller {
	return Caller{PrincipalID: id}
}

// IsAnonymous reports whether the caller has no principal.
func (c Caller) IsAnonymous() bool {
	return !c.System && c.PrincipalID == uuid.Nil
}

// Attributes are a principal's own tenant, role and approval facts, read
// from their own identity row by primary key.
type Attributes struct {
	PrincipalID    uuid.UUID             `json:"principal_id"`
	TenantID       uuid.UUID             `json:"tenant_id"`
	Role           models.Role           `json:"role"`
	ApprovalStatus models.ApprovalStatus `json:"approval_status"`
	IsActive       bool                  `json:"is_active"`
	Deleted        bool                  `json:"deleted"`
}

// AttributesOf extracts attributes from a principal row.
func AttributesOf(p *models.Principal) *Attributes {
	return &Attributes{
		PrincipalID:    p.ID,
		TenantID:       p.TenantRef(),
		Role:           p.Role,
		ApprovalStatus: p.ApprovalStatus,
		IsActive:       p.IsActive,
		Deleted:        p.DeletedAt != nil,
	}
}

// CanWrite reports whether the principal passes active-only gating.
func (a *Attributes) CanWrite() bool {
	return a != nil && !a.Deleted && a.IsActive && a.ApprovalStatus == models.ApprovalApproved
}

// Approved reports whether the principal may read beyond their own profile
// and tenant metadata.
func (a *Attributes) Approved() bool {
	return a.CanWrite()
}

// ElevatedIn reports whether the principal is an approved owner/admin of
// tenant.
func (a *Attributes) ElevatedIn(tenant uuid.UUID) bool {
	return a.CanWrite() && a.Role.Elevated() && tenant != uuid.Nil && a.TenantID == tenant
}

// WithCaller stores the caller in ctx for HTTP handlers.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return contextkeys.WithCaller(ctx, caller)
}

// CallerFrom returns the caller stored in ctx, or Anonymous.
func CallerFrom(ctx context.Context) Caller {
	if c, ok := ctx.Value(contextkeys.CallerKey).(Caller); ok {
		return c
	}
	return Anonymous
}

// requestCache memoizes resolved attributes for the lifetime of a request.
// A principal's own tenant and role cannot change mid-request.
type requestCache struct {
	mu    sync.Mutex
	attrs map[uuid.UUID]*Attributes
}

// WithRequestCache attaches an empty per-request attribute cache to ctx.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextkeys.AttributeCacheKey, &requestCache{attrs: make(map[uuid.UUID]*Attributes)})
}

func requestCacheFrom(ctx context.Context) *requestCache {
	rc, _ := ctx.Value(contextkeys.AttributeCacheKey).(*requestCache)
	return rc
}

func (rc *requestCache) get(id uuid.UUID) (*Attributes, bool) {
	if rc == nil {
		return nil, false
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	a, ok := rc.attrs[id]
	return a, ok
}

func (rc *requestCache) put(a *Attributes) {
	if rc == nil {
		return
	}
	rc.mu.Lock()
	rc.attrs[a.PrincipalID] = a
	rc.mu.Unlock()
}

// Package store defines the unit-of-work storage abstraction shared by the
// memory and postgres backends.
//
// A Tx is privileged: it reads and writes rows without consulting any
// authorization policy. Callers outside the access, enrollment and derived
// layers should not hold one.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write violates a unique key.
	ErrDuplicate = errors.New("duplicate key")
)

// Filter narrows a List. Zero fields are ignored. Tombstoned rows are
// excluded unless IncludeDeleted is set.
type Filter struct {
	TenantID       uuid.UUID
	ProjectID      uuid.UUID
	ParentID       uuid.UUID
	IncludeDeleted bool
}

// Matches reports whether rec passes the filter.
func (f Filter) Matches(rec models.Record) bool {
	if f.TenantID != uuid.Nil && models.TenantOf(rec) != f.TenantID {
		return false
	}
	if f.ProjectID != uuid.Nil && models.ProjectOf(rec) != f.ProjectID {
		return false
	}
	if f.ParentID != uuid.Nil && models.ParentOf(rec) != f.ParentID {
		return false
	}
	if !f.IncludeDeleted && models.IsDeleted(rec) {
		return false
	}
	return true
}

// Tx is one unit of work.
type Tx interface {
	// Get returns the row with id, tombstoned or not.
	Get(ctx context.Context, table models.Table, id uuid.UUID) (models.Record, error)
	List(ctx context.Context, table models.Table, filter Filter) ([]models.Record, error)
	Insert(ctx context.Context, rec models.Record) error
	Update(ctx context.Context, rec models.Record) error
	// Delete removes a row outright. Soft-deletable tables are tombstoned
	// through Update instead.
	Delete(ctx context.Context, table models.Table, id uuid.UUID) error

	// Point lookups by unique key.
	GetPrincipal(ctx context.Context, id uuid.UUID) (*models.Principal, error)
	GetPrincipalByIdentity(ctx context.Context, identityKey string) (*models.Principal, error)
	GetTenantByNormalizedName(ctx context.Context, normalized string) (*models.Tenant, error)
	GetShareByToken(ctx context.Context, token string) (*models.ReportShare, error)
	MembershipFor(ctx context.Context, projectID, principalID uuid.UUID) (*models.Membership, error)
}

// Store opens units of work. Update is atomic: an error returned by fn
// discards every write fn made.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tables returns every registered table.
func Tables() []models.Table {
	return models.AllTables
}

// UniqueKey returns the secondary unique key of rec, or "" when its table
// has none.
func UniqueKey(rec models.Record) string {
	switch r := rec.(type) {
	case *models.Tenant:
		return r.NormalizedName
	case *models.Principal:
		return r.IdentityKey
	case *models.Membership:
		return MembershipKey(r.ProjectID, r.PrincipalID)
	case *models.ReportShare:
		return r.Token
	}
	return ""
}

// MembershipKey is the unique key of a (project, principal) membership.
func MembershipKey(projectID, principalID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", projectID, principalID)
}

// GetAs fetches a row and asserts its concrete type.
func GetAs[T models.Record](ctx context.Context, tx Tx, table models.Table, id uuid.UUID) (T, error) {
	var zero T
	rec, err := tx.Get(ctx, table, id)
	if err != nil {
		return zero, err
	}
	typed, ok := rec.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected record type %T in %s", rec, table)
	}
	return typed, nil
}

// ListAs lists rows and asserts their concrete type.
func ListAs[T models.Record](ctx context.Context, tx Tx, table models.Table, filter Filter) ([]T, error) {
	recs, err := tx.List(ctx, table, filter)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		typed, ok := rec.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected record type %T in %s", rec, table)
		}
		out = append(out, typed)
	}
	return out, nil
}

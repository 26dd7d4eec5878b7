// Package memory implements store.Store on go-memdb.
//
// memdb gives us MVCC snapshots for View and a single serialized writer for
// Update, so a unit of work here is serializable. Secondary unique keys are
// not enforced by memdb itself and are checked before every write.
package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
)

const (
	indexID      = "id"
	indexTenant  = "tenant"
	indexProject = "project"
	indexParent  = "parent"
	indexUnique  = "unique"
)

// row is the indexed envelope memdb stores. Rec is never mutated after
// insertion; readers get clones.
type row struct {
	ID      string
	Tenant  string
	Project string
	Parent  string
	Unique  string
	Rec     models.Record
}

func newRow(rec models.Record) *row {
	r := &row{
		ID:     rec.RecordID().String(),
		Unique: store.UniqueKey(rec),
		Rec:    rec.Clone(),
	}
	if id := models.TenantOf(rec); id != uuid.Nil {
		r.Tenant = id.String()
	}
	if id := models.ProjectOf(rec); id != uuid.Nil {
		r.Project = id.String()
	}
	if id := models.ParentOf(rec); id != uuid.Nil {
		r.Parent = id.String()
	}
	return r
}

func schema() *memdb.DBSchema {
	tables := make(map[string]*memdb.TableSchema, len(models.AllTables))
	for _, t := range models.AllTables {
		name := string(t)
		tables[name] = &memdb.TableSchema{
			Name: name,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				indexTenant: {
					Name:         indexTenant,
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "Tenant"},
				},
				indexProject: {
					Name:         indexProject,
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "Project"},
				},
				indexParent: {
					Name:         indexParent,
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "Parent"},
				},
				indexUnique: {
					Name:         indexUnique,
					Unique:       true,
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "Unique"},
				},
			},
		}
	}
	return &memdb.DBSchema{Tables: tables}
}

// Store is an in-memory store.Store.
type Store struct {
	db *memdb.MemDB
}

// New creates an empty in-memory store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	return &Store{db: db}, nil
}

// Update runs fn in a write transaction, committing only if fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := fn(&tx{txn: txn, write: true}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// View runs fn against a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(&tx{txn: txn})
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

type tx struct {
	txn   *memdb.Txn
	write bool
}

func (t *tx) first(table models.Table, index, value string) (*row, error) {
	raw, err := t.txn.First(string(table), index, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", table, index, err)
	}
	if raw == nil {
		return nil, store.ErrNotFound
	}
	return raw.(*row), nil
}

func (t *tx) Get(ctx context.Context, table models.Table, id uuid.UUID) (models.Record, error) {
	r, err := t.first(table, indexID, id.String())
	if err != nil {
		return nil, err
	}
	return r.Rec.Clone(), nil
}

func (t *tx) List(ctx context.Context, table models.Table, filter store.Filter) ([]models.Record, error) {
	index, args := indexID, []interface{}{}
	switch {
	case filter.ParentID != uuid.Nil:
		index, args = indexParent, []interface{}{filter.ParentID.String()}
	case filter.ProjectID != uuid.Nil:
		index, args = indexProject, []interface{}{filter.ProjectID.String()}
	case filter.TenantID != uuid.Nil:
		index, args = indexTenant, []interface{}{filter.TenantID.String()}
	}

	it, err := t.txn.Get(string(table), index, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}

	var out []models.Record
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*row).Rec
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (t *tx) checkUnique(table models.Table, r *row) error {
	if r.Unique == "" {
		return nil
	}
	existing, err := t.first(table, indexUnique, r.Unique)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != r.ID {
		return fmt.Errorf("%s %q: %w", table, r.Unique, store.ErrDuplicate)
	}
	return nil
}

func (t *tx) Insert(ctx context.Context, rec models.Record) error {
	if !t.write {
		return fmt.Errorf("insert into %s: read-only transaction", rec.Table())
	}
	if rec.RecordID() == uuid.Nil {
		return fmt.Errorf("insert into %s: missing id", rec.Table())
	}
	r := newRow(rec)
	if _, err := t.first(rec.Table(), indexID, r.ID); err == nil {
		return fmt.Errorf("%s %s: %w", rec.Table(), r.ID, store.ErrDuplicate)
	} else if err != store.ErrNotFound {
		return err
	}
	if err := t.checkUnique(rec.Table(), r); err != nil {
		return err
	}
	if err := t.txn.Insert(string(rec.Table()), r); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", rec.Table(), err)
	}
	return nil
}

func (t *tx) Update(ctx context.Context, rec models.Record) error {
	if !t.write {
		return fmt.Errorf("update %s: read-only transaction", rec.Table())
	}
	r := newRow(rec)
	if _, err := t.first(rec.Table(), indexID, r.ID); err != nil {
		return err
	}
	if err := t.checkUnique(rec.Table(), r); err != nil {
		return err
	}
	if err := t.txn.Insert(string(rec.Table()), r); err != nil {
		return fmt.Errorf("failed to update %s: %w", rec.Table(), err)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, table models.Table, id uuid.UUID) error {
	if !t.write {
		return fmt.Errorf("delete from %s: read-only transaction", table)
	}
	r, err := t.first(table, indexID, id.String())
	if err != nil {
		return err
	}
	if err := t.txn.Delete(string(table), r); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

func (t *tx) GetPrincipal(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	return store.GetAs[*models.Principal](ctx, t, models.TablePrincipals, id)
}

func (t *tx) GetPrincipalByIdentity(ctx context.Context, identityKey string) (*models.Principal, error) {
	r, err := t.first(models.TablePrincipals, indexUnique, identityKey)
	if err != nil {
		return nil, err
	}
	return r.Rec.Clone().(*models.Principal), nil
}

func (t *tx) GetTenantByNormalizedName(ctx context.Context, normalized string) (*models.Tenant, error) {
	r, err := t.first(models.TableTenants, indexUnique, normalized)
	if err != nil {
		return nil, err
	}
	return r.Rec.Clone().(*models.Tenant), nil
}

func (t *tx) GetShareByToken(ctx context.Context, token string) (*models.ReportShare, error) {
	r, err := t.first(models.TableReportShares, indexUnique, token)
	if err != nil {
		return nil, err
	}
	return r.Rec.Clone().(*models.ReportShare), nil
}

func (t *tx) MembershipFor(ctx context.Context, projectID, principalID uuid.UUID) (*models.Membership, error) {
	r, err := t.first(models.TableMemberships, indexUnique, store.MembershipKey(projectID, principalID))
	if err != nil {
		return nil, err
	}
	return r.Rec.Clone().(*models.Membership), nil
}

// Package access is the only path by which callers read and write protected
// rows. Every operation runs inside one unit of work: the caller is resolved,
// the row's tenant and project are derived from its parent, the policy for
// the table is evaluated, the write is applied, and the events pipeline runs
// its maintainers, handlers and aggregates before commit.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/derived"
	"github.com/platinummonkey/keystone/pkg/events"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store"
)

// Gateway binds the store, evaluator and pipeline together.
type Gateway struct {
	store     store.Store
	evaluator *authz.Evaluator
	pipeline  *events.Pipeline
	recalc    *derived.Recalculator
	logger    *observability.Logger
	clock     func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(g *Gateway) { g.clock = clock }
}

// WithLogger sets the gateway logger.
func WithLogger(logger *observability.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGateway creates a gateway.
func NewGateway(s store.Store, evaluator *authz.Evaluator, pipeline *events.Pipeline, opts ...Option) *Gateway {
	g := &Gateway{
		store:     s,
		evaluator: evaluator,
		pipeline:  pipeline,
		recalc:    derived.NewRecalculator(evaluator, pipeline),
		logger:    observability.NopLogger(),
		clock:     models.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DefaultPipeline builds the pipeline used in production: creator
// auto-enrollment, every derived maintainer and aggregate, then the audit
// trail.
func DefaultPipeline(clock func() time.Time, metrics *observability.Metrics, logger *observability.Logger) *events.Pipeline {
	opts := []events.Option{
		events.WithHandler(events.AutoEnroll()),
	}
	opts = append(opts, derived.Options(clock)...)
	opts = append(opts,
		events.WithAudit(events.Audit()),
		events.WithMetrics(metrics),
		events.WithLogger(logger),
	)
	return events.NewPipeline(opts...)
}

// Evaluator returns the gateway's evaluator.
func (g *Gateway) Evaluator() *authz.Evaluator {
	return g.evaluator
}

// Pipeline returns the gateway's pipeline.
func (g *Gateway) Pipeline() *events.Pipeline {
	return g.pipeline
}

// For returns a session acting as caller.
func (g *Gateway) For(caller authz.Caller) *Session {
	return &Session{g: g, caller: caller}
}

// Session performs operations on behalf of one caller.
type Session struct {
	g      *Gateway
	caller authz.Caller
}

// Caller returns the session's caller.
func (s *Session) Caller() authz.Caller {
	return s.caller
}

// Get returns one visible row. Rows the caller cannot read, tombstoned rows
// and missing rows are all NotFound.
func (s *Session) Get(ctx context.Context, table models.Table, id uuid.UUID) (models.Record, error) {
	if err := knownTable(table); err != nil {
		return nil, err
	}
	var out models.Record
	err := s.g.store.View(ctx, func(tx store.Tx) error {
		rec, err := s.visible(ctx, tx, table, id)
		out = rec
		return err
	})
	return out, err
}

// List returns the rows of table matching filter that the caller can read.
// Invisible rows are silently omitted.
func (s *Session) List(ctx context.Context, table models.Table, filter store.Filter) ([]models.Record, error) {
	if err := knownTable(table); err != nil {
		return nil, err
	}
	var out []models.Record
	err := s.g.store.View(ctx, func(tx store.Tx) error {
		rows, err := tx.List(ctx, table, filter)
		if err != nil {
			return err
		}
		out, err = s.g.evaluator.Filter(ctx, tx, s.caller, rows)
		return err
	})
	return out, err
}

// History returns the audit entries recorded for one row, oldest first.
// Only tenant admins see the audit trail; for anyone else, and for rows the
// caller cannot read, the row is NotFound.
func (s *Session) History(ctx context.Context, table models.Table, id uuid.UUID) ([]*models.AuditEntry, error) {
	if err := knownTable(table); err != nil {
		return nil, err
	}
	var out []*models.AuditEntry
	err := s.g.store.View(ctx, func(tx store.Tx) error {
		rec, err := tx.Get(ctx, table, id)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("%s %s not found", table, id)
		}
		if err != nil {
			return err
		}
		if err := s.g.evaluator.Check(ctx, tx, s.caller, authz.OpRead, rec, nil); err != nil {
			return err
		}
		tenant := models.TenantOf(rec)
		if !s.caller.System {
			attrs, err := s.g.evaluator.Attributes(ctx, tx, s.caller)
			if err != nil {
				return err
			}
			if !attrs.ElevatedIn(tenant) {
				return apperrors.NotFound("%s %s not found", table, id)
			}
		}

		entries, err := store.ListAs[*models.AuditEntry](ctx, tx, models.TableAuditLogs, store.Filter{TenantID: tenant})
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.RecordTable == table && entry.RowID == id {
				out = append(out, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}

// Insert writes a new row and returns it as stored.
func (s *Session) Insert(ctx context.Context, rec models.Record) (models.Record, error) {
	var out models.Record
	err := s.Batch(ctx, func(stmt *Stmt) error {
		var err error
		out, err = stmt.Insert(ctx, rec)
		return err
	})
	return out, err
}

// Update replaces a row and returns it as stored.
func (s *Session) Update(ctx context.Context, rec models.Record) (models.Record, error) {
	var out models.Record
	err := s.Batch(ctx, func(stmt *Stmt) error {
		var err error
		out, err = stmt.Update(ctx, rec)
		return err
	})
	return out, err
}

// Delete tombstones a row, or removes it when its table has no tombstone.
func (s *Session) Delete(ctx context.Context, table models.Table, id uuid.UUID) error {
	return s.Batch(ctx, func(stmt *Stmt) error {
		return stmt.Delete(ctx, table, id)
	})
}

// Restore clears a tombstone.
func (s *Session) Restore(ctx context.Context, table models.Table, id uuid.UUID) (models.Record, error) {
	var out models.Record
	err := s.Batch(ctx, func(stmt *Stmt) error {
		var err error
		out, err = stmt.Restore(ctx, table, id)
		return err
	})
	return out, err
}

// Batch runs fn as one statement: every write fn makes commits together,
// and each touched aggregate is recomputed once at the end.
func (s *Session) Batch(ctx context.Context, fn func(*Stmt) error) error {
	ctx, span := observability.Tracer().Start(ctx, "access.Batch")
	defer span.End()

	var invalidate []uuid.UUID
	err := s.g.store.Update(ctx, func(tx store.Tx) error {
		stmt := &Stmt{session: s, tx: tx, events: s.g.pipeline.Begin()}
		if err := fn(stmt); err != nil {
			return err
		}
		if err := stmt.events.Flush(ctx, tx); err != nil {
			return err
		}
		invalidate = stmt.principals
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.g.logger.WithError(err).WithField("principal_id", s.caller.PrincipalID.String()).Debug("Statement aborted")
		return err
	}
	for _, id := range invalidate {
		s.g.evaluator.Resolver().Invalidate(ctx, id)
	}
	return nil
}

// RecalculateEstimateTotals re-derives an estimate's totals from its
// items. The caller only needs to see the estimate.
func (s *Session) RecalculateEstimateTotals(ctx context.Context, estimateID uuid.UUID) (*models.CostEstimate, error) {
	var out *models.CostEstimate
	err := s.g.store.Update(ctx, func(tx store.Tx) error {
		var err error
		out, err = s.g.recalc.RecalculateEstimateTotals(ctx, tx, s.caller, estimateID)
		return err
	})
	return out, err
}

// RecalculateProjectCost re-derives a project's actual cost and percent
// plan complete.
func (s *Session) RecalculateProjectCost(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	var out *models.Project
	err := s.g.store.Update(ctx, func(tx store.Tx) error {
		var err error
		out, err = s.g.recalc.RecalculateProjectCost(ctx, tx, s.caller, projectID)
		return err
	})
	return out, err
}

func (s *Session) visible(ctx context.Context, tx store.Tx, table models.Table, id uuid.UUID) (models.Record, error) {
	rec, err := tx.Get(ctx, table, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && models.IsDeleted(rec)) {
		return nil, apperrors.NotFound("%s %s not found", table, id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.g.evaluator.Check(ctx, tx, s.caller, authz.OpRead, rec, nil); err != nil {
		return nil, err
	}
	return rec, nil
}

// Stmt is one statement inside a Batch.
type Stmt struct {
	session    *Session
	tx         store.Tx
	events     *events.Statement
	principals []uuid.UUID
}

// Get reads a visible row inside the statement, seeing its earlier writes.
func (st *Stmt) Get(ctx context.Context, table models.Table, id uuid.UUID) (models.Record, error) {
	if err := knownTable(table); err != nil {
		return nil, err
	}
	return st.session.visible(ctx, st.tx, table, id)
}

// Insert validates, scopes, authorizes and stores rec.
func (st *Stmt) Insert(ctx context.Context, rec models.Record) (models.Record, error) {
	if rec == nil {
		return nil, apperrors.Validation("record is required")
	}
	if err := knownTable(rec.Table()); err != nil {
		return nil, err
	}
	rec = rec.Clone()
	if v, ok := rec.(models.Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	if idr, ok := rec.(models.Identifiable); ok && rec.RecordID() == uuid.Nil {
		idr.AssignID(uuid.New())
	}
	if sd, ok := rec.(models.SoftDeletable); ok {
		sd.SetDeleted(nil)
	}
	if err := st.scope(ctx, rec); err != nil {
		return nil, err
	}
	now := st.session.g.clock()
	stampInsert(rec, st.session.caller, now)

	if err := st.session.g.evaluator.Check(ctx, st.tx, st.session.caller, authz.OpInsert, rec, nil); err != nil {
		return nil, err
	}
	evt := events.ChangeEvent{Table: rec.Table(), Op: events.OpInsert, New: rec, Caller: st.session.caller, At: now}
	if err := st.events.Prepare(ctx, &evt); err != nil {
		return nil, err
	}
	if err := st.tx.Insert(ctx, evt.New); err != nil {
		return nil, conflict(err, rec.Table())
	}
	if err := st.events.Publish(ctx, st.tx, evt); err != nil {
		return nil, err
	}
	return evt.New.Clone(), nil
}

// Update validates and authorizes a replacement for an existing row.
// Identity, ownership and creation fields always keep their stored values.
func (st *Stmt) Update(ctx context.Context, rec models.Record) (models.Record, error) {
	if rec == nil {
		return nil, apperrors.Validation("record is required")
	}
	if err := knownTable(rec.Table()); err != nil {
		return nil, err
	}
	prior, err := st.Get(ctx, rec.Table(), rec.RecordID())
	if err != nil {
		return nil, err
	}
	rec = rec.Clone()
	now := st.session.g.clock()
	preserve(rec, prior, now)
	if v, ok := rec.(models.Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	if err := st.rescope(ctx, rec, prior); err != nil {
		return nil, err
	}

	if err := st.session.g.evaluator.Check(ctx, st.tx, st.session.caller, authz.OpUpdate, rec, prior); err != nil {
		return nil, err
	}
	evt := events.ChangeEvent{Table: rec.Table(), Op: events.OpUpdate, Old: prior, New: rec, Caller: st.session.caller, At: now}
	if err := st.events.Prepare(ctx, &evt); err != nil {
		return nil, err
	}
	if err := st.tx.Update(ctx, evt.New); err != nil {
		return nil, conflict(err, rec.Table())
	}
	if err := st.events.Publish(ctx, st.tx, evt); err != nil {
		return nil, err
	}
	if rec.Table() == models.TablePrincipals {
		st.principals = append(st.principals, rec.RecordID())
	}
	return evt.New.Clone(), nil
}

// Delete tombstones a soft-deletable row and removes any other.
func (st *Stmt) Delete(ctx context.Context, table models.Table, id uuid.UUID) error {
	if err := knownTable(table); err != nil {
		return err
	}
	if table == models.TablePrincipals {
		return apperrors.Validation("principals are removed through the enrollment service")
	}
	prior, err := st.Get(ctx, table, id)
	if err != nil {
		return err
	}
	if err := st.session.g.evaluator.Check(ctx, st.tx, st.session.caller, authz.OpDelete, prior, nil); err != nil {
		return err
	}

	now := st.session.g.clock()
	evt := events.ChangeEvent{Table: table, Op: events.OpDelete, Old: prior, Caller: st.session.caller, At: now}
	if _, ok := prior.(models.SoftDeletable); ok {
		next := prior.Clone()
		next.(models.SoftDeletable).SetDeleted(&now)
		stampUpdate(next, now)
		evt.New = next
		err = st.tx.Update(ctx, next)
	} else {
		err = st.tx.Delete(ctx, table, id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", table, id, err)
	}
	return st.events.Publish(ctx, st.tx, evt)
}

// Restore clears the tombstone of a row the caller could delete.
func (st *Stmt) Restore(ctx context.Context, table models.Table, id uuid.UUID) (models.Record, error) {
	if err := knownTable(table); err != nil {
		return nil, err
	}
	if table == models.TablePrincipals {
		return nil, apperrors.Validation("principals are restored through the enrollment service")
	}
	prior, err := st.tx.Get(ctx, table, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("%s %s not found", table, id)
	}
	if err != nil {
		return nil, err
	}
	if _, ok := prior.(models.SoftDeletable); !ok {
		return nil, apperrors.Validation("%s rows cannot be restored", table)
	}
	if !models.IsDeleted(prior) {
		return nil, apperrors.ConflictIgnored("%s %s is not deleted", table, id)
	}
	ok, err := st.session.g.evaluator.Allowed(ctx, st.tx, st.session.caller, authz.OpRead, prior, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("%s %s not found", table, id)
	}
	if err := st.session.g.evaluator.Check(ctx, st.tx, st.session.caller, authz.OpDelete, prior, nil); err != nil {
		return nil, err
	}

	now := st.session.g.clock()
	next := prior.Clone()
	next.(models.SoftDeletable).SetDeleted(nil)
	stampUpdate(next, now)
	evt := events.ChangeEvent{Table: table, Op: events.OpRestore, Old: prior, New: next, Caller: st.session.caller, At: now}
	if err := st.events.Prepare(ctx, &evt); err != nil {
		return nil, err
	}
	if err := st.tx.Update(ctx, evt.New); err != nil {
		return nil, conflict(err, table)
	}
	if err := st.events.Publish(ctx, st.tx, evt); err != nil {
		return nil, err
	}
	return evt.New.Clone(), nil
}

func knownTable(table models.Table) error {
	if _, ok := models.New(table); !ok {
		return apperrors.Validation("unknown table %q", table)
	}
	return nil
}

func conflict(err error, table models.Table) error {
	if errors.Is(err, store.ErrDuplicate) {
		return apperrors.ConflictIgnored("%s already exists", table)
	}
	return fmt.Errorf("failed to write %s: %w", table, err)
}

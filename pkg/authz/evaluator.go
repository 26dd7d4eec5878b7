package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store"
)

// Op is a row operation
type Op string

const (
	OpRead   Op = "read"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// AllOps lists every operation.
var AllOps = []Op{OpRead, OpInsert, OpUpdate, OpDelete}

// Rule decides one operation on one row. A nil rule denies.
type Rule func(req *Request) (bool, error)

// PolicySet holds the rules of one table.
type PolicySet struct {
	Read   Rule
	Insert Rule
	Update Rule
	Delete Rule
}

func (p PolicySet) rule(op Op) Rule {
	switch op {
	case OpRead:
		return p.Read
	case OpInsert:
		return p.Insert
	case OpUpdate:
		return p.Update
	case OpDelete:
		return p.Delete
	}
	return nil
}

// Request is the input to a Rule.
type Request struct {
	Caller Caller
	// Attrs is nil for anonymous callers and unknown or deleted principals.
	Attrs *Attributes
	Op    Op
	// Row is the existing row for read and delete, the candidate row for
	// insert and update.
	Row models.Record
	// Prior is the existing row on update.
	Prior models.Record

	scope *scope
}

// Membership returns the caller's membership in the row's project, or nil.
// It reads project_users directly by its unique key; it never evaluates the
// project_users policy.
func (r *Request) Membership() (*models.Membership, error) {
	if r.Attrs == nil {
		return nil, nil
	}
	project := ProjectKey(r.Row)
	if project == uuid.Nil {
		return nil, nil
	}
	return r.scope.membership(project, r.Attrs.PrincipalID)
}

// ProjectKey returns the project a row is scoped to; for a project row this
// is its own ID.
func ProjectKey(row models.Record) uuid.UUID {
	if p, ok := row.(*models.Project); ok {
		return p.ID
	}
	return models.ProjectOf(row)
}

// scope carries per-call state shared by the rules evaluated in one Check
// or Filter.
type scope struct {
	ctx         context.Context
	tx          store.Tx
	memberships map[uuid.UUID]*models.Membership
}

func (s *scope) membership(project, principal uuid.UUID) (*models.Membership, error) {
	if m, ok := s.memberships[project]; ok {
		return m, nil
	}
	m, err := s.tx.MembershipFor(s.ctx, project, principal)
	if errors.Is(err, store.ErrNotFound) {
		m, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	s.memberships[project] = m
	return m, nil
}

// Evaluator decides every row operation against the per-table policy sets.
type Evaluator struct {
	resolver *Resolver
	policies map[models.Table]PolicySet
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewEvaluator creates an evaluator. Every registered table must have a
// policy set; a table without one would silently deny everything.
func NewEvaluator(resolver *Resolver, policies map[models.Table]PolicySet, metrics *observability.Metrics, logger *observability.Logger) (*Evaluator, error) {
	var missing []string
	for _, table := range store.Tables() {
		if _, ok := policies[table]; !ok {
			missing = append(missing, string(table))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("tables without a policy set: %v", missing)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Evaluator{
		resolver: resolver,
		policies: policies,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Resolver returns the attribute resolver.
func (e *Evaluator) Resolver() *Resolver {
	return e.resolver
}

// Coverage reports, per table, the operations that have an explicit rule.
// Operations not listed are denied.
func (e *Evaluator) Coverage() map[models.Table][]Op {
	out := make(map[models.Table][]Op, len(e.policies))
	for table, set := range e.policies {
		ops := []Op{}
		for _, op := range AllOps {
			if set.rule(op) != nil {
				ops = append(ops, op)
			}
		}
		out[table] = ops
	}
	return out
}

// Attributes resolves the caller for reads. Anonymous callers and unknown or
// deleted principals yield nil.
func (e *Evaluator) Attributes(ctx context.Context, tx store.Tx, caller Caller) (*Attributes, error) {
	return e.attributes(ctx, tx, caller, e.resolver.Resolve)
}

// WriterAttributes is Attributes read from the caller's row in tx, never
// from a cross-request cache.
func (e *Evaluator) WriterAttributes(ctx context.Context, tx store.Tx, caller Caller) (*Attributes, error) {
	return e.attributes(ctx, tx, caller, e.resolver.ResolveFresh)
}

func (e *Evaluator) attributes(ctx context.Context, tx store.Tx, caller Caller, resolve func(context.Context, store.Tx, uuid.UUID) (*Attributes, error)) (*Attributes, error) {
	if caller.PrincipalID == uuid.Nil {
		return nil, nil
	}
	attrs, err := resolve(ctx, tx, caller.PrincipalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve caller: %w", err)
	}
	if attrs.Deleted {
		return nil, nil
	}
	return attrs, nil
}

func (e *Evaluator) newScope(ctx context.Context, tx store.Tx) *scope {
	return &scope{ctx: ctx, tx: tx, memberships: make(map[uuid.UUID]*models.Membership)}
}

func (e *Evaluator) decide(sc *scope, caller Caller, attrs *Attributes, op Op, row, prior models.Record) (bool, error) {
	if caller.System {
		return true, nil
	}
	set, ok := e.policies[row.Table()]
	if !ok {
		return false, nil
	}
	rule := set.rule(op)
	if rule == nil {
		return false, nil
	}
	return rule(&Request{Caller: caller, Attrs: attrs, Op: op, Row: row, Prior: prior, scope: sc})
}

// Allowed reports whether caller may perform op on row. For updates, prior
// is the stored row and row the candidate; both must pass.
func (e *Evaluator) Allowed(ctx context.Context, tx store.Tx, caller Caller, op Op, row, prior models.Record) (bool, error) {
	resolve := e.Attributes
	if op != OpRead {
		resolve = e.WriterAttributes
	}
	attrs, err := resolve(ctx, tx, caller)
	if err != nil {
		return false, err
	}
	sc := e.newScope(ctx, tx)

	allowed, err := e.decide(sc, caller, attrs, op, row, prior)
	if err == nil && allowed && op == OpUpdate && prior != nil {
		allowed, err = e.decide(sc, caller, attrs, op, prior, prior)
	}
	if err != nil {
		return false, err
	}

	e.metrics.RecordAuthzDecision(string(row.Table()), string(op), allowed)
	if !allowed {
		e.logger.WithFields(map[string]interface{}{
			"table":        string(row.Table()),
			"op":           string(op),
			"record_id":    row.RecordID().String(),
			"principal_id": caller.PrincipalID.String(),
		}).Debug("Access denied")
	}
	return allowed, nil
}

// Check is Allowed with the error taxonomy applied: a denied read is
// indistinguishable from a missing row, a denied write is PermissionDenied.
func (e *Evaluator) Check(ctx context.Context, tx store.Tx, caller Caller, op Op, row, prior models.Record) error {
	allowed, err := e.Allowed(ctx, tx, caller, op, row, prior)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}
	if op == OpRead {
		return apperrors.NotFound("%s %s not found", row.Table(), row.RecordID())
	}
	return apperrors.PermissionDenied("%s on %s denied", op, row.Table())
}

// Filter drops the rows caller may not read.
func (e *Evaluator) Filter(ctx context.Context, tx store.Tx, caller Caller, rows []models.Record) ([]models.Record, error) {
	attrs, err := e.Attributes(ctx, tx, caller)
	if err != nil {
		return nil, err
	}
	sc := e.newScope(ctx, tx)

	out := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		allowed, err := e.decide(sc, caller, attrs, OpRead, row, nil)
		if err != nil {
			return nil, err
		}
		e.metrics.RecordAuthzDecision(string(row.Table()), string(OpRead), allowed)
		if allowed {
			out = append(out, row)
		}
	}
	return out, nil
}

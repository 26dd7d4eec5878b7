// Package events runs the in-transaction reactions to row writes.
//
// A write inside a unit of work goes through three stages, always in this
// order:
//
//  1. Maintainers run before the row is stored and rewrite its computed
//     fields from sibling fields of the same row.
//  2. Handlers run after the row is stored: membership auto-enrollment,
//     aggregate key collection and the audit trail.
//  3. At statement end, Flush recomputes every aggregate whose source rows
//     changed, once per distinct parent key.
//
// Any error aborts the unit of work.
package events

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store"
)

// Op is the kind of row write
type Op string

const (
	OpInsert  Op = "insert"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
	OpRestore Op = "restore"
)

// ChangeEvent describes one row write. Old is nil on insert.
type ChangeEvent struct {
	Table  models.Table
	Op     Op
	Old    models.Record
	New    models.Record
	Caller authz.Caller
	At     time.Time
}

// Row returns the row as written.
func (e *ChangeEvent) Row() models.Record {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

// Maintainer rewrites computed fields of the candidate row before it is
// stored. It must only read fields of evt.New itself.
type Maintainer interface {
	Maintain(ctx context.Context, evt *ChangeEvent) error
}

// MaintainerFunc adapts a function to Maintainer.
type MaintainerFunc func(ctx context.Context, evt *ChangeEvent) error

func (f MaintainerFunc) Maintain(ctx context.Context, evt *ChangeEvent) error { return f(ctx, evt) }

// Handler reacts to a stored row.
type Handler interface {
	Handle(ctx context.Context, tx store.Tx, evt ChangeEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, tx store.Tx, evt ChangeEvent) error

func (f HandlerFunc) Handle(ctx context.Context, tx store.Tx, evt ChangeEvent) error {
	return f(ctx, tx, evt)
}

// Key identifies one aggregate instance to recompute.
type Key struct {
	Aggregate string
	ID        uuid.UUID
}

// Aggregator is a statement-level maintainer. Keys reports which parents a
// change touches; Recompute re-derives one parent from its current source
// rows.
type Aggregator interface {
	Name() string
	Keys(evt ChangeEvent) []uuid.UUID
	Recompute(ctx context.Context, tx store.Tx, id uuid.UUID) error
}

// Pipeline holds the fixed stages. It is safe for concurrent use; per
// statement state lives in Statement.
type Pipeline struct {
	maintainers map[models.Table][]Maintainer
	before      []Handler
	after       []Handler
	aggregators map[string]Aggregator
	order       []string
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithMaintainer registers a row-level maintainer for table.
func WithMaintainer(table models.Table, m Maintainer) Option {
	return func(p *Pipeline) {
		p.maintainers[table] = append(p.maintainers[table], m)
	}
}

// WithHandler registers a handler that runs before aggregate collection.
func WithHandler(h Handler) Option {
	return func(p *Pipeline) {
		p.before = append(p.before, h)
	}
}

// WithAggregator registers a statement-level aggregator.
func WithAggregator(a Aggregator) Option {
	return func(p *Pipeline) {
		if _, ok := p.aggregators[a.Name()]; !ok {
			p.order = append(p.order, a.Name())
		}
		p.aggregators[a.Name()] = a
	}
}

// WithAudit registers the final handler stage.
func WithAudit(h Handler) Option {
	return func(p *Pipeline) {
		p.after = append(p.after, h)
	}
}

// WithMetrics records recompute timings.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates a pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		maintainers: make(map[models.Table][]Maintainer),
		aggregators: make(map[string]Aggregator),
		logger:      observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Begin starts a statement.
func (p *Pipeline) Begin() *Statement {
	return &Statement{pipeline: p, pending: make(map[Key]struct{})}
}

// Aggregator returns the aggregator registered under name.
func (p *Pipeline) Aggregator(name string) (Aggregator, bool) {
	a, ok := p.aggregators[name]
	return a, ok
}

// Statement collects the parent keys touched by a group of writes.
type Statement struct {
	pipeline *Pipeline
	pending  map[Key]struct{}
}

// Prepare runs the row-level maintainers of evt.Table on evt.New.
func (s *Statement) Prepare(ctx context.Context, evt *ChangeEvent) error {
	if evt.New == nil {
		return nil
	}
	for _, m := range s.pipeline.maintainers[evt.Table] {
		if err := m.Maintain(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Publish runs the handlers for a stored row and collects its aggregate
// keys.
func (s *Statement) Publish(ctx context.Context, tx store.Tx, evt ChangeEvent) error {
	for _, h := range s.pipeline.before {
		if err := h.Handle(ctx, tx, evt); err != nil {
			return err
		}
	}
	for _, name := range s.pipeline.order {
		for _, id := range s.pipeline.aggregators[name].Keys(evt) {
			if id != uuid.Nil {
				s.pending[Key{Aggregate: name, ID: id}] = struct{}{}
			}
		}
	}
	for _, h := range s.pipeline.after {
		if err := h.Handle(ctx, tx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Touch marks an aggregate for recompute at Flush.
func (s *Statement) Touch(aggregate string, id uuid.UUID) {
	s.pending[Key{Aggregate: aggregate, ID: id}] = struct{}{}
}

// Pending returns the keys awaiting Flush in recompute order.
func (s *Statement) Pending() []Key {
	keys := make([]Key, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	rank := make(map[string]int, len(s.pipeline.order))
	for i, name := range s.pipeline.order {
		rank[name] = i
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Aggregate != keys[j].Aggregate {
			return rank[keys[i].Aggregate] < rank[keys[j].Aggregate]
		}
		return keys[i].ID.String() < keys[j].ID.String()
	})
	return keys
}

// Flush recomputes every touched aggregate exactly once.
func (s *Statement) Flush(ctx context.Context, tx store.Tx) error {
	for _, key := range s.Pending() {
		agg, ok := s.pipeline.aggregators[key.Aggregate]
		if !ok {
			return fmt.Errorf("unknown aggregate %q", key.Aggregate)
		}
		start := time.Now()
		err := agg.Recompute(ctx, tx, key.ID)
		s.pipeline.metrics.RecordRecompute(key.Aggregate, time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to recompute %s %s: %w", key.Aggregate, key.ID, err)
		}
		s.pipeline.logger.WithFields(map[string]interface{}{
			"aggregate": key.Aggregate,
			"id":        key.ID.String(),
		}).Debug("Aggregate recomputed")
	}
	s.pending = make(map[Key]struct{})
	return nil
}

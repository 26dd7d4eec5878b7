// Package postgres implements store.Store on PostgreSQL via lib/pq.
//
// Aggregates are always recomputed from source rows inside the writing
// transaction, so no row locks are taken: the last committer wins.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
)

const uniqueViolation = "23505"

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
}

// Open connects to PostgreSQL, configures the pool and verifies the
// connection with a ping.
func Open(config ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Store is a PostgreSQL store.Store.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Update runs fn in a read-write transaction.
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{}, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if err := fn(&tx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// translate maps driver errors onto store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", pqErr.Constraint, store.ErrDuplicate)
	}
	return err
}

type tx struct {
	tx *sql.Tx
}

func selectSQL(table models.Table, m *tableMap) string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(m.columns, ", "), table)
}

func (t *tx) queryOne(ctx context.Context, table models.Table, where string, args ...interface{}) (models.Record, error) {
	m, err := mapFor(table)
	if err != nil {
		return nil, err
	}
	rec, _ := models.New(table)
	query := selectSQL(table, m) + " WHERE " + where
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(m.dest(rec)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	return rec, nil
}

func (t *tx) Get(ctx context.Context, table models.Table, id uuid.UUID) (models.Record, error) {
	m, err := mapFor(table)
	if err != nil {
		return nil, err
	}
	return t.queryOne(ctx, table, m.pk()+" = $1", id)
}

func (t *tx) List(ctx context.Context, table models.Table, filter store.Filter) ([]models.Record, error) {
	m, err := mapFor(table)
	if err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []interface{}
	)
	addCond := func(col string, id uuid.UUID) {
		if id == uuid.Nil {
			return
		}
		if col == "" {
			conds = append(conds, "FALSE")
			return
		}
		args = append(args, id)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	addCond(m.tenantCol, filter.TenantID)
	addCond(m.projectCol, filter.ProjectID)
	addCond(m.parentCol, filter.ParentID)
	if !filter.IncludeDeleted && m.deletedCol != "" {
		conds = append(conds, m.deletedCol+" IS NULL")
	}

	query := selectSQL(table, m)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + m.pk()

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		rec, _ := models.New(table)
		if err := rows.Scan(m.dest(rec)...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *tx) Insert(ctx context.Context, rec models.Record) error {
	m, err := mapFor(rec.Table())
	if err != nil {
		return err
	}

	placeholders := make([]string, len(m.columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		rec.Table(), strings.Join(m.columns, ", "), strings.Join(placeholders, ", "))

	if _, err := t.tx.ExecContext(ctx, query, m.values(rec)...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", rec.Table(), translate(err))
	}
	return nil
}

func (t *tx) Update(ctx context.Context, rec models.Record) error {
	m, err := mapFor(rec.Table())
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(m.columns)-1)
	for i, col := range m.columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+2))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1", rec.Table(), strings.Join(sets, ", "), m.pk())

	res, err := t.tx.ExecContext(ctx, query, m.values(rec)...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", rec.Table(), translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, table models.Table, id uuid.UUID) error {
	m, err := mapFor(table)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, m.pk()), id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) GetPrincipal(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	return store.GetAs[*models.Principal](ctx, t, models.TablePrincipals, id)
}

func (t *tx) GetPrincipalByIdentity(ctx context.Context, identityKey string) (*models.Principal, error) {
	rec, err := t.queryOne(ctx, models.TablePrincipals, "identity_key = $1", identityKey)
	if err != nil {
		return nil, err
	}
	return rec.(*models.Principal), nil
}

func (t *tx) GetTenantByNormalizedName(ctx context.Context, normalized string) (*models.Tenant, error) {
	rec, err := t.queryOne(ctx, models.TableTenants, "normalized_name = $1", normalized)
	if err != nil {
		return nil, err
	}
	return rec.(*models.Tenant), nil
}

func (t *tx) GetShareByToken(ctx context.Context, token string) (*models.ReportShare, error) {
	rec, err := t.queryOne(ctx, models.TableReportShares, "token = $1", token)
	if err != nil {
		return nil, err
	}
	return rec.(*models.ReportShare), nil
}

func (t *tx) MembershipFor(ctx context.Context, projectID, principalID uuid.UUID) (*models.Membership, error) {
	rec, err := t.queryOne(ctx, models.TableMemberships, "project_id = $1 AND user_id = $2", projectID, principalID)
	if err != nil {
		return nil, err
	}
	return rec.(*models.Membership), nil
}

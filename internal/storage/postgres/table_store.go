// Package postgres provides the Postgres-backed car.TableStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neorise/storefront/internal/car"
)

var (
	validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	missingColumnRe = regexp.MustCompile(`column "([^"]+)"`)
	restColumnRe    = regexp.MustCompile(`Could not find the '([^']+)' column`)
	conflictKeyRe   = regexp.MustCompile(`Key \(([^)]+)\)`)
)

// Postgres error codes the store translates.
const (
	codeUndefinedColumn  = "42703"
	codeUndefinedTable   = "42P01"
	codeUniqueViolation  = "23505"
	codeInvalidTextInput = "22P02"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TableStore issues dynamic statements built from loose rows.
type TableStore struct {
	pool Pool
}

// NewTableStore connects a pool using cfg.
func NewTableStore(ctx context.Context, cfg Config) (*TableStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TableStore{pool: pool}, nil
}

// NewTableStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTableStoreWithPool(pool Pool) (*TableStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TableStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *TableStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *TableStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Insert writes rows and returns them as stored.
func (s *TableStore) Insert(ctx context.Context, table string, rows []car.Row) ([]car.Row, error) {
	return insertRows(ctx, s.pool, table, rows)
}

// Update sets values on rows matching where and returns the updated rows.
// A where value the column type cannot represent matches nothing.
func (s *TableStore) Update(ctx context.Context, table string, values car.Row, where car.Filter) ([]car.Row, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("update %s: no values", table)
	}
	tableSQL, err := quoteTable(table)
	if err != nil {
		return nil, err
	}
	columns := sortedColumns(values)
	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(where.Values))
	for i, col := range columns {
		quoted, err := quoteColumn(col)
		if err != nil {
			return nil, err
		}
		args = append(args, encodeValue(values[col]))
		sets[i] = fmt.Sprintf("%s = $%d", quoted, len(args))
	}
	whereSQL, args, err := buildWhere([]car.Filter{where}, args)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", tableSQL, strings.Join(sets, ", "), whereSQL)
	out, err := queryRows(ctx, s.pool, table, "update", sql, args)
	if errors.Is(err, car.ErrNoRows) {
		return nil, nil
	}
	return out, err
}

// Select reads rows matching q.
func (s *TableStore) Select(ctx context.Context, table string, q car.Query) ([]car.Row, error) {
	tableSQL, err := quoteTable(table)
	if err != nil {
		return nil, err
	}
	whereSQL, args, err := buildWhere(q.Where, nil)
	if err != nil {
		return nil, err
	}
	sql := "SELECT * FROM " + tableSQL + whereSQL
	if q.OrderBy != "" {
		col, err := quoteColumn(q.OrderBy)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		sql += fmt.Sprintf(" ORDER BY %s %s NULLS LAST", col, dir)
	}
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	out, err := queryRows(ctx, s.pool, table, "select", sql, args)
	if errors.Is(err, car.ErrNoRows) {
		return nil, nil
	}
	return out, err
}

// Delete removes rows matching where.
func (s *TableStore) Delete(ctx context.Context, table string, where car.Filter) (int64, error) {
	n, err := deleteRows(ctx, s.pool, table, where)
	if errors.Is(err, car.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// ReplaceRows deletes the rows matching where and inserts rows in one transaction.
func (s *TableStore) ReplaceRows(ctx context.Context, table string, where car.Filter, rows []car.Row) ([]car.Row, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify(table, "begin", err, false)
	}
	if _, err := deleteRows(ctx, tx, table, where); err != nil && !errors.Is(err, car.ErrNoRows) {
		rollback(ctx, tx)
		return nil, err
	}
	var inserted []car.Row
	if len(rows) > 0 {
		inserted, err = insertRows(ctx, tx, table, rows)
		if err != nil {
			rollback(ctx, tx)
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify(table, "commit", err, false)
	}
	return inserted, nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	// The statement error is what callers need; a failed rollback only means the tx is already gone.
	_ = tx.Rollback(ctx)
}

func insertRows(ctx context.Context, q querier, table string, rows []car.Row) ([]car.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	tableSQL, err := quoteTable(table)
	if err != nil {
		return nil, err
	}
	colSet := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			colSet[k] = true
		}
	}
	columns := make([]string, 0, len(colSet))
	for k := range colSet {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	if len(columns) == 0 {
		if len(rows) > 1 {
			return nil, fmt.Errorf("insert %s: cannot insert several empty rows", table)
		}
		return queryRows(ctx, q, table, "insert", fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", tableSQL), nil)
	}
	quoted := make([]string, len(columns))
	for i, col := range columns {
		if quoted[i], err = quoteColumn(col); err != nil {
			return nil, err
		}
	}
	var args []any
	tuples := make([]string, len(rows))
	for i, row := range rows {
		slots := make([]string, len(columns))
		for j, col := range columns {
			v, ok := row[col]
			if !ok {
				slots[j] = "DEFAULT"
				continue
			}
			args = append(args, encodeValue(v))
			slots[j] = fmt.Sprintf("$%d", len(args))
		}
		tuples[i] = "(" + strings.Join(slots, ", ") + ")"
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING *",
		tableSQL, strings.Join(quoted, ", "), strings.Join(tuples, ", "))
	return queryRows(ctx, q, table, "insert", sql, args)
}

func deleteRows(ctx context.Context, q querier, table string, where car.Filter) (int64, error) {
	tableSQL, err := quoteTable(table)
	if err != nil {
		return 0, err
	}
	whereSQL, args, err := buildWhere([]car.Filter{where}, nil)
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, "DELETE FROM "+tableSQL+whereSQL, args...)
	if err != nil {
		return 0, classify(table, "delete", err, true)
	}
	return tag.RowsAffected(), nil
}

func queryRows(ctx context.Context, q querier, table, op, sql string, args []any) ([]car.Row, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(table, op, err, op != "insert")
	}
	defer rows.Close()
	var out []car.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classify(table, op, err, false)
		}
		fields := rows.FieldDescriptions()
		row := make(car.Row, len(fields))
		for i, fd := range fields {
			if i < len(values) {
				row[fd.Name] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(table, op, err, op != "insert")
	}
	return out, nil
}

func buildWhere(filters []car.Filter, args []any) (string, []any, error) {
	var clauses []string
	for _, f := range filters {
		if f.Column == "" {
			continue
		}
		col, err := quoteColumn(f.Column)
		if err != nil {
			return "", nil, err
		}
		switch {
		case len(f.Values) == 0:
			clauses = append(clauses, "FALSE")
		case f.Op == car.OpLess:
			args = append(args, encodeValue(f.Values[0]))
			clauses = append(clauses, fmt.Sprintf("%s < $%d", col, len(args)))
		case len(f.Values) == 1:
			args = append(args, encodeValue(f.Values[0]))
			clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
		default:
			slots := make([]string, len(f.Values))
			for i, v := range f.Values {
				args = append(args, encodeValue(v))
				slots[i] = fmt.Sprintf("$%d", len(args))
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, strings.Join(slots, ", ")))
		}
	}
	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// encodeValue turns maps and slices into JSON text so json/jsonb columns accept them.
func encodeValue(v any) any {
	switch t := v.(type) {
	case map[string]string, map[string]any, []string, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return v
		}
		return string(raw)
	case car.Specs:
		return encodeValue(map[string]string(t))
	default:
		return v
	}
}

func sortedColumns(row car.Row) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func quoteTable(name string) (string, error) {
	if !validIdentifier.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

func quoteColumn(name string) (string, error) {
	if !validIdentifier.MatchString(name) {
		return "", fmt.Errorf("invalid column name %q", name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// classify maps driver errors onto the car error taxonomy. When filtered is
// set, an invalid input representation means the filter value cannot match.
func classify(table, op string, err error, filtered bool) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUndefinedColumn:
			if m := missingColumnRe.FindStringSubmatch(pgErr.Message); m != nil {
				return &car.SchemaMismatchError{Table: table, Column: m[1], Err: err}
			}
		case codeUndefinedTable:
			return &car.TableMissingError{Table: table, Err: err}
		case codeUniqueViolation:
			conflict := &car.ConflictError{Table: table, Constraint: pgErr.ConstraintName, Err: err}
			if m := conflictKeyRe.FindStringSubmatch(pgErr.Detail); m != nil {
				for _, col := range strings.Split(m[1], ",") {
					conflict.Columns = append(conflict.Columns, strings.TrimSpace(col))
				}
			}
			return conflict
		case codeInvalidTextInput:
			if filtered {
				return fmt.Errorf("%s %s: %w", op, table, car.ErrNoRows)
			}
		}
	}
	if m := restColumnRe.FindStringSubmatch(err.Error()); m != nil {
		return &car.SchemaMismatchError{Table: table, Column: m[1], Err: err}
	}
	var netErr net.Error
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.As(err, &netErr) {
		return &car.TransientError{Err: fmt.Errorf("%s %s: %w", op, table, err)}
	}
	return &car.UpstreamError{Op: op + " " + table, Err: err}
}

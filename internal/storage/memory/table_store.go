// Package memory provides in-memory table and blob stores for development/testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/neorise/storefront/internal/car"
)

// Op names a TableStore operation for fault injection.
type Op string

// Operations that can be failed on demand.
const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpSelect Op = "select"
	OpDelete Op = "delete"
)

// TableSpec describes one simulated table.
type TableSpec struct {
	// Columns lists accepted columns. Empty accepts any column.
	Columns []string
	// PrimaryKey is filled with a generated id when a row omits it. Empty means "id".
	PrimaryKey string
	// Unique lists single-column unique constraints.
	Unique []string
}

type table struct {
	spec    TableSpec
	columns map[string]bool
	rows    []car.Row
}

type fault struct {
	op    Op
	table string
	err   error
}

// TableStore is a car.TableStore that mimics a relational backend closely
// enough to exercise schema negotiation: unknown columns, missing tables and
// unique violations are reported with the same typed errors Postgres produces.
type TableStore struct {
	mu     sync.RWMutex
	tables map[string]*table
	faults []fault
	ids    car.IDGenerator
	clock  car.Clock
}

// NewTableStore constructs an empty store.
func NewTableStore(ids car.IDGenerator, clock car.Clock) *TableStore {
	return &TableStore{
		tables: make(map[string]*table),
		ids:    ids,
		clock:  clock,
	}
}

// CreateTable registers (or replaces) a table.
func (s *TableStore) CreateTable(name string, spec TableSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec.PrimaryKey == "" {
		spec.PrimaryKey = car.ColID
	}
	t := &table{spec: spec}
	if len(spec.Columns) > 0 {
		t.columns = make(map[string]bool, len(spec.Columns)+1)
		for _, c := range spec.Columns {
			t.columns[c] = true
		}
		t.columns[spec.PrimaryKey] = true
	}
	s.tables[name] = t
}

// FailNext queues err for the next op on tableName.
func (s *TableStore) FailNext(op Op, tableName string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{op: op, table: tableName, err: err})
}

// Rows returns a copy of every row in tableName.
func (s *TableStore) Rows(tableName string) []car.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[tableName]
	if !ok {
		return nil
	}
	return cloneRows(t.rows)
}

// Insert adds rows atomically: either every row is stored or none is.
func (s *TableStore) Insert(_ context.Context, tableName string, rows []car.Row) ([]car.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(OpInsert, tableName)
	if err != nil {
		return nil, err
	}
	staged := make([]car.Row, 0, len(rows))
	for _, row := range rows {
		if err := t.checkColumns(tableName, row); err != nil {
			return nil, err
		}
		r := row.Clone()
		if _, ok := r[t.spec.PrimaryKey]; !ok {
			id, err := s.ids.NewID()
			if err != nil {
				return nil, fmt.Errorf("generate primary key: %w", err)
			}
			r[t.spec.PrimaryKey] = id
		}
		if t.accepts(car.ColCreatedAt) && !r.Has(car.ColCreatedAt) {
			r[car.ColCreatedAt] = s.clock.Now()
		}
		others := make([]car.Row, 0, len(t.rows)+len(staged))
		others = append(append(others, t.rows...), staged...)
		if err := t.checkUnique(tableName, r, others, -1); err != nil {
			return nil, err
		}
		staged = append(staged, r)
	}
	t.rows = append(t.rows, staged...)
	return cloneRows(staged), nil
}

// Update applies values to every row matching where and returns the updated rows.
func (s *TableStore) Update(_ context.Context, tableName string, values car.Row, where car.Filter) ([]car.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(OpUpdate, tableName)
	if err != nil {
		return nil, err
	}
	if err := t.checkColumns(tableName, values); err != nil {
		return nil, err
	}
	if err := t.checkFilter(tableName, where); err != nil {
		return nil, err
	}
	var updated []car.Row
	next := cloneRows(t.rows)
	for i, row := range next {
		if !matches(row, where) {
			continue
		}
		for k, v := range values {
			row[k] = v
		}
		if err := t.checkUnique(tableName, row, next, i); err != nil {
			return nil, err
		}
		updated = append(updated, row)
	}
	t.rows = next
	return cloneRows(updated), nil
}

// Select returns rows matching every filter in q.
func (s *TableStore) Select(_ context.Context, tableName string, q car.Query) ([]car.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(OpSelect, tableName)
	if err != nil {
		return nil, err
	}
	for _, f := range q.Where {
		if err := t.checkFilter(tableName, f); err != nil {
			return nil, err
		}
	}
	if q.OrderBy != "" && !t.accepts(q.OrderBy) {
		return nil, &car.SchemaMismatchError{Table: tableName, Column: q.OrderBy}
	}
	var out []car.Row
	for _, row := range t.rows {
		if matchesAll(row, q.Where) {
			out = append(out, row.Clone())
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][q.OrderBy], out[j][q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Delete removes every row matching where.
func (s *TableStore) Delete(_ context.Context, tableName string, where car.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(OpDelete, tableName)
	if err != nil {
		return 0, err
	}
	if err := t.checkFilter(tableName, where); err != nil {
		return 0, err
	}
	kept := t.rows[:0:0]
	var removed int64
	for _, row := range t.rows {
		if matches(row, where) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return removed, nil
}

func (s *TableStore) lookup(op Op, tableName string) (*table, error) {
	for i, f := range s.faults {
		if f.op == op && f.table == tableName {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
			return nil, f.err
		}
	}
	t, ok := s.tables[tableName]
	if !ok {
		return nil, &car.TableMissingError{Table: tableName}
	}
	return t, nil
}

func (t *table) accepts(column string) bool {
	return t.columns == nil || t.columns[column]
}

func (t *table) checkColumns(tableName string, row car.Row) error {
	if t.columns == nil {
		return nil
	}
	var unknown []string
	for k := range row {
		if !t.columns[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &car.SchemaMismatchError{Table: tableName, Column: unknown[0]}
}

func (t *table) checkFilter(tableName string, f car.Filter) error {
	if f.Column == "" || t.accepts(f.Column) {
		return nil
	}
	return &car.SchemaMismatchError{Table: tableName, Column: f.Column}
}

func (t *table) checkUnique(tableName string, row car.Row, others []car.Row, skip int) error {
	keys := append([]string{t.spec.PrimaryKey}, t.spec.Unique...)
	for _, col := range keys {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		for i, other := range others {
			if i == skip {
				continue
			}
			if equal(other[col], v) {
				return &car.ConflictError{
					Table:      tableName,
					Constraint: fmt.Sprintf("%s_%s_key", tableName, col),
					Columns:    []string{col},
				}
			}
		}
	}
	return nil
}

func matchesAll(row car.Row, filters []car.Filter) bool {
	for _, f := range filters {
		if !matches(row, f) {
			return false
		}
	}
	return true
}

func matches(row car.Row, f car.Filter) bool {
	if f.Column == "" {
		return true
	}
	v, ok := row[f.Column]
	if !ok {
		return false
	}
	if f.Op == car.OpLess {
		return len(f.Values) == 1 && v != nil && compare(v, f.Values[0]) < 0
	}
	for _, want := range f.Values {
		if equal(v, want) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	return a != nil && b != nil && compare(a, b) == 0
}

// compare orders numbers numerically, times chronologically and everything else as text.
func compare(a, b any) int {
	if af, ok := number(a); ok {
		if bf, ok := number(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		return at.Compare(bt)
	}
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func cloneRows(rows []car.Row) []car.Row {
	out := make([]car.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

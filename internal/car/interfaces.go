package car

import (
	"context"
	"io"
	"time"
)

// TableStore is the minimal table CRUD surface the pipeline needs from the backend.
type TableStore interface {
	Insert(ctx context.Context, table string, rows []Row) ([]Row, error)
	Update(ctx context.Context, table string, values Row, where Filter) ([]Row, error)
	Select(ctx context.Context, table string, query Query) ([]Row, error)
	Delete(ctx context.Context, table string, where Filter) (int64, error)
}

// RowReplacer is implemented by stores that can swap a row set atomically.
type RowReplacer interface {
	// ReplaceRows deletes every row matching where and inserts rows in one unit.
	ReplaceRows(ctx context.Context, table string, where Filter, rows []Row) ([]Row, error)
}

// BlobStore writes uploaded files and returns their public URL.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes change notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Operator selects how a Filter compares a column.
type Operator string

// Supported filter operators.
const (
	OpEq   Operator = ""
	OpLess Operator = "<"
)

// Filter restricts a statement to rows whose Column matches Values.
// One value means equality, several mean membership.
type Filter struct {
	Column string
	Op     Operator
	Values []any
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Values: []any{value}}
}

// In builds a membership filter.
func In(column string, values ...any) Filter {
	return Filter{Column: column, Values: values}
}

// Lt builds a strictly-less-than filter.
func Lt(column string, value any) Filter {
	return Filter{Column: column, Op: OpLess, Values: []any{value}}
}

// Query describes a Select.
type Query struct {
	Where   []Filter
	OrderBy string
	Desc    bool
	// Limit <= 0 means no limit.
	Limit int
}

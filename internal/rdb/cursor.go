package rdb

import (
	"strconv"

	"github.com/roach88/datakit/internal/storeerr"
	"github.com/roach88/datakit/internal/value"
)

// ResultSet is a forward-only cursor over a query result. It starts before
// the first row; GoToFirstRow or GoToNextRow positions it. A ResultSet is
// not safe for concurrent use.
type ResultSet struct {
	columns []string
	rows    [][]any
	pos     int
	closed  bool
}

func newResultSet(columns []string, rows [][]any) *ResultSet {
	return &ResultSet{columns: columns, rows: rows, pos: -1}
}

// ColumnNames returns the result's column names.
func (r *ResultSet) ColumnNames() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// ColumnName returns the name of column i.
func (r *ResultSet) ColumnName(i int) (string, error) {
	if i < 0 || i >= len(r.columns) {
		return "", storeerr.New(storeerr.CodeInvalidArgument, "column %d out of range [0,%d)", i, len(r.columns))
	}
	return r.columns[i], nil
}

// ColumnCount returns the number of columns.
func (r *ResultSet) ColumnCount() int { return len(r.columns) }

// RowCount returns the number of rows.
func (r *ResultSet) RowCount() int { return len(r.rows) }

// RowIndex returns the current position, -1 before the first row.
func (r *ResultSet) RowIndex() int { return r.pos }

// ColumnIndex returns the index of the named column.
func (r *ResultSet) ColumnIndex(name string) (int, error) {
	for i, c := range r.columns {
		if c == name {
			return i, nil
		}
	}
	return -1, storeerr.New(storeerr.CodeInvalidArgument, "no column %q", name)
}

// GoToFirstRow positions the cursor on the first row. Going back to the
// first row after advancing past it is rejected.
func (r *ResultSet) GoToFirstRow() error {
	switch {
	case r.closed:
		return errResultClosed
	case len(r.rows) == 0:
		return storeerr.New(storeerr.CodeInvalidArgument, "result set is empty")
	case r.pos > 0:
		return storeerr.New(storeerr.CodeInvalidArgument, "result set is forward-only")
	}
	r.pos = 0
	return nil
}

// GoToNextRow advances the cursor and reports whether it is on a row.
func (r *ResultSet) GoToNextRow() bool {
	if r.closed || r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return r.pos < len(r.rows)
}

// IsAtFirstRow reports whether the cursor is on the first row.
func (r *ResultSet) IsAtFirstRow() bool { return r.pos == 0 && len(r.rows) > 0 }

// IsEnded reports whether the cursor has moved past the last row.
func (r *ResultSet) IsEnded() bool { return r.pos >= len(r.rows) }

// Close releases the rows. Accessors fail afterwards.
func (r *ResultSet) Close() error {
	r.closed = true
	r.rows = nil
	return nil
}

var errResultClosed = storeerr.New(storeerr.CodeInvalidArgument, "result set is closed")

func (r *ResultSet) cell(col int) (any, error) {
	if r.closed {
		return nil, errResultClosed
	}
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil, storeerr.New(storeerr.CodeInvalidArgument, "cursor is not on a row")
	}
	if col < 0 || col >= len(r.columns) {
		return nil, storeerr.New(storeerr.CodeInvalidArgument, "column %d out of range [0,%d)", col, len(r.columns))
	}
	return r.rows[r.pos][col], nil
}

// IsNull reports whether the column is NULL in the current row.
func (r *ResultSet) IsNull(col int) (bool, error) {
	v, err := r.cell(col)
	return v == nil, err
}

// GetString returns the column as text. NULL reads as "".
func (r *ResultSet) GetString(col int) (string, error) {
	v, err := r.cell(col)
	if err != nil {
		return "", err
	}
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", typeError(col, v, "string")
	}
}

// GetInt64 returns the column as an integer. NULL reads as 0.
func (r *ResultSet) GetInt64(col int) (int64, error) {
	v, err := r.cell(col)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return parseInt(col, x)
	case []byte:
		return parseInt(col, string(x))
	default:
		return 0, typeError(col, v, "int64")
	}
}

// GetInt32 is GetInt64 truncated to 32 bits.
func (r *ResultSet) GetInt32(col int) (int32, error) {
	n, err := r.GetInt64(col)
	return int32(n), err
}

// GetFloat64 returns the column as a float. NULL reads as 0.
func (r *ResultSet) GetFloat64(col int) (float64, error) {
	v, err := r.cell(col)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case string:
		return parseFloat(col, x)
	case []byte:
		return parseFloat(col, string(x))
	default:
		return 0, typeError(col, v, "float64")
	}
}

// GetBlob returns the column as bytes. NULL reads as nil.
func (r *ResultSet) GetBlob(col int) ([]byte, error) {
	v, err := r.cell(col)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		out := make([]byte, len(x))
		copy(out, x)
		return out, nil
	case string:
		return []byte(x), nil
	default:
		return nil, typeError(col, v, "blob")
	}
}

// GetValue returns the column as a TypedValue following the engine's
// storage class. NULL yields nil.
func (r *ResultSet) GetValue(col int) (value.Value, error) {
	v, err := r.cell(col)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return value.NewInt64(x), nil
	case float64:
		return value.NewFloat64(x), nil
	case bool:
		return value.NewBool(x), nil
	case string:
		return value.NewString(x), nil
	case []byte:
		return value.NewBlob(x), nil
	default:
		return nil, typeError(col, v, "value")
	}
}

// Row returns the current row keyed by column name.
func (r *ResultSet) Row() (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(r.columns))
	for i, c := range r.columns {
		v, err := r.GetValue(i)
		if err != nil {
			return nil, err
		}
		out[c] = v
	}
	return out, nil
}

func parseInt(col int, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, storeerr.Wrap(storeerr.CodeInvalidArgument, err, "column %d", col)
	}
	return n, nil
}

func parseFloat(col int, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, storeerr.Wrap(storeerr.CodeInvalidArgument, err, "column %d", col)
	}
	return f, nil
}

func typeError(col int, v any, want string) error {
	return storeerr.New(storeerr.CodeInvalidArgument, "column %d holds %T, not %s", col, v, want)
}

// Package querysql compiles predicates into parameterized SQLite statements.
package querysql

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/datakit/internal/predicate"
	"github.com/roach88/datakit/internal/storeerr"
	"github.com/roach88/datakit/internal/value"
)

// Statement is compiled SQL plus its bind arguments.
type Statement struct {
	SQL  string
	Args []any
}

// SQLCompiler turns predicates into SQL for SQLite.
//
// CRITICAL: operand values are never interpolated. Every value becomes a
// "?" placeholder with a matching entry in Args. Identifiers are validated
// by the predicate builder before they reach the compiler.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Select compiles a query over p's table. An empty columns list selects *.
func (c *SQLCompiler) Select(p predicate.Predicates, columns []string) (Statement, error) {
	if err := p.Validate(); err != nil {
		return Statement{}, err
	}
	cols, err := columnList(columns)
	if err != nil {
		return Statement{}, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if p.IsDistinct() {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(p.Table())
	if idx := p.IndexName(); idx != "" {
		sb.WriteString(" INDEXED BY ")
		sb.WriteString(idx)
	}

	args, err := c.writeWhere(&sb, p)
	if err != nil {
		return Statement{}, err
	}
	if groups := p.GroupBy(); len(groups) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(groups, ", "))
	}
	writeOrderBy(&sb, p.OrderBy())
	writeLimit(&sb, p.Limit(), p.Offset())

	return Statement{SQL: sb.String(), Args: args}, nil
}

// Count compiles SELECT COUNT(*) over the rows p matches.
func (c *SQLCompiler) Count(p predicate.Predicates) (Statement, error) {
	if err := p.Validate(); err != nil {
		return Statement{}, err
	}
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(p.Table())
	args, err := c.writeWhere(&sb, p)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: sb.String(), Args: args}, nil
}

// Update compiles an UPDATE of the rows p matches. Columns are written in
// sorted order so equal inputs compile to equal SQL.
func (c *SQLCompiler) Update(p predicate.Predicates, values map[string]any) (Statement, error) {
	if err := p.Validate(); err != nil {
		return Statement{}, err
	}
	if len(values) == 0 {
		return Statement{}, storeerr.New(storeerr.CodeInvalidArgument, "update of %s has no values", p.Table())
	}

	keys, err := sortedColumns(values)
	if err != nil {
		return Statement{}, err
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(p.Table())
	sb.WriteString(" SET ")
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(" = ?")
		arg, err := ToParam(values[k])
		if err != nil {
			return Statement{}, storeerr.Wrap(storeerr.CodeInvalidArgument, err, "column %s", k)
		}
		args = append(args, arg)
	}

	whereArgs, err := c.writeWhere(&sb, p)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: sb.String(), Args: append(args, whereArgs...)}, nil
}

// Delete compiles a DELETE of the rows p matches. An empty predicate
// deletes every row.
func (c *SQLCompiler) Delete(p predicate.Predicates) (Statement, error) {
	if err := p.Validate(); err != nil {
		return Statement{}, err
	}
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(p.Table())
	args, err := c.writeWhere(&sb, p)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: sb.String(), Args: args}, nil
}

// Insert compiles INSERT INTO table(cols) VALUES (?, ...).
func (c *SQLCompiler) Insert(table string, values map[string]any) (Statement, error) {
	if table == "" {
		return Statement{}, storeerr.New(storeerr.CodeInvalidArgument, "insert: table name is empty")
	}
	if err := predicate.ValidIdentifier(table); err != nil {
		return Statement{}, err
	}
	if len(values) == 0 {
		return Statement{}, storeerr.New(storeerr.CodeInvalidArgument, "insert into %s: values are empty", table)
	}

	keys, err := sortedColumns(values)
	if err != nil {
		return Statement{}, err
	}
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		arg, err := ToParam(values[k])
		if err != nil {
			return Statement{}, storeerr.Wrap(storeerr.CodeInvalidArgument, err, "column %s", k)
		}
		args = append(args, arg)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	sql := fmt.Sprintf("INSERT INTO %s(%s) VALUES (%s)", table, strings.Join(keys, ", "), placeholders)
	return Statement{SQL: sql, Args: args}, nil
}

// writeWhere appends " WHERE ..." when p has clauses.
func (c *SQLCompiler) writeWhere(sb *strings.Builder, p predicate.Predicates) ([]any, error) {
	clauses := p.Clauses()
	if len(clauses) == 0 {
		return nil, nil
	}

	var args []any
	var where strings.Builder
	needConnective := false
	useOr := false

	for _, clause := range clauses {
		switch cl := clause.(type) {
		case predicate.Or:
			useOr = true
		case predicate.BeginWrap:
			writeConnective(&where, needConnective, useOr)
			where.WriteString("(")
			needConnective, useOr = false, false
		case predicate.EndWrap:
			where.WriteString(")")
			needConnective = true
		case predicate.Condition:
			writeConnective(&where, needConnective, useOr)
			condArgs, err := compileCondition(&where, cl)
			if err != nil {
				return nil, err
			}
			args = append(args, condArgs...)
			needConnective, useOr = true, false
		default:
			return nil, fmt.Errorf("unsupported clause type: %T", clause)
		}
	}

	sb.WriteString(" WHERE ")
	sb.WriteString(where.String())
	return args, nil
}

func writeConnective(sb *strings.Builder, need, useOr bool) {
	if !need {
		return
	}
	if useOr {
		sb.WriteString(" OR ")
	} else {
		sb.WriteString(" AND ")
	}
}

// compileCondition writes one condition. Values are always placeholders.
func compileCondition(sb *strings.Builder, cond predicate.Condition) ([]any, error) {
	args := make([]any, 0, len(cond.Operands))
	for _, operand := range cond.Operands {
		arg, err := ToParam(operand)
		if err != nil {
			return nil, storeerr.Wrap(storeerr.CodeInvalidArgument, err, "%s %s", cond.Column, cond.Op)
		}
		args = append(args, arg)
	}

	sb.WriteString(cond.Column)
	sb.WriteString(" ")
	sb.WriteString(string(cond.Op))

	switch cond.Op {
	case predicate.OpIsNull, predicate.OpIsNotNull:
	case predicate.OpBetween, predicate.OpNotBetween:
		sb.WriteString(" ? AND ?")
	case predicate.OpIn, predicate.OpNotIn:
		sb.WriteString(" (")
		sb.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", "))
		sb.WriteString(")")
	default:
		sb.WriteString(" ?")
	}
	return args, nil
}

func writeOrderBy(sb *strings.Builder, orders []predicate.Order) {
	if len(orders) == 0 {
		return
	}
	sb.WriteString(" ORDER BY ")
	for i, o := range orders {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(o.Column)
		if o.Desc {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
	}
}

// writeLimit appends LIMIT/OFFSET. SQLite has no bare OFFSET, so an offset
// without a limit is written as LIMIT -1 OFFSET n.
func writeLimit(sb *strings.Builder, limit, offset int) {
	if limit < 0 && offset < 0 {
		return
	}
	sb.WriteString(" LIMIT ")
	sb.WriteString(strconv.Itoa(limit))
	if offset >= 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(offset))
	}
}

func columnList(columns []string) (string, error) {
	if len(columns) == 0 {
		return "*", nil
	}
	for _, col := range columns {
		if err := predicate.ValidIdentifier(col); err != nil {
			return "", err
		}
	}
	return strings.Join(columns, ", "), nil
}

func sortedColumns(values map[string]any) ([]string, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		if err := predicate.ValidIdentifier(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ToParam converts a Go or TypedValue operand into a driver argument.
func ToParam(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case value.Int32:
		return int64(val), nil
	case value.Int64:
		return int64(val), nil
	case value.Float64:
		return float64(val), nil
	case value.Bool:
		return bool(val), nil
	case value.String:
		return string(val), nil
	case value.Blob:
		return []byte(val), nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64, float64, bool, string, []byte:
		return val, nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case float32:
		return float64(val), nil
	default:
		return nil, fmt.Errorf("unsupported parameter type: %T", v)
	}
}

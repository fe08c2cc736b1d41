package predicate

import (
	"fmt"
	"regexp"
	"slices"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/datakit/internal/storeerr"
)

// identPattern accepts plain and table-qualified SQL identifiers. Anything
// else is rejected rather than quoted, so column names never carry SQL.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Predicates describes which rows of one table an operation applies to.
// The zero value is not usable; start from New.
type Predicates struct {
	table     string
	clauses   []Clause
	orderBy   []Order
	groupBy   []string
	distinct  bool
	limit     int
	offset    int
	indexedBy string
	err       error
}

// New starts a predicate for table.
func New(table string) Predicates {
	p := Predicates{limit: -1, offset: -1}
	t, err := ident(table)
	if err != nil {
		p.err = fmt.Errorf("table: %w", err)
	}
	p.table = t
	return p
}

// Table returns the target table.
func (p Predicates) Table() string { return p.table }

// Clauses returns a copy of the WHERE clause list.
func (p Predicates) Clauses() []Clause { return slices.Clone(p.clauses) }

// OrderBy returns a copy of the ordering terms.
func (p Predicates) OrderBy() []Order { return slices.Clone(p.orderBy) }

// GroupBy returns a copy of the grouping columns.
func (p Predicates) GroupBy() []string { return slices.Clone(p.groupBy) }

// IsDistinct reports whether duplicate rows are removed.
func (p Predicates) IsDistinct() bool { return p.distinct }

// Limit returns the row limit, or -1 for none.
func (p Predicates) Limit() int { return p.limit }

// Offset returns the row offset, or -1 for none.
func (p Predicates) Offset() int { return p.offset }

// IndexName returns the index forced with IndexedBy, or "".
func (p Predicates) IndexName() string { return p.indexedBy }

// EqualTo matches rows where column = v.
func (p Predicates) EqualTo(column string, v any) Predicates {
	return p.cond(column, OpEqual, v)
}

// NotEqualTo matches rows where column <> v.
func (p Predicates) NotEqualTo(column string, v any) Predicates {
	return p.cond(column, OpNotEqual, v)
}

func (p Predicates) GreaterThan(column string, v any) Predicates {
	return p.cond(column, OpGreater, v)
}

func (p Predicates) GreaterThanOrEqualTo(column string, v any) Predicates {
	return p.cond(column, OpGreaterOrEqual, v)
}

func (p Predicates) LessThan(column string, v any) Predicates {
	return p.cond(column, OpLess, v)
}

func (p Predicates) LessThanOrEqualTo(column string, v any) Predicates {
	return p.cond(column, OpLessOrEqual, v)
}

// Between matches low <= column <= high.
func (p Predicates) Between(column string, low, high any) Predicates {
	return p.cond(column, OpBetween, low, high)
}

func (p Predicates) NotBetween(column string, low, high any) Predicates {
	return p.cond(column, OpNotBetween, low, high)
}

// Like matches column against an SQL LIKE pattern.
func (p Predicates) Like(column, pattern string) Predicates {
	return p.cond(column, OpLike, pattern)
}

// Glob matches column against a case-sensitive GLOB pattern.
func (p Predicates) Glob(column, pattern string) Predicates {
	return p.cond(column, OpGlob, pattern)
}

// BeginsWith matches values starting with prefix.
func (p Predicates) BeginsWith(column, prefix string) Predicates {
	return p.cond(column, OpLike, prefix+"%")
}

// EndsWith matches values ending with suffix.
func (p Predicates) EndsWith(column, suffix string) Predicates {
	return p.cond(column, OpLike, "%"+suffix)
}

// Contains matches values containing s.
func (p Predicates) Contains(column, s string) Predicates {
	return p.cond(column, OpLike, "%"+s+"%")
}

func (p Predicates) IsNull(column string) Predicates {
	return p.cond(column, OpIsNull)
}

func (p Predicates) IsNotNull(column string) Predicates {
	return p.cond(column, OpIsNotNull)
}

// In matches rows whose column equals any of values.
func (p Predicates) In(column string, values ...any) Predicates {
	return p.cond(column, OpIn, values...)
}

func (p Predicates) NotIn(column string, values ...any) Predicates {
	return p.cond(column, OpNotIn, values...)
}

// Or joins the previous and the next condition with OR.
func (p Predicates) Or() Predicates {
	if p.err != nil {
		return p
	}
	if !p.followsOperand() {
		return p.fail("Or must follow a condition or EndWrap")
	}
	return p.push(Or{})
}

// And is the default connective. It exists so chains can state it
// explicitly; it records nothing.
func (p Predicates) And() Predicates {
	if p.err != nil {
		return p
	}
	if !p.followsOperand() {
		return p.fail("And must follow a condition or EndWrap")
	}
	return p
}

// BeginWrap opens a parenthesised group.
func (p Predicates) BeginWrap() Predicates {
	if p.err != nil {
		return p
	}
	return p.push(BeginWrap{})
}

// EndWrap closes the innermost group. The group must not be empty.
func (p Predicates) EndWrap() Predicates {
	if p.err != nil {
		return p
	}
	if p.depth() == 0 {
		return p.fail("EndWrap without BeginWrap")
	}
	if !p.followsOperand() {
		return p.fail("EndWrap must follow a condition")
	}
	return p.push(EndWrap{})
}

// OrderByAsc appends an ascending ORDER BY term.
func (p Predicates) OrderByAsc(column string) Predicates {
	return p.order(column, false)
}

// OrderByDesc appends a descending ORDER BY term.
func (p Predicates) OrderByDesc(column string) Predicates {
	return p.order(column, true)
}

// GroupByColumns sets GROUP BY columns, appending to any already set.
func (p Predicates) GroupByColumns(columns ...string) Predicates {
	if p.err != nil {
		return p
	}
	if len(columns) == 0 {
		return p.fail("GroupBy needs at least one column")
	}
	out := p.clone()
	for _, c := range columns {
		col, err := ident(c)
		if err != nil {
			return p.fail("group by: %v", err)
		}
		out.groupBy = append(out.groupBy, col)
	}
	return out
}

// Distinct removes duplicate rows from query results.
func (p Predicates) Distinct() Predicates {
	out := p.clone()
	out.distinct = true
	return out
}

// LimitAs caps the number of rows returned.
func (p Predicates) LimitAs(n int) Predicates {
	if n < 0 {
		return p.fail("limit must not be negative: %d", n)
	}
	out := p.clone()
	out.limit = n
	return out
}

// OffsetAs skips the first n rows.
func (p Predicates) OffsetAs(n int) Predicates {
	if n < 0 {
		return p.fail("offset must not be negative: %d", n)
	}
	out := p.clone()
	out.offset = n
	return out
}

// IndexedBy forces the query planner to use the named index.
func (p Predicates) IndexedBy(index string) Predicates {
	name, err := ident(index)
	if err != nil {
		return p.fail("indexed by: %v", err)
	}
	out := p.clone()
	out.indexedBy = name
	return out
}

// Clear returns an empty predicate on the same table.
func (p Predicates) Clear() Predicates {
	return New(p.table)
}

// Validate reports builder misuse: a bad identifier, an unclosed group, a
// dangling Or, or a bad operand count. The error is INVALID_ARGUMENT.
func (p Predicates) Validate() error {
	if p.err != nil {
		return storeerr.Wrap(storeerr.CodeInvalidArgument, p.err, "invalid predicate")
	}
	if p.table == "" {
		return storeerr.New(storeerr.CodeInvalidArgument, "invalid predicate: table is empty")
	}
	if d := p.depth(); d != 0 {
		return storeerr.New(storeerr.CodeInvalidArgument, "invalid predicate: %d unclosed BeginWrap", d)
	}
	if n := len(p.clauses); n > 0 {
		if _, ok := p.clauses[n-1].(Or); ok {
			return storeerr.New(storeerr.CodeInvalidArgument, "invalid predicate: trailing Or")
		}
	}
	return nil
}

// Match checks that p targets table. It is used by callers that require
// the predicate and the statement to agree.
func (p Predicates) Match(table string) error {
	t := norm.NFC.String(table)
	if p.table != t {
		return storeerr.New(storeerr.CodePredicateMismatch,
			"predicate targets table %q, operation targets %q", p.table, t)
	}
	return nil
}

func (p Predicates) cond(column string, op Op, operands ...any) Predicates {
	if p.err != nil {
		return p
	}
	col, err := ident(column)
	if err != nil {
		return p.fail("%s: %v", op, err)
	}
	switch arity := op.Arity(); {
	case arity == -1 && len(operands) == 0:
		return p.fail("%s on %q needs at least one value", op, col)
	case arity >= 0 && len(operands) != arity:
		return p.fail("%s on %q takes %d values, got %d", op, col, arity, len(operands))
	}
	return p.push(Condition{Column: col, Op: op, Operands: slices.Clone(operands)})
}

func (p Predicates) order(column string, desc bool) Predicates {
	if p.err != nil {
		return p
	}
	col, err := ident(column)
	if err != nil {
		return p.fail("order by: %v", err)
	}
	out := p.clone()
	out.orderBy = append(out.orderBy, Order{Column: col, Desc: desc})
	return out
}

// followsOperand reports whether the last clause can be followed by a
// connective: a Condition or an EndWrap.
func (p Predicates) followsOperand() bool {
	if len(p.clauses) == 0 {
		return false
	}
	switch p.clauses[len(p.clauses)-1].(type) {
	case Condition, EndWrap:
		return true
	default:
		return false
	}
}

func (p Predicates) depth() int {
	d := 0
	for _, c := range p.clauses {
		switch c.(type) {
		case BeginWrap:
			d++
		case EndWrap:
			d--
		}
	}
	return d
}

func (p Predicates) push(c Clause) Predicates {
	out := p.clone()
	out.clauses = append(out.clauses, c)
	return out
}

// clone copies every slice so the result shares no backing array with p.
func (p Predicates) clone() Predicates {
	out := p
	out.clauses = slices.Clone(p.clauses)
	out.orderBy = slices.Clone(p.orderBy)
	out.groupBy = slices.Clone(p.groupBy)
	return out
}

func (p Predicates) fail(format string, args ...any) Predicates {
	if p.err != nil {
		return p
	}
	out := p.clone()
	out.err = fmt.Errorf(format, args...)
	return out
}

func ident(name string) (string, error) {
	n := norm.NFC.String(name)
	if n == "" {
		return "", fmt.Errorf("identifier is empty")
	}
	if !identPattern.MatchString(n) {
		return "", fmt.Errorf("invalid identifier %q", n)
	}
	return n, nil
}

// ValidIdentifier checks that name is usable as a table or column name.
func ValidIdentifier(name string) error {
	if _, err := ident(name); err != nil {
		return storeerr.Wrap(storeerr.CodeInvalidArgument, err, "invalid identifier")
	}
	return nil
}

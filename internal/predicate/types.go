// Package predicate builds immutable row-selection descriptions for the
// relational store.
//
// A Predicates value names one table and carries an ordered list of
// clauses plus ordering, grouping and paging options. Every builder method
// returns a new value and leaves its receiver untouched, so one predicate
// can be shared by concurrent queries.
package predicate

// Op is a comparison operator.
type Op string

const (
	OpEqual          Op = "="
	OpNotEqual       Op = "<>"
	OpGreater        Op = ">"
	OpGreaterOrEqual Op = ">="
	OpLess           Op = "<"
	OpLessOrEqual    Op = "<="
	OpBetween        Op = "BETWEEN"
	OpNotBetween     Op = "NOT BETWEEN"
	OpLike           Op = "LIKE"
	OpGlob           Op = "GLOB"
	OpIsNull         Op = "IS NULL"
	OpIsNotNull      Op = "IS NOT NULL"
	OpIn             Op = "IN"
	OpNotIn          Op = "NOT IN"
)

// Arity returns how many operands op takes. -1 means one or more.
func (op Op) Arity() int {
	switch op {
	case OpIsNull, OpIsNotNull:
		return 0
	case OpBetween, OpNotBetween:
		return 2
	case OpIn, OpNotIn:
		return -1
	default:
		return 1
	}
}

// Clause is one element of a predicate's WHERE list.
//
// This is a sealed interface; only Condition, Or, BeginWrap and EndWrap
// implement it. Adjacent conditions are joined with AND unless an Or sits
// between them.
type Clause interface {
	clauseNode()
}

// Condition compares a column against its operands.
type Condition struct {
	Column   string
	Op       Op
	Operands []any
}

func (Condition) clauseNode() {}

// Or makes the connective before the next condition OR instead of AND.
type Or struct{}

func (Or) clauseNode() {}

// BeginWrap opens a parenthesised group.
type BeginWrap struct{}

func (BeginWrap) clauseNode() {}

// EndWrap closes the innermost open group.
type EndWrap struct{}

func (EndWrap) clauseNode() {}

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

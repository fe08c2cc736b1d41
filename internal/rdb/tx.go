package rdb

import (
	"context"
	"database/sql"

	"github.com/roach88/datakit/internal/predicate"
)

// Tx runs statements synchronously inside a transaction. It is only valid
// within the callback it was passed to.
type Tx struct {
	tx  *sql.Tx
	ctx context.Context
}

func newTx(tx *sql.Tx) *Tx {
	return &Tx{tx: tx, ctx: context.Background()}
}

func (t *Tx) ExecuteSQL(query string, args ...any) error {
	return execSQL(t.ctx, t.tx, query, args)
}

func (t *Tx) Insert(table string, values map[string]any) (int64, error) {
	return insert(t.ctx, t.tx, table, values)
}

func (t *Tx) Update(values map[string]any, p predicate.Predicates, opts ...OpOption) (int64, error) {
	if err := checkPredicate(p, opts); err != nil {
		return 0, err
	}
	return update(t.ctx, t.tx, values, p)
}

func (t *Tx) Delete(p predicate.Predicates, opts ...OpOption) (int64, error) {
	if err := checkPredicate(p, opts); err != nil {
		return 0, err
	}
	return remove(t.ctx, t.tx, p)
}

func (t *Tx) Query(p predicate.Predicates, columns []string, opts ...OpOption) (*ResultSet, error) {
	if err := checkPredicate(p, opts); err != nil {
		return nil, err
	}
	return query(t.ctx, t.tx, p, columns)
}

func (t *Tx) QuerySQL(q string, args ...any) (*ResultSet, error) {
	return querySQL(t.ctx, t.tx, q, args)
}

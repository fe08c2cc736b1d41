package rdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/datakit/internal/predicate"
	"github.com/roach88/datakit/internal/querysql"
	"github.com/roach88/datakit/internal/storeerr"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var compiler = querysql.NewSQLCompiler()

func params(args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		p, err := querysql.ToParam(a)
		if err != nil {
			return nil, storeerr.Wrap(storeerr.CodeInvalidArgument, err, "argument %d", i)
		}
		out[i] = p
	}
	return out, nil
}

func execSQL(ctx context.Context, db execer, query string, args []any) error {
	if query == "" {
		return storeerr.New(storeerr.CodeInvalidArgument, "sql is empty")
	}
	ps, err := params(args)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, ps...); err != nil {
		return storeerr.Engine(err, "execute sql")
	}
	return nil
}

func insert(ctx context.Context, db execer, table string, values map[string]any) (int64, error) {
	stmt, err := compiler.Insert(table, values)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, storeerr.Engine(err, "insert into %s", table)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeerr.Engine(err, "insert into %s", table)
	}
	return id, nil
}

func update(ctx context.Context, db execer, values map[string]any, p predicate.Predicates) (int64, error) {
	stmt, err := compiler.Update(p, values)
	if err != nil {
		return 0, err
	}
	return affected(db.ExecContext(ctx, stmt.SQL, stmt.Args...))
}

func remove(ctx context.Context, db execer, p predicate.Predicates) (int64, error) {
	stmt, err := compiler.Delete(p)
	if err != nil {
		return 0, err
	}
	return affected(db.ExecContext(ctx, stmt.SQL, stmt.Args...))
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, storeerr.Engine(err, "execute")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeerr.Engine(err, "rows affected")
	}
	return n, nil
}

func count(ctx context.Context, db execer, p predicate.Predicates) (int64, error) {
	stmt, err := compiler.Count(p)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
		return 0, storeerr.Engine(err, "count %s", p.Table())
	}
	return n, nil
}

func query(ctx context.Context, db execer, p predicate.Predicates, columns []string) (*ResultSet, error) {
	stmt, err := compiler.Select(p, columns)
	if err != nil {
		return nil, err
	}
	return fetch(ctx, db, stmt.SQL, stmt.Args)
}

func querySQL(ctx context.Context, db execer, query string, args []any) (*ResultSet, error) {
	if query == "" {
		return nil, storeerr.New(storeerr.CodeInvalidArgument, "sql is empty")
	}
	ps, err := params(args)
	if err != nil {
		return nil, err
	}
	return fetch(ctx, db, query, ps)
}

// fetch reads every row while the statement still holds its position in
// the queue, so the result reflects exactly the writes submitted before it.
func fetch(ctx context.Context, db execer, query string, args []any) (*ResultSet, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeerr.Engine(err, "query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, storeerr.Engine(err, "columns")
	}
	text := textColumns(rows)
	var data [][]any
	for rows.Next() {
		row := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, storeerr.Engine(err, "scan row %d", len(data))
		}
		for i, isText := range text {
			if b, ok := row[i].([]byte); ok && isText {
				row[i] = string(b)
			}
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.Engine(err, "iterate rows")
	}
	return newResultSet(columns, data), nil
}

// textColumns marks columns declared with text affinity. Drivers may hand
// their values back as []byte.
func textColumns(rows *sql.Rows) []bool {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil
	}
	out := make([]bool, len(types))
	for i, ct := range types {
		name := strings.ToUpper(ct.DatabaseTypeName())
		out[i] = strings.Contains(name, "CHAR") || strings.Contains(name, "TEXT") || strings.Contains(name, "CLOB")
	}
	return out
}

func readVersion(db execer) (int32, error) {
	var v int32
	if err := db.QueryRowContext(context.Background(), "PRAGMA user_version").Scan(&v); err != nil {
		return 0, storeerr.Engine(err, "get user_version")
	}
	return v, nil
}

func writeVersion(db execer, v int32) error {
	// PRAGMA arguments cannot be bound.
	if _, err := db.ExecContext(context.Background(), fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return storeerr.Engine(err, "set user_version")
	}
	return nil
}

func inTx(db *sql.DB, fn func(tx *Tx) error) (err error) {
	sqlTx, err := db.Begin()
	if err != nil {
		return storeerr.Engine(err, "begin")
	}
	defer func() {
		if r := recover(); r != nil {
			sqlTx.Rollback()
			panic(r)
		}
	}()
	if err := fn(newTx(sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return storeerr.Engine(rbErr, "rollback after %v", err)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storeerr.Engine(err, "commit")
	}
	return nil
}

package harness

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roach88/datakit/internal/async"
	"github.com/roach88/datakit/internal/predicate"
	"github.com/roach88/datakit/internal/rdb"
	"github.com/roach88/datakit/internal/value"
)

func (h *Harness) execute(ctx context.Context, step Step) (outcome, error) {
	switch step.Op {
	case OpOpen:
		return h.open(ctx, step), nil
	case OpDeleteStore:
		name := step.Store
		if name == "" {
			name = h.current
		}
		_, err := h.rdb.DeleteStore(name).Await(ctx)
		return outcome{detail: name, summary: "ok", err: err}, nil
	case OpPrefsPut, OpPrefsGet, OpPrefsDelete, OpPrefsFlush, OpPrefsClear:
		return h.executePrefs(ctx, step)
	}

	s, err := h.store(step)
	if err != nil {
		return outcome{}, err
	}
	switch step.Op {
	case OpClose:
		err := s.Close()
		return outcome{detail: filepath.Base(s.Path()), summary: "ok", err: err}, nil
	case OpExec:
		_, err := s.ExecuteSQL(step.SQL, step.Args...).Await(ctx)
		return outcome{detail: step.SQL, summary: "ok", err: err}, nil
	case OpInsert:
		id, err := s.Insert(step.Table, step.Values).Await(ctx)
		return outcome{detail: step.Table, summary: fmt.Sprintf("rowid=%d", id), value: id, err: err}, nil
	case OpBatchInsert:
		n, err := s.BatchInsert(step.Table, step.Rows).Await(ctx)
		return outcome{detail: step.Table, summary: fmt.Sprintf("inserted=%d", n), value: n, err: err}, nil
	case OpUpdate:
		n, err := await(ctx, step, func(p predicate.Predicates, _ ...rdb.OpOption) *async.Future[int64] {
			return s.Update(step.Values, p)
		})
		return outcome{detail: step.Table, summary: fmt.Sprintf("changed=%d", n), value: n, err: err}, nil
	case OpDelete:
		n, err := await(ctx, step, s.Delete)
		return outcome{detail: step.Table, summary: fmt.Sprintf("deleted=%d", n), value: n, err: err}, nil
	case OpCount:
		n, err := await(ctx, step, s.Count)
		return outcome{detail: step.Table, summary: fmt.Sprintf("count=%d", n), value: n, err: err}, nil
	case OpQuery:
		return h.query(ctx, s, step), nil
	case OpSetVersion:
		_, err := s.SetVersion(step.Version).Await(ctx)
		return outcome{detail: strconv.FormatInt(step.Version, 10), summary: "ok", err: err}, nil
	case OpGetVersion:
		v, err := s.GetVersion().Await(ctx)
		return outcome{summary: fmt.Sprintf("version=%d", v), value: v, err: err}, nil
	case OpBackup:
		_, err := s.Backup(step.File).Await(ctx)
		return outcome{detail: step.File, summary: "ok", err: err}, nil
	case OpRestore:
		_, err := s.Restore(step.File).Await(ctx)
		return outcome{detail: step.File, summary: "ok", err: err}, nil
	}
	return outcome{}, fmt.Errorf("unknown op %q", step.Op)
}

func (h *Harness) open(ctx context.Context, step Step) outcome {
	out := outcome{detail: step.Store}
	level := step.SecurityLevel
	if level == "" {
		level = "S1"
	}
	sl, err := rdb.ParseSecurityLevel(level)
	if err != nil {
		out.err = err
		return out
	}
	s, err := h.rdb.GetStore(rdb.Config{
		Name:          step.Store,
		Version:       int32(step.Version),
		SecurityLevel: sl,
		Encrypted:     step.Encrypted,
	}).Await(ctx)
	if err != nil {
		out.err = err
		return out
	}
	h.stores[step.Store] = s
	h.current = step.Store
	out.value = s.Config().Version
	out.summary = fmt.Sprintf("version=%d", s.Config().Version)
	return out
}

// await builds the step's predicate and runs op with it. Builder errors
// surface through op like any other invalid argument.
func await(ctx context.Context, step Step, op func(predicate.Predicates, ...rdb.OpOption) *async.Future[int64]) (int64, error) {
	return op(buildPredicate(step)).Await(ctx)
}

func (h *Harness) query(ctx context.Context, s *rdb.Store, step Step) outcome {
	out := outcome{detail: step.Table}
	rs, err := s.Query(buildPredicate(step), step.Columns).Await(ctx)
	if err != nil {
		out.err = err
		return out
	}
	defer rs.Close()

	out.columns = rs.ColumnNames()
	out.cells = [][]string{}
	for rs.GoToNextRow() {
		row := make([]string, rs.ColumnCount())
		for i := range row {
			v, err := rs.GetValue(i)
			if err != nil {
				out.err = err
				return out
			}
			row[i] = formatCell(v)
		}
		out.cells = append(out.cells, row)
	}
	out.value = len(out.cells)
	out.summary = fmt.Sprintf("rows=%d", len(out.cells))
	return out
}

func (h *Harness) executePrefs(ctx context.Context, step Step) (outcome, error) {
	p, err := h.prefsStore(step)
	if err != nil {
		return outcome{detail: step.Prefs, err: err}, nil
	}
	out := outcome{detail: p.Name(), summary: "ok"}
	if step.Key != "" {
		out.detail += "/" + step.Key
	}

	switch step.Op {
	case OpPrefsPut:
		kind, err := value.ParseKind(step.Type)
		if err != nil {
			return outcome{}, err
		}
		v, err := value.Parse(kind, fmt.Sprint(step.Value))
		if err != nil {
			return outcome{}, err
		}
		_, out.err = p.Put(step.Key, v).Await(ctx)
	case OpPrefsGet:
		v, err := p.Get(step.Key, nil).Await(ctx)
		out.err = err
		out.value = formatCell(v)
		out.summary = "value=NULL"
		if v != nil {
			out.summary = fmt.Sprintf("value=%s:%s", v.Kind(), formatCell(v))
		}
	case OpPrefsDelete:
		_, out.err = p.Delete(step.Key).Await(ctx)
	case OpPrefsFlush:
		_, out.err = p.Flush().Await(ctx)
	case OpPrefsClear:
		_, out.err = p.Clear().Await(ctx)
	}
	return out, nil
}

func buildPredicate(step Step) predicate.Predicates {
	p := predicate.New(step.Table)
	for i, c := range step.Where {
		if c.Or && i > 0 {
			p = p.Or()
		}
		p = applyCond(p, c)
	}
	for _, o := range step.OrderBy {
		col, dir, _ := strings.Cut(strings.TrimSpace(o), " ")
		if strings.EqualFold(strings.TrimSpace(dir), "desc") {
			p = p.OrderByDesc(col)
		} else {
			p = p.OrderByAsc(col)
		}
	}
	return p
}

func applyCond(p predicate.Predicates, c Cond) predicate.Predicates {
	second := func() any {
		if len(c.Values) > 1 {
			return c.Values[1]
		}
		return nil
	}
	first := func() any {
		if len(c.Values) > 0 {
			return c.Values[0]
		}
		return c.Value
	}
	switch strings.ToUpper(c.Op) {
	case "=", "EQ":
		return p.EqualTo(c.Column, c.Value)
	case "<>", "!=", "NE":
		return p.NotEqualTo(c.Column, c.Value)
	case ">", "GT":
		return p.GreaterThan(c.Column, c.Value)
	case ">=", "GE":
		return p.GreaterThanOrEqualTo(c.Column, c.Value)
	case "<", "LT":
		return p.LessThan(c.Column, c.Value)
	case "<=", "LE":
		return p.LessThanOrEqualTo(c.Column, c.Value)
	case "BETWEEN":
		return p.Between(c.Column, first(), second())
	case "NOT BETWEEN":
		return p.NotBetween(c.Column, first(), second())
	case "LIKE":
		return p.Like(c.Column, fmt.Sprint(c.Value))
	case "GLOB":
		return p.Glob(c.Column, fmt.Sprint(c.Value))
	case "IS NULL":
		return p.IsNull(c.Column)
	case "IS NOT NULL":
		return p.IsNotNull(c.Column)
	case "IN":
		return p.In(c.Column, c.Values...)
	case "NOT IN":
		return p.NotIn(c.Column, c.Values...)
	default:
		// An empty column records a builder error on the predicate.
		return p.EqualTo("", c.Value)
	}
}

func formatCell(v value.Value) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case value.Blob:
		return "b64:" + base64.StdEncoding.EncodeToString(t)
	default:
		return value.Format(v)
	}
}

package querysql

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datakit/internal/predicate"
	"github.com/roach88/datakit/internal/storeerr"
	"github.com/roach88/datakit/internal/value"
)

// render writes the SQL on the first line and one "type value" line per
// bind argument.
func render(st Statement) []byte {
	var b strings.Builder
	b.WriteString(st.SQL)
	b.WriteString("\n")
	for _, a := range st.Args {
		fmt.Fprintf(&b, "%T %v\n", a, a)
	}
	return []byte(b.String())
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCompile_Golden(t *testing.T) {
	c := NewSQLCompiler()

	testCases := []struct {
		name    string
		compile func() (Statement, error)
	}{
		{"select_equal", func() (Statement, error) {
			return c.Select(predicate.New("test").EqualTo("name", "zhangsan"), nil)
		}},
		{"select_wrap_or", func() (Statement, error) {
			p := predicate.New("test").
				EqualTo("name", "Lisi").
				BeginWrap().
				EqualTo("age", 18).
				Or().
				EqualTo("salary", 100.5).
				EndWrap()
			return c.Select(p, nil)
		}},
		{"select_options", func() (Statement, error) {
			p := predicate.New("test").
				Distinct().
				GreaterThanOrEqualTo("age", 18).
				IsNotNull("name").
				GroupByColumns("name").
				OrderByDesc("age").
				OrderByAsc("name").
				LimitAs(10).
				OffsetAs(2)
			return c.Select(p, []string{"name", "age"})
		}},
		{"select_ranges", func() (Statement, error) {
			p := predicate.New("test").
				Between("age", 18, 30).
				NotIn("id", 1, 2, 3).
				Like("name", "zh%")
			return c.Select(p, nil)
		}},
		{"select_offset_only", func() (Statement, error) {
			return c.Select(predicate.New("test").OffsetAs(5), nil)
		}},
		{"update", func() (Statement, error) {
			return c.Update(predicate.New("test").EqualTo("id", 1), map[string]any{
				"name": "Lisi",
				"age":  value.Int32(20),
			})
		}},
		{"delete_all", func() (Statement, error) {
			return c.Delete(predicate.New("test"))
		}},
		{"insert", func() (Statement, error) {
			return c.Insert("test", map[string]any{
				"name":     "zhangsan",
				"age":      18,
				"salary":   100.5,
				"blobType": []byte{1, 2, 3},
			})
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := tc.compile()
			require.NoError(t, err)
			newGoldie(t).Assert(t, tc.name, render(st))
		})
	}
}

func TestCompile_ValuesNeverInterpolated(t *testing.T) {
	c := NewSQLCompiler()
	p := predicate.New("test").EqualTo("name", "x' OR '1'='1")

	st, err := c.Select(p, nil)
	require.NoError(t, err)
	assert.NotContains(t, st.SQL, "OR '1'")
	assert.Equal(t, []any{"x' OR '1'='1"}, st.Args)
}

func TestCompile_CountIgnoresPaging(t *testing.T) {
	c := NewSQLCompiler()
	st, err := c.Count(predicate.New("test").LessThan("age", 60).LimitAs(1).OffsetAs(3))
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM test WHERE age < ?", st.SQL)
	assert.Equal(t, []any{int64(60)}, st.Args)
}

func TestCompile_Errors(t *testing.T) {
	c := NewSQLCompiler()

	testCases := []struct {
		name    string
		compile func() (Statement, error)
	}{
		{"invalid predicate", func() (Statement, error) {
			return c.Select(predicate.New("test").BeginWrap().EqualTo("a", 1), nil)
		}},
		{"bad column list", func() (Statement, error) {
			return c.Select(predicate.New("test"), []string{"name; DROP"})
		}},
		{"empty update", func() (Statement, error) {
			return c.Update(predicate.New("test"), nil)
		}},
		{"empty insert table", func() (Statement, error) {
			return c.Insert("", map[string]any{"a": 1})
		}},
		{"empty insert values", func() (Statement, error) {
			return c.Insert("test", map[string]any{})
		}},
		{"unsupported operand", func() (Statement, error) {
			return c.Select(predicate.New("test").EqualTo("a", struct{}{}), nil)
		}},
		{"bad insert column", func() (Statement, error) {
			return c.Insert("test", map[string]any{"a b": 1})
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.compile()
			require.Error(t, err)
			assert.True(t, storeerr.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func TestToParam(t *testing.T) {
	testCases := []struct {
		in   any
		want any
	}{
		{value.Int32(7), int64(7)},
		{value.Int64(7), int64(7)},
		{value.Float64(1.5), 1.5},
		{value.Bool(true), true},
		{value.String("s"), "s"},
		{value.Blob{1}, []byte{1}},
		{int(3), int64(3)},
		{uint16(3), int64(3)},
		{float32(0.5), float64(0.5)},
		{nil, nil},
	}
	for _, tc := range testCases {
		got, err := ToParam(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%T", tc.in)
	}

	_, err := ToParam(map[string]int{})
	assert.Error(t, err)
}

package harness

import (
	"fmt"

	"github.com/roach88/datakit/internal/storeerr"
)

// checkExpectations compares a step's outcome with its expect clauses and
// returns one message per mismatch.
func checkExpectations(step Step, out outcome) []string {
	if step.ExpectError != "" {
		got := storeerr.CodeOf(out.err)
		switch {
		case out.err == nil:
			return []string{fmt.Sprintf("expected error %s, got success", step.ExpectError)}
		case string(got) != step.ExpectError:
			return []string{fmt.Sprintf("expected error %s, got %s: %v", step.ExpectError, got, out.err)}
		}
		return nil
	}
	if out.err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", out.err)}
	}

	var errs []string
	if step.Expect != nil {
		if want, got := textOf(step.Expect), textOf(out.value); want != got {
			errs = append(errs, fmt.Sprintf("expected %s, got %s", want, got))
		}
	}
	if step.ExpectRows != nil {
		errs = append(errs, matchRows(step.ExpectRows, out)...)
	}
	return errs
}

// matchRows checks the row count and, per row, the columns the
// expectation names. Unnamed columns are ignored.
func matchRows(expected []map[string]any, out outcome) []string {
	if len(expected) != len(out.cells) {
		return []string{fmt.Sprintf("expected %d rows, got %d", len(expected), len(out.cells))}
	}
	index := make(map[string]int, len(out.columns))
	for i, c := range out.columns {
		index[c] = i
	}

	var errs []string
	for i, row := range expected {
		for col, want := range row {
			j, ok := index[col]
			if !ok {
				errs = append(errs, fmt.Sprintf("row %d: no column %q", i, col))
				continue
			}
			if w, got := textOf(want), out.cells[i][j]; w != got {
				errs = append(errs, fmt.Sprintf("row %d: %s expected %s, got %s", i, col, w, got))
			}
		}
	}
	return errs
}

func textOf(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}

package harness

import (
	"fmt"
	"strings"
)

// TraceEvent is the record of one executed step.
type TraceEvent struct {
	Step    int      `json:"step"`
	Op      string   `json:"op"`
	Detail  string   `json:"detail,omitempty"`
	Outcome string   `json:"outcome"`
	Rows    []string `json:"rows,omitempty"`
}

func (e TraceEvent) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d %s", e.Step, e.Op)
	if e.Detail != "" {
		fmt.Fprintf(&sb, " %s", e.Detail)
	}
	fmt.Fprintf(&sb, " -> %s\n", e.Outcome)
	for _, row := range e.Rows {
		fmt.Fprintf(&sb, "    %s\n", row)
	}
	return sb.String()
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// TraceText renders the trace one step per line, query rows indented
// beneath their step.
func (r *Result) TraceText(name string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "scenario %s\n", name)
	for _, e := range r.Trace {
		sb.WriteString(e.String())
	}
	return []byte(sb.String())
}

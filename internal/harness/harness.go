package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/roach88/datakit/internal/preferences"
	"github.com/roach88/datakit/internal/rdb"
	"github.com/roach88/datakit/internal/storeerr"
	"github.com/roach88/datakit/internal/testutil"
)

const defaultPrefs = "scenario"

// Harness executes one scenario. Each run owns its managers.
type Harness struct {
	rdb     *rdb.Manager
	prefs   *preferences.Manager
	stores  map[string]*rdb.Store
	current string
	logger  *slog.Logger
}

// Option configures a run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger routes store logging to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run executes every step of s with databases under dir. Step failures
// are outcomes recorded in the trace; the returned error is reserved for
// scenarios that cannot be executed at all.
func Run(ctx context.Context, s *Scenario, dir string, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	rdbOpts := []rdb.Option{
		rdb.WithLogger(o.logger),
		rdb.WithIDGenerator(testutil.NewSequenceIDGenerator("rdb")),
	}
	if s.Driver != "" {
		rdbOpts = append(rdbOpts, rdb.WithDriver(s.Driver))
	}
	h := &Harness{
		rdb: rdb.NewManager(filepath.Join(dir, "databases"), rdbOpts...),
		prefs: preferences.NewManager(afero.NewMemMapFs(), "/preferences",
			preferences.WithLogger(o.logger),
			preferences.WithIDGenerator(testutil.NewSequenceIDGenerator("prefs")),
		),
		stores: make(map[string]*rdb.Store),
		logger: o.logger,
	}
	defer h.prefs.Close()
	defer h.rdb.Close()

	result := NewResult()
	for i, step := range s.Steps {
		out, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
		event := TraceEvent{Step: i + 1, Op: step.Op, Detail: out.detail, Rows: out.rowLines()}
		if out.err != nil {
			event.Outcome = "error " + string(storeerr.CodeOf(out.err))
		} else {
			event.Outcome = out.summary
		}
		result.Trace = append(result.Trace, event)

		for _, msg := range checkExpectations(step, out) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", i+1, step.Op, msg))
		}
	}
	return result, nil
}

// outcome is what a step produced.
type outcome struct {
	detail  string
	summary string
	value   any
	columns []string
	cells   [][]string
	err     error
}

func (o outcome) rowLines() []string {
	if o.err != nil || o.cells == nil {
		return nil
	}
	lines := make([]string, len(o.cells))
	for i, row := range o.cells {
		parts := make([]string, len(row))
		for j, c := range row {
			parts[j] = o.columns[j] + "=" + c
		}
		lines[i] = strings.Join(parts, " ")
	}
	return lines
}

func (h *Harness) store(step Step) (*rdb.Store, error) {
	name := step.Store
	if name == "" {
		name = h.current
	}
	s, ok := h.stores[name]
	if !ok {
		return nil, fmt.Errorf("store %q was never opened", name)
	}
	return s, nil
}

func (h *Harness) prefsStore(step Step) (*preferences.Preferences, error) {
	name := step.Prefs
	if name == "" {
		name = defaultPrefs
	}
	return h.prefs.GetPreferences(name)
}

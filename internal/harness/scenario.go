package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a sequence of store operations with expectations.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Driver selects the SQL driver; empty means the default.
	Driver string `yaml:"driver,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	// Store names the relational store a step targets. Defaults to the
	// store of the most recent open.
	Store         string `yaml:"store,omitempty"`
	SecurityLevel string `yaml:"security_level,omitempty"`
	Encrypted     bool   `yaml:"encrypted,omitempty"`

	SQL     string           `yaml:"sql,omitempty"`
	Args    []any            `yaml:"args,omitempty"`
	Table   string           `yaml:"table,omitempty"`
	Values  map[string]any   `yaml:"values,omitempty"`
	Rows    []map[string]any `yaml:"rows,omitempty"`
	Where   []Cond           `yaml:"where,omitempty"`
	Columns []string         `yaml:"columns,omitempty"`
	OrderBy []string         `yaml:"order_by,omitempty"`
	Version int64            `yaml:"version,omitempty"`
	File    string           `yaml:"file,omitempty"`

	// Prefs names the preferences store for prefs_* steps.
	Prefs string `yaml:"prefs,omitempty"`
	Key   string `yaml:"key,omitempty"`
	Type  string `yaml:"type,omitempty"`
	Value any    `yaml:"value,omitempty"`

	ExpectError string           `yaml:"expect_error,omitempty"`
	Expect      any              `yaml:"expect,omitempty"`
	ExpectRows  []map[string]any `yaml:"expect_rows,omitempty"`
}

// Cond is one predicate condition. Or joins it to the previous condition
// with OR instead of AND.
type Cond struct {
	Column string `yaml:"column"`
	Op     string `yaml:"op"`
	Value  any    `yaml:"value,omitempty"`
	Values []any  `yaml:"values,omitempty"`
	Or     bool   `yaml:"or,omitempty"`
}

// Step operations.
const (
	OpOpen        = "open"
	OpClose       = "close"
	OpExec        = "exec"
	OpInsert      = "insert"
	OpBatchInsert = "batch_insert"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpQuery       = "query"
	OpCount       = "count"
	OpSetVersion  = "set_version"
	OpGetVersion  = "get_version"
	OpBackup      = "backup"
	OpRestore     = "restore"
	OpDeleteStore = "delete_store"
	OpPrefsPut    = "prefs_put"
	OpPrefsGet    = "prefs_get"
	OpPrefsDelete = "prefs_delete"
	OpPrefsFlush  = "prefs_flush"
	OpPrefsClear  = "prefs_clear"
)

var knownOps = map[string]bool{
	OpOpen: true, OpClose: true, OpExec: true, OpInsert: true, OpBatchInsert: true,
	OpUpdate: true, OpDelete: true, OpQuery: true, OpCount: true,
	OpSetVersion: true, OpGetVersion: true, OpBackup: true, OpRestore: true,
	OpDeleteStore: true, OpPrefsPut: true, OpPrefsGet: true, OpPrefsDelete: true,
	OpPrefsFlush: true, OpPrefsClear: true,
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	if !knownOps[step.Op] {
		return fmt.Errorf("unknown op %q", step.Op)
	}
	switch step.Op {
	case OpExec:
		if step.SQL == "" {
			return fmt.Errorf("sql is required for exec")
		}
	case OpBackup, OpRestore:
		if step.File == "" {
			return fmt.Errorf("file is required for %s", step.Op)
		}
	case OpPrefsPut:
		if step.Type == "" {
			return fmt.Errorf("type is required for prefs_put")
		}
	}
	if step.ExpectError != "" && (step.Expect != nil || step.ExpectRows != nil) {
		return fmt.Errorf("expect_error excludes expect and expect_rows")
	}
	for i, c := range step.Where {
		if c.Column == "" || c.Op == "" {
			return fmt.Errorf("where[%d]: column and op are required", i)
		}
	}
	return nil
}

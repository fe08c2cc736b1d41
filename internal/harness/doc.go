// Package harness runs conformance scenarios against the relational store
// and preferences subsystems.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: crud_basics
//	description: "Insert, query and version round trip"
//	driver: sqlite3
//	steps:
//	  - op: open
//	    store: rdbstore.db
//	    security_level: S1
//	  - op: exec
//	    sql: "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)"
//	  - op: insert
//	    table: test
//	    values: { name: zhangsan }
//	    expect: 1
//	  - op: query
//	    table: test
//	    where:
//	      - { column: name, op: "=", value: zhangsan }
//	    expect_rows:
//	      - { id: 1, name: zhangsan }
//	  - op: set_version
//	    version: 2147483647000
//	  - op: get_version
//	    expect: -1000
//
// Every step records one trace line. A step may carry expect_error (an
// error code such as INVALID_ARGUMENT), expect (compared with the step's
// result as text) or expect_rows (a subset match on query rows).
//
// # Deterministic Traces
//
// Each run uses a fresh data directory, an in-memory preferences file
// system and sequential temp file IDs, so the trace of a scenario is the
// same on every run and can be compared with a golden file.
package harness

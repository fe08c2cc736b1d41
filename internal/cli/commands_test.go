package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefsCommands(t *testing.T) {
	dir := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		stdout, _, err := execute(t, append([]string{"--data-dir", dir}, args...)...)
		require.NoError(t, err)
		return stdout
	}

	assert.Equal(t, "(empty)\n", run("prefs", "list"))
	assert.Equal(t, "volume = int32:7\n", run("prefs", "put", "volume", "7", "--type", "int32"))
	assert.Equal(t, "theme = string:dark\n", run("prefs", "put", "theme", "dark"))
	assert.Equal(t, "icon = blob:AQID\n", run("prefs", "put", "icon", "AQID", "--type", "blob"))

	assert.Equal(t, "volume = int32:7\n", run("prefs", "get", "volume"))
	assert.Equal(t, "missing not set\n", run("prefs", "get", "missing"))
	assert.Equal(t, "icon = blob:AQID\ntheme = string:dark\nvolume = int32:7\n", run("prefs", "list"))

	assert.Equal(t, "deleted theme\n", run("prefs", "delete", "theme"))
	assert.Equal(t, "icon = blob:AQID\nvolume = int32:7\n", run("prefs", "list"))

	assert.Equal(t, "cleared default\n", run("prefs", "clear"))
	assert.Equal(t, "(empty)\n", run("prefs", "list"))

	_, err := os.Stat(filepath.Join(dir, "preferences", "default.prefs"))
	assert.NoError(t, err)
}

func TestPrefsSeparateNames(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "--data-dir", dir, "prefs", "--name", "a", "put", "k", "1")
	require.NoError(t, err)

	stdout, _, err := execute(t, "--data-dir", dir, "prefs", "--name", "b", "get", "k")
	require.NoError(t, err)
	assert.Equal(t, "k not set\n", stdout)
}

func TestPrefsPutErrors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "--data-dir", dir, "prefs", "put", "k", "v", "--type", "decimal")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "--data-dir", dir, "prefs", "put", "k", "seven", "--type", "int32")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	stdout, _, err := execute(t, "--data-dir", dir, "prefs", "put", "", "v")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "Error [")
}

func TestPrefsJSON(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := execute(t, "--data-dir", dir, "--format", "json", "prefs", "put", "n", "42", "--type", "int64")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   PrefEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, PrefEntry{Key: "n", Kind: "int64", Value: "42", Found: true}, resp.Data)
}

func TestRDBCommands(t *testing.T) {
	dir := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		stdout, _, err := execute(t, append([]string{"--data-dir", dir}, args...)...)
		require.NoError(t, err)
		return stdout
	}

	assert.Equal(t, "ok\n", run("rdb", "exec", "CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT, score REAL)"))
	run("rdb", "exec", "INSERT INTO people (name, score) VALUES (?, ?)", "alice", "1.5")
	run("rdb", "exec", "INSERT INTO people (name) VALUES (?)", "bob")

	assert.Equal(t,
		"id\tname\tscore\n1\talice\t1.5\n2\tbob\tNULL\n(2 rows)\n",
		run("rdb", "query", "SELECT id, name, score FROM people ORDER BY id"))
	assert.Equal(t,
		"name\nbob\n(1 rows)\n",
		run("rdb", "query", "SELECT name FROM people WHERE name = ?", "bob"))

	assert.Equal(t, "0\n", run("rdb", "version"))
	assert.Equal(t, "3\n", run("rdb", "set-version", "3"))
	assert.Equal(t, "-1000\n", run("rdb", "set-version", "2147483647000"))
	assert.Equal(t, "-1000\n", run("rdb", "version"))

	assert.Contains(t, run("rdb", "backup", "people.bak"), "backup people.bak (")
	_, err := os.Stat(filepath.Join(dir, "databases", "people.bak"))
	require.NoError(t, err)

	run("rdb", "exec", "DELETE FROM people")
	assert.Equal(t, "id\n(0 rows)\n", run("rdb", "query", "SELECT id FROM people"))

	assert.Contains(t, run("rdb", "restore", "people.bak"), "restore people.bak (")
	assert.Equal(t, "count\n2\n(1 rows)\n", run("rdb", "query", "SELECT COUNT(*) AS count FROM people"))

	assert.Equal(t, "deleted datakit.db\n", run("rdb", "delete"))
	_, err = os.Stat(filepath.Join(dir, "databases", "datakit.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestRDBErrors(t *testing.T) {
	dir := t.TempDir()

	stdout, _, err := execute(t, "--data-dir", dir, "rdb", "query", "SELECT * FROM nowhere")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "Error [ENGINE_ERROR")

	stdout, _, err = execute(t, "--data-dir", dir, "--format", "json", "rdb", "restore", "missing.bak")
	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_ARGUMENT", resp.Error.Code)
	assert.Equal(t, 14800001, resp.Error.Number)

	_, _, err = execute(t, "--data-dir", dir, "rdb", "set-version", "ten")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRDBDeclaredStore(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "datakit.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`data_dir: `+dir+`
stores:
  - name: app.db
    version: 4
    security_level: S3
`), 0o644))

	stdout, _, err := execute(t, "--config", cfgPath, "rdb", "--name", "app.db", "version")
	require.NoError(t, err)
	assert.Equal(t, "4\n", stdout)
}

func TestScenarioRun(t *testing.T) {
	stdout, _, err := execute(t, "--data-dir", t.TempDir(),
		"scenario", "run", filepath.Join("..", "harness", "testdata", "scenarios", "preferences.yaml"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "scenario preferences\n")
	assert.NotContains(t, stdout, "FAIL")
}

func TestScenarioRunFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`name: broken
steps:
  - op: prefs_get
    key: missing
    expect: present
`), 0o644))

	stdout, _, err := execute(t, "--data-dir", t.TempDir(), "scenario", "run", file)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "scenario broken\n")
	assert.Contains(t, stdout, "FAIL step 1 (prefs_get)")
}

func TestScenarioRunJSON(t *testing.T) {
	stdout, _, err := execute(t, "--data-dir", t.TempDir(), "--format", "json",
		"scenario", "run", filepath.Join("..", "harness", "testdata", "scenarios", "preferences.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   []ScenarioReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "preferences", resp.Data[0].Name)
	assert.True(t, resp.Data[0].Result.Pass)
}

func TestScenarioRunBadFile(t *testing.T) {
	_, _, err := execute(t, "scenario", "run", "no-such-scenario.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "datakit", cmd.Use)
	assert.Contains(t, cmd.Long, "DATAKIT_*")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"prefs", "get"}, {"prefs", "put"}, {"prefs", "delete"}, {"prefs", "clear"}, {"prefs", "list"},
		{"rdb", "exec"}, {"rdb", "query"}, {"rdb", "version"}, {"rdb", "set-version"},
		{"rdb", "backup"}, {"rdb", "restore"}, {"rdb", "delete"},
		{"scenario", "run"},
	}

	for _, path := range commands {
		t.Run(path[0]+"_"+path[1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "data-dir", "driver", "metrics"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestSubcommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	prefsCmd, _, err := cmd.Find([]string{"prefs", "put"})
	require.NoError(t, err)
	nameFlag := prefsCmd.Flags().Lookup("name")
	require.NotNil(t, nameFlag)
	assert.Equal(t, "default", nameFlag.DefValue)
	typeFlag := prefsCmd.Flags().Lookup("type")
	require.NotNil(t, typeFlag)
	assert.Equal(t, "string", typeFlag.DefValue)

	rdbCmd, _, err := cmd.Find([]string{"rdb", "query"})
	require.NoError(t, err)
	storeFlag := rdbCmd.Flags().Lookup("name")
	require.NotNil(t, storeFlag)
	assert.Equal(t, "datakit.db", storeFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "--format", "xml", "--data-dir", t.TempDir(), "prefs", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestInvalidConfigIsCommandError(t *testing.T) {
	stdout, _, err := execute(t, "--data-dir", t.TempDir(), "--driver", "postgres", "prefs", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "INVALID_CONFIG")

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.True(t, exitErr.Reported)
}

func TestMissingConfigFile(t *testing.T) {
	_, _, err := execute(t, "--config", "does-not-exist.yaml", "prefs", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDataDirFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATAKIT_DATA_DIR", dir)

	_, _, err := execute(t, "prefs", "put", "theme", "dark")
	require.NoError(t, err)

	stdout, _, err := execute(t, "--data-dir", dir, "prefs", "get", "theme")
	require.NoError(t, err)
	assert.Equal(t, "theme = string:dark\n", stdout)
}

func TestMetricsFlag(t *testing.T) {
	_, stderr, err := execute(t, "--metrics", "--data-dir", t.TempDir(), "prefs", "list")
	require.NoError(t, err)
	assert.Contains(t, stderr, "datakit_operations_total")
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// sqliteArgs points the in-process runtime at a fresh database file.
func sqliteArgs(t *testing.T) []string {
	t.Helper()
	return []string{
		"--set", "storage.driver=sqlite",
		"--set", "sqlite.path=" + filepath.Join(t.TempDir(), "batchedit.db"),
		"--set", "redis.enabled=false",
		"--set", "minio.enabled=false",
		"--set", "kafka.enabled=false",
	}
}

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "batchedit", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"version", "dataset", "edit", "settings", "alias", "snapshot", "audit", "cache", "migrate"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestNewRootCommand_GlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	pf := cmd.PersistentFlags()

	tests := []struct {
		name string
		def  string
	}{
		{"config", ""},
		{"log-level", "warn"},
		{"output", "text"},
		{"verbose", "false"},
		{"timeout", "2m0s"},
		{"server", ""},
		{"api-key", ""},
		{"set", "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := pf.Lookup(tt.name)
			require.NotNil(t, f)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
	assert.Equal(t, "o", pf.Lookup("output").Shorthand)
	assert.Equal(t, "c", pf.Lookup("config").Shorthand)
}

func TestVersionCmd_Formats(t *testing.T) {
	oldV, oldC, oldD := Version, GitCommit, BuildDate
	Version, GitCommit, BuildDate = "1.2.3", "abc123", "nightly"
	t.Cleanup(func() { Version, GitCommit, BuildDate = oldV, oldC, oldD })

	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "batchedit 1.2.3 (commit: abc123, built: nightly)\n", out)

	out, err = runCLI(t, "version", "-o", "json")
	require.NoError(t, err)
	var v versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, versionInfo{Version: "1.2.3", Commit: "abc123", BuildDate: "nightly"}, v)

	out, err = runCLI(t, "version", "-o", "yaml")
	require.NoError(t, err)
	assert.Equal(t, "version: 1.2.3\ncommit: abc123\nbuildDate: nightly\n", out)
}

func TestPersistentPreRun_RejectsUnknownOutput(t *testing.T) {
	_, err := runCLI(t, "version", "-o", "xml")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestPersistentPreRun_RejectsBadOverride(t *testing.T) {
	_, err := runCLI(t, "version", "--set", "no-equals-sign")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestPersistentPreRun_MissingConfigFile(t *testing.T) {
	_, err := runCLI(t, "version", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestPersistentPreRun_RejectsBadServerURL(t *testing.T) {
	_, err := runCLI(t, "version", "--server", "ftp://example.com")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestParseOverrides(t *testing.T) {
	got, err := parseOverrides([]string{"storage.driver=sqlite", " sqlite.path = /tmp/x.db ", "log.level="})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"storage.driver": "sqlite",
		"sqlite.path":    "/tmp/x.db",
		"log.level":      "",
	}, got)

	_, err = parseOverrides([]string{"=value"})
	assert.Error(t, err)
}

func TestGetCLIContext_Missing(t *testing.T) {
	cmd := NewRootCommand()
	_, err := GetCLIContext(cmd)
	assert.Error(t, err)

	cmd.SetContext(context.Background())
	_, err = GetCLIContext(cmd)
	assert.Error(t, err)
}

func TestDisplayWidth(t *testing.T) {
	assert.Equal(t, 0, displayWidth(""))
	assert.Equal(t, 5, displayWidth("hello"))
	assert.Equal(t, 4, displayWidth("轮虫"))
	assert.Equal(t, 6, displayWidth("1号点a"))
	assert.Equal(t, 2, displayWidth("Ａ"))
}

func TestFormatTable(t *testing.T) {
	got := FormatTable(
		[]string{"NAME", "N"},
		[][]string{{"轮虫", "3"}, {"ab", "10"}, {"晶囊轮虫"}},
	)
	want := "" +
		"NAME      N\n" +
		"--------  --\n" +
		"轮虫      3\n" +
		"ab        10\n" +
		"晶囊轮虫  \n"
	assert.Equal(t, want, got)
	assert.Empty(t, FormatTable(nil, nil))
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab  ", padRight("ab", 4))
	assert.Equal(t, "轮虫", padRight("轮虫", 3))
	assert.Equal(t, "轮虫  ", padRight("轮虫", 6))
}

type stringer struct{}

func (stringer) String() string { return "from stringer\n" }

func TestPrintResult_TextFallbacks(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, &CLIContext{OutputFormat: "text"}))

	require.NoError(t, PrintResult(cmd, "plain"))
	require.NoError(t, PrintResult(cmd, stringer{}))
	require.NoError(t, PrintResult(cmd, map[string]int{"a": 1}))
	assert.Equal(t, "plain\nfrom stringer\n{\n  \"a\": 1\n}\n", out.String())
}

func TestPrintResult_NoContextIsJSON(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, PrintResult(cmd, map[string]string{"k": "<v>"}))
	assert.Equal(t, "{\n  \"k\": \"<v>\"\n}\n", out.String())
}

func TestPrintErrorAndSuccess(t *testing.T) {
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	PrintSuccess(cmd, "done")
	PrintError(cmd, nil)
	PrintError(cmd, errors.InvalidParam("bad"))
	assert.Equal(t, "OK: done\n", out.String())
	assert.Contains(t, errOut.String(), "Error: ")
	assert.Contains(t, errOut.String(), "bad")
}

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// hostConfig writes a config file storing files below a temp directory,
// so state survives between command invocations.
func hostConfig(t *testing.T, decorators string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: ERROR
backend:
  type: host
  host:
    root: ` + filepath.Join(dir, "files") + `
` + decorators
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, configPath, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFileCommands(t *testing.T) {
	cfg := hostConfig(t, "")

	_, err := run(t, cfg, "", "mkdir", "-p", "/docs/old")
	require.NoError(t, err)

	_, err = run(t, cfg, "hello world", "put", "/docs/readme.txt")
	require.NoError(t, err)

	out, err := run(t, cfg, "", "cat", "/docs/readme.txt")
	require.NoError(t, err)
	require.Equal(t, "hello world", out)

	out, err = run(t, cfg, "", "ls", "/docs")
	require.NoError(t, err)
	require.Contains(t, out, "old/")
	require.Contains(t, out, "readme.txt")

	_, err = run(t, cfg, "", "mv", "/docs/readme.txt", "/docs/old/readme.txt")
	require.NoError(t, err)

	out, err = run(t, cfg, "", "ls", "-r", "/docs")
	require.NoError(t, err)
	require.Contains(t, out, "/docs/old/readme.txt")

	_, err = run(t, cfg, "", "rm", "/docs")
	require.Error(t, err, "non-empty directory needs -r")

	_, err = run(t, cfg, "", "rm", "-r", "/docs")
	require.NoError(t, err)

	out, err = run(t, cfg, "", "ls")
	require.NoError(t, err)
	require.Empty(t, strings.TrimSpace(out))
}

func TestPutFromLocalFileWithParents(t *testing.T) {
	cfg := hostConfig(t, "")
	local := filepath.Join(t.TempDir(), "local.txt")
	require.NoError(t, os.WriteFile(local, []byte("from disk"), 0o644))

	_, err := run(t, cfg, "", "put", "/a/b/c.txt", local)
	require.Error(t, err, "parent does not exist")

	_, err = run(t, cfg, "", "put", "-p", "/a/b/c.txt", local)
	require.NoError(t, err)

	out, err := run(t, cfg, "", "cat", "/a/b/c.txt")
	require.NoError(t, err)
	require.Equal(t, "from disk", out)
}

func TestPutExpectVersion(t *testing.T) {
	cfg := hostConfig(t, "")

	out, err := run(t, cfg, "first", "put", "/counter", "--expect-version", "0")
	require.NoError(t, err)
	version := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "v"))
	require.NotEmpty(t, version)

	_, err = run(t, cfg, "stale", "put", "/counter", "--expect-version", "0")
	require.Error(t, err)
	require.Contains(t, err.Error(), "version")

	_, err = run(t, cfg, "second", "put", "/counter", "--expect-version", version)
	require.NoError(t, err)

	out, err = run(t, cfg, "", "cat", "/counter")
	require.NoError(t, err)
	require.Equal(t, "second", out)
}

func TestHistoryCommand(t *testing.T) {
	cfg := hostConfig(t, `
decorators:
  - type: history
    options:
      versioning: true
`)

	_, err := run(t, cfg, "one", "put", "/notes.txt")
	require.NoError(t, err)
	_, err = run(t, cfg, "two", "put", "/notes.txt")
	require.NoError(t, err)

	out, err := run(t, cfg, "", "history", "/notes.txt")
	require.NoError(t, err)
	ids := strings.Fields(out)
	require.Len(t, ids, 1)

	out, err = run(t, cfg, "", "history", "/notes.txt", "--show", ids[0])
	require.NoError(t, err)
	require.Equal(t, "one", out)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsfacade.yaml")

	cmd := New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", path})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), path)

	_, err := os.Stat(path)
	require.NoError(t, err)

	// The generated file drives the other commands.
	_, err = run(t, path, "", "ls")
	require.NoError(t, err)
}

func TestMissingArguments(t *testing.T) {
	cfg := hostConfig(t, "")

	_, err := run(t, cfg, "", "cat")
	require.Error(t, err)

	_, err = run(t, cfg, "", "mv", "/only-one")
	require.Error(t, err)
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const siteFixture = `
nodes:
  - name: site
    type: nt:unstructured
    properties:
      title: Home
      rank: {type: Long, value: "3"}
    children:
      - name: about
        type: nt:unstructured
        properties:
          title: About
`

const aboutQuery = `
source:
  selector: {type: nt:unstructured, name: p}
where:
  compare:
    operand: {property: {selector: p, property: title}}
    op: "="
    value: {bind: t}
bind:
  t: About
`

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeFile writes content into dir and returns the file's path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// newRepository creates a config directory pointing at a fresh database and
// initializes it. It returns the --config-dir flag pair.
func newRepository(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	cfg := "database: " + filepath.Join(dir, "crepo.db") + "\nlog_level: error\n"
	writeFile(t, dir, "config.yaml", cfg)

	flags := []string{"--config-dir", dir}
	out, err := execute(t, append([]string{"init"}, flags...)...)
	require.NoError(t, err)
	require.Contains(t, out, "✓ Repository ready")
	return dir, flags
}

// importSite loads siteFixture into the repository.
func importSite(t *testing.T, dir string, flags []string) {
	t.Helper()
	fixture := writeFile(t, dir, "site.yaml", siteFixture)
	out, err := execute(t, append([]string{"import", fixture}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Imported 2 node(s) under /")
}

func decode(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestInitCommand_KeepsExistingConfig(t *testing.T) {
	dir, flags := newRepository(t)

	out, err := execute(t, append([]string{"init", "--format", "json"}, flags...)...)
	require.NoError(t, err)
	resp := decode(t, out)
	assert.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	assert.Equal(t, filepath.Join(dir, "crepo.db"), data["database"])
	assert.Equal(t, "default", data["workspace"])
	assert.Equal(t, false, data["workspace_created"])
}

func TestImportAndGet(t *testing.T) {
	dir, flags := newRepository(t)
	importSite(t, dir, flags)

	t.Run("node text", func(t *testing.T) {
		out, err := execute(t, append([]string{"get", "/site"}, flags...)...)
		require.NoError(t, err)
		assert.Contains(t, out, "/site\n")
		assert.Contains(t, out, "type: nt:unstructured")
		assert.Contains(t, out, "title (String) = Home")
		assert.Contains(t, out, "rank (Long) = 3")
		assert.Contains(t, out, "    about\n")
	})

	t.Run("node json", func(t *testing.T) {
		out, err := execute(t, append([]string{"get", "/site/about", "--format", "json"}, flags...)...)
		require.NoError(t, err)
		data := decode(t, out).Data.(map[string]any)
		assert.Equal(t, "/site/about", data["path"])
		assert.Equal(t, "nt:unstructured", data["primary_type"])
	})

	t.Run("property", func(t *testing.T) {
		out, err := execute(t, append([]string{"get", "/site/title"}, flags...)...)
		require.NoError(t, err)
		assert.Equal(t, "/site/title (String) = Home\n", out)
	})

	t.Run("missing", func(t *testing.T) {
		out, err := execute(t, append([]string{"get", "/nope"}, flags...)...)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [ITEM_NOT_FOUND]")
	})
}

func TestImportCommand_InvalidFixture(t *testing.T) {
	dir, flags := newRepository(t)
	bad := writeFile(t, dir, "bad.yaml", "nodes: []\n")

	_, err := execute(t, append([]string{"import", bad}, flags...)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := execute(t, append([]string{"get", "/site"}, flags...)...)
	require.Error(t, err, "nothing may be imported: %s", out)
}

func TestQueryCommand(t *testing.T) {
	dir, flags := newRepository(t)
	importSite(t, dir, flags)
	query := writeFile(t, dir, "about.yaml", aboutQuery)

	out, err := execute(t, append([]string{"query", query}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "/site/about\n(1 row(s))\n", out)

	out, err = execute(t, append([]string{"query", query, "--format", "json"}, flags...)...)
	require.NoError(t, err)
	data := decode(t, out).Data.(map[string]any)
	assert.Equal(t, []any{"p"}, data["selectors"])
	rows := data["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"p": "/site/about"}, rows[0].(map[string]any)["paths"])
}

func TestCompileCommand(t *testing.T) {
	dir := t.TempDir()
	query := writeFile(t, dir, "about.yaml", aboutQuery)

	t.Run("sql2", func(t *testing.T) {
		out, err := execute(t, "compile", query)
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT * FROM [nt:unstructured] AS [p] WHERE [p].[title] = $t\n  $t = 'About'\n", out)
	})

	t.Run("sqlite", func(t *testing.T) {
		out, err := execute(t, "compile", query, "--language", "sqlite", "--format", "json")
		require.NoError(t, err)
		data := decode(t, out).Data.(map[string]any)
		assert.Equal(t, "sqlite", data["language"])
		assert.Contains(t, data["text"], "SELECT")
		assert.Contains(t, data["args"], "<workspace>")
	})

	t.Run("unknown language", func(t *testing.T) {
		_, err := execute(t, "compile", query, "--language", "xpath")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "compile", filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
	})
}

func TestJournalCommand(t *testing.T) {
	dir, flags := newRepository(t)
	importSite(t, dir, flags)

	out, err := execute(t, append([]string{"journal", "--types", "NODE_ADDED", "--format", "json"}, flags...)...)
	require.NoError(t, err)
	events := decode(t, out).Data.([]any)

	var paths []string
	for _, e := range events {
		ev := e.(map[string]any)
		assert.Equal(t, "NODE_ADDED", ev["type"])
		paths = append(paths, ev["path"].(string))
	}
	assert.Contains(t, paths, "/site")
	assert.Contains(t, paths, "/site/about")

	_, err = execute(t, append([]string{"journal", "--types", "BOGUS"}, flags...)...)
	require.Error(t, err)
}

func TestNodeTypesCommand(t *testing.T) {
	dir, flags := newRepository(t)

	out, err := execute(t, append([]string{"nodetypes"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "nt:unstructured\n")

	out, err = execute(t, append([]string{"nodetypes", "nt:unstructured"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "nt:unstructured (primary)")

	_, err = execute(t, append([]string{"nodetypes", "nt:nope"}, flags...)...)
	require.Error(t, err)

	types := writeFile(t, dir, "types.cue", `
nodeTypes: "app:page": {
	supertypes: ["nt:base"]
}
`)
	out, err = execute(t, append([]string{"nodetypes", "app:page", "--register", types}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "app:page (primary)")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"fixture", "site.yaml", siteFixture, "✓ Valid fixture: 2 node(s)"},
		{"query", "q.yaml", aboutQuery, "✓ Valid query: 1 selector(s), 1 bind variable(s)"},
		{"scenario", "s.yaml", "name: s\ndescription: d\nsteps:\n  - op: save\n", "✓ Valid scenario: s: 1 step(s), 0 assertion(s)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			out, err := execute(t, "validate", path)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		path := writeFile(t, dir, "bad.yaml", "nodes:\n  - type: nt:folder\n")
		out, err := execute(t, "validate", path)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "✗ Invalid fixture")
	})

	t.Run("undetectable", func(t *testing.T) {
		path := writeFile(t, dir, "other.yaml", "foo: bar\n")
		_, err := execute(t, "validate", path)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("forced kind", func(t *testing.T) {
		path := writeFile(t, dir, "forced.yaml", siteFixture)
		out, err := execute(t, "validate", path, "--kind", "query")
		require.Error(t, err)
		assert.Contains(t, out, "✗ Invalid query")
	})
}

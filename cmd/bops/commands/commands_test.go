package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasys/bops/pkg/engine"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadInputs(t *testing.T) {
	path := writeFile(t, "inputs.jsonl", `{"age": 12}
{"age": 50}

{"age": 30, "name": "x"}
`)

	inputs, err := readInputs(path)
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	assert.Equal(t, 12.0, inputs[0]["age"])
	assert.Equal(t, 50.0, inputs[1]["age"])
	assert.Equal(t, "x", inputs[2]["name"])
}

func TestReadInputs_Invalid(t *testing.T) {
	path := writeFile(t, "inputs.jsonl", "{\"age\": 12}\n{\"age\": \n")

	_, err := readInputs(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input 2")
}

func TestReadInputs_Missing(t *testing.T) {
	_, err := readInputs(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.Error(t, err)
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]any{"over18": true}))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, true, out["over18"])
	assert.Contains(t, buf.String(), "\n  \"over18\"")
}

func TestStatusStyle(t *testing.T) {
	tests := []struct {
		status string
		want   lipgloss.Style
	}{
		{engine.StatusSucceeded, successStyle},
		{engine.StatusFailed, errorStyle},
		{engine.StatusTimeout, warningStyle},
		{"unknown", mutedStyle},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want.GetForeground(), statusStyle(tt.status).GetForeground())
		})
	}
}

func TestRow(t *testing.T) {
	line := row([]int{6, 4}, "ab", "c", "rest of line")

	assert.Equal(t, "ab    c   rest of line", line)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand("dev", "none", "unknown")

	for _, name := range []string{"validate", "run", "graph", "watch", "functions", "journal"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	journal, _, err := root.Find([]string{"journal", "prune"})
	require.NoError(t, err)
	flag := journal.Flags().Lookup("older-than")
	require.NotNil(t, flag)
	assert.Equal(t, "720h0m0s", flag.DefValue)
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const jiraSchema = `
namespace: "jira"
keys: {
	key:     {class: "string"}
	name:    {class: "string"}
	id:      {class: "string"}
	points:  {class: "int"}
	done:    {class: "bool"}
	project: {class: "entity", target: "jira.Project"}
}
types: {
	"jira.Project": identities: [["key"]]
	"jira.Issue": identities: [["id"]]
}
`

const issuesDoc = `
entities:
  - type: jira.Project
    ref: p
    values: {key: PLAT, name: Platform}
  - type: jira.Issue
    values: {id: "1", points: 3, project: {ref: p}}
  - type: jira.Issue
    values: {id: "2", points: 5, project: {ref: p}}
`

// workspace is a temp dir with a schema and a database path.
type workspace struct {
	dir    string
	schema string
	db     string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &workspace{dir: dir, db: filepath.Join(dir, "items.db")}
	ws.schema = ws.write(t, "jira.cue", jiraSchema)
	return ws
}

func (ws *workspace) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(ws.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeResponse(t *testing.T, out string, data any) response {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}

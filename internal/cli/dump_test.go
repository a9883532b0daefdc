package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitysync/internal/itemstore"
)

func importIssues(t *testing.T, ws *workspace) {
	t.Helper()
	doc := ws.write(t, "issues.yaml", issuesDoc)
	_, _, err := execute(t, "import", "--db", ws.db, "--schema", ws.schema, doc)
	require.NoError(t, err)
}

func TestDump_Empty(t *testing.T) {
	ws := newWorkspace(t)

	out, _, err := execute(t, "dump", "--db", ws.db)
	require.NoError(t, err)
	assert.Equal(t, "No items.\n", out)
}

func TestDump_JSON(t *testing.T) {
	ws := newWorkspace(t)
	importIssues(t, ws)

	out, _, err := execute(t, "dump", "--db", ws.db, "--format", "json")
	require.NoError(t, err)

	var items []itemstore.ItemSnapshot
	resp := decodeResponse(t, out, &items)
	assert.Equal(t, "ok", resp.Status)
	// Two type items plus one project and two issues.
	assert.Len(t, items, 5)

	var descriptors []string
	for _, item := range items {
		if item.Descriptor != "" {
			descriptors = append(descriptors, item.Descriptor)
		}
	}
	assert.ElementsMatch(t, []string{"jira/type/jira.Project", "jira/type/jira.Issue"}, descriptors)
}

func TestDump_TypeFilter(t *testing.T) {
	ws := newWorkspace(t)
	importIssues(t, ws)

	out, _, err := execute(t, "dump", "--db", ws.db, "--format", "json", "--type", "jira/type/jira.Issue")
	require.NoError(t, err)

	var items []itemstore.ItemSnapshot
	decodeResponse(t, out, &items)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "jira/type/jira.Issue", item.Attributes["sys.type"])
		assert.Contains(t, []any{"1", "2"}, item.Attributes["jira.id"])
	}
}

func TestDump_Text(t *testing.T) {
	ws := newWorkspace(t)
	importIssues(t, ws)

	out, _, err := execute(t, "dump", "--db", ws.db, "--type", "jira/type/jira.Project")
	require.NoError(t, err)
	assert.Contains(t, out, "  jira.key = PLAT\n")
	assert.Contains(t, out, "  jira.name = Platform\n")
	assert.Contains(t, out, "  sys.type = jira/type/jira.Project\n")
}

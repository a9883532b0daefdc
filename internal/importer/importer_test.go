package importer

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitysync/internal/bridge"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/record"
	"github.com/roach88/entitysync/internal/schema"
	"github.com/roach88/entitysync/internal/transaction"
	"github.com/roach88/entitysync/internal/writer"
)

const jiraSchema = `
namespace: "jira"
keys: {
	id:      {class: "string"}
	key:     {class: "string"}
	name:    {class: "string"}
	title:   {class: "string"}
	status:  {class: "string"}
	points:  {class: "int"}
	due:     {class: "time"}
	blob:    {class: "bytes"}
	done:    {class: "bool"}
	project: {class: "entity", target: "jira.Project"}
	related: {class: "entity", target: "jira.Issue"}
	labels:  {class: "entity", composition: "collection", target: "jira.Label"}
}
types: {
	"jira.Issue": identities: [["id"]]
	"jira.Project": identities: [["key"]]
	"jira.Label": identities: [["id", "project"]]
}
`

type env struct {
	schema *schema.Schema
	store  itemstore.Store
	br     *bridge.Namespace
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := schema.CompileString(jiraSchema, "jira.cue")
	require.NoError(t, err)
	store, err := itemstore.OpenSQLite(filepath.Join(t.TempDir(), "items.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	br, err := bridge.New(s.Namespace)
	require.NoError(t, err)
	return &env{schema: s, store: store, br: br}
}

func (e *env) load(t *testing.T, src string) (*transaction.Transaction, *Loaded, error) {
	t.Helper()
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	tx := transaction.New(e.schema.Policies())
	loaded, err := New(e.schema).Load(tx, doc)
	return tx, loaded, err
}

func (e *env) importDoc(t *testing.T, src string) (*Loaded, *writer.Result) {
	t.Helper()
	tx, loaded, err := e.load(t, src)
	require.NoError(t, err)
	res, err := writer.Commit(context.Background(), e.store, e.br, tx)
	require.NoError(t, err)
	return loaded, res
}

func (e *env) value(t *testing.T, item itemstore.ItemID, keyID string) any {
	t.Helper()
	key, ok := e.schema.Key(keyID)
	require.True(t, ok)
	attr, ok := e.br.Attribute(key)
	require.True(t, ok)
	var v any
	ctx := context.Background()
	require.NoError(t, e.store.Read(ctx, func(r itemstore.Reader) error {
		var err error
		v, _, err = r.Value(ctx, item, attr)
		return err
	}))
	return v
}

func item(t *testing.T, res *writer.Result, h *transaction.Holder) itemstore.ItemID {
	t.Helper()
	require.NotNil(t, h)
	id, ok := res.Item(h)
	require.True(t, ok, "no item for %s", h)
	return id
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(`
entities:
  - type: jira.Project
    ref: p
    values: {key: P}
bags:
  - type: jira.Issue
    delete: true
`))
	require.NoError(t, err)
	require.Len(t, doc.Entities, 1)
	assert.Equal(t, "p", doc.Entities[0].Ref)
	assert.Equal(t, "P", doc.Entities[0].Values["key"])
	require.Len(t, doc.Bags, 1)
	assert.True(t, doc.Bags[0].Delete)
}

func TestParse_JSON(t *testing.T) {
	doc, err := Parse([]byte(`{"entities": [{"type": "jira.Issue", "values": {"id": "1", "points": 3}}]}`))
	require.NoError(t, err)
	require.Len(t, doc.Entities, 1)
	assert.Equal(t, 3, doc.Entities[0].Values["points"])
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`entities: [{type: x, nope: 1}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	_, err = Parse(nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entities: []\n"), 0o644))
	doc, err := ParseFile(path)
	require.NoError(t, err)
	assert.Empty(t, doc.Entities)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Graph(t *testing.T) {
	e := newEnv(t)
	loaded, res := e.importDoc(t, `
entities:
  - type: jira.Issue
    ref: issue
    values:
      id: "42"
      title: Fix it
      points: 3
      done: false
      project: {ref: proj}
      labels:
        - {values: {id: bug, project: {ref: proj}}}
        - {values: {id: ui, project: {ref: proj}}}
  - type: jira.Project
    ref: proj
    values: {key: PROJ, name: Project}
`)
	assert.Empty(t, res.Problems)
	assert.Equal(t, 4, res.Created)

	issue := item(t, res, loaded.Refs["issue"])
	proj := item(t, res, loaded.Refs["proj"])
	assert.Equal(t, "Fix it", e.value(t, issue, "title"))
	assert.Equal(t, int64(3), e.value(t, issue, "points"))
	assert.Equal(t, false, e.value(t, issue, "done"))
	assert.Equal(t, proj, e.value(t, issue, "project"))
	assert.Equal(t, "Project", e.value(t, proj, "name"))

	labels, ok := e.value(t, issue, "labels").([]itemstore.ItemID)
	require.True(t, ok)
	assert.Len(t, labels, 2)

	// Importing again finds everything.
	_, res = e.importDoc(t, `
entities:
  - type: jira.Project
    values: {key: PROJ}
  - type: jira.Issue
    values: {id: "42", project: {type: jira.Project, values: {key: PROJ}}}
`)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Found)
}

func TestLoad_NonIdentityCycle(t *testing.T) {
	e := newEnv(t)
	loaded, res := e.importDoc(t, `
entities:
  - {type: jira.Issue, ref: a, values: {id: "1", related: {ref: b}}}
  - {type: jira.Issue, ref: b, values: {id: "2", related: {ref: a}}}
`)
	a := item(t, res, loaded.Refs["a"])
	b := item(t, res, loaded.Refs["b"])
	assert.Equal(t, b, e.value(t, a, "related"))
	assert.Equal(t, a, e.value(t, b, "related"))
}

func TestLoad_IdentityCycle(t *testing.T) {
	s, err := schema.CompileString(`
keys: {
	a: {class: "entity", target: "x.B"}
	b: {class: "entity", target: "x.A"}
}
types: {
	"x.A": identities: [["a"]]
	"x.B": identities: [["b"]]
}`, "cycle.cue")
	require.NoError(t, err)

	doc, err := Parse([]byte(`
entities:
  - {type: x.A, ref: one, values: {a: {ref: two}}}
  - {type: x.B, ref: two, values: {b: {ref: one}}}
`))
	require.NoError(t, err)
	loaded, err := New(s).Load(transaction.New(s.Policies()), doc)
	assert.ErrorIs(t, err, ErrRefCycle)
	assert.Nil(t, loaded.Entities[0])
	assert.Nil(t, loaded.Entities[1])
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"unknown type", `entities: [{type: jira.Nope, values: {id: "1"}}]`, ErrUnknownType},
		{"unknown key", `entities: [{type: jira.Issue, values: {id: "1", nope: 2}}]`, ErrUnknownKey},
		{"unknown ref", `entities: [{type: jira.Issue, values: {id: "1", project: {ref: missing}}}]`, ErrUnknownRef},
		{"duplicate ref", `entities: [{type: jira.Issue, ref: a, values: {id: "1"}}, {type: jira.Issue, ref: a, values: {id: "2"}}]`, ErrDuplicateRef},
		{"wrong class", `entities: [{type: jira.Issue, values: {id: "1", points: many}}]`, ErrValue},
		{"reference not a map", `entities: [{type: jira.Issue, values: {id: "1", project: PROJ}}]`, ErrValue},
		{"no identity", `entities: [{type: jira.Issue, values: {title: x}}]`, ErrNotCreated},
		{"find misses", `entities: [{type: jira.Issue, find: true, values: {id: "1"}}]`, ErrNotFound},
		{"bag unknown type", `bags: [{type: jira.Nope}]`, ErrUnknownType},
		{"bag delete with change", `bags: [{type: jira.Issue, delete: true, change: {title: x}}]`, transaction.ErrBagDeleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			_, _, err := e.load(t, tt.src)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_ContinuesPastErrors(t *testing.T) {
	e := newEnv(t)
	_, loaded, err := e.load(t, `
entities:
  - {type: jira.Nope, values: {id: "1"}}
  - {type: jira.Issue, ref: ok, values: {id: "2"}}
`)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Nil(t, loaded.Entities[0])
	assert.NotNil(t, loaded.Refs["ok"])
}

func TestLoad_FindAmongPlaces(t *testing.T) {
	e := newEnv(t)
	_, loaded, err := e.load(t, `
entities:
  - {type: jira.Issue, ref: a, values: {id: "1"}}
  - {type: jira.Issue, ref: b, find: true, values: {id: "1", title: found}}
`)
	require.NoError(t, err)
	assert.True(t, loaded.Refs["a"].Same(loaded.Refs["b"]))
}

func TestLoad_NormalizesStrings(t *testing.T) {
	e := newEnv(t)
	loaded, res := e.importDoc(t, "entities: [{type: jira.Issue, ref: a, values: {id: \"cafe\u0301\"}}]")
	assert.Equal(t, "caf\u00e9", e.value(t, item(t, res, loaded.Refs["a"]), "id"))

	_, res = e.importDoc(t, "entities: [{type: jira.Issue, values: {id: \"caf\u00e9\"}}]")
	assert.Equal(t, 1, res.Found)
}

func TestLoad_Bags(t *testing.T) {
	e := newEnv(t)
	loaded, res := e.importDoc(t, `
entities:
  - {type: jira.Issue, ref: one, values: {id: "1", status: open}}
  - {type: jira.Issue, ref: two, values: {id: "2", status: open}}
  - {type: jira.Issue, ref: three, values: {id: "3", status: open}}
`)
	one := item(t, res, loaded.Refs["one"])
	two := item(t, res, loaded.Refs["two"])
	three := item(t, res, loaded.Refs["three"])

	_, res = e.importDoc(t, `
entities:
  - {type: jira.Issue, ref: keep, values: {id: "2"}}
bags:
  - type: jira.Issue
    where: {status: open}
    exclude: [keep]
    change: {status: closed, title: null}
`)
	assert.Empty(t, res.Problems)
	assert.Equal(t, "closed", e.value(t, one, "status"))
	assert.Equal(t, "open", e.value(t, two, "status"))
	assert.Equal(t, "closed", e.value(t, three, "status"))

	_, res = e.importDoc(t, `
bags:
  - {type: jira.Issue, where: {status: closed}, delete: true}
`)
	assert.Equal(t, 2, res.Deleted)
}

func TestScalar(t *testing.T) {
	due := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name  string
		class string
		raw   any
		want  any
		err   bool
	}{
		{"string", "string", "x", "x", false},
		{"int", "int", 7, int64(7), false},
		{"int from float", "int", float64(7), int64(7), false},
		{"fractional float", "int", 7.5, nil, true},
		{"float 2^63", "int", float64(1 << 63), nil, true},
		{"float -2^63", "int", -float64(1 << 63), int64(math.MinInt64), false},
		{"uint64 above int64", "int", uint64(1 << 63), nil, true},
		{"bool", "bool", true, true, false},
		{"time string", "time", "2024-01-02T03:04:05Z", due, false},
		{"time value", "time", due.In(time.FixedZone("x", 3600)), due, false},
		{"bad time", "time", "yesterday", nil, true},
		{"bytes", "bytes", "aGk=", []byte("hi"), false},
		{"bad bytes", "bytes", "!!", nil, true},
		{"string for int", "int", "7", nil, true},
		{"any", "any", 1.5, 1.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := schema.KeyDef{ID: "k", Class: record.ValueClass(tt.class)}
			got, err := scalar(def, tt.raw)
			if tt.err {
				assert.ErrorIs(t, err, ErrValue)
				return
			}
			require.NoError(t, err)
			if want, ok := tt.want.(time.Time); ok {
				assert.True(t, want.Equal(got.(time.Time)))
				assert.Equal(t, time.UTC, got.(time.Time).Location())
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImport(t *testing.T) {
	e := newEnv(t)
	doc, err := Parse([]byte(`
entities:
  - type: jira.Project
    values: {key: P, name: Platform}
`))
	require.NoError(t, err)

	im := New(e.schema, WithTransactionOptions(
		transaction.WithIDGenerator(transaction.NewSequenceGenerator("tx-a", "tx-b")),
	))
	ctx := context.Background()

	res, err := im.Import(ctx, e.store, e.br, doc)
	require.NoError(t, err)
	assert.Equal(t, "tx-a", res.TxID)
	assert.Equal(t, 1, res.Created)

	res, err = im.Import(ctx, e.store, e.br, doc)
	require.NoError(t, err)
	assert.Equal(t, "tx-b", res.TxID)
	assert.Equal(t, 1, res.Found)
	assert.Zero(t, res.Created)
}

func TestImport_LoadErrorWritesNothing(t *testing.T) {
	e := newEnv(t)
	doc, err := Parse([]byte(`
entities:
  - type: jira.Project
    values: {key: P}
  - type: jira.Nope
    values: {id: "1"}
`))
	require.NoError(t, err)

	_, err = New(e.schema).Import(context.Background(), e.store, e.br, doc)
	require.ErrorIs(t, err, ErrUnknownType)

	ctx := context.Background()
	require.NoError(t, e.store.Read(ctx, func(r itemstore.Reader) error {
		items, err := r.Items(ctx)
		require.NoError(t, err)
		assert.Empty(t, items)
		return nil
	}))
}

func TestImportFile(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entities:
  - type: jira.Issue
    values: {id: "7", project: {values: {key: P}}}
`), 0o644))

	res, err := New(e.schema).ImportFile(context.Background(), e.store, e.br, path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	_, err = New(e.schema).ImportFile(context.Background(), e.store, e.br, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

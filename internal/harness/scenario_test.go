package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitysync/internal/importer"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/product_upsert.yaml")
	require.NoError(t, err)

	assert.Equal(t, "product_upsert", s.Name)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "shop.cue"), s.Schema)
	require.Len(t, s.Steps, 2)

	first := s.Steps[0]
	require.NotNil(t, first.Document)
	require.Len(t, first.Document.Entities, 2)
	assert.Equal(t, "shop.Product", first.Document.Entities[0].Type)
	require.NotNil(t, first.Expect)
	require.NotNil(t, first.Expect.Created)
	assert.Equal(t, 2, *first.Expect.Created)
	assert.Nil(t, first.Expect.Deleted)

	assert.Equal(t, filepath.Join("testdata", "scenarios", "rename.yaml"), s.Steps[1].File)
	require.Len(t, s.Assertions, 3)
	assert.Equal(t, AssertItemValues, s.Assertions[1].Type)
}

func TestLoadScenario_UnknownField(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "s.cue", `keys: {}`)
	path := writeFile(t, dir, "bad.yaml", `
name: typo
description: "misspelled assertions"
schema: s.cue
steps:
  - document: {entities: []}
assertion: []
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestValidateScenario(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "s.cue", `keys: {}`)
	docPath := writeFile(t, dir, "doc.yaml", "entities: []\n")

	valid := func() *Scenario {
		return &Scenario{
			Name:        "ok",
			Description: "valid",
			Schema:      schemaPath,
			Steps:       []Step{{File: docPath}},
		}
	}
	negative := -1

	tests := []struct {
		name   string
		modify func(s *Scenario)
		want   string
	}{
		{"valid", func(s *Scenario) {}, ""},
		{"no name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"no description", func(s *Scenario) { s.Description = "" }, "description is required"},
		{"no schema", func(s *Scenario) { s.Schema = "" }, "schema is required"},
		{"missing schema", func(s *Scenario) { s.Schema = filepath.Join(dir, "x.cue") }, "schema not found"},
		{"bad backend", func(s *Scenario) { s.Backend = "postgres" }, "unknown backend"},
		{"no steps", func(s *Scenario) { s.Steps = nil }, "steps list is required"},
		{"empty step", func(s *Scenario) { s.Steps = []Step{{}} }, "file or document is required"},
		{"file and document", func(s *Scenario) { s.Steps[0].Document = &importer.Document{} }, "exclusive"},
		{"missing file", func(s *Scenario) { s.Steps[0].File = filepath.Join(dir, "x.yaml") }, "document not found"},
		{"negative count", func(s *Scenario) { s.Steps[0].Expect = &ExpectClause{Created: &negative} }, "non-negative"},
		{"unknown assertion", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: "trace_order", ItemType: "x"}}
		}, "unknown assertion type"},
		{"assertion without type", func(s *Scenario) { s.Assertions = []Assertion{{}} }, "type is required"},
		{"values without expect", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: AssertItemValues, ItemType: "x"}}
		}, "expect is required"},
		{"absent without filter", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: AssertItemAbsent}}
		}, "item_type or where is required"},
		{"count of every item", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: AssertItemCount, Count: 0}}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.modify(s)
			err := validateScenario(s)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

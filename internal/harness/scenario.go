package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/entitysync/internal/importer"
	"github.com/roach88/entitysync/internal/itemstore"
)

// Scenario is a sequence of imports against one schema followed by
// assertions on the resulting store.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the CUE schema file or directory.
	Schema string `yaml:"schema"`

	// Namespace overrides the schema's namespace.
	Namespace string `yaml:"namespace,omitempty"`

	// Backend selects the item store. Defaults to sqlite.
	Backend string `yaml:"backend,omitempty"`

	// TxPrefix prefixes the generated transaction ids. Defaults to "tx".
	TxPrefix string `yaml:"tx_prefix,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step imports one document, given inline or as a file.
type Step struct {
	Name     string             `yaml:"name,omitempty"`
	File     string             `yaml:"file,omitempty"`
	Document *importer.Document `yaml:"document,omitempty"`

	// Expect is checked against the commit result. Nil checks nothing,
	// but a failing import still fails the scenario.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause states what a step's commit reports. Unset counts are not
// checked.
type ExpectClause struct {
	Found        *int `yaml:"found,omitempty"`
	Created      *int `yaml:"created,omitempty"`
	Materialized *int `yaml:"materialized,omitempty"`
	Deleted      *int `yaml:"deleted,omitempty"`
	Problems     *int `yaml:"problems,omitempty"`

	// Error is a substring the import error must contain. A step with an
	// expected error writes nothing.
	Error string `yaml:"error,omitempty"`
}

// Assertion checks the final store content.
type Assertion struct {
	Type string `yaml:"type"`

	// ItemType restricts matching to items of this schema type.
	ItemType string `yaml:"item_type,omitempty"`

	// Where filters items by value. All entries must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect lists values the single matching item must hold (item_values).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the number of matching items (item_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertItemCount  = "item_count"
	AssertItemValues = "item_values"
	AssertItemAbsent = "item_absent"
)

// LoadScenario reads and parses a scenario YAML file. Schema and step file
// paths are resolved relative to the scenario's directory. Unknown fields
// are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	scenario.Schema = resolvePath(base, scenario.Schema)
	for i := range scenario.Steps {
		scenario.Steps[i].File = resolvePath(base, scenario.Steps[i].File)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); os.IsNotExist(err) {
		return fmt.Errorf("schema not found: %s", s.Schema)
	}
	switch s.Backend {
	case "", itemstore.BackendSQLite, itemstore.BackendBolt:
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		switch {
		case step.File == "" && step.Document == nil:
			return fmt.Errorf("steps[%d]: file or document is required", i)
		case step.File != "" && step.Document != nil:
			return fmt.Errorf("steps[%d]: file and document are exclusive", i)
		case step.File != "":
			if _, err := os.Stat(step.File); os.IsNotExist(err) {
				return fmt.Errorf("steps[%d]: document not found: %s", i, step.File)
			}
		}
		if err := validateExpect(i, step.Expect); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateExpect(index int, e *ExpectClause) error {
	if e == nil {
		return nil
	}
	for name, n := range map[string]*int{
		"found":        e.Found,
		"created":      e.Created,
		"materialized": e.Materialized,
		"deleted":      e.Deleted,
		"problems":     e.Problems,
	} {
		if n != nil && *n < 0 {
			return fmt.Errorf("steps[%d].expect: %s must be non-negative", index, name)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertItemCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for item_count", index)
		}
	case AssertItemValues:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for item_values", index)
		}
	case AssertItemAbsent:
		if a.ItemType == "" && len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: item_type or where is required for item_absent", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.ItemType == "" && len(a.Where) == 0 && a.Type != AssertItemCount {
		return fmt.Errorf("assertions[%d]: item_type or where is required", index)
	}
	return nil
}

// Package schema loads entity schemas written in CUE.
//
// A schema declares keys (value class, composition, target type for entity
// keys, merge rule) and types (create identities and search-only sets). It
// compiles into record keys, type records and a collector.Schema.
//
//	namespace: "jira"
//	keys: {
//		id:      {class: "string"}
//		key:     {class: "string"}
//		project: {class: "entity", target: "jira.Project"}
//		labels:  {class: "entity", composition: "collection", target: "jira.Label", merge: "union"}
//	}
//	types: {
//		"jira.Issue": identities: [["id"], [{key: "key", mutable: true}]]
//		"jira.Project": identities: [["key"]]
//		"jira.Label": identities: [["id"]]
//	}
package schema

import (
	"slices"

	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/record"
)

// KeyDef is a declared key.
type KeyDef struct {
	ID          string             `json:"id"`
	Class       record.ValueClass  `json:"class"`
	Composition record.Composition `json:"composition"`
	Target      string             `json:"target,omitempty"`
	Merge       string             `json:"merge,omitempty"`
}

// AttrDef is one identity attribute of a type.
type AttrDef struct {
	Key     string `json:"key"`
	Mutable bool   `json:"mutable,omitempty"`
}

// TypeDef is a declared type.
type TypeDef struct {
	ID         string      `json:"id"`
	Identities [][]AttrDef `json:"identities,omitempty"`
	SearchBy   [][]string  `json:"searchBy,omitempty"`
}

// Schema is a compiled schema.
type Schema struct {
	Namespace string
	Keys      map[string]KeyDef
	Types     map[string]TypeDef

	keys     map[string]record.AnyKey
	types    map[string]*record.Record
	policies *collector.Schema
}

// Key returns the record key declared with id.
func (s *Schema) Key(id string) (record.AnyKey, bool) {
	k, ok := s.keys[id]
	return k, ok
}

// Type returns the type record declared with id.
func (s *Schema) Type(id string) (*record.Record, bool) {
	t, ok := s.types[id]
	return t, ok
}

// Policies returns the policy source for transactions over this schema.
func (s *Schema) Policies() *collector.Schema { return s.policies }

// KeyIDs returns declared key ids, sorted.
func (s *Schema) KeyIDs() []string { return sortedKeys(s.Keys) }

// TypeIDs returns declared type ids, sorted.
func (s *Schema) TypeIDs() []string { return sortedKeys(s.Types) }

// build creates records and policies from the definitions. Definitions
// must have passed Validate.
func (s *Schema) build() {
	s.keys = make(map[string]record.AnyKey, len(s.Keys))
	s.types = make(map[string]*record.Record, len(s.Types))
	s.policies = collector.NewSchema()

	for _, id := range s.KeyIDs() {
		def := s.Keys[id]
		key := record.Dynamic(id, def.Class, def.Composition, nil)
		s.keys[id] = key
		if def.Merge != "" {
			s.policies.RegisterMerge(key, Merges[def.Merge])
		}
	}
	for _, id := range s.TypeIDs() {
		def := s.Types[id]
		typ := record.NewType(id)
		s.types[id] = typ

		var p collector.Policy
		for _, identity := range def.Identities {
			attrs := make([]collector.Attr, len(identity))
			for i, a := range identity {
				attrs[i] = collector.Attr{Key: s.keys[a.Key], Mutable: a.Mutable}
			}
			p.Identities = append(p.Identities, attrs)
		}
		for _, set := range def.SearchBy {
			keys := make([]record.AnyKey, len(set))
			for i, k := range set {
				keys[i] = s.keys[k]
			}
			p.SearchBy = append(p.SearchBy, keys)
		}
		s.policies.Register(typ, p)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

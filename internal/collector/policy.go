package collector

import (
	"slices"
	"strings"

	"github.com/roach88/entitysync/internal/record"
)

// Attr is one identity attribute of a Policy.
type Attr struct {
	Key record.AnyKey

	// Mutable identity attributes take part in lookups but may be replaced
	// freely and never block another place from claiming the same value.
	Mutable bool
}

// Const returns an immutable identity attribute.
func Const(key record.AnyKey) Attr { return Attr{Key: key} }

// Mutable returns a mutable identity attribute.
func Mutable(key record.AnyKey) Attr { return Attr{Key: key, Mutable: true} }

// Policy declares how places of one type are identified and matched against
// existing store items.
//
// Identities are create resolutions: a place holding all values of one of
// them may be created in the store when nothing matches. SearchBy sets only
// match existing items; they never justify creating one. Both are tried in
// declaration order, identities first.
type Policy struct {
	Identities [][]Attr
	SearchBy   [][]record.AnyKey

	// Materialized types are resolved by a store descriptor rather than by
	// identity queries (types, keys, identified objects).
	Materialized bool
}

// SingleAttributeIdentities returns a policy where each attribute is an
// identity on its own.
func SingleAttributeIdentities(attrs ...Attr) Policy {
	p := Policy{Identities: make([][]Attr, len(attrs))}
	for i, a := range attrs {
		p.Identities[i] = []Attr{a}
	}
	return p
}

// Identity returns a policy with a single identity made of all given attributes.
func Identity(attrs ...Attr) Policy {
	return Policy{Identities: [][]Attr{attrs}}
}

// WithSearchBy returns a copy of p with an extra search-only attribute set.
func (p Policy) WithSearchBy(keys ...record.AnyKey) Policy {
	p.SearchBy = append(append([][]record.AnyKey(nil), p.SearchBy...), keys)
	return p
}

// IdentityAttributes returns every identity attribute in declaration order
// without duplicates. An attribute is mutable if any identity marks it so.
// Search-only keys are appended as mutable attributes.
func (p Policy) IdentityAttributes() []Attr {
	var out []Attr
	add := func(a Attr) {
		for i := range out {
			if record.SameKey(out[i].Key, a.Key) {
				out[i].Mutable = out[i].Mutable || a.Mutable
				return
			}
		}
		out = append(out, a)
	}
	for _, identity := range p.Identities {
		for _, a := range identity {
			add(a)
		}
	}
	for _, keys := range p.SearchBy {
		for _, k := range keys {
			add(Attr{Key: k, Mutable: true})
		}
	}
	return out
}

// Empty reports whether the policy declares no resolution at all.
func (p Policy) Empty() bool {
	for _, identity := range p.Identities {
		if len(identity) > 0 {
			return false
		}
	}
	for _, keys := range p.SearchBy {
		if len(keys) > 0 {
			return false
		}
	}
	return true
}

// MergeFunc combines the value already held by a place with a new unequal
// value. Values are in place form: references are PlaceRef and collections
// are []PlaceRef.
type MergeFunc func(old, new any) any

// PolicySource supplies resolution policies and merge functions.
type PolicySource interface {
	Policy(typ *record.Record) (Policy, bool)
	Merge(key record.AnyKey) MergeFunc
}

// Well-known records handled by every Schema.
var (
	// IdentifiedObjectType is the type of objects identified by a global
	// string id, materialized in the store by descriptor.
	IdentifiedObjectType = record.NewType("sys.IdentifiedObject")

	// ObjectIDKey holds the global id of an identified object.
	ObjectIDKey = record.String("sys.objectId")

	// ItemIDKey binds a record to a known store item. It is never persisted.
	ItemIDKey = record.HintKey[int64]("sys.itemId", nil)
)

// Schema is a PolicySource backed by maps. The zero value is not usable;
// call NewSchema.
type Schema struct {
	policies map[string]Policy
	types    map[string]*record.Record
	merges   map[string]MergeFunc
}

// NewSchema returns a schema that already knows the bootstrap types.
func NewSchema() *Schema {
	s := &Schema{
		policies: make(map[string]Policy),
		types:    make(map[string]*record.Record),
		merges:   make(map[string]MergeFunc),
	}
	s.Register(record.MetaType, Policy{
		Identities:   [][]Attr{{Const(record.IDKey)}},
		Materialized: true,
	})
	s.Register(record.KeyType, Policy{
		Identities:   [][]Attr{{Const(record.IDKey), Const(record.ClassKey), Const(record.CompositionKey)}},
		Materialized: true,
	})
	s.Register(IdentifiedObjectType, Policy{
		Identities:   [][]Attr{{Const(ObjectIDKey)}},
		Materialized: true,
	})
	return s
}

// Register sets the policy for typ, replacing any earlier one.
func (s *Schema) Register(typ *record.Record, p Policy) {
	id := typeKey(typ)
	s.policies[id] = p
	s.types[id] = typ
}

// RegisterMerge sets the merge function for key.
func (s *Schema) RegisterMerge(key record.AnyKey, fn MergeFunc) {
	s.merges[key.ID()] = fn
}

// Policy implements PolicySource.
func (s *Schema) Policy(typ *record.Record) (Policy, bool) {
	p, ok := s.policies[typeKey(typ)]
	return p, ok
}

// Merge implements PolicySource.
func (s *Schema) Merge(key record.AnyKey) MergeFunc {
	return s.merges[key.ID()]
}

// Types returns the registered type records, excluding the built-in ones.
func (s *Schema) Types() []*record.Record {
	var out []*record.Record
	for id, typ := range s.types {
		if id == typeKey(record.MetaType) || id == typeKey(record.KeyType) || id == typeKey(IdentifiedObjectType) {
			continue
		}
		out = append(out, typ)
	}
	slices.SortFunc(out, func(a, b *record.Record) int {
		return strings.Compare(a.TypeID(), b.TypeID())
	})
	return out
}

// Type returns the registered type record with the given id.
func (s *Schema) Type(id string) (*record.Record, bool) {
	typ, ok := s.types[id]
	return typ, ok
}

func typeKey(typ *record.Record) string {
	if typ == nil {
		return ""
	}
	return typ.TypeID()
}

package record

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

type entry struct {
	key   AnyKey
	value any
}

// Record is a structurally-equal mapping from keys to values.
//
// A Record is mutable until Fix is called. After that it is immutable and
// may be shared across goroutines without synchronization. Put on a fixed
// record is rejected and logged.
type Record struct {
	typ     *Record
	entries []entry
	fixed   bool
	fixing  bool
	hash    uint64
	boot    string // non-empty for bootstrap singletons
}

// New creates a building record of the given type.
func New(typ *Record) *Record {
	if typ == nil {
		slog.Error("record created without type")
	}
	return &Record{typ: typ}
}

// NewType creates and fixes a type record with the given id.
func NewType(id string) *Record {
	return BuildType(id).Fix()
}

// BuildType creates an unfixed type record so callers can attach hints
// before fixing it.
func BuildType(id string) *Record {
	return New(MetaType).Put(IDKey, id)
}

// Type returns the record's type record.
func (r *Record) Type() *Record {
	if r == nil {
		return nil
	}
	return r.typ
}

// TypeID returns the id of a type record.
// Only valid when the record's type is MetaType; logs an error otherwise.
func (r *Record) TypeID() string {
	if r == nil || r.typ != MetaType {
		slog.Error("TypeID called on a non-type record", "record", r.String())
		return ""
	}
	id, _ := Get(r, IDKey)
	return id
}

// IsFixed reports whether the record has been fixed.
func (r *Record) IsFixed() bool {
	return r != nil && r.fixed
}

// IsBootstrap reports whether r is one of the bootstrap singletons.
func (r *Record) IsBootstrap() bool {
	return r != nil && r.boot != ""
}

// Put stores value under key and returns r for chaining.
// Errors are logged; use Set to receive them.
func (r *Record) Put(key AnyKey, value any) *Record {
	if err := r.Set(key, value); err != nil {
		slog.Error("record put rejected", "error", err)
	}
	return r
}

// Set stores value under key. A nil value or an empty collection removes the key.
func (r *Record) Set(key AnyKey, value any) error {
	if r == nil {
		return fmt.Errorf("put on nil record")
	}
	if key == nil || key.Record() == nil {
		return fmt.Errorf("put with nil key")
	}
	if r.fixed {
		return fmt.Errorf("put %s: %w", key.ID(), ErrFixed)
	}
	if SameKey(key, TypeKey) {
		typ, ok := value.(*Record)
		if !ok || typ == nil {
			return &SchemaError{Key: key.ID(), Message: fmt.Sprintf("type must be a record, got %T", value)}
		}
		r.typ = typ
		return nil
	}
	v, err := Normalize(key, value)
	if err != nil {
		return err
	}
	i := r.find(key)
	switch {
	case v == nil && i >= 0:
		r.entries = slices.Delete(r.entries, i, i+1)
	case v == nil:
	case i >= 0:
		r.entries[i].value = v
	default:
		r.entries = append(r.entries, entry{key: key, value: v})
	}
	return nil
}

// Value returns the raw value stored under key.
func (r *Record) Value(key AnyKey) (any, bool) {
	if r == nil || key == nil {
		return nil, false
	}
	if SameKey(key, TypeKey) {
		return r.typ, r.typ != nil
	}
	i := r.find(key)
	if i < 0 {
		return nil, false
	}
	return r.entries[i].value, true
}

// Has reports whether key holds a value.
func (r *Record) Has(key AnyKey) bool {
	_, ok := r.Value(key)
	return ok
}

// Keys returns the keys holding values, excluding TypeKey, in insertion order.
func (r *Record) Keys() []AnyKey {
	if r == nil {
		return nil
	}
	keys := make([]AnyKey, len(r.entries))
	for i, e := range r.entries {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of keys holding values, excluding TypeKey.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Get returns the typed value stored under key.
func Get[T any](r *Record, key Key[T]) (T, bool) {
	var zero T
	v, ok := r.Value(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Fix freezes the record and every record reachable through its values,
// then caches the structural hash. Fix is idempotent.
func (r *Record) Fix() *Record {
	if r == nil || r.fixed {
		return r
	}
	if r.fixing {
		slog.Error("reference cycle while fixing record", "type", r.typeName())
		return r
	}
	r.fixing = true
	r.typ.Fix()
	for i, e := range r.entries {
		switch v := e.value.(type) {
		case *Record:
			v.Fix()
		case []*Record:
			for _, x := range v {
				x.Fix()
			}
			if e.key.Composition() == Collection {
				r.entries[i].value = dedupe(v)
			}
		}
	}
	r.fixing = false
	r.hash = r.computeHash()
	r.fixed = true
	return r
}

// Hash returns the structural hash. Only valid on fixed records.
func (r *Record) Hash() uint64 {
	if r == nil {
		return 0
	}
	if !r.fixed {
		slog.Error("hash of unfixed record", "type", r.typeName())
		return 0
	}
	return r.hash
}

// Equal reports structural equality. Only valid on fixed records; unfixed
// records are logged and compare by identity.
func (r *Record) Equal(o *Record) bool {
	if r == o {
		return true
	}
	if r == nil || o == nil {
		return false
	}
	if !r.fixed || !o.fixed {
		slog.Error("equality on unfixed record", "type", r.typeName())
		return false
	}
	if r.boot != "" || o.boot != "" {
		return false
	}
	if r.hash != o.hash || len(r.entries) != len(o.entries) {
		return false
	}
	if !r.typ.Equal(o.typ) {
		return false
	}
	for _, e := range r.entries {
		v, ok := o.Value(e.key)
		if !ok || !ValuesEqual(e.key.Composition(), e.value, v) {
			return false
		}
	}
	return true
}

// Copy returns an unfixed duplicate with the same type and values.
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}
	c := &Record{typ: r.typ, entries: make([]entry, len(r.entries))}
	for i, e := range r.entries {
		c.entries[i] = entry{key: e.key, value: copyValue(e.value)}
	}
	return c
}

func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}
	if r.boot != "" {
		return r.boot
	}
	var b strings.Builder
	b.WriteString(r.typeName())
	b.WriteByte('{')
	for i, e := range r.entries {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", e.key.ID(), formatValue(e.value))
	}
	b.WriteByte('}')
	return b.String()
}

func (r *Record) find(key AnyKey) int {
	rec := key.Record()
	for i, e := range r.entries {
		if e.key.Record() == rec {
			return i
		}
	}
	for i, e := range r.entries {
		if SameKey(e.key, key) {
			return i
		}
	}
	return -1
}

func (r *Record) typeName() string {
	if r.typ == nil {
		return "?"
	}
	if r.typ == MetaType {
		return "type"
	}
	if r.typ.boot != "" {
		return r.typ.boot
	}
	for _, e := range r.typ.entries {
		if e.key == AnyKey(IDKey) {
			if s, ok := e.value.(string); ok {
				return s
			}
		}
	}
	return "?"
}

func (r *Record) computeHash() uint64 {
	h := mix(TypeKey.Record().Hash(), r.typ.Hash())
	for _, e := range r.entries {
		h ^= mix(e.key.Record().Hash(), hashValue(e.key.Composition(), e.value))
	}
	return h
}

func formatValue(v any) string {
	switch v := v.(type) {
	case *Record:
		if v.typ == MetaType {
			id, _ := Get(v, IDKey)
			return id
		}
		return v.typeName() + "{...}"
	case []*Record:
		return fmt.Sprintf("[%d records]", len(v))
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

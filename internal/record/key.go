package record

import (
	"fmt"
	"log/slog"
	"time"
)

// Composition describes how many values a key holds and whether they are persisted.
type Composition string

const (
	// Scalar keys hold a single value.
	Scalar Composition = "scalar"

	// Collection keys hold an unordered set of records. Empty is treated as absent.
	Collection Composition = "collection"

	// Order keys hold an ordered list of records. Empty is treated as absent.
	Order Composition = "order"

	// Hint keys carry schema-only metadata and are never persisted as item data.
	Hint Composition = "hint"
)

// ValueClass names the Go type a key accepts.
type ValueClass string

const (
	ClassString ValueClass = "string" // string
	ClassInt    ValueClass = "int"    // int64
	ClassBool   ValueClass = "bool"   // bool
	ClassTime   ValueClass = "time"   // time.Time
	ClassBytes  ValueClass = "bytes"  // []byte
	ClassEntity ValueClass = "entity" // *Record, or []*Record for collections and orders
	ClassAny    ValueClass = "any"    // any value; only meaningful for hints
)

// ValidClass reports whether c is a known value class.
func ValidClass(c ValueClass) bool {
	switch c {
	case ClassString, ClassInt, ClassBool, ClassTime, ClassBytes, ClassEntity, ClassAny:
		return true
	}
	return false
}

// ValidComposition reports whether c is a known composition.
func ValidComposition(c Composition) bool {
	switch c {
	case Scalar, Collection, Order, Hint:
		return true
	}
	return false
}

// AnyKey is the untyped view of a Key. Records store values by AnyKey; typed
// access goes through Key[T] and Get.
type AnyKey interface {
	ID() string
	Class() ValueClass
	Composition() Composition
	Record() *Record
}

// Key is a typed handle over a fixed key description record.
//
// Two keys are the same key iff their description records are equal, so a
// Key[string] and a Key[any] built over equal records address the same value.
type Key[T any] struct {
	rec   *Record
	id    string
	class ValueClass
	comp  Composition
}

// ID returns the key's string id.
func (k Key[T]) ID() string { return k.id }

// Class returns the key's value class.
func (k Key[T]) Class() ValueClass { return k.class }

// Composition returns the key's composition.
func (k Key[T]) Composition() Composition { return k.comp }

// Record returns the fixed description record backing the key.
func (k Key[T]) Record() *Record { return k.rec }

// IsZero reports whether the key was never constructed.
func (k Key[T]) IsZero() bool { return k.rec == nil }

func (k Key[T]) String() string {
	return fmt.Sprintf("%s(%s/%s)", k.id, k.class, k.comp)
}

// SameKey reports whether a and b address the same attribute.
func SameKey(a, b AnyKey) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, rb := a.Record(), b.Record()
	if ra == rb {
		return true
	}
	return ra.Equal(rb)
}

// ScalarKey builds a single-valued key. desc may carry extra description
// attributes (hints such as a merge name); pass nil for a fresh description.
func ScalarKey[T any](id string, class ValueClass, desc *Record) Key[T] {
	var zero T
	if class != ClassAny && !classAccepts(class, any(zero)) {
		reportSchema(&SchemaError{Key: id, Message: fmt.Sprintf("go type %T does not match class %s", zero, class)})
	}
	return newKey[T](id, class, Scalar, desc)
}

// CollectionKey builds an unordered record-set key.
func CollectionKey(id string, desc *Record) Key[[]*Record] {
	return newKey[[]*Record](id, ClassEntity, Collection, desc)
}

// OrderKey builds an ordered record-list key.
func OrderKey(id string, desc *Record) Key[[]*Record] {
	return newKey[[]*Record](id, ClassEntity, Order, desc)
}

// HintKey builds a schema-only key.
func HintKey[T any](id string, desc *Record) Key[T] {
	return newKey[T](id, ClassAny, Hint, desc)
}

// String builds a string scalar key with a fresh description.
func String(id string) Key[string] { return ScalarKey[string](id, ClassString, nil) }

// Int builds an int64 scalar key with a fresh description.
func Int(id string) Key[int64] { return ScalarKey[int64](id, ClassInt, nil) }

// Bool builds a bool scalar key with a fresh description.
func Bool(id string) Key[bool] { return ScalarKey[bool](id, ClassBool, nil) }

// Time builds a time scalar key with a fresh description.
func Time(id string) Key[time.Time] { return ScalarKey[time.Time](id, ClassTime, nil) }

// Bytes builds a byte-slice scalar key with a fresh description.
func Bytes(id string) Key[[]byte] { return ScalarKey[[]byte](id, ClassBytes, nil) }

// Entity builds a record-reference scalar key with a fresh description.
func Entity(id string) Key[*Record] { return ScalarKey[*Record](id, ClassEntity, nil) }

// EntityCollection builds an unordered record-set key with a fresh description.
func EntityCollection(id string) Key[[]*Record] { return CollectionKey(id, nil) }

// EntityOrder builds an ordered record-list key with a fresh description.
func EntityOrder(id string) Key[[]*Record] { return OrderKey(id, nil) }

// Dynamic builds an untyped key. Used by loaders that learn key shapes at runtime.
func Dynamic(id string, class ValueClass, comp Composition, desc *Record) Key[any] {
	if !ValidClass(class) {
		reportSchema(&SchemaError{Key: id, Message: fmt.Sprintf("unknown value class %q", class)})
		class = ClassAny
	}
	if !ValidComposition(comp) {
		reportSchema(&SchemaError{Key: id, Message: fmt.Sprintf("unknown composition %q", comp)})
		comp = Hint
	}
	if (comp == Collection || comp == Order) && class != ClassEntity {
		reportSchema(&SchemaError{Key: id, Message: fmt.Sprintf("%s key must have class entity, got %s", comp, class)})
		class = ClassEntity
	}
	return newKey[any](id, class, comp, desc)
}

// KeyOf rebuilds a key handle from a fixed KeyType record.
func KeyOf(rec *Record) (AnyKey, bool) {
	if rec == nil || !rec.IsFixed() || rec.Type() != KeyType {
		return nil, false
	}
	if k, ok := bootKeys[rec]; ok {
		return k, true
	}
	id, _ := Get(rec, IDKey)
	class, _ := Get(rec, ClassKey)
	comp, _ := Get(rec, CompositionKey)
	return Key[any]{rec: rec, id: id, class: ValueClass(class), comp: Composition(comp)}, true
}

func newKey[T any](id string, class ValueClass, comp Composition, desc *Record) Key[T] {
	if desc == nil {
		desc = New(KeyType)
	} else if desc.IsFixed() {
		reportSchema(&SchemaError{Key: id, Message: "key description already fixed, using a fresh one"})
		desc = New(KeyType)
	} else if desc.Type() != KeyType {
		reportSchema(&SchemaError{Key: id, Message: "key description must have KeyType"})
		desc = New(KeyType)
	}
	desc.Put(IDKey, id).Put(ClassKey, string(class)).Put(CompositionKey, string(comp))
	desc.Fix()
	return Key[T]{rec: desc, id: id, class: class, comp: comp}
}

func reportSchema(err *SchemaError) {
	slog.Error("schema violation", "key", err.Key, "error", err.Message)
}

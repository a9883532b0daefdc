package collector

import (
	"slices"

	"github.com/roach88/entitysync/internal/record"
)

// ColumnKind tells how a column stores its values in places.
type ColumnKind int

const (
	// KindScalar columns hold normalized scalar values.
	KindScalar ColumnKind = iota

	// KindEntity columns hold a single PlaceRef.
	KindEntity

	// KindCollection columns hold an unordered []PlaceRef.
	KindCollection

	// KindOrder columns hold an ordered []PlaceRef.
	KindOrder

	// KindHint columns hold arbitrary values that are never persisted.
	KindHint
)

func (k ColumnKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindEntity:
		return "entity"
	case KindCollection:
		return "collection"
	case KindOrder:
		return "order"
	case KindHint:
		return "hint"
	}
	return "unknown"
}

// Column is the collector-wide registration of one key.
type Column struct {
	Key   record.AnyKey
	Kind  ColumnKind
	merge MergeFunc
	id    int
}

// ID returns the key id.
func (c *Column) ID() string { return c.Key.ID() }

// HasMerge reports whether a merge function is registered for the key.
func (c *Column) HasMerge() bool { return c.merge != nil }

// IsReference reports whether the column stores place references.
func (c *Column) IsReference() bool {
	return c.Kind == KindEntity || c.Kind == KindCollection || c.Kind == KindOrder
}

func kindOf(key record.AnyKey) ColumnKind {
	switch key.Composition() {
	case record.Collection:
		return KindCollection
	case record.Order:
		return KindOrder
	case record.Hint:
		return KindHint
	}
	if key.Class() == record.ClassEntity {
		return KindEntity
	}
	return KindScalar
}

// equalValues compares two place-form values of col. References compare by
// canonical place.
func equalValues(col *Column, a, b any, root func(PlaceRef) PlaceRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch col.Kind {
	case KindEntity:
		pa, okA := a.(PlaceRef)
		pb, okB := b.(PlaceRef)
		return okA && okB && root(pa) == root(pb)
	case KindCollection, KindOrder:
		la, okA := a.([]PlaceRef)
		lb, okB := b.([]PlaceRef)
		if !okA || !okB {
			return false
		}
		ra := rootAll(la, root)
		rb := rootAll(lb, root)
		if col.Kind == KindCollection {
			slices.SortFunc(ra, comparePlaces)
			slices.SortFunc(rb, comparePlaces)
			ra = slices.Compact(ra)
			rb = slices.Compact(rb)
		}
		return slices.Equal(ra, rb)
	}
	return record.ValuesEqual(col.Key.Composition(), a, b)
}

func rootAll(refs []PlaceRef, root func(PlaceRef) PlaceRef) []PlaceRef {
	out := make([]PlaceRef, len(refs))
	for i, p := range refs {
		out[i] = root(p)
	}
	return out
}

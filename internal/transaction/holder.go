package transaction

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/record"
)

// Holder is a handle into a place. Many holders may share one place; after
// a merge every holder follows the surviving place.
//
// Writes return nil, a *collector.ConflictError, or a *record.SchemaError.
// The same error is recorded in Transaction.Problems, so callers may ignore
// it and inspect problems later.
type Holder struct {
	tx    *Transaction
	place collector.PlaceRef
}

// Transaction returns the owning transaction.
func (h *Holder) Transaction() *Transaction { return h.tx }

// Place returns the live place the holder points at.
func (h *Holder) Place() collector.PlaceRef { return h.tx.coll.Root(h.place) }

// Same reports whether both holders point at the same place.
func (h *Holder) Same(o *Holder) bool {
	if h == nil || o == nil {
		return h == o
	}
	return h.tx == o.tx && h.Place() == o.Place()
}

// Type returns the entity type of the place.
func (h *Holder) Type() *record.Record {
	t, err := h.tx.coll.TableOf(h.place)
	if err != nil {
		return nil
	}
	return t.Type()
}

func (h *Holder) String() string {
	return fmt.Sprintf("Holder[%s %s]", typeName(h.Type()), h.Place())
}

// SetValue writes value. A nil value is an explicit null: the stored
// attribute will be cleared.
func (h *Holder) SetValue(key record.AnyKey, value any) error {
	if value == nil {
		value = collector.Null
	}
	return h.set(key, value, false)
}

// SetNNValue writes value unless it is nil.
func (h *Holder) SetNNValue(key record.AnyKey, value any) error {
	if value == nil {
		return nil
	}
	return h.set(key, value, false)
}

// SetReference points key at ref. A nil ref is an explicit null.
func (h *Holder) SetReference(key record.AnyKey, ref *Holder) error {
	if ref == nil {
		return h.set(key, collector.Null, false)
	}
	if ref.tx != h.tx {
		return fmt.Errorf("reference %s: %w", key.ID(), ErrForeignHolder)
	}
	return h.set(key, ref.Place(), false)
}

// SetNNReference points key at ref unless ref is nil.
func (h *Holder) SetNNReference(key record.AnyKey, ref *Holder) error {
	if ref == nil {
		return nil
	}
	return h.SetReference(key, ref)
}

// SetReferenceCollection points a collection or order key at refs.
// An empty slice is the same as never setting the key.
func (h *Holder) SetReferenceCollection(key record.AnyKey, refs []*Holder) error {
	if len(refs) == 0 {
		return nil
	}
	places := make([]collector.PlaceRef, 0, len(refs))
	for _, ref := range refs {
		if ref == nil {
			return fmt.Errorf("reference collection %s: %w", key.ID(), ErrNilHolder)
		}
		if ref.tx != h.tx {
			return fmt.Errorf("reference collection %s: %w", key.ID(), ErrForeignHolder)
		}
		places = append(places, ref.Place())
	}
	return h.set(key, places, false)
}

// SetNewValue writes value only if the key holds nothing yet.
func (h *Holder) SetNewValue(key record.AnyKey, value any) error {
	if h.HasValue(key) {
		return nil
	}
	return h.SetNNValue(key, value)
}

// OverrideValue writes value even when the key already holds a different
// one. Identity keys cannot be overridden.
func (h *Holder) OverrideValue(key record.AnyKey, value any) error {
	if value == nil {
		value = collector.Null
	}
	return h.set(key, value, true)
}

// HasValue reports whether the key was set in this transaction, including
// an explicit null.
func (h *Holder) HasValue(key record.AnyKey) bool {
	return h.raw(key) != nil
}

// IsNull reports whether the key was explicitly set to null.
func (h *Holder) IsNull(key record.AnyKey) bool {
	return collector.IsNull(h.raw(key))
}

// Value returns the scalar value set in this transaction. It never reads
// the store; absent and null keys report false.
func (h *Holder) Value(key record.AnyKey) (any, bool) {
	v := h.raw(key)
	if v == nil || collector.IsNull(v) {
		return nil, false
	}
	switch v.(type) {
	case collector.PlaceRef, []collector.PlaceRef:
		return nil, false
	}
	return v, true
}

// Reference returns the holder referenced by key, or nil.
func (h *Holder) Reference(key record.AnyKey) *Holder {
	p, ok := h.raw(key).(collector.PlaceRef)
	if !ok {
		return nil
	}
	return h.tx.holder(p)
}

// ReferenceCollection returns the holders referenced by a collection or
// order key. The result is empty when the key was never set.
func (h *Holder) ReferenceCollection(key record.AnyKey) []*Holder {
	refs, ok := h.raw(key).([]collector.PlaceRef)
	if !ok {
		return nil
	}
	out := make([]*Holder, len(refs))
	for i, p := range refs {
		out[i] = h.tx.holder(p)
	}
	return out
}

// Restore returns a fixed snapshot of everything held by the place. Keys
// never set in this transaction fall back to committed store values when a
// writer has attached them. Returns nil and logs on failure.
func (h *Holder) Restore() *record.Record {
	rec, err := h.tx.coll.Restore(h.place, h.tx.committed)
	if err != nil {
		slog.Error("restore failed", "tx", h.tx.id, "place", h.place.String(), "error", err)
		return nil
	}
	return rec
}

// CopyFrom copies every value present on rec, except its type.
func (h *Holder) CopyFrom(rec *record.Record) error {
	if rec == nil {
		return nil
	}
	var errs []error
	for _, key := range rec.Keys() {
		if record.SameKey(key, collector.ItemIDKey) {
			continue
		}
		v, ok := rec.Value(key)
		if !ok || v == nil {
			continue
		}
		if err := h.set(key, v, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CopyFromHolder copies every value held by other's place.
func (h *Holder) CopyFromHolder(other *Holder) error {
	if other == nil {
		return ErrNilHolder
	}
	if other.tx != h.tx {
		return ErrForeignHolder
	}
	return h.CopyFrom(other.Restore())
}

func (h *Holder) set(key record.AnyKey, value any, override bool) error {
	if err := h.tx.checkSealed("set " + key.ID()); err != nil {
		return err
	}
	return h.tx.coll.SetValue(h.place, h.tx.coll.Column(key), value, override)
}

func (h *Holder) raw(key record.AnyKey) any {
	return h.tx.coll.Value(h.place, h.tx.coll.Column(key))
}

// Set writes a typed value.
func Set[T any](h *Holder, key record.Key[T], value T) error {
	return h.SetValue(key, value)
}

// ScalarValue returns the typed value set in this transaction.
func ScalarValue[T any](h *Holder, key record.Key[T]) (T, bool) {
	var zero T
	v, ok := h.Value(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

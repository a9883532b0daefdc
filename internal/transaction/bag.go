package transaction

import (
	"fmt"
	"slices"

	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/record"
)

// Bag is a declarative bulk edit over every item of a type that matches a
// query. It applies to items already in the store and to places of this
// transaction alike.
//
// A bag either changes values or deletes its targets, never both.
type Bag struct {
	tx      *Transaction
	typ     *record.Record
	query   collector.ValueRow
	exclude []collector.PlaceRef
	changes collector.ValueRow
	delete  bool
}

// Type returns the entity type the bag targets.
func (b *Bag) Type() *record.Record { return b.typ }

// Where narrows the bag to items whose key equals value.
func (b *Bag) Where(key record.AnyKey, value any) *Bag {
	if b.tx.checkSealed("bag where") != nil {
		return b
	}
	col := b.tx.coll.Column(key)
	pv, err := b.tx.coll.ToPlaceValue(col, value)
	if err != nil {
		b.tx.fail("bag where", b.typ, err)
		return b
	}
	if pv == nil {
		pv = collector.Null
	}
	b.query.Set(col, pv)
	return b
}

// WhereRef narrows the bag to items whose key references ref.
func (b *Bag) WhereRef(key record.AnyKey, ref *Holder) *Bag {
	if b.tx.checkSealed("bag where") != nil {
		return b
	}
	if ref == nil {
		b.tx.fail("bag where", b.typ, ErrNilHolder)
		return b
	}
	if ref.tx != b.tx {
		b.tx.fail("bag where", b.typ, ErrForeignHolder)
		return b
	}
	b.query.Set(b.tx.coll.Column(key), ref.Place())
	return b
}

// Exclude keeps the holder's place out of the bag's targets.
func (b *Bag) Exclude(h *Holder) *Bag {
	if h == nil || h.tx != b.tx || b.tx.checkSealed("bag exclude") != nil {
		return b
	}
	b.exclude = append(b.exclude, h.place)
	return b
}

// ChangeValue sets key on every target. A nil value clears it.
func (b *Bag) ChangeValue(key record.AnyKey, value any) error {
	if err := b.checkChange(key); err != nil {
		return err
	}
	col := b.tx.coll.Column(key)
	pv, err := b.tx.coll.ToPlaceValue(col, value)
	if err != nil {
		b.tx.coll.Report(err)
		return err
	}
	if pv == nil {
		pv = collector.Null
	}
	b.changes.Set(col, pv)
	return nil
}

// ChangeReference points key at ref on every target. A nil ref clears it.
func (b *Bag) ChangeReference(key record.AnyKey, ref *Holder) error {
	if err := b.checkChange(key); err != nil {
		return err
	}
	if ref == nil {
		b.changes.Set(b.tx.coll.Column(key), collector.Null)
		return nil
	}
	if ref.tx != b.tx {
		return fmt.Errorf("bag change %s: %w", key.ID(), ErrForeignHolder)
	}
	b.changes.Set(b.tx.coll.Column(key), ref.Place())
	return nil
}

// Delete marks every target for deletion.
func (b *Bag) Delete() error {
	if err := b.tx.checkSealed("bag delete"); err != nil {
		return err
	}
	if b.changes.Len() > 0 {
		return fmt.Errorf("bag delete %s: %w", typeName(b.typ), ErrBagHasChanges)
	}
	b.delete = true
	return nil
}

// IsDelete reports whether Delete was called.
func (b *Bag) IsDelete() bool { return b.delete }

// Query returns the bag's match conditions in place form.
func (b *Bag) Query() *collector.ValueRow { return &b.query }

// Changes returns the values the bag sets on its targets, in place form.
func (b *Bag) Changes() *collector.ValueRow { return &b.changes }

// Excluded returns the live places kept out of the bag.
func (b *Bag) Excluded() []collector.PlaceRef {
	out := make([]collector.PlaceRef, len(b.exclude))
	for i, p := range b.exclude {
		out[i] = b.tx.coll.Root(p)
	}
	return out
}

// Targets returns the places of this transaction the bag applies to.
func (b *Bag) Targets() []collector.PlaceRef {
	t, err := b.tx.coll.Table(b.typ)
	if err != nil {
		return nil
	}
	excluded := b.Excluded()
	var out []collector.PlaceRef
	for _, p := range t.Match(&b.query) {
		if !slices.Contains(excluded, p) {
			out = append(out, p)
		}
	}
	return out
}

func (b *Bag) String() string {
	return fmt.Sprintf("Bag[%s where %d, changes %d, delete %t]", typeName(b.typ), b.query.Len(), b.changes.Len(), b.delete)
}

func (b *Bag) checkChange(key record.AnyKey) error {
	if err := b.tx.checkSealed("bag change " + key.ID()); err != nil {
		return err
	}
	if b.delete {
		return fmt.Errorf("bag change %s: %w", key.ID(), ErrBagDeleted)
	}
	return nil
}

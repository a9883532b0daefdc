package transaction

import (
	"errors"
	"fmt"

	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/record"
)

// IdentityBuilder accumulates key/value pairs into a row, then finds or
// creates the place holding that identity.
//
//	h := tx.BuildEntity(issueType).
//		AddValue(idKey, "42").
//		AddReference(projectKey, project).
//		Create()
type IdentityBuilder struct {
	tx   *Transaction
	typ  *record.Record
	row  collector.ValueRow
	errs []error
}

// AddValue adds a value. A nil value is recorded as an explicit null.
func (b *IdentityBuilder) AddValue(key record.AnyKey, value any) *IdentityBuilder {
	if value == nil {
		value = collector.Null
	}
	return b.add(key, value)
}

// AddNNValue adds a value unless it is nil.
func (b *IdentityBuilder) AddNNValue(key record.AnyKey, value any) *IdentityBuilder {
	if value == nil {
		return b
	}
	return b.add(key, value)
}

// AddReference adds a reference to another place. A nil holder is recorded
// as an explicit null.
func (b *IdentityBuilder) AddReference(key record.AnyKey, ref *Holder) *IdentityBuilder {
	if ref == nil {
		return b.add(key, collector.Null)
	}
	if ref.tx != b.tx {
		b.errs = append(b.errs, fmt.Errorf("reference %s: %w", key.ID(), ErrForeignHolder))
		return b
	}
	return b.add(key, ref.Place())
}

// Copy adds every value present on rec.
func (b *IdentityBuilder) Copy(rec *record.Record) *IdentityBuilder {
	for _, key := range rec.Keys() {
		v, _ := rec.Value(key)
		b.add(key, v)
	}
	return b
}

// Err returns the errors met while adding values.
func (b *IdentityBuilder) Err() error { return errors.Join(b.errs...) }

// Find returns the holder of the place already holding the row's identity,
// or nil when there is none. Find never allocates a place.
func (b *IdentityBuilder) Find() *Holder {
	if b.tx.checkSealed("find entity") != nil {
		return nil
	}
	p, ok, err := b.tx.coll.FindEntityRow(b.typ, &b.row)
	if err != nil {
		b.tx.fail("find entity", b.typ, err)
		return nil
	}
	if !ok {
		return nil
	}
	return b.tx.holder(p)
}

// Create returns the holder of the place holding the row's identity,
// allocating one when needed, and writes every value of the row into it.
// It logs an error and returns nil when the type is unknown or the row
// carries no complete identity.
func (b *IdentityBuilder) Create() *Holder {
	if b.tx.checkSealed("create entity") != nil {
		return nil
	}
	p, err := b.tx.coll.AddEntityRow(b.typ, &b.row)
	if err != nil {
		b.tx.fail("create entity", b.typ, err)
		return nil
	}
	return b.tx.holder(p)
}

func (b *IdentityBuilder) add(key record.AnyKey, value any) *IdentityBuilder {
	col := b.tx.coll.Column(key)
	pv, err := b.tx.coll.ToPlaceValue(col, value)
	if err != nil {
		b.errs = append(b.errs, err)
		b.tx.coll.Report(err)
	}
	if pv != nil {
		b.row.Set(col, pv)
	}
	return b
}

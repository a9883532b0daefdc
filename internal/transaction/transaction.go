// Package transaction provides the build-phase session API: identity
// builders, holders over places, and declarative bulk-edit bags.
//
// A Transaction is built by a single goroutine and then handed once to a
// writer, which seals it. Mutations after sealing fail with ErrSealed.
package transaction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/record"
)

// Written is the view of a finished write handed to post-write callbacks.
type Written interface {
	// Item returns the store item the holder's place was written to.
	Item(h *Holder) (int64, bool)

	// BagTargets returns the items a bag was applied to.
	BagTargets(b *Bag) []int64
}

// Callback runs after every place and bag was applied, inside the store
// transaction. Returning an error aborts the write.
type Callback func(ctx context.Context, w Written) error

// Transaction collects entities and bags for one write.
type Transaction struct {
	id        string
	coll      *collector.Collector
	bags      []*Bag
	userData  map[any]any
	callbacks []Callback
	committed collector.Fallback
	sealed    bool
	gen       IDGenerator
}

// Option configures a Transaction.
type Option func(*Transaction)

// WithIDGenerator sets the generator used for the transaction id.
func WithIDGenerator(gen IDGenerator) Option {
	return func(tx *Transaction) {
		tx.gen = gen
	}
}

// New creates an empty transaction resolving types through src.
func New(src collector.PolicySource, opts ...Option) *Transaction {
	tx := &Transaction{
		coll:     collector.New(src),
		userData: make(map[any]any),
		gen:      UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(tx)
	}
	tx.id = tx.gen.Generate()
	return tx
}

// ID returns the transaction id.
func (tx *Transaction) ID() string { return tx.id }

// Collector returns the collector holding the transaction's places.
func (tx *Transaction) Collector() *collector.Collector { return tx.coll }

// Problems returns every diagnosable error recorded so far: schema
// violations, value conflicts, and failed entity additions.
func (tx *Transaction) Problems() []error { return tx.coll.Problems() }

// Bags returns the bags in creation order.
func (tx *Transaction) Bags() []*Bag { return tx.bags }

// SetUserData attaches caller data to the transaction.
func (tx *Transaction) SetUserData(key, value any) { tx.userData[key] = value }

// UserData returns caller data attached with SetUserData.
func (tx *Transaction) UserData(key any) any { return tx.userData[key] }

// OnWritten registers a post-write callback. Callbacks run in registration order.
func (tx *Transaction) OnWritten(fn Callback) {
	if tx.checkSealed("register callback") != nil {
		return
	}
	tx.callbacks = append(tx.callbacks, fn)
}

// Callbacks returns the registered post-write callbacks.
func (tx *Transaction) Callbacks() []Callback { return tx.callbacks }

// Seal marks the transaction as handed to a writer. Later mutations fail.
func (tx *Transaction) Seal() { tx.sealed = true }

// Sealed reports whether Seal was called.
func (tx *Transaction) Sealed() bool { return tx.sealed }

// SetCommitted attaches the source Holder.Restore falls back to for columns
// the transaction never set. Writers attach it during resolve.
func (tx *Transaction) SetCommitted(fn collector.Fallback) { tx.committed = fn }

// BuildEntity starts an identity builder for typ.
func (tx *Transaction) BuildEntity(typ *record.Record) *IdentityBuilder {
	return &IdentityBuilder{tx: tx, typ: typ}
}

// AddEntity creates or finds the entity of typ identified by a single key.
func (tx *Transaction) AddEntity(typ *record.Record, key record.AnyKey, value any) *Holder {
	return tx.BuildEntity(typ).AddValue(key, value).Create()
}

// AddReferenceEntity creates or finds the entity of typ identified by a
// single reference.
func (tx *Transaction) AddReferenceEntity(typ *record.Record, key record.AnyKey, ref *Holder) *Holder {
	return tx.BuildEntity(typ).AddReference(key, ref).Create()
}

// AddRecord adds a full record. Its identity comes from the type's policy;
// every other value is copied onto the place.
func (tx *Transaction) AddRecord(rec *record.Record) *Holder {
	if tx.checkSealed("add record") != nil {
		return nil
	}
	p, err := tx.coll.AddEntity(rec)
	if err != nil {
		tx.fail("add record", rec.Type(), err)
		return nil
	}
	return tx.holder(p)
}

// AddIdentifiedObject returns the holder of a globally identified object.
func (tx *Transaction) AddIdentifiedObject(id string) *Holder {
	if tx.checkSealed("add identified object") != nil {
		return nil
	}
	p, err := tx.coll.AddIdentifiedObject(id)
	if err != nil {
		tx.fail("add identified object", collector.IdentifiedObjectType, err)
		return nil
	}
	return tx.holder(p)
}

// AddEntityByItem returns the holder of a place bound to a known store item.
func (tx *Transaction) AddEntityByItem(typ *record.Record, item int64) *Holder {
	if tx.checkSealed("add entity by item") != nil {
		return nil
	}
	p, err := tx.coll.AddEntityByItem(typ, item)
	if err != nil {
		tx.fail("add entity by item", typ, err)
		return nil
	}
	return tx.holder(p)
}

// Holder returns a holder over an existing place.
func (tx *Transaction) Holder(p collector.PlaceRef) *Holder {
	if _, err := tx.coll.TableOf(p); err != nil {
		slog.Error("holder for unknown place", "tx", tx.id, "place", p.String())
		return nil
	}
	return tx.holder(p)
}

// Holders returns a holder for every live place of typ.
func (tx *Transaction) Holders(typ *record.Record) []*Holder {
	t, err := tx.coll.Table(typ)
	if err != nil {
		return nil
	}
	places := t.Places()
	out := make([]*Holder, len(places))
	for i, p := range places {
		out[i] = tx.holder(p)
	}
	return out
}

// AddBag creates a bag matching every item of typ. Narrow it with Where.
func (tx *Transaction) AddBag(typ *record.Record) *Bag {
	if tx.checkSealed("add bag") != nil {
		return nil
	}
	if _, err := tx.coll.Table(typ); err != nil {
		tx.fail("add bag", typ, err)
		return nil
	}
	b := &Bag{tx: tx, typ: typ}
	tx.bags = append(tx.bags, b)
	return b
}

// AddBagScalar creates a bag matching items of typ whose key equals value.
func (tx *Transaction) AddBagScalar(typ *record.Record, key record.AnyKey, value any) *Bag {
	b := tx.AddBag(typ)
	if b == nil {
		return nil
	}
	return b.Where(key, value)
}

// AddBagRef creates a bag matching items of typ whose key references ref.
func (tx *Transaction) AddBagRef(typ *record.Record, key record.AnyKey, ref *Holder) *Bag {
	b := tx.AddBag(typ)
	if b == nil {
		return nil
	}
	return b.WhereRef(key, ref)
}

func (tx *Transaction) holder(p collector.PlaceRef) *Holder {
	return &Holder{tx: tx, place: p}
}

func (tx *Transaction) checkSealed(op string) error {
	if !tx.sealed {
		return nil
	}
	err := fmt.Errorf("%s: %w", op, ErrSealed)
	slog.Error("transaction modified after write", "tx", tx.id, "error", err)
	return err
}

func (tx *Transaction) fail(op string, typ *record.Record, err error) {
	err = fmt.Errorf("%s %s: %w", op, typeName(typ), err)
	tx.coll.Report(err)
	slog.Error("entity not added", "tx", tx.id, "error", err)
}

func typeName(typ *record.Record) string {
	if typ == nil || typ.Type() != record.MetaType {
		return "<invalid type>"
	}
	return typ.TypeID()
}

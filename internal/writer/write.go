package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/transaction"
)

// Write resolves the transaction if needed, then writes it into the store
// transaction. Any error moves the writer to Failed; the caller must roll
// the store transaction back.
func (w *Writer) Write(ctx context.Context) error {
	start := time.Now()
	if err := w.EnsureResolved(ctx); err != nil {
		w.metrics.observeWrite("failed", time.Since(start))
		return err
	}
	switch w.state {
	case Written:
		return fmt.Errorf("write: %w", ErrWritten)
	case Failed:
		return w.err
	}
	if err := w.write(ctx); err != nil {
		w.metrics.observeWrite("failed", time.Since(start))
		return w.fail(err)
	}
	w.state = Written
	w.metrics.observeWrite("written", time.Since(start))
	w.metrics.addItems("found", w.stats.found)
	w.metrics.addItems("created", w.stats.created)
	w.metrics.addItems("materialized", w.stats.materialized)
	w.metrics.addItems("deleted", w.stats.deleted)
	w.log.Info("transaction written",
		"found", w.stats.found,
		"created", w.stats.created,
		"materialized", w.stats.materialized,
		"deleted", w.stats.deleted,
		"bags", len(w.tx.Bags()),
		"elapsed", time.Since(start),
	)
	return nil
}

func (w *Writer) write(ctx context.Context) error {
	if uncreatable := w.Uncreatable(); len(uncreatable) > 0 {
		return &UnresolvedError{Holders: uncreatable}
	}
	if err := w.createAll(ctx); err != nil {
		return err
	}
	for _, t := range w.order {
		if err := w.writeTable(ctx, t); err != nil {
			return err
		}
	}
	if err := w.clearNotSet(ctx); err != nil {
		return err
	}
	if err := w.applyBags(ctx); err != nil {
		return err
	}
	for i, fn := range w.tx.Callbacks() {
		if err := fn(ctx, w); err != nil {
			return fmt.Errorf("post-write callback %d: %w", i, err)
		}
	}
	return nil
}

func (w *Writer) createAll(ctx context.Context) error {
	w.placesOf = make(map[itemstore.ItemID][]collector.PlaceRef)
	for _, t := range w.order {
		materialized := t.Policy().Materialized
		for _, p := range t.Places() {
			st := w.places[p]
			if st.item <= 0 {
				var err error
				if materialized {
					err = w.materialize(ctx, st)
				} else {
					err = w.create(ctx, t, st)
				}
				if err != nil {
					return fmt.Errorf("create %s at %s: %w", t.TypeID(), p, err)
				}
			}
			w.placesOf[st.item] = append(w.placesOf[st.item], p)
		}
	}
	return nil
}

func (w *Writer) materialize(ctx context.Context, st *placeState) error {
	item, err := w.store.Materialize(ctx, st.descriptor)
	if err != nil {
		return err
	}
	st.item = item
	st.status = statusCreated
	w.stats.materialized++
	return nil
}

func (w *Writer) create(ctx context.Context, t *collector.TypeTable, st *placeState) error {
	typeItem, err := w.ensureTypeItem(ctx, t.Type())
	if err != nil {
		return err
	}
	item, err := w.store.CreateItem(ctx)
	if err != nil {
		return err
	}
	if err := w.store.SetValue(ctx, item, w.bridge.TypeAttribute(), typeItem); err != nil {
		return err
	}
	st.item = item
	st.status = statusCreated
	w.stats.created++
	return nil
}

// writeTable writes every column of t. Immutable create identities are
// written only where the item holds no value yet.
func (w *Writer) writeTable(ctx context.Context, t *collector.TypeTable) error {
	places := t.Places()
	for _, col := range t.Columns() {
		attr, ok := w.bridge.Attribute(col.Key)
		if !ok {
			continue
		}
		identity := t.IsCreateIdentity(col) && !t.IsMutable(col)
		for _, p := range places {
			v := t.Value(p, col)
			if v == nil {
				continue
			}
			item := w.places[p].item
			var err error
			switch {
			case collector.IsNull(v):
				if !identity {
					err = w.store.SetValue(ctx, item, attr, nil)
				}
			case identity:
				err = w.writeIdentity(ctx, t, col, item, attr, v)
			default:
				sv, ok := w.storeValue(v)
				if !ok {
					return fmt.Errorf("write %s.%s on %s: reference to a place without item", t.TypeID(), col.ID(), item)
				}
				err = w.store.SetValue(ctx, item, attr, sv)
			}
			if err != nil {
				return fmt.Errorf("write %s.%s on %s: %w", t.TypeID(), col.ID(), item, err)
			}
		}
	}
	return nil
}

func (w *Writer) writeIdentity(ctx context.Context, t *collector.TypeTable, col *collector.Column, item itemstore.ItemID, attr itemstore.Attribute, v any) error {
	sv, ok := w.storeValue(v)
	if !ok {
		return fmt.Errorf("identity references a place without item")
	}
	prev, has, err := w.store.Value(ctx, item, attr)
	if err != nil {
		return err
	}
	if !has {
		return w.store.SetValue(ctx, item, attr, sv)
	}
	if !sameStored(attr, prev, sv) {
		w.log.Warn("creation identity redefinition",
			"type", t.TypeID(), "key", col.ID(), "item", item, "stored", prev, "rejected", sv)
	}
	return nil
}

func (w *Writer) clearNotSet(ctx context.Context) error {
	for _, c := range w.clears {
		p := c.holder.Place()
		item, ok := w.itemOf(p)
		if !ok {
			continue
		}
		t, err := w.coll.TableOf(p)
		if err != nil {
			return err
		}
		for _, key := range c.keys {
			if c.holder.HasValue(key) {
				continue
			}
			attr, ok := w.bridge.Attribute(key)
			if !ok {
				continue
			}
			if col := w.coll.Column(key); t.IsCreateIdentity(col) && !t.IsMutable(col) {
				w.log.Warn("creation identity not cleared", "type", t.TypeID(), "key", key.ID(), "item", item)
				continue
			}
			if err := w.store.SetValue(ctx, item, attr, nil); err != nil {
				return fmt.Errorf("clear %s on %s: %w", attr.Name, item, err)
			}
		}
	}
	return nil
}

func (w *Writer) applyBags(ctx context.Context) error {
	for _, b := range w.tx.Bags() {
		targets := w.bagTargets(b)
		w.bagItems[b] = targets
		if b.IsDelete() {
			for _, item := range targets {
				if err := w.store.Delete(ctx, item); err != nil {
					return fmt.Errorf("%s: delete %s: %w", b, item, err)
				}
			}
			w.stats.deleted += len(targets)
			continue
		}
		changes := b.Changes()
		for _, col := range changes.Columns() {
			attr, ok := w.bridge.Attribute(col.Key)
			if !ok {
				continue
			}
			v, _ := changes.Get(col)
			var sv any
			if !collector.IsNull(v) {
				if sv, ok = w.storeValue(v); !ok {
					return fmt.Errorf("%s: change %s references a place without item", b, col.ID())
				}
			}
			for _, item := range targets {
				if w.placeDisagrees(item, col, attr, sv) {
					continue
				}
				if err := w.store.SetValue(ctx, item, attr, sv); err != nil {
					return fmt.Errorf("%s: change %s on %s: %w", b, col.ID(), item, err)
				}
			}
		}
	}
	return nil
}

// placeDisagrees reports whether a place written to item explicitly set col
// to something other than the bag's value. The place wins and the conflict
// is reported on the transaction.
func (w *Writer) placeDisagrees(item itemstore.ItemID, col *collector.Column, attr itemstore.Attribute, sv any) bool {
	for _, p := range w.placesOf[item] {
		t, err := w.coll.TableOf(p)
		if err != nil {
			continue
		}
		pv := t.Value(p, col)
		if pv == nil {
			continue
		}
		psv, _ := w.storeValue(pv)
		if psv == nil && sv == nil {
			continue
		}
		if psv != nil && sv != nil && sameStored(attr, psv, sv) {
			continue
		}
		w.coll.Report(&collector.ConflictError{Type: t.TypeID(), Key: col.ID(), Place: p, Old: psv, New: sv})
		w.metrics.conflict()
		return true
	}
	return false
}

var _ transaction.Written = (*Writer)(nil)

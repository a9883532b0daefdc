package writer

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/itemquery"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/record"
	"github.com/roach88/entitysync/internal/transaction"
)

// EnsureResolved seals the transaction and resolves every place and bag.
// It does nothing once resolved.
func (w *Writer) EnsureResolved(ctx context.Context) error {
	switch w.state {
	case Resolved, Written:
		return nil
	case Failed:
		return w.err
	}
	w.tx.Seal()
	w.order = w.resolutionOrder()

	for _, t := range w.order {
		start := time.Now()
		if err := w.resolveTable(ctx, t); err != nil {
			return w.fail(fmt.Errorf("resolve %s: %w", t.TypeID(), err))
		}
		elapsed := time.Since(start)
		if elapsed >= w.slowTable {
			w.log.Info("slow table resolution", "type", t.TypeID(), "places", t.PlaceCount(), "elapsed", elapsed)
		} else {
			w.log.Debug("table resolved", "type", t.TypeID(), "places", t.PlaceCount(), "elapsed", elapsed)
		}
	}
	for _, b := range w.tx.Bags() {
		if err := w.evaluateBag(ctx, b); err != nil {
			return w.fail(fmt.Errorf("evaluate %s: %w", b, err))
		}
	}
	w.tx.SetCommitted(w.committed(ctx))
	w.state = Resolved
	return nil
}

// resolutionOrder sorts tables so that tables referenced from identity
// columns come before the tables referencing them. Cycles are broken at
// the table first reached twice.
func (w *Writer) resolutionOrder() []*collector.TypeTable {
	tables := w.coll.Tables()
	byNum := make(map[int]*collector.TypeTable, len(tables))
	for _, t := range tables {
		byNum[t.Number()] = t
	}

	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[int]int, len(tables))
	order := make([]*collector.TypeTable, 0, len(tables))

	var visit func(t *collector.TypeTable)
	visit = func(t *collector.TypeTable) {
		switch mark[t.Number()] {
		case done:
			return
		case visiting:
			w.log.Warn("identity reference cycle", "type", t.TypeID())
			return
		}
		mark[t.Number()] = visiting
		refs := t.ReferencedTables()
		slices.Sort(refs)
		for _, n := range refs {
			if dep, ok := byNum[n]; ok {
				visit(dep)
			}
		}
		mark[t.Number()] = done
		order = append(order, t)
	}
	for _, t := range tables {
		visit(t)
	}
	return order
}

func (w *Writer) resolveTable(ctx context.Context, t *collector.TypeTable) error {
	bound := make(map[collector.PlaceRef]itemstore.ItemID)
	for _, ext := range w.external {
		bound[ext.holder.Place()] = ext.item
	}

	places := t.Places()
	for _, p := range places {
		st := &placeState{}
		w.places[p] = st
		if item, ok := bound[p]; ok {
			st.resolve(item)
			continue
		}
		if item, ok := t.Item(p); ok {
			st.resolve(itemstore.ItemID(item))
		}
	}

	if t.Policy().Materialized {
		return w.resolveMaterialized(ctx, t, places)
	}

	typeItem, known, err := w.findTypeItem(ctx, t.Type())
	if err != nil {
		return err
	}
	for i := 0; i < t.ResolutionCount(); i++ {
		for _, p := range t.ResolutionPlaces(i) {
			st := w.places[p]
			if st.status >= statusFound {
				continue
			}
			var items []itemstore.ItemID
			if known {
				expr, ok, err := w.identityQuery(t, p, i, typeItem)
				if err != nil {
					return err
				}
				if ok {
					if items, err = w.store.Query(ctx, expr); err != nil {
						return fmt.Errorf("query %v: %w", expr, err)
					}
				}
			}
			w.update(t, i, p, st, items)
		}
	}
	for _, p := range places {
		if st := w.places[p]; st.status == statusFound {
			w.stats.found++
		}
	}
	return nil
}

// update applies the result of resolution i to a place.
func (w *Writer) update(t *collector.TypeTable, i int, p collector.PlaceRef, st *placeState, items []itemstore.ItemID) {
	if len(items) == 0 {
		next := statusNotFound
		if t.IsCreateResolution(i) {
			next = statusCanCreate
		}
		st.status = max(st.status, next)
		return
	}
	if st.status == statusCanCreate && conflictPossible(t, i) {
		// An earlier create identity found nothing, so the item found here
		// belongs to another identity.
		w.log.Debug("identity match ignored", "type", t.TypeID(), "place", p.String(), "item", items[0])
		return
	}
	if len(items) > 1 {
		w.log.Warn("ambiguous identity", "type", t.TypeID(), "place", p.String(), "items", len(items))
	}
	st.resolve(items[0])
}

// conflictPossible reports whether an item found through resolution i may
// belong to a different entity than the place.
func conflictPossible(t *collector.TypeTable, i int) bool {
	if !t.IsCreateResolution(i) {
		return true
	}
	for j := 0; j < t.ResolutionCount(); j++ {
		if j != i && !t.IsMutableResolution(j) {
			return true
		}
	}
	return false
}

func (w *Writer) resolveMaterialized(ctx context.Context, t *collector.TypeTable, places []collector.PlaceRef) error {
	for _, p := range places {
		st := w.places[p]
		if st.status >= statusFound {
			continue
		}
		rec, err := w.coll.Restore(p, nil)
		if err != nil {
			return err
		}
		desc, ok := w.bridge.Descriptor(rec)
		if !ok {
			w.log.Warn("materialized place has no descriptor", "type", t.TypeID(), "place", p.String())
			continue
		}
		item, found, err := w.store.FindMaterialized(ctx, desc)
		if err != nil {
			return fmt.Errorf("find %s: %w", desc, err)
		}
		if found {
			st.resolve(item)
			w.stats.found++
			continue
		}
		st.status = statusCanCreate
		st.descriptor = desc
	}
	return nil
}

// identityQuery builds the store query for resolution i of place p. ok is
// false when no stored item can match, because a value is unknown to the
// store.
func (w *Writer) identityQuery(t *collector.TypeTable, p collector.PlaceRef, i int, typeItem itemstore.ItemID) (itemquery.Expr, bool, error) {
	exprs := []itemquery.Expr{itemquery.Eq(w.bridge.TypeAttribute().Name, typeItem)}
	for _, col := range t.ResolutionColumns(i) {
		eq, ok, err := w.equality(col, t.Value(p, col))
		if err != nil || !ok {
			return nil, false, err
		}
		exprs = append(exprs, eq)
	}
	return itemquery.All(exprs...), true, nil
}

func (w *Writer) equality(col *collector.Column, v any) (itemquery.Equals, bool, error) {
	attr, ok := w.bridge.Attribute(col.Key)
	if !ok {
		return itemquery.Equals{}, false, nil
	}
	sv, ok := w.storeValue(v)
	if !ok {
		return itemquery.Equals{}, false, nil
	}
	sv, err := itemstore.Normalize(attr, sv)
	if err != nil {
		return itemquery.Equals{}, false, err
	}
	return itemquery.Eq(attr.Name, sv), true, nil
}

// storeValue converts a place-form value to store form. ok is false for
// absent and null values and for references to places without an item.
func (w *Writer) storeValue(v any) (any, bool) {
	if v == nil || collector.IsNull(v) {
		return nil, false
	}
	switch x := v.(type) {
	case collector.PlaceRef:
		item, ok := w.itemOf(x)
		return item, ok
	case []collector.PlaceRef:
		items := make([]itemstore.ItemID, len(x))
		for i, p := range x {
			item, ok := w.itemOf(p)
			if !ok {
				return nil, false
			}
			items[i] = item
		}
		return items, true
	}
	return v, true
}

func (w *Writer) evaluateBag(ctx context.Context, b *transaction.Bag) error {
	plan := &bagPlan{places: b.Targets()}
	w.bags[b] = plan

	typeItem, known, err := w.findTypeItem(ctx, b.Type())
	if err != nil || !known {
		return err
	}
	exprs := []itemquery.Expr{itemquery.Eq(w.bridge.TypeAttribute().Name, typeItem)}
	q := b.Query()
	for _, col := range q.Columns() {
		v, _ := q.Get(col)
		eq, ok, err := w.equality(col, v)
		if err != nil {
			return err
		}
		if !ok {
			// Null and unresolved references match nothing stored.
			return nil
		}
		exprs = append(exprs, eq)
	}
	plan.items, err = w.store.Query(ctx, itemquery.All(exprs...))
	return err
}

func (w *Writer) findTypeItem(ctx context.Context, typ *record.Record) (itemstore.ItemID, bool, error) {
	id := typ.TypeID()
	if item, ok := w.typeItems[id]; ok {
		return item, true, nil
	}
	item, ok, err := w.store.FindMaterialized(ctx, w.bridge.TypeDescriptor(typ))
	if err != nil || !ok {
		return 0, false, err
	}
	w.typeItems[id] = item
	w.itemTypes[item] = typ
	return item, true, nil
}

func (w *Writer) ensureTypeItem(ctx context.Context, typ *record.Record) (itemstore.ItemID, error) {
	if item, ok, err := w.findTypeItem(ctx, typ); err != nil || ok {
		return item, err
	}
	item, err := w.store.Materialize(ctx, w.bridge.TypeDescriptor(typ))
	if err != nil {
		return 0, err
	}
	if attr, ok := w.bridge.Attribute(record.IDKey); ok {
		if err := w.store.SetValue(ctx, item, attr, typ.TypeID()); err != nil {
			return 0, err
		}
	}
	w.typeItems[typ.TypeID()] = item
	w.itemTypes[item] = typ
	w.stats.materialized++
	return item, nil
}

// committed is the fallback Holder.Restore uses for columns the
// transaction never set.
func (w *Writer) committed(ctx context.Context) collector.Fallback {
	return func(p collector.PlaceRef, col *collector.Column) (any, bool) {
		item, ok := w.itemOf(p)
		if !ok {
			return nil, false
		}
		attr, ok := w.bridge.Attribute(col.Key)
		if !ok {
			return nil, false
		}
		v, ok, err := w.store.Value(ctx, item, attr)
		if err != nil {
			w.log.Warn("committed value unavailable", "item", item, "attribute", attr.Name, "error", err)
			return nil, false
		}
		if !ok {
			return nil, false
		}
		return w.recordValue(ctx, v)
	}
}

// recordValue converts a stored value to record form. Links become
// records of the linked item's type carrying only the item id.
func (w *Writer) recordValue(ctx context.Context, v any) (any, bool) {
	switch x := v.(type) {
	case itemstore.ItemID:
		rec, ok := w.itemRecord(ctx, x)
		return rec, ok
	case []itemstore.ItemID:
		out := make([]*record.Record, 0, len(x))
		for _, item := range x {
			if rec, ok := w.itemRecord(ctx, item); ok {
				out = append(out, rec)
			}
		}
		return out, len(out) > 0
	}
	return v, true
}

func (w *Writer) itemRecord(ctx context.Context, item itemstore.ItemID) (*record.Record, bool) {
	v, ok, err := w.store.Value(ctx, item, w.bridge.TypeAttribute())
	if err != nil || !ok {
		return nil, false
	}
	typeItem, ok := v.(itemstore.ItemID)
	if !ok {
		return nil, false
	}
	typ, ok := w.itemTypes[typeItem]
	if !ok {
		return nil, false
	}
	return record.New(typ).Put(collector.ItemIDKey, int64(item)).Fix(), true
}

// sameStored reports whether two store-form values of attr encode equally.
func sameStored(attr itemstore.Attribute, a, b any) bool {
	na, errA := itemstore.Normalize(attr, a)
	nb, errB := itemstore.Normalize(attr, b)
	if errA != nil || errB != nil {
		return false
	}
	ea, errA := itemstore.Encode(na)
	eb, errB := itemstore.Encode(nb)
	return errA == nil && errB == nil && bytes.Equal(ea, eb)
}

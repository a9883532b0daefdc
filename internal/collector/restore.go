package collector

import (
	"fmt"
	"slices"

	"github.com/roach88/entitysync/internal/record"
)

// Fallback supplies record-form values for columns a place never set in this
// transaction, typically read back from the store. ok is false when nothing
// is known.
type Fallback func(p PlaceRef, col *Column) (v any, ok bool)

// Restore builds a fixed record snapshot of place p. Referenced places are
// restored with their identity columns only. fallback may be nil.
func (c *Collector) Restore(p PlaceRef, fallback Fallback) (*record.Record, error) {
	p = c.Root(p)
	t, err := c.TableOf(p)
	if err != nil {
		return nil, err
	}
	stack := []PlaceRef{p}
	rec := record.New(t.typ)
	for _, col := range t.columns {
		v := t.Value(p, col)
		if v == nil || IsNull(v) {
			continue
		}
		rv, err := c.toRecordValue(col, v, stack)
		if err != nil {
			c.report(err)
			continue
		}
		rec.Put(col.Key, rv)
	}
	if fallback != nil {
		for _, col := range c.columns {
			if col.Kind == KindHint || rec.Has(col.Key) || t.Value(p, col) != nil {
				continue
			}
			if v, ok := fallback(p, col); ok && v != nil {
				rec.Put(col.Key, v)
			}
		}
	}
	if item, ok := t.Item(p); ok {
		rec.Put(ItemIDKey, item)
	}
	return rec.Fix(), nil
}

// restoreIdentified rebuilds the identity part of place p.
func (c *Collector) restoreIdentified(p PlaceRef, stack []PlaceRef) (*record.Record, error) {
	p = c.Root(p)
	if slices.Contains(stack, p) {
		return nil, fmt.Errorf("restore %s: reference cycle through identity columns", p)
	}
	t, err := c.TableOf(p)
	if err != nil {
		return nil, err
	}
	stack = append(stack, p)
	rec := record.New(t.typ)
	for _, col := range t.columns {
		if !t.identity[col] {
			continue
		}
		v := t.Value(p, col)
		if v == nil || IsNull(v) {
			continue
		}
		rv, err := c.toRecordValue(col, v, stack)
		if err != nil {
			c.report(err)
			continue
		}
		rec.Put(col.Key, rv)
	}
	if item, ok := t.Item(p); ok {
		rec.Put(ItemIDKey, item)
	}
	return rec.Fix(), nil
}

func (c *Collector) toRecordValue(col *Column, v any, stack []PlaceRef) (any, error) {
	switch x := v.(type) {
	case PlaceRef:
		return c.restoreIdentified(x, stack)
	case []PlaceRef:
		out := make([]*record.Record, 0, len(x))
		for _, ref := range x {
			rec, err := c.restoreIdentified(ref, stack)
			if err != nil {
				c.report(err)
				continue
			}
			out = append(out, rec)
		}
		return out, nil
	}
	return v, nil
}

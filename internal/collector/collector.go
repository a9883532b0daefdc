package collector

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/entitysync/internal/record"
)

// Collector owns every type table of one transaction.
//
// A Collector is not safe for concurrent use.
type Collector struct {
	policies PolicySource
	tables   []*TypeTable
	byType   map[string]*TypeTable
	columns  []*Column
	version  int
	problems []error
}

// New creates an empty collector that takes policies from src.
func New(src PolicySource) *Collector {
	return &Collector{
		policies: src,
		byType:   make(map[string]*TypeTable),
	}
}

// Policies returns the policy source the collector was created with.
func (c *Collector) Policies() PolicySource { return c.policies }

// Problems returns every diagnosable error reported so far, in order.
func (c *Collector) Problems() []error { return c.problems }

// Report records a diagnosable error and logs it.
func (c *Collector) Report(err error) { c.report(err) }

func (c *Collector) report(err error) {
	if err == nil {
		return
	}
	c.problems = append(c.problems, err)
	slog.Warn("entity problem", "error", err)
}

// Column returns the column registered for key, creating it on first use.
func (c *Collector) Column(key record.AnyKey) *Column {
	for _, col := range c.columns {
		if col.Key.Record() == key.Record() {
			return col
		}
	}
	for _, col := range c.columns {
		if record.SameKey(col.Key, key) {
			return col
		}
	}
	col := &Column{Key: key, Kind: kindOf(key), id: len(c.columns)}
	if c.policies != nil {
		col.merge = c.policies.Merge(key)
	}
	c.columns = append(c.columns, col)
	return col
}

// Table returns the table for typ, creating it on first use.
func (c *Collector) Table(typ *record.Record) (*TypeTable, error) {
	if typ == nil || !typ.IsFixed() || typ.Type() != record.MetaType {
		return nil, fmt.Errorf("table for %v: %w", typ, ErrUnknownType)
	}
	id := typ.TypeID()
	if t, ok := c.byType[id]; ok {
		return t, nil
	}
	var policy Policy
	ok := false
	if c.policies != nil {
		policy, ok = c.policies.Policy(typ)
	}
	if !ok || policy.Empty() {
		return nil, fmt.Errorf("table for %s: %w", id, ErrUnknownType)
	}
	t := newTypeTable(c, len(c.tables)+1, typ, policy)
	c.tables = append(c.tables, t)
	c.byType[id] = t
	return t, nil
}

// Tables returns all tables in creation order.
func (c *Collector) Tables() []*TypeTable { return c.tables }

// TableOf returns the table a place belongs to.
func (c *Collector) TableOf(p PlaceRef) (*TypeTable, error) {
	if p.Table <= 0 || p.Table > len(c.tables) {
		return nil, fmt.Errorf("%s: %w", p, ErrWrongPlace)
	}
	t := c.tables[p.Table-1]
	if p.Row < 0 || p.Row >= len(t.forward) {
		return nil, fmt.Errorf("%s: %w", p, ErrWrongPlace)
	}
	return t, nil
}

// Root returns the live place p was merged into, or p itself.
func (c *Collector) Root(p PlaceRef) PlaceRef {
	t, err := c.TableOf(p)
	if err != nil {
		return p
	}
	return PlaceRef{Table: p.Table, Row: t.root(p.Row)}
}

// AddEntity adds a record and returns its place. The record is fixed first.
// Records carrying ItemIDKey are bound to that store item.
func (c *Collector) AddEntity(rec *record.Record) (PlaceRef, error) {
	if rec == nil {
		return PlaceRef{}, fmt.Errorf("add entity: nil record")
	}
	rec.Fix()
	t, err := c.Table(rec.Type())
	if err != nil {
		return PlaceRef{}, err
	}
	row := &ValueRow{}
	for _, key := range rec.Keys() {
		if record.SameKey(key, ItemIDKey) {
			continue
		}
		v, _ := rec.Value(key)
		col := c.Column(key)
		pv, err := c.toPlaceValue(col, v)
		if err != nil {
			c.report(err)
		}
		if pv != nil {
			row.Set(col, pv)
		}
	}
	var p PlaceRef
	if item, ok := record.Get(rec, ItemIDKey); ok {
		p, err = t.identifyByItem(row, item)
	} else {
		p, err = t.identify(row)
	}
	if err != nil {
		return PlaceRef{}, err
	}
	c.applyRow(t, p, row)
	return c.Root(p), nil
}

// AddEntityRow looks row up in typ's table, creating a place when none
// matches, then writes every value of row into the place.
func (c *Collector) AddEntityRow(typ *record.Record, row *ValueRow) (PlaceRef, error) {
	t, err := c.Table(typ)
	if err != nil {
		return PlaceRef{}, err
	}
	p, err := t.identify(row)
	if err != nil {
		return PlaceRef{}, err
	}
	c.applyRow(t, p, row)
	return c.Root(p), nil
}

// FindEntityRow looks row up without creating a place.
func (c *Collector) FindEntityRow(typ *record.Record, row *ValueRow) (PlaceRef, bool, error) {
	t, err := c.Table(typ)
	if err != nil {
		return PlaceRef{}, false, err
	}
	p, ok := t.find(row)
	return p, ok, nil
}

// AddEntityByItem returns the place bound to a known store item, creating
// an identity-less place when needed.
func (c *Collector) AddEntityByItem(typ *record.Record, item int64) (PlaceRef, error) {
	t, err := c.Table(typ)
	if err != nil {
		return PlaceRef{}, err
	}
	return t.identifyByItem(&ValueRow{}, item)
}

// AddIdentifiedObject returns the place of the identified object with the given id.
func (c *Collector) AddIdentifiedObject(id string) (PlaceRef, error) {
	return c.AddEntity(record.New(IdentifiedObjectType).Put(ObjectIDKey, id))
}

// Value returns the value held by place p in the column for key.
func (c *Collector) Value(p PlaceRef, col *Column) any {
	t, err := c.TableOf(p)
	if err != nil {
		return nil
	}
	return t.Value(p, col)
}

// SetValue writes a record-form or place-form value into place p.
// Conflicts are reported and returned; the first value is kept.
func (c *Collector) SetValue(p PlaceRef, col *Column, v any, override bool) error {
	t, err := c.TableOf(p)
	if err != nil {
		return err
	}
	pv, convErr := c.toPlaceValue(col, v)
	if convErr != nil {
		c.report(convErr)
	}
	if pv == nil {
		return convErr
	}
	if _, err := t.setValue(p, col, pv, override); err != nil {
		c.report(err)
		return err
	}
	return convErr
}

// ToPlaceValue converts a record-form value (records, record slices) into
// place form, adding referenced records to the collector.
func (c *Collector) ToPlaceValue(col *Column, v any) (any, error) {
	return c.toPlaceValue(col, v)
}

func (c *Collector) applyRow(t *TypeTable, p PlaceRef, row *ValueRow) {
	for i, col := range row.cols {
		if _, err := t.setValue(p, col, row.vals[i], false); err != nil {
			c.report(err)
		}
	}
}

func (c *Collector) toPlaceValue(col *Column, v any) (any, error) {
	if v == nil || IsNull(v) {
		return v, nil
	}
	switch col.Kind {
	case KindEntity:
		switch x := v.(type) {
		case PlaceRef:
			return c.Root(x), nil
		case *record.Record:
			p, err := c.AddEntity(x)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	case KindCollection, KindOrder:
		switch x := v.(type) {
		case []PlaceRef:
			if len(x) == 0 {
				return nil, nil
			}
			return rootAll(x, c.Root), nil
		case []*record.Record:
			if len(x) == 0 {
				return nil, nil
			}
			refs := make([]PlaceRef, 0, len(x))
			var errs []error
			for _, rec := range x {
				p, err := c.AddEntity(rec)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				refs = append(refs, p)
			}
			if len(refs) == 0 {
				return nil, errors.Join(errs...)
			}
			return refs, errors.Join(errs...)
		}
	default:
		return record.Normalize(col.Key, v)
	}
	return nil, &record.SchemaError{Key: col.ID(), Message: fmt.Sprintf("%s column cannot hold %T", col.Kind, v)}
}

package collector

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/entitysync/internal/record"
)

// resolution is one identity index of a table.
type resolution struct {
	cols    []*Column
	create  bool
	mutable bool
	index   map[string]int
	version int
}

// TypeTable is the column store and identity index for one entity type.
type TypeTable struct {
	c       *Collector
	num     int
	typ     *record.Record
	typeID  string
	policy  Policy
	res     []*resolution
	columns []*Column
	values  map[*Column][]any

	// forward[row] is the row this row was merged into; live rows point to themselves.
	forward []int

	identity map[*Column]bool
	mutable  map[*Column]bool
	byItem   map[int64]int
	itemOf   map[int]int64
}

func newTypeTable(c *Collector, num int, typ *record.Record, policy Policy) *TypeTable {
	t := &TypeTable{
		c:        c,
		num:      num,
		typ:      typ,
		typeID:   typ.TypeID(),
		policy:   policy,
		values:   make(map[*Column][]any),
		identity: make(map[*Column]bool),
		mutable:  make(map[*Column]bool),
		byItem:   make(map[int64]int),
		itemOf:   make(map[int]int64),
	}
	for _, identity := range policy.Identities {
		if len(identity) == 0 {
			continue
		}
		r := &resolution{create: true, index: make(map[string]int), version: c.version}
		for _, a := range identity {
			col := c.Column(a.Key)
			r.cols = append(r.cols, col)
			t.identity[col] = true
			if a.Mutable {
				t.mutable[col] = true
				r.mutable = true
			}
		}
		t.res = append(t.res, r)
	}
	for _, keys := range policy.SearchBy {
		if len(keys) == 0 {
			continue
		}
		r := &resolution{mutable: true, index: make(map[string]int), version: c.version}
		for _, k := range keys {
			col := c.Column(k)
			r.cols = append(r.cols, col)
			t.identity[col] = true
		}
		t.res = append(t.res, r)
	}
	for col := range t.identity {
		if col.merge != nil {
			slog.Error("merge function ignored on identity column", "type", t.typeID, "key", col.ID())
		}
	}
	return t
}

// Type returns the table's type record.
func (t *TypeTable) Type() *record.Record { return t.typ }

// TypeID returns the id of the table's type.
func (t *TypeTable) TypeID() string { return t.typeID }

// Number returns the table's handle number used in PlaceRef.Table.
func (t *TypeTable) Number() int { return t.num }

// Policy returns the resolution policy the table was built with.
func (t *TypeTable) Policy() Policy { return t.policy }

// Columns returns every column used by the table, in first-use order.
func (t *TypeTable) Columns() []*Column { return t.columns }

// IsIdentity reports whether col takes part in any resolution.
func (t *TypeTable) IsIdentity(col *Column) bool { return t.identity[col] }

// IsMutable reports whether col is a mutable identity column.
func (t *TypeTable) IsMutable(col *Column) bool { return t.mutable[col] }

// IsCreateIdentity reports whether col belongs to a create resolution.
func (t *TypeTable) IsCreateIdentity(col *Column) bool {
	for _, r := range t.res {
		if !r.create {
			continue
		}
		for _, c := range r.cols {
			if c == col {
				return true
			}
		}
	}
	return false
}

// ResolutionCount returns the number of resolutions, create ones first.
func (t *TypeTable) ResolutionCount() int { return len(t.res) }

// ResolutionColumns returns the columns of resolution i.
func (t *TypeTable) ResolutionColumns(i int) []*Column { return t.res[i].cols }

// IsCreateResolution reports whether resolution i may justify creating an item.
func (t *TypeTable) IsCreateResolution(i int) bool { return t.res[i].create }

// IsMutableResolution reports whether resolution i is search-only or has a
// mutable column.
func (t *TypeTable) IsMutableResolution(i int) bool { return t.res[i].mutable }

// ResolutionPlaces returns live places holding a complete identity for
// resolution i, in row order.
func (t *TypeTable) ResolutionPlaces(i int) []PlaceRef {
	r := t.res[i]
	var out []PlaceRef
	for _, row := range t.liveRows() {
		if _, ok := t.rowKey(r, row); ok {
			out = append(out, PlaceRef{Table: t.num, Row: row})
		}
	}
	return out
}

// Places returns every live place in row order.
func (t *TypeTable) Places() []PlaceRef {
	rows := t.liveRows()
	out := make([]PlaceRef, len(rows))
	for i, row := range rows {
		out[i] = PlaceRef{Table: t.num, Row: row}
	}
	return out
}

// PlaceCount returns the number of live places.
func (t *TypeTable) PlaceCount() int { return len(t.liveRows()) }

// Item returns the store item bound to a place through AddEntityByItem.
func (t *TypeTable) Item(p PlaceRef) (int64, bool) {
	item, ok := t.itemOf[t.root(p.Row)]
	return item, ok
}

// BoundItems returns places bound to known store items.
func (t *TypeTable) BoundItems() map[PlaceRef]int64 {
	out := make(map[PlaceRef]int64, len(t.itemOf))
	for row, item := range t.itemOf {
		out[PlaceRef{Table: t.num, Row: t.root(row)}] = item
	}
	return out
}

// Value returns the value held by place p in col.
func (t *TypeTable) Value(p PlaceRef, col *Column) any {
	return t.get(col, t.root(p.Row))
}

// Match returns live places whose values equal every value in row.
func (t *TypeTable) Match(row *ValueRow) []PlaceRef {
	var out []PlaceRef
	for _, r := range t.liveRows() {
		ok := true
		for i, col := range row.cols {
			if !equalValues(col, t.get(col, r), row.vals[i], t.c.Root) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, PlaceRef{Table: t.num, Row: r})
		}
	}
	return out
}

// ReferencedTables returns tables referenced by identity columns of live places.
func (t *TypeTable) ReferencedTables() []int {
	seen := make(map[int]bool)
	var out []int
	add := func(p PlaceRef) {
		if p.Table != t.num && !seen[p.Table] {
			seen[p.Table] = true
			out = append(out, p.Table)
		}
	}
	for col := range t.identity {
		if !col.IsReference() {
			continue
		}
		for _, row := range t.liveRows() {
			switch v := t.get(col, row).(type) {
			case PlaceRef:
				add(v)
			case []PlaceRef:
				for _, p := range v {
					add(p)
				}
			}
		}
	}
	return out
}

func (t *TypeTable) String() string {
	return fmt.Sprintf("TypeTable[%s: %d]", t.typeID, t.PlaceCount())
}

// identify finds the place for row or creates one.
func (t *TypeTable) identify(row *ValueRow) (PlaceRef, error) {
	if p, ok := t.find(row); ok {
		return p, nil
	}
	return t.createNew(row, false)
}

// identifyByItem binds a place to a known item, reusing the place already
// bound to it or one matching row.
func (t *TypeTable) identifyByItem(row *ValueRow, item int64) (PlaceRef, error) {
	if item <= 0 {
		return PlaceRef{}, fmt.Errorf("identify %s by item %d: %w", t.typeID, item, ErrNoIdentity)
	}
	if r, ok := t.byItem[item]; ok {
		return PlaceRef{Table: t.num, Row: t.root(r)}, nil
	}
	p, ok := t.find(row)
	if !ok {
		var err error
		p, err = t.createNew(row, true)
		if err != nil {
			return PlaceRef{}, err
		}
	}
	t.bindItem(p.Row, item)
	return p, nil
}

func (t *TypeTable) bindItem(row int, item int64) {
	row = t.root(row)
	if prev, ok := t.itemOf[row]; ok && prev != item {
		slog.Error("place already bound to another item", "type", t.typeID, "row", row, "item", prev, "new_item", item)
		return
	}
	t.byItem[item] = row
	t.itemOf[row] = item
}

// find looks row up in every resolution, in order. A candidate that holds a
// different value for some identity column of row is skipped.
func (t *TypeTable) find(row *ValueRow) (PlaceRef, bool) {
	t.validate()
	get := func(col *Column) any {
		v, _ := row.Get(col)
		return v
	}
	for _, r := range t.res {
		key, ok := identityKey(r.cols, get, t.c.Root)
		if !ok {
			continue
		}
		found, ok := r.index[key]
		if !ok {
			continue
		}
		found = t.root(found)
		if t.distinctFromRow(found, row) {
			continue
		}
		return PlaceRef{Table: t.num, Row: found}, true
	}
	return PlaceRef{}, false
}

func (t *TypeTable) identifiable(row *ValueRow) bool {
	get := func(col *Column) any {
		v, _ := row.Get(col)
		return v
	}
	for _, r := range t.res {
		if _, ok := identityKey(r.cols, get, t.c.Root); ok {
			return true
		}
	}
	return false
}

func (t *TypeTable) createNew(row *ValueRow, allowNoIdentity bool) (PlaceRef, error) {
	if !allowNoIdentity && !t.identifiable(row) {
		return PlaceRef{}, fmt.Errorf("create %s: %w", t.typeID, ErrNoIdentity)
	}
	n := len(t.forward)
	t.forward = append(t.forward, n)
	for i, col := range row.cols {
		if t.identity[col] {
			t.set(col, n, row.vals[i])
		}
	}
	for _, r := range t.res {
		key, ok := t.rowKey(r, n)
		if !ok {
			continue
		}
		// A holder that differs in another identity column cannot be this
		// entity; the key belongs to the new place.
		if prev, taken := r.index[key]; !taken || t.areDistinct(t.root(prev), n) {
			r.index[key] = n
		}
	}
	return PlaceRef{Table: t.num, Row: n}, nil
}

// setValue writes v into place p. It reports whether the stored value changed.
func (t *TypeTable) setValue(p PlaceRef, col *Column, v any, override bool) (bool, error) {
	row := t.root(p.Row)
	isIdentity := t.identity[col]
	if override && isIdentity {
		return false, fmt.Errorf("override %s.%s: %w", t.typeID, col.ID(), ErrOverrideIdentity)
	}
	cur := t.get(col, row)
	switch {
	case cur == nil:
		t.set(col, row, v)
	case equalValues(col, cur, v, t.c.Root):
		return false, nil
	case override:
		t.set(col, row, v)
	case isIdentity && t.mutable[col]:
		t.unindex(row, col)
		t.set(col, row, v)
	case !isIdentity && col.merge != nil:
		merged := col.merge(cur, v)
		if equalValues(col, cur, merged, t.c.Root) {
			return false, nil
		}
		t.set(col, row, merged)
	default:
		return false, &ConflictError{
			Type:  t.typeID,
			Key:   col.ID(),
			Place: PlaceRef{Table: t.num, Row: row},
			Old:   cur,
			New:   v,
		}
	}
	if isIdentity {
		t.mergeResolutions(row)
	}
	return true, nil
}

// mergeResolutions indexes row under every resolution it completes, merging
// it with places that already hold the same identity and are not distinct.
func (t *TypeTable) mergeResolutions(row int) {
	t.validate()
	for {
		merged := false
		row = t.root(row)
		for _, r := range t.res {
			key, ok := t.rowKey(r, row)
			if !ok {
				continue
			}
			prev, taken := r.index[key]
			if !taken {
				r.index[key] = row
				continue
			}
			prev = t.root(prev)
			if prev == row {
				continue
			}
			if t.areDistinct(prev, row) {
				continue
			}
			t.merge(prev, row)
			merged = true
			break
		}
		if !merged {
			return
		}
	}
}

// unindex drops the index entries of row that depend on col, before col
// changes value.
func (t *TypeTable) unindex(row int, col *Column) {
	t.validate()
	for _, r := range t.res {
		if !slices.Contains(r.cols, col) {
			continue
		}
		key, ok := t.rowKey(r, row)
		if !ok {
			continue
		}
		if prev, taken := r.index[key]; taken && t.root(prev) == row {
			delete(r.index, key)
		}
	}
}

// areDistinct reports whether two rows hold different values in some
// identity column both have set.
func (t *TypeTable) areDistinct(a, b int) bool {
	if a == b {
		return false
	}
	for col := range t.identity {
		va, vb := t.get(col, a), t.get(col, b)
		if va == nil || vb == nil {
			continue
		}
		if !equalValues(col, va, vb, t.c.Root) {
			return true
		}
	}
	return false
}

func (t *TypeTable) distinctFromRow(row int, vr *ValueRow) bool {
	for i, col := range vr.cols {
		if !t.identity[col] {
			continue
		}
		cur := t.get(col, row)
		if cur == nil || vr.vals[i] == nil {
			continue
		}
		if !equalValues(col, cur, vr.vals[i], t.c.Root) {
			return true
		}
	}
	return false
}

// merge folds the higher row into the lower one.
func (t *TypeTable) merge(a, b int) {
	a, b = t.root(a), t.root(b)
	if a == b {
		return
	}
	if a > b {
		a, b = b, a
	}
	for _, col := range t.columns {
		other := t.get(col, b)
		if other == nil {
			continue
		}
		cur := t.get(col, a)
		switch {
		case cur == nil:
			t.set(col, a, other)
		case equalValues(col, cur, other, t.c.Root):
		case !t.identity[col] && col.merge != nil:
			t.set(col, a, col.merge(cur, other))
		case t.mutable[col]:
		default:
			t.c.report(&ConflictError{
				Type:  t.typeID,
				Key:   col.ID(),
				Place: PlaceRef{Table: t.num, Row: a},
				Old:   cur,
				New:   other,
			})
		}
	}
	t.forward[b] = a
	if item, ok := t.itemOf[b]; ok {
		delete(t.itemOf, b)
		if prev, bound := t.itemOf[a]; bound && prev != item {
			slog.Error("merged places bound to different items", "type", t.typeID, "item", prev, "other_item", item)
		} else {
			t.itemOf[a] = item
			t.byItem[item] = a
		}
	}
	t.c.version++
	slog.Debug("places merged", "type", t.typeID, "survivor", a, "merged", b)
}

// validate rebuilds identity indexes whose keys may be stale because
// referenced places were merged. Rebuilding may itself merge places.
func (t *TypeTable) validate() {
	for _, r := range t.res {
		for r.version != t.c.version {
			target := t.c.version
			r.index = make(map[string]int, len(r.index))
			var collisions [][2]int
			for _, row := range t.liveRows() {
				key, ok := t.rowKey(r, row)
				if !ok {
					continue
				}
				if prev, taken := r.index[key]; taken {
					collisions = append(collisions, [2]int{prev, row})
					continue
				}
				r.index[key] = row
			}
			r.version = target
			for _, pair := range collisions {
				if !t.areDistinct(t.root(pair[0]), t.root(pair[1])) {
					t.merge(pair[0], pair[1])
				}
			}
		}
	}
}

func (t *TypeTable) rowKey(r *resolution, row int) (string, bool) {
	return identityKey(r.cols, func(col *Column) any { return t.get(col, row) }, t.c.Root)
}

func (t *TypeTable) root(row int) int {
	for row >= 0 && row < len(t.forward) && t.forward[row] != row {
		next := t.forward[row]
		if next < len(t.forward) && t.forward[next] != next {
			t.forward[row] = t.forward[next]
		}
		row = next
	}
	return row
}

func (t *TypeTable) liveRows() []int {
	var out []int
	for i, f := range t.forward {
		if f == i {
			out = append(out, i)
		}
	}
	return out
}

func (t *TypeTable) get(col *Column, row int) any {
	s := t.values[col]
	if row < 0 || row >= len(s) {
		return nil
	}
	return s[row]
}

func (t *TypeTable) set(col *Column, row int, v any) {
	s, ok := t.values[col]
	if !ok {
		t.columns = append(t.columns, col)
	}
	for len(s) <= row {
		s = append(s, nil)
	}
	s[row] = v
	t.values[col] = s
}

package collector

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/entitysync/internal/record"
)

// PlaceRef is a handle to a place: a row in a type table.
// Tables are numbered from 1, so the zero PlaceRef is invalid.
type PlaceRef struct {
	Table int
	Row   int
}

// Valid reports whether the handle points at a table.
func (p PlaceRef) Valid() bool { return p.Table > 0 && p.Row >= 0 }

func (p PlaceRef) String() string {
	return fmt.Sprintf("place(%d:%d)", p.Table, p.Row)
}

type nullValue struct{}

func (nullValue) String() string { return "null" }

// Null marks a column explicitly set to nothing. It is distinct from a column
// that was never set: writing Null clears the stored attribute.
var Null any = nullValue{}

// IsNull reports whether v is the explicit null marker.
func IsNull(v any) bool {
	_, ok := v.(nullValue)
	return ok
}

// ValueRow is an ordered list of column values used to look up or create a place.
// Values are in place form: PlaceRef for references, []PlaceRef for collections.
type ValueRow struct {
	cols []*Column
	vals []any
}

// Set stores v for col, replacing any earlier value.
func (r *ValueRow) Set(col *Column, v any) {
	for i, c := range r.cols {
		if c == col {
			r.vals[i] = v
			return
		}
	}
	r.cols = append(r.cols, col)
	r.vals = append(r.vals, v)
}

// Get returns the value for col.
func (r *ValueRow) Get(col *Column) (any, bool) {
	for i, c := range r.cols {
		if c == col {
			return r.vals[i], true
		}
	}
	return nil, false
}

// Columns returns the columns present in the row.
func (r *ValueRow) Columns() []*Column {
	return r.cols
}

// Len returns the number of columns present.
func (r *ValueRow) Len() int { return len(r.cols) }

// identityKey encodes values into a string usable as an index key.
// Place references are canonicalized through root, so keys change after merges.
func identityKey(cols []*Column, get func(*Column) any, root func(PlaceRef) PlaceRef) (string, bool) {
	var b strings.Builder
	for i, col := range cols {
		v := get(col)
		if v == nil || IsNull(v) {
			return "", false
		}
		if i > 0 {
			b.WriteByte(0x1f)
		}
		encodeValue(&b, col, v, root)
	}
	return b.String(), true
}

func encodeValue(b *strings.Builder, col *Column, v any, root func(PlaceRef) PlaceRef) {
	switch x := v.(type) {
	case PlaceRef:
		x = root(x)
		fmt.Fprintf(b, "p%d.%d", x.Table, x.Row)
	case []PlaceRef:
		refs := make([]PlaceRef, len(x))
		for i, p := range x {
			refs[i] = root(p)
		}
		if col.Kind == KindCollection {
			slices.SortFunc(refs, comparePlaces)
			refs = slices.Compact(refs)
		}
		b.WriteByte('[')
		for i, p := range refs {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(b, "%d.%d", p.Table, p.Row)
		}
		b.WriteByte(']')
	case string:
		b.WriteByte('s')
		b.WriteString(strconv.Quote(x))
	case int64:
		b.WriteByte('i')
		b.WriteString(strconv.FormatInt(x, 10))
	case bool:
		b.WriteByte('b')
		b.WriteString(strconv.FormatBool(x))
	case time.Time:
		b.WriteByte('t')
		b.WriteString(strconv.FormatInt(x.UnixNano(), 10))
	case []byte:
		fmt.Fprintf(b, "x%x", x)
	case *record.Record:
		fmt.Fprintf(b, "r%x", x.Hash())
	default:
		fmt.Fprintf(b, "v%T:%v", v, v)
	}
}

func comparePlaces(a, b PlaceRef) int {
	if a.Table != b.Table {
		return a.Table - b.Table
	}
	return a.Row - b.Row
}

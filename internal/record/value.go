package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Normalize checks value against key's class and composition and returns the
// canonical form stored in records. A nil result means "absent": nil values
// and empty collections both normalize to nil.
func Normalize(key AnyKey, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch key.Composition() {
	case Hint:
		return value, nil
	case Collection, Order:
		recs, ok := value.([]*Record)
		if !ok {
			return nil, &SchemaError{Key: key.ID(), Message: fmt.Sprintf("%s value must be []*Record, got %T", key.Composition(), value)}
		}
		if len(recs) == 0 {
			return nil, nil
		}
		out := make([]*Record, 0, len(recs))
		for _, rec := range recs {
			if rec == nil {
				return nil, &SchemaError{Key: key.ID(), Message: "nil record in collection"}
			}
			if key.Composition() == Collection && slices.Contains(out, rec) {
				continue
			}
			out = append(out, rec)
		}
		return out, nil
	}

	switch key.Class() {
	case ClassInt:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		}
	case ClassEntity:
		if rec, ok := value.(*Record); ok {
			if rec == nil {
				return nil, nil
			}
			return rec, nil
		}
	case ClassBytes:
		if b, ok := value.([]byte); ok {
			return bytes.Clone(b), nil
		}
	case ClassAny:
		return value, nil
	default:
		if classAccepts(key.Class(), value) {
			return value, nil
		}
	}
	return nil, &SchemaError{Key: key.ID(), Message: fmt.Sprintf("value of type %T does not match class %s", value, key.Class())}
}

func classAccepts(class ValueClass, v any) bool {
	switch class {
	case ClassString:
		_, ok := v.(string)
		return ok
	case ClassInt:
		_, ok := v.(int64)
		return ok
	case ClassBool:
		_, ok := v.(bool)
		return ok
	case ClassTime:
		_, ok := v.(time.Time)
		return ok
	case ClassBytes:
		_, ok := v.([]byte)
		return ok
	case ClassEntity:
		_, ok := v.(*Record)
		return ok
	case ClassAny:
		return true
	}
	return false
}

// ValuesEqual compares two normalized values of the given composition.
// Record values must be fixed.
func ValuesEqual(comp Composition, a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *Record:
		y, ok := b.(*Record)
		return ok && x.Equal(y)
	case []*Record:
		y, ok := b.([]*Record)
		if !ok || len(x) != len(y) {
			return false
		}
		if comp == Order {
			for i := range x {
				if !x[i].Equal(y[i]) {
					return false
				}
			}
			return true
		}
		for _, e := range x {
			if !containsEqual(y, e) {
				return false
			}
		}
		return true
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	return reflect.DeepEqual(a, b)
}

func hashValue(comp Composition, v any) uint64 {
	switch x := v.(type) {
	case string:
		return xxhash.Sum64String(x)
	case int64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
		return xxhash.Sum64(buf[:])
	case bool:
		if x {
			return 0x5bd1e9955bd1e995
		}
		return 0x27d4eb2f165667c5
	case time.Time:
		var buf [12]byte
		binary.LittleEndian.PutUint64(buf[:8], uint64(x.Unix()))
		binary.LittleEndian.PutUint32(buf[8:], uint32(x.Nanosecond()))
		return xxhash.Sum64(buf[:]) ^ 0x165667b19e3779f9
	case []byte:
		return xxhash.Sum64(x)
	case *Record:
		return x.Hash()
	case []*Record:
		var h uint64
		if comp == Order {
			for _, e := range x {
				h = h*31 + e.Hash()
			}
			return h
		}
		for _, e := range x {
			h += e.Hash()
		}
		return h
	}
	return xxhash.Sum64String(fmt.Sprintf("%T:%v", v, v))
}

func mix(a, b uint64) uint64 {
	x := a*0x9e3779b97f4a7c15 + b
	x ^= x >> 31
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 29
	return x
}

func copyValue(v any) any {
	switch x := v.(type) {
	case []*Record:
		return append([]*Record(nil), x...)
	case []byte:
		return bytes.Clone(x)
	}
	return v
}

func dedupe(recs []*Record) []*Record {
	out := recs[:0:0]
	for _, r := range recs {
		if !containsEqual(out, r) {
			out = append(out, r)
		}
	}
	return out
}

func containsEqual(recs []*Record, r *Record) bool {
	for _, x := range recs {
		if x.Equal(r) {
			return true
		}
	}
	return false
}

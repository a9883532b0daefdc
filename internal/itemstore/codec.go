package itemstore

import (
	"fmt"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type valueKind uint8

const (
	kindString valueKind = iota + 1
	kindInt
	kindBool
	kindTime
	kindBytes
	kindLink
	kindLinks
)

// envelope is the msgpack shape of a stored value. Field order is fixed, so
// equal values always encode to equal bytes.
type envelope struct {
	Kind  valueKind `msgpack:"k"`
	Str   string    `msgpack:"s,omitempty"`
	Int   int64     `msgpack:"i,omitempty"`
	Nsec  int32     `msgpack:"n,omitempty"`
	Bool  bool      `msgpack:"b,omitempty"`
	Bytes []byte    `msgpack:"x,omitempty"`
	Links []int64   `msgpack:"l,omitempty"`
}

// Encode returns the canonical bytes of a store-form value.
func Encode(v any) ([]byte, error) {
	var env envelope
	switch x := v.(type) {
	case string:
		env = envelope{Kind: kindString, Str: x}
	case int64:
		env = envelope{Kind: kindInt, Int: x}
	case bool:
		env = envelope{Kind: kindBool, Bool: x}
	case time.Time:
		env = envelope{Kind: kindTime, Int: x.Unix(), Nsec: int32(x.Nanosecond())}
	case []byte:
		env = envelope{Kind: kindBytes, Bytes: x}
	case ItemID:
		env = envelope{Kind: kindLink, Int: int64(x)}
	case []ItemID:
		links := make([]int64, len(x))
		for i, id := range x {
			links[i] = int64(id)
		}
		env = envelope{Kind: kindLinks, Links: links}
	default:
		return nil, fmt.Errorf("encode %T: %w", v, ErrValue)
	}
	b, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

// Decode reverses Encode.
func Decode(b []byte) (any, error) {
	var env envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	switch env.Kind {
	case kindString:
		return env.Str, nil
	case kindInt:
		return env.Int, nil
	case kindBool:
		return env.Bool, nil
	case kindTime:
		return time.Unix(env.Int, int64(env.Nsec)).UTC(), nil
	case kindBytes:
		if env.Bytes == nil {
			return []byte{}, nil
		}
		return env.Bytes, nil
	case kindLink:
		return ItemID(env.Int), nil
	case kindLinks:
		out := make([]ItemID, len(env.Links))
		for i, id := range env.Links {
			out[i] = ItemID(id)
		}
		return out, nil
	}
	return nil, fmt.Errorf("decode value: unknown kind %d", env.Kind)
}

// Normalize checks that v fits attr and returns its canonical form. Link
// sets are sorted and deduplicated. Empty link collections normalize to nil,
// which clears the attribute.
func Normalize(attr Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch attr.Kind {
	case Scalar:
		switch x := v.(type) {
		case string, int64, bool, []byte:
			return x, nil
		case int:
			return int64(x), nil
		case time.Time:
			return x.UTC(), nil
		}
	case Link:
		if id, ok := v.(ItemID); ok && id > 0 {
			return id, nil
		}
	case LinkSet, LinkList:
		ids, ok := v.([]ItemID)
		if !ok {
			break
		}
		if len(ids) == 0 {
			return nil, nil
		}
		out := slices.Clone(ids)
		if attr.Kind == LinkSet {
			slices.Sort(out)
			out = slices.Compact(out)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s cannot hold %T: %w", attr, v, ErrValue)
}

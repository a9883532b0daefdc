package schema

import (
	"bytes"
	"slices"
	"strings"
	"time"

	"github.com/roach88/entitysync/internal/collector"
)

// Merges are the merge rules a key may name.
var Merges = map[string]collector.MergeFunc{
	"union": mergeUnion,
	"first": func(old, _ any) any { return old },
	"last":  func(_, new any) any { return new },
	"max":   func(old, new any) any { return pick(old, new, 1) },
	"min":   func(old, new any) any { return pick(old, new, -1) },
}

// mergeUnion keeps old references in order and appends new ones not yet
// present. Non-collection values fall back to the old value.
func mergeUnion(old, new any) any {
	a, okA := old.([]collector.PlaceRef)
	b, okB := new.([]collector.PlaceRef)
	if !okA || !okB {
		return old
	}
	out := slices.Clone(a)
	for _, p := range b {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// pick returns new when it compares to old with the wanted sign, else old.
// Values of different or unordered types keep old.
func pick(old, new any, sign int) any {
	c, ok := compare(old, new)
	if ok && c*sign < 0 {
		return new
	}
	return old
}

func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		return strings.Compare(x, y), ok
	case time.Time:
		y, ok := b.(time.Time)
		return x.Compare(y), ok
	case []byte:
		y, ok := b.([]byte)
		return bytes.Compare(x, y), ok
	case bool:
		y, ok := b.(bool)
		if !ok || x == y {
			return 0, ok
		}
		if !x {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

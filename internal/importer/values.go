package importer

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/entitysync/internal/record"
	"github.com/roach88/entitysync/internal/schema"
)

// scalar converts a decoded document value to the Go type of def's class.
// Strings are NFC-normalized so equal text compares equal in the store.
func scalar(def schema.KeyDef, raw any) (any, error) {
	switch def.Class {
	case record.ClassString:
		if s, ok := raw.(string); ok {
			return norm.NFC.String(s), nil
		}
	case record.ClassInt:
		if n, ok := toInt(raw); ok {
			return n, nil
		}
	case record.ClassBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case record.ClassTime:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrValue, def.ID, err)
			}
			return t.UTC(), nil
		}
	case record.ClassBytes:
		if s, ok := raw.(string); ok {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrValue, def.ID, err)
			}
			return b, nil
		}
	case record.ClassAny:
		if s, ok := raw.(string); ok {
			return norm.NFC.String(s), nil
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: %s has class %s, got %T", ErrValue, def.ID, def.Class, raw)
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

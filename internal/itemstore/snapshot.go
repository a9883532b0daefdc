package itemstore

import (
	"context"
	"fmt"
	"time"
)

// ItemSnapshot is an alive item with its values in display form.
type ItemSnapshot struct {
	ID         ItemID         `json:"id"`
	Descriptor string         `json:"descriptor,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Snapshot reads every alive item in ascending id order. Links to
// materialized items show their descriptor, other links show "#id".
func Snapshot(ctx context.Context, r Reader) ([]ItemSnapshot, error) {
	items, err := r.Items(ctx)
	if err != nil {
		return nil, err
	}
	return SnapshotItems(ctx, r, items)
}

// SnapshotItems is Snapshot restricted to ids, in the given order.
func SnapshotItems(ctx context.Context, r Reader, ids []ItemID) ([]ItemSnapshot, error) {
	descriptors, err := r.Descriptors(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ItemSnapshot, 0, len(ids))
	for _, id := range ids {
		attrs, err := r.Attributes(ctx, id)
		if err != nil {
			return nil, err
		}
		snap := ItemSnapshot{ID: id, Descriptor: descriptors[id]}
		if len(attrs) > 0 {
			snap.Attributes = make(map[string]any, len(attrs))
			for name, v := range attrs {
				snap.Attributes[name] = DisplayValue(v, descriptors)
			}
		}
		out = append(out, snap)
	}
	return out, nil
}

// DisplayValue converts a stored value into a JSON-friendly form.
func DisplayValue(v any, descriptors map[ItemID]string) any {
	switch x := v.(type) {
	case ItemID:
		return linkName(x, descriptors)
	case []ItemID:
		names := make([]string, len(x))
		for i, id := range x {
			names[i] = linkName(id, descriptors)
		}
		return names
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func linkName(id ItemID, descriptors map[ItemID]string) string {
	if d, ok := descriptors[id]; ok {
		return d
	}
	return fmt.Sprint(id)
}

package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitysync/internal/bridge"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/schema"
)

func testContext(t *testing.T) *AssertionContext {
	t.Helper()
	s, err := schema.Load(shopSchema)
	require.NoError(t, err)
	br, err := bridge.New(s.Namespace)
	require.NoError(t, err)
	return &AssertionContext{
		Schema: s,
		Bridge: br,
		Items: []itemstore.ItemSnapshot{
			{ID: 1, Descriptor: "shop/type/shop.Product", Attributes: map[string]any{"sys.id": "shop.Product"}},
			{ID: 2, Attributes: map[string]any{
				"sys.type": "shop/type/shop.Product", "shop.sku": "A-1", "shop.price": int64(5),
			}},
			{ID: 3, Attributes: map[string]any{
				"sys.type": "shop/type/shop.Product", "shop.sku": "B-2", "shop.price": int64(5),
			}},
		},
	}
}

func TestEvaluateAssertions(t *testing.T) {
	actx := testContext(t)

	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{"count by type", Assertion{Type: AssertItemCount, ItemType: "shop.Product", Count: 2}, ""},
		{"count all", Assertion{Type: AssertItemCount, Count: 3}, ""},
		{"count by value", Assertion{Type: AssertItemCount, Where: map[string]any{"price": 5}, Count: 2}, ""},
		{"count mismatch", Assertion{Type: AssertItemCount, ItemType: "shop.Product", Count: 1}, "1 items of type shop.Product"},
		{"values", Assertion{Type: AssertItemValues, ItemType: "shop.Product",
			Where: map[string]any{"sku": "B-2"}, Expect: map[string]any{"price": 5}}, ""},
		{"values raw attribute", Assertion{Type: AssertItemValues, Where: map[string]any{"sys.id": "shop.Product"},
			Expect: map[string]any{"sys.id": "shop.Product"}}, ""},
		{"values ambiguous", Assertion{Type: AssertItemValues, ItemType: "shop.Product",
			Expect: map[string]any{"price": 5}}, "2 items matched"},
		{"values differ", Assertion{Type: AssertItemValues, Where: map[string]any{"sku": "A-1"},
			Expect: map[string]any{"price": 6}}, "shop.price = 6"},
		{"values missing", Assertion{Type: AssertItemValues, Where: map[string]any{"sku": "A-1"},
			Expect: map[string]any{"name": "x"}}, "no value"},
		{"absent", Assertion{Type: AssertItemAbsent, ItemType: "shop.Supplier"}, ""},
		{"absent but present", Assertion{Type: AssertItemAbsent, Where: map[string]any{"sku": "A-1"}}, "1 items matched"},
		{"unknown type", Assertion{Type: AssertItemCount, ItemType: "shop.Nope"}, "unknown item_type"},
		{"unknown assertion", Assertion{Type: "trace_order"}, "unknown assertion type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions([]Assertion{tt.assertion}, actx)
			if tt.want == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestEvaluateAssertions_NoContext(t *testing.T) {
	errs := EvaluateAssertions([]Assertion{{Type: AssertItemCount}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires a store snapshot")
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"both nil", nil, nil, true},
		{"nil expected", nil, "x", false},
		{"string", "a", "a", true},
		{"int vs int64", 3, int64(3), true},
		{"int mismatch", 3, int64(4), false},
		{"int vs string", 3, "3", false},
		{"bool", true, true, true},
		{"link set", []any{"#4", "shop/type/shop.Product"}, []string{"#4", "shop/type/shop.Product"}, true},
		{"link set order", []any{"#5", "#4"}, []string{"#4", "#5"}, false},
		{"list length", []any{"#4"}, []string{"#4", "#5"}, false},
		{"list vs scalar", []any{"#4"}, "#4", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

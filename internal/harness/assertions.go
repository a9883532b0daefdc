package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/entitysync/internal/bridge"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/schema"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string

	// Matched lists the items that matched, for context.
	Matched []itemstore.ItemSnapshot
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Matched) > 0 {
		fmt.Fprintf(&buf, "\nMatched items:\n")
		for _, item := range e.Matched {
			fmt.Fprintf(&buf, "  %s %s\n", item.ID, formatValues(item.Attributes))
		}
	}
	return buf.String()
}

// AssertionContext provides what assertions evaluate against.
type AssertionContext struct {
	Items  []itemstore.ItemSnapshot
	Schema *schema.Schema
	Bridge *bridge.Namespace
}

// attribute maps a schema key id to its store attribute name. Names the
// schema does not declare are used as they are.
func (c *AssertionContext) attribute(name string) string {
	if c.Schema == nil || c.Bridge == nil {
		return name
	}
	key, ok := c.Schema.Key(name)
	if !ok {
		return name
	}
	attr, ok := c.Bridge.Attribute(key)
	if !ok {
		return name
	}
	return attr.Name
}

// match returns the items of a's type whose values satisfy a.Where.
func (c *AssertionContext) match(a Assertion) ([]itemstore.ItemSnapshot, error) {
	var typeDescriptor string
	if a.ItemType != "" {
		typ, ok := c.Schema.Type(a.ItemType)
		if !ok {
			return nil, fmt.Errorf("unknown item_type %q", a.ItemType)
		}
		typeDescriptor = c.Bridge.TypeDescriptor(typ)
	}
	typeAttr := c.Bridge.TypeAttribute().Name

	var out []itemstore.ItemSnapshot
	for _, item := range c.Items {
		if typeDescriptor != "" && item.Attributes[typeAttr] != typeDescriptor {
			continue
		}
		if c.holds(item, a.Where) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (c *AssertionContext) holds(item itemstore.ItemSnapshot, values map[string]any) bool {
	for name, want := range values {
		got, ok := item.Attributes[c.attribute(name)]
		if !ok || !stateValuesEqual(want, got) {
			return false
		}
	}
	return true
}

func assertItemCount(actx *AssertionContext, a Assertion) error {
	matched, err := actx.match(a)
	if err != nil {
		return err
	}
	if len(matched) != a.Count {
		return &AssertionError{
			Type:     AssertItemCount,
			Expected: fmt.Sprintf("%d items %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d items", len(matched)),
			Matched:  matched,
		}
	}
	return nil
}

func assertItemValues(actx *AssertionContext, a Assertion) error {
	matched, err := actx.match(a)
	if err != nil {
		return err
	}
	if len(matched) != 1 {
		return &AssertionError{
			Type:     AssertItemValues,
			Expected: fmt.Sprintf("exactly one item %s", describe(a)),
			Actual:   fmt.Sprintf("%d items matched", len(matched)),
			Matched:  matched,
		}
	}
	item := matched[0]
	for _, name := range sortedKeys(a.Expect) {
		want := a.Expect[name]
		attr := actx.attribute(name)
		got, ok := item.Attributes[attr]
		if !ok {
			return &AssertionError{
				Type:     AssertItemValues,
				Expected: fmt.Sprintf("%s to hold %s", item.ID, attr),
				Actual:   "no value",
				Matched:  matched,
			}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertItemValues,
				Expected: fmt.Sprintf("%s = %v (type %T)", attr, want, want),
				Actual:   fmt.Sprintf("%s = %v (type %T)", attr, got, got),
				Matched:  matched,
			}
		}
	}
	return nil
}

func assertItemAbsent(actx *AssertionContext, a Assertion) error {
	matched, err := actx.match(a)
	if err != nil {
		return err
	}
	if len(matched) > 0 {
		return &AssertionError{
			Type:     AssertItemAbsent,
			Expected: fmt.Sprintf("no item %s", describe(a)),
			Actual:   fmt.Sprintf("%d items matched", len(matched)),
			Matched:  matched,
		}
	}
	return nil
}

// stateValuesEqual compares a value written in a scenario with a snapshot
// value. YAML integers decode as int while stored integers are int64, and
// link sets display as []string.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case int:
		if a, ok := actual.(int64); ok {
			return int64(exp) == a
		}
		if a, ok := actual.(int); ok {
			return exp == a
		}
		return false
	case []any:
		switch a := actual.(type) {
		case []string:
			if len(exp) != len(a) {
				return false
			}
			for i := range exp {
				if !stateValuesEqual(exp[i], a[i]) {
					return false
				}
			}
			return true
		case []any:
			if len(exp) != len(a) {
				return false
			}
			for i := range exp {
				if !stateValuesEqual(exp[i], a[i]) {
					return false
				}
			}
			return true
		}
		return false
	}
	return reflect.DeepEqual(expected, actual)
}

func describe(a Assertion) string {
	var parts []string
	if a.ItemType != "" {
		parts = append(parts, "of type "+a.ItemType)
	}
	if len(a.Where) > 0 {
		parts = append(parts, "where "+formatValues(a.Where))
	}
	if len(parts) == 0 {
		return "in store"
	}
	return strings.Join(parts, " ")
}

// formatValues renders values with sorted keys.
func formatValues(values map[string]any) string {
	if len(values) == 0 {
		return "(no values)"
	}
	keys := sortedKeys(values)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, values[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluateAssertions evaluates all assertions and returns a message for
// each failure.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	for i, assertion := range assertions {
		var err error
		if actx == nil || actx.Schema == nil || actx.Bridge == nil {
			err = fmt.Errorf("assertion[%d]: %s requires a store snapshot", i, assertion.Type)
		} else {
			switch assertion.Type {
			case AssertItemCount:
				err = assertItemCount(actx, assertion)
			case AssertItemValues:
				err = assertItemValues(actx, assertion)
			case AssertItemAbsent:
				err = assertItemAbsent(actx, assertion)
			default:
				err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
			}
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

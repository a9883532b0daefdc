package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_SameDescriptionIsSameKey(t *testing.T) {
	a := String("summary")
	b := String("summary")
	require.NotSame(t, a.Record(), b.Record(), "each call builds a new description")
	assert.True(t, SameKey(a, b))

	r := New(testType).Put(a, "hello")
	got, ok := Get(r, b)
	require.True(t, ok)
	assert.Equal(t, "hello", got)
}

func TestKey_DifferentShapeIsDifferentKey(t *testing.T) {
	assert.False(t, SameKey(String("x"), Int("x")))
	assert.False(t, SameKey(EntityCollection("x"), EntityOrder("x")))
	assert.False(t, SameKey(String("x"), HintKey[string]("x", nil)))
}

func TestKey_DynamicMatchesTyped(t *testing.T) {
	typed := Int("priority")
	dyn := Dynamic("priority", ClassInt, Scalar, nil)
	assert.True(t, SameKey(typed, dyn))

	r := New(testType).Put(dyn, 3)
	got, ok := Get(r, typed)
	require.True(t, ok)
	assert.Equal(t, int64(3), got)
}

func TestKey_FixedDescriptionReplaced(t *testing.T) {
	fixed := New(KeyType).Fix()
	k := ScalarKey[string]("label", ClassString, fixed)

	assert.NotSame(t, fixed, k.Record())
	assert.True(t, k.Record().IsFixed())
	assert.True(t, SameKey(k, String("label")))
}

func TestKey_DescriptionCarriesHints(t *testing.T) {
	mergeHint := HintKey[string]("merge", nil)
	desc := New(KeyType).Put(mergeHint, "union")
	k := ScalarKey[string]("tags", ClassString, desc)

	assert.Same(t, desc, k.Record())
	hint, ok := Get(k.Record(), mergeHint)
	require.True(t, ok)
	assert.Equal(t, "union", hint)
	assert.False(t, SameKey(k, String("tags")), "hints are part of the description")
}

func TestKey_DynamicInvalidShape(t *testing.T) {
	k := Dynamic("bad", ClassString, Collection, nil)
	assert.Equal(t, ClassEntity, k.Class())
	assert.Equal(t, Collection, k.Composition())

	unknown := Dynamic("weird", ValueClass("float"), Scalar, nil)
	assert.Equal(t, ClassAny, unknown.Class())
}

func TestKeyOf(t *testing.T) {
	orig := Time("created")
	k, ok := KeyOf(orig.Record())
	require.True(t, ok)
	assert.Equal(t, "created", k.ID())
	assert.Equal(t, ClassTime, k.Class())
	assert.Equal(t, Scalar, k.Composition())
	assert.True(t, SameKey(orig, k))

	boot, ok := KeyOf(IDKey.Record())
	require.True(t, ok)
	assert.Equal(t, AnyKey(IDKey), boot)

	_, ok = KeyOf(New(testType).Fix())
	assert.False(t, ok)
}

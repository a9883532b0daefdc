package writer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitysync/internal/bridge"
	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/record"
	"github.com/roach88/entitysync/internal/transaction"
)

var (
	type1      = record.NewType("test.T1")
	type2      = record.NewType("test.T2")
	typeMut    = record.NewType("test.Mutable")
	typeDoc    = record.NewType("test.Doc")
	typeSearch = record.NewType("test.Search")

	keyID1    = record.String("id1")
	keyID2    = record.String("id2")
	keyRef    = record.Entity("ref")
	keyK      = record.String("k")
	keyM      = record.String("m")
	keyID     = record.String("id")
	keyGroup  = record.String("group")
	keyTitle  = record.String("title")
	keyOwner  = record.Entity("owner")
	keySample = record.String("sample")
)

func testSchema() *collector.Schema {
	s := collector.NewSchema()
	s.Register(type1, collector.Identity(collector.Const(keyID1), collector.Const(keyID2)))
	s.Register(type2, collector.Identity(collector.Const(keyRef)))
	s.Register(typeMut, collector.SingleAttributeIdentities(collector.Const(keyK), collector.Mutable(keyM)))
	s.Register(typeDoc, collector.Identity(collector.Const(keyID)))
	s.Register(typeSearch, collector.Policy{SearchBy: [][]record.AnyKey{{keySample}}})
	return s
}

type env struct {
	store  itemstore.Store
	br     *bridge.Namespace
	schema *collector.Schema
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := itemstore.OpenSQLite(filepath.Join(t.TempDir(), "items.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	br, err := bridge.New("test")
	require.NoError(t, err)
	return &env{store: s, br: br, schema: testSchema()}
}

func (e *env) newTx() *transaction.Transaction {
	return transaction.New(e.schema)
}

func (e *env) commit(t *testing.T, tx *transaction.Transaction, opts ...Option) *Result {
	t.Helper()
	res, err := Commit(context.Background(), e.store, e.br, tx, opts...)
	require.NoError(t, err)
	return res
}

// write runs fn with a fresh writer inside one store transaction.
func (e *env) write(t *testing.T, tx *transaction.Transaction, fn func(w *Writer) error) error {
	t.Helper()
	ctx := context.Background()
	return e.store.Write(ctx, func(stx itemstore.Tx) error {
		return fn(New(tx, stx, e.br))
	})
}

func (e *env) value(t *testing.T, item itemstore.ItemID, key record.AnyKey) any {
	t.Helper()
	attr, ok := e.br.Attribute(key)
	require.True(t, ok)
	var v any
	ctx := context.Background()
	require.NoError(t, e.store.Read(ctx, func(r itemstore.Reader) error {
		var err error
		v, _, err = r.Value(ctx, item, attr)
		return err
	}))
	return v
}

func (e *env) alive(t *testing.T, item itemstore.ItemID) bool {
	t.Helper()
	var alive bool
	ctx := context.Background()
	require.NoError(t, e.store.Read(ctx, func(r itemstore.Reader) error {
		var err error
		alive, err = r.Alive(ctx, item)
		return err
	}))
	return alive
}

func mustItem(t *testing.T, res *Result, h *transaction.Holder) itemstore.ItemID {
	t.Helper()
	item, ok := res.Item(h)
	require.True(t, ok, "no item for %s", h)
	return item
}

func add1(tx *transaction.Transaction, id1, id2 string) *transaction.Holder {
	return tx.BuildEntity(type1).AddValue(keyID1, id1).AddValue(keyID2, id2).Create()
}

func TestWrite_BasicIdentity(t *testing.T) {
	e := newEnv(t)

	tx := e.newTx()
	h1 := add1(tx, "a", "b")
	h2 := tx.AddReferenceEntity(type2, keyRef, h1)
	require.NotNil(t, h2)
	res := e.commit(t, tx)

	item1 := mustItem(t, res, h1)
	item2 := mustItem(t, res, h2)
	assert.NotEqual(t, item1, item2)
	assert.Equal(t, "a", e.value(t, item1, keyID1))
	assert.Equal(t, "b", e.value(t, item1, keyID2))
	assert.Equal(t, item1, e.value(t, item2, keyRef))
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Found)
	assert.Empty(t, res.Problems)

	// The same graph again resolves to the same items.
	tx = e.newTx()
	h1 = add1(tx, "a", "b")
	h2 = tx.AddReferenceEntity(type2, keyRef, h1)
	res = e.commit(t, tx)
	assert.Equal(t, item1, mustItem(t, res, h1))
	assert.Equal(t, item2, mustItem(t, res, h2))
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Found)
}

func TestWrite_ResolvesReferencedTablesFirst(t *testing.T) {
	e := newEnv(t)
	graph := func() *record.Record {
		return record.New(type2).Put(keyRef, record.New(type1).Put(keyID1, "x").Put(keyID2, "y"))
	}

	tx := e.newTx()
	h := tx.AddRecord(graph())
	require.NotNil(t, h)
	res := e.commit(t, tx)
	first := mustItem(t, res, h)

	// type2's table is numbered before type1's, yet type1 must resolve first.
	tx = e.newTx()
	h = tx.AddRecord(graph())
	res = e.commit(t, tx)
	assert.Equal(t, first, mustItem(t, res, h))
	assert.Equal(t, 0, res.Created)
}

func TestWrite_MutableIdentity(t *testing.T) {
	e := newEnv(t)

	tx := e.newTx()
	a := tx.AddEntity(typeMut, keyK, "a")
	require.NoError(t, a.SetValue(keyM, "X"))
	res := e.commit(t, tx)
	itemA := mustItem(t, res, a)
	assert.Equal(t, "X", e.value(t, itemA, keyM))

	tx = e.newTx()
	a = tx.AddEntity(typeMut, keyK, "a")
	require.NoError(t, a.SetValue(keyM, "Y"))
	b := tx.AddEntity(typeMut, keyK, "b")
	require.NoError(t, b.SetValue(keyM, "X"))
	res = e.commit(t, tx)

	assert.Equal(t, itemA, mustItem(t, res, a))
	itemB := mustItem(t, res, b)
	assert.NotEqual(t, itemA, itemB)
	assert.Equal(t, "Y", e.value(t, itemA, keyM))
	assert.Equal(t, "b", e.value(t, itemB, keyK))
	assert.Equal(t, "X", e.value(t, itemB, keyM))
	assert.Empty(t, res.Problems)
}

func TestWrite_MutableIdentityFindsByMutableValue(t *testing.T) {
	e := newEnv(t)

	tx := e.newTx()
	a := tx.AddEntity(typeMut, keyK, "a")
	require.NoError(t, a.SetValue(keyM, "X"))
	itemA := mustItem(t, e.commit(t, tx), a)

	tx = e.newTx()
	h := tx.AddEntity(typeMut, keyM, "X")
	res := e.commit(t, tx)
	assert.Equal(t, itemA, mustItem(t, res, h))
}

func docs(t *testing.T, e *env, groups map[string]string) map[string]itemstore.ItemID {
	t.Helper()
	tx := e.newTx()
	holders := make(map[string]*transaction.Holder)
	for id, group := range groups {
		h := tx.AddEntity(typeDoc, keyID, id)
		require.NoError(t, h.SetValue(keyGroup, group))
		holders[id] = h
	}
	res := e.commit(t, tx)
	items := make(map[string]itemstore.ItemID)
	for id, h := range holders {
		items[id] = mustItem(t, res, h)
	}
	return items
}

func TestWrite_BagDeleteWithExclusion(t *testing.T) {
	e := newEnv(t)
	items := docs(t, e, map[string]string{"1": "a", "2": "a", "3": "a", "4": "b"})

	tx := e.newTx()
	keep := tx.AddEntity(typeDoc, keyID, "2")
	bag := tx.AddBagScalar(typeDoc, keyGroup, "a").Exclude(keep)
	require.NoError(t, bag.Delete())
	var targets []int64
	tx.OnWritten(func(ctx context.Context, w transaction.Written) error {
		targets = w.BagTargets(bag)
		return nil
	})
	res := e.commit(t, tx)

	assert.ElementsMatch(t, []int64{int64(items["1"]), int64(items["3"])}, targets)
	assert.Equal(t, 2, res.Deleted)
	assert.False(t, e.alive(t, items["1"]))
	assert.True(t, e.alive(t, items["2"]))
	assert.False(t, e.alive(t, items["3"]))
	assert.True(t, e.alive(t, items["4"]))
}

func TestWrite_BagChangesIncludePlacesAndYieldToThem(t *testing.T) {
	e := newEnv(t)
	items := docs(t, e, map[string]string{"1": "a", "2": "a"})

	tx := e.newTx()
	mine := tx.AddEntity(typeDoc, keyID, "1")
	require.NoError(t, mine.SetValue(keyTitle, "mine"))
	fresh := tx.AddEntity(typeDoc, keyID, "5")
	require.NoError(t, fresh.SetValue(keyGroup, "a"))
	bag := tx.AddBagScalar(typeDoc, keyGroup, "a")
	require.NoError(t, bag.ChangeValue(keyTitle, "bulk"))
	res := e.commit(t, tx)

	assert.Equal(t, "mine", e.value(t, items["1"], keyTitle))
	assert.Equal(t, "bulk", e.value(t, items["2"], keyTitle))
	assert.Equal(t, "bulk", e.value(t, mustItem(t, res, fresh), keyTitle))

	require.Len(t, res.Problems, 1)
	assert.True(t, collector.IsConflict(res.Problems[0]))
}

func TestWrite_BagNullChangeClears(t *testing.T) {
	e := newEnv(t)
	items := docs(t, e, map[string]string{"1": "a"})

	tx := e.newTx()
	bag := tx.AddBagScalar(typeDoc, keyID, "1")
	require.NoError(t, bag.ChangeValue(keyGroup, nil))
	e.commit(t, tx)

	assert.Nil(t, e.value(t, items["1"], keyGroup))
}

func TestWrite_BagOfUnwrittenTypeMatchesNothing(t *testing.T) {
	e := newEnv(t)
	tx := e.newTx()
	bag := tx.AddBag(typeSearch)
	require.NoError(t, bag.Delete())
	res := e.commit(t, tx)
	assert.Equal(t, 0, res.Deleted)
}

func TestWrite_ExternalResolution(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var known itemstore.ItemID
	require.NoError(t, e.store.Write(ctx, func(stx itemstore.Tx) error {
		typeItem, err := stx.Materialize(ctx, e.br.TypeDescriptor(type1))
		require.NoError(t, err)
		known, err = stx.CreateItem(ctx)
		require.NoError(t, err)
		require.NoError(t, stx.SetValue(ctx, known, e.br.TypeAttribute(), typeItem))
		attr, _ := e.br.Attribute(keySample)
		return stx.SetValue(ctx, known, attr, "1")
	}))

	tx := e.newTx()
	h := add1(tx, "a", "b")
	err := e.write(t, tx, func(w *Writer) error {
		require.NoError(t, w.EnsureResolved(ctx))
		unresolved := w.Unresolved(type1)
		require.Len(t, unresolved, 1)
		assert.True(t, unresolved[0].Same(h))
		assert.Empty(t, w.Uncreatable())

		require.NoError(t, w.AddExternalResolution(h, known))
		assert.Empty(t, w.Unresolved(type1))
		require.NoError(t, w.Write(ctx))

		item, ok := w.Item(h)
		assert.True(t, ok)
		assert.Equal(t, int64(known), item)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "a", e.value(t, known, keyID1))
	assert.Equal(t, "1", e.value(t, known, keySample))
}

func TestWrite_ExternalResolutionBeforeResolve(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	items := docs(t, e, map[string]string{"1": "a"})

	tx := e.newTx()
	h := tx.AddEntity(typeSearch, keySample, "nowhere")
	require.NoError(t, e.write(t, tx, func(w *Writer) error {
		require.NoError(t, w.AddExternalResolution(h, items["1"]))
		return w.Write(ctx)
	}))
	assert.Equal(t, "nowhere", e.value(t, items["1"], keySample))
}

func TestWrite_UncreatableFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tx := e.newTx()
	h := tx.AddEntity(typeSearch, keySample, "missing")
	doc := tx.AddEntity(typeDoc, keyID, "ok")
	var w *Writer
	err := e.write(t, tx, func(wr *Writer) error {
		w = wr
		require.NoError(t, w.EnsureResolved(ctx))
		unc := w.Uncreatable()
		require.Len(t, unc, 1)
		assert.True(t, unc[0].Same(h))
		return w.Write(ctx)
	})
	require.Error(t, err)
	assert.True(t, IsUnresolved(err))
	assert.Equal(t, Failed, w.State())

	// The store transaction was rolled back.
	var items []itemstore.ItemID
	require.NoError(t, e.store.Read(ctx, func(r itemstore.Reader) error {
		var err error
		items, err = r.Items(ctx)
		return err
	}))
	assert.Empty(t, items)
	_, written := w.Item(doc)
	assert.False(t, written)
}

func TestWrite_ClearNoValue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tx := e.newTx()
	h := tx.AddEntity(typeDoc, keyID, "1")
	require.NoError(t, h.SetValue(keyTitle, "t"))
	require.NoError(t, h.SetValue(keyGroup, "g"))
	require.NoError(t, h.SetValue(keySample, "s"))
	item := mustItem(t, e.commit(t, tx), h)

	tx = e.newTx()
	h = tx.AddEntity(typeDoc, keyID, "1")
	require.NoError(t, h.SetValue(keyGroup, "g2"))
	require.NoError(t, e.write(t, tx, func(w *Writer) error {
		require.NoError(t, w.ClearNoValue(h, keyTitle, keyGroup, keyID))
		return w.Write(ctx)
	}))

	assert.Nil(t, e.value(t, item, keyTitle))
	assert.Equal(t, "g2", e.value(t, item, keyGroup))
	assert.Equal(t, "s", e.value(t, item, keySample), "keys not named are untouched")
	assert.Equal(t, "1", e.value(t, item, keyID))
}

func TestWrite_ExplicitNullClears(t *testing.T) {
	e := newEnv(t)

	tx := e.newTx()
	h := tx.AddEntity(typeDoc, keyID, "1")
	require.NoError(t, h.SetValue(keyTitle, "t"))
	item := mustItem(t, e.commit(t, tx), h)

	tx = e.newTx()
	h = tx.AddEntity(typeDoc, keyID, "1")
	require.NoError(t, h.SetValue(keyTitle, nil))
	e.commit(t, tx)
	assert.Nil(t, e.value(t, item, keyTitle))
}

func TestWrite_CreationIdentityIsNotRedefined(t *testing.T) {
	e := newEnv(t)

	tx := e.newTx()
	h := tx.AddEntity(typeDoc, keyID, "1")
	item := mustItem(t, e.commit(t, tx), h)

	tx = e.newTx()
	h = tx.AddEntityByItem(typeDoc, int64(item))
	require.NotNil(t, h)
	require.NoError(t, h.SetValue(keyID, "9"))
	require.NoError(t, h.SetValue(keyTitle, "bound"))
	res := e.commit(t, tx)

	assert.Equal(t, item, mustItem(t, res, h))
	assert.Equal(t, "1", e.value(t, item, keyID))
	assert.Equal(t, "bound", e.value(t, item, keyTitle))
}

func TestWrite_IdentifiedObjectsAreMaterialized(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tx := e.newTx()
	owner := tx.AddIdentifiedObject("user-1")
	doc := tx.AddEntity(typeDoc, keyID, "1")
	require.NoError(t, doc.SetReference(keyOwner, owner))
	res := e.commit(t, tx)
	ownerItem := mustItem(t, res, owner)
	assert.Equal(t, ownerItem, e.value(t, mustItem(t, res, doc), keyOwner))

	require.NoError(t, e.store.Read(ctx, func(r itemstore.Reader) error {
		got, ok, err := r.FindMaterialized(ctx, e.br.ObjectDescriptor("user-1"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, ownerItem, got)
		return nil
	}))

	tx = e.newTx()
	owner = tx.AddIdentifiedObject("user-1")
	res = e.commit(t, tx)
	assert.Equal(t, ownerItem, mustItem(t, res, owner))
	assert.Equal(t, 0, res.Materialized)
}

func TestWrite_RestoreFallsBackToStore(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tx := e.newTx()
	h := tx.AddEntity(typeDoc, keyID, "1")
	require.NoError(t, h.SetValue(keyTitle, "stored"))
	e.commit(t, tx)

	tx = e.newTx()
	h = tx.AddEntity(typeDoc, keyID, "1")
	require.NoError(t, h.SetValue(keyGroup, "new"))
	assert.False(t, h.HasValue(keyTitle))
	require.NoError(t, e.write(t, tx, func(w *Writer) error {
		require.NoError(t, w.EnsureResolved(ctx))
		rec := h.Restore()
		require.NotNil(t, rec)
		title, ok := record.Get(rec, keyTitle)
		assert.True(t, ok)
		assert.Equal(t, "stored", title)
		group, _ := record.Get(rec, keyGroup)
		assert.Equal(t, "new", group)
		return w.Write(ctx)
	}))
}

func TestWrite_StateMachine(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tx := e.newTx()
	h := tx.AddEntity(typeDoc, keyID, "1")
	require.NoError(t, e.write(t, tx, func(w *Writer) error {
		assert.Equal(t, Building, w.State())
		require.NoError(t, w.EnsureResolved(ctx))
		assert.Equal(t, Resolved, w.State())
		assert.True(t, tx.Sealed())
		require.NoError(t, w.EnsureResolved(ctx))

		require.NoError(t, w.Write(ctx))
		assert.Equal(t, Written, w.State())
		assert.ErrorIs(t, w.Write(ctx), ErrWritten)
		assert.ErrorIs(t, w.AddExternalResolution(h, 1), ErrState)
		assert.ErrorIs(t, w.ClearNoValue(h, keyTitle), ErrState)
		return nil
	}))

	other := e.newTx().AddEntity(typeDoc, keyID, "1")
	require.NoError(t, e.write(t, e.newTx(), func(w *Writer) error {
		assert.ErrorIs(t, w.AddExternalResolution(other, 1), transaction.ErrForeignHolder)
		assert.ErrorIs(t, w.AddExternalResolution(nil, 1), transaction.ErrNilHolder)
		_, ok := w.Item(other)
		assert.False(t, ok)
		return nil
	}))
}

func TestWrite_CallbackErrorRollsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	boom := errors.New("boom")

	tx := e.newTx()
	h := tx.AddEntity(typeDoc, keyID, "1")
	var seen int64
	tx.OnWritten(func(ctx context.Context, w transaction.Written) error {
		seen, _ = w.Item(h)
		return boom
	})
	_, err := Commit(ctx, e.store, e.br, tx)
	require.ErrorIs(t, err, boom)
	assert.Positive(t, seen)
	assert.False(t, e.alive(t, itemstore.ItemID(seen)))
}

func TestWrite_CancelledContext(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tx := e.newTx()
	tx.AddEntity(typeDoc, keyID, "1")
	_, err := Commit(ctx, e.store, e.br, tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetrics(t *testing.T) {
	e := newEnv(t)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	tx := e.newTx()
	tx.AddEntity(typeDoc, keyID, "1")
	tx.AddEntity(typeDoc, keyID, "2")
	e.commit(t, tx, WithMetrics(m))

	tx = e.newTx()
	tx.AddEntity(typeSearch, keySample, "missing")
	_, err := Commit(context.Background(), e.store, e.br, tx, WithMetrics(m))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.items.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.items.WithLabelValues("materialized")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.conflict() })
}

func TestResolutionOrder(t *testing.T) {
	e := newEnv(t)
	tx := e.newTx()
	tx.AddRecord(record.New(type2).Put(keyRef, record.New(type1).Put(keyID1, "x").Put(keyID2, "y")))
	tx.AddEntity(typeDoc, keyID, "1")

	w := New(tx, nil, e.br)
	var ids []string
	for _, tbl := range w.resolutionOrder() {
		ids = append(ids, tbl.TypeID())
	}
	assert.Equal(t, []string{"test.T1", "test.T2", "test.Doc"}, ids)
}

func TestUnresolvedError(t *testing.T) {
	tx := transaction.New(testSchema())
	var holders []*transaction.Holder
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		holders = append(holders, tx.AddEntity(typeDoc, keyID, id))
	}
	err := error(&UnresolvedError{Holders: holders})
	assert.Contains(t, err.Error(), "7 unresolved places")
	assert.Contains(t, err.Error(), "and 2 more")
	assert.True(t, IsUnresolved(errors.Join(errors.New("x"), err)))
}

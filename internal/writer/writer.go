// Package writer turns a built transaction into store items.
//
// Writing happens in two phases. Resolve matches every place against
// existing items by its identities, in dependency order, and evaluates bag
// queries. Write creates items for unmatched places, writes every column,
// applies bags in order and runs the transaction's post-write callbacks.
// Both phases run inside one store transaction; see Commit.
//
// State machine:
//
//	Building -> Resolved -> Written
//	      \         \
//	       `---------`----> Failed
package writer

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/entitysync/internal/bridge"
	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/record"
	"github.com/roach88/entitysync/internal/transaction"
)

// State is the writer's lifecycle state.
type State int

const (
	Building State = iota
	Resolved
	Written
	Failed
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Resolved:
		return "resolved"
	case Written:
		return "written"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// status is how far resolve got with one place. Order matters: a later
// resolution may only raise it.
type status int

const (
	statusNone status = iota
	statusNotFound
	statusCanCreate
	statusFound
	statusCreated
)

type placeState struct {
	status     status
	item       itemstore.ItemID
	descriptor string
}

func (s *placeState) resolve(item itemstore.ItemID) {
	s.status = statusFound
	s.item = item
	s.descriptor = ""
}

type external struct {
	holder *transaction.Holder
	item   itemstore.ItemID
}

type clearRequest struct {
	holder *transaction.Holder
	keys   []record.AnyKey
}

type bagPlan struct {
	items  []itemstore.ItemID
	places []collector.PlaceRef
}

type stats struct {
	found, created, materialized, deleted int
}

// Writer resolves and writes one transaction into one store transaction.
// It is not safe for concurrent use.
type Writer struct {
	tx     *transaction.Transaction
	coll   *collector.Collector
	store  itemstore.Tx
	bridge bridge.Bridge
	log    *slog.Logger

	state State
	err   error

	order     []*collector.TypeTable
	places    map[collector.PlaceRef]*placeState
	external  []external
	clears    []clearRequest
	bags      map[*transaction.Bag]*bagPlan
	bagItems  map[*transaction.Bag][]itemstore.ItemID
	placesOf  map[itemstore.ItemID][]collector.PlaceRef
	typeItems map[string]itemstore.ItemID
	itemTypes map[itemstore.ItemID]*record.Record
	stats     stats

	metrics   *Metrics
	slowTable time.Duration
}

// Option configures a Writer.
type Option func(*Writer)

// WithMetrics records write outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(w *Writer) {
		w.metrics = m
	}
}

// WithSlowTableThreshold sets how long resolving one table may take before
// it is logged at info level. The default is 50ms.
func WithSlowTableThreshold(d time.Duration) Option {
	return func(w *Writer) {
		w.slowTable = d
	}
}

// WithLogger sets the logger. The transaction id is added to every record.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		w.log = l
	}
}

// New creates a writer for tx over an open store transaction.
func New(tx *transaction.Transaction, store itemstore.Tx, br bridge.Bridge, opts ...Option) *Writer {
	w := &Writer{
		tx:        tx,
		coll:      tx.Collector(),
		store:     store,
		bridge:    br,
		log:       slog.Default(),
		places:    make(map[collector.PlaceRef]*placeState),
		bags:      make(map[*transaction.Bag]*bagPlan),
		bagItems:  make(map[*transaction.Bag][]itemstore.ItemID),
		typeItems: make(map[string]itemstore.ItemID),
		itemTypes: make(map[itemstore.ItemID]*record.Record),
		slowTable: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("tx", tx.ID())
	return w
}

// State returns the current state.
func (w *Writer) State() State { return w.state }

// Err returns the error that moved the writer to Failed.
func (w *Writer) Err() error { return w.err }

// AddExternalResolution binds the holder's place to a known item. Before
// resolve the binding takes precedence over identity lookups; after resolve
// it replaces whatever resolve decided for that place only.
func (w *Writer) AddExternalResolution(h *transaction.Holder, item itemstore.ItemID) error {
	if err := w.checkHolder(h); err != nil {
		return fmt.Errorf("add external resolution: %w", err)
	}
	if item <= 0 {
		return fmt.Errorf("add external resolution %s: %w", item, itemstore.ErrNoItem)
	}
	switch w.state {
	case Building:
		w.external = append(w.external, external{holder: h, item: item})
	case Resolved:
		st, ok := w.places[h.Place()]
		if !ok {
			return fmt.Errorf("add external resolution %s: %w", h, collector.ErrWrongPlace)
		}
		st.resolve(item)
	default:
		return fmt.Errorf("add external resolution in %s state: %w", w.state, ErrState)
	}
	return nil
}

// ClearNoValue asks Write to clear the stored value of each key on the
// holder's item unless the transaction set that key, explicit null
// included.
func (w *Writer) ClearNoValue(h *transaction.Holder, keys ...record.AnyKey) error {
	if err := w.checkHolder(h); err != nil {
		return fmt.Errorf("clear no value: %w", err)
	}
	if w.state != Building && w.state != Resolved {
		return fmt.Errorf("clear no value in %s state: %w", w.state, ErrState)
	}
	w.clears = append(w.clears, clearRequest{holder: h, keys: keys})
	return nil
}

// Unresolved returns holders of typ's places not matched to an existing
// item, including places resolve decided to create. Meaningful once
// resolved.
func (w *Writer) Unresolved(typ *record.Record) []*transaction.Holder {
	t := w.table(typ)
	if t == nil {
		return nil
	}
	var out []*transaction.Holder
	for _, p := range t.Places() {
		if st := w.places[p]; st == nil || st.status < statusFound {
			out = append(out, w.tx.Holder(p))
		}
	}
	return out
}

// Uncreatable returns holders of places that were neither matched nor may
// be created. Write fails while any remain.
func (w *Writer) Uncreatable() []*transaction.Holder {
	var out []*transaction.Holder
	for _, t := range w.coll.Tables() {
		for _, p := range t.Places() {
			if st := w.places[p]; st == nil || st.status < statusCanCreate {
				out = append(out, w.tx.Holder(p))
			}
		}
	}
	return out
}

// Item returns the store item the holder's place resolved to or was
// written to.
func (w *Writer) Item(h *transaction.Holder) (int64, bool) {
	if w.checkHolder(h) != nil {
		return 0, false
	}
	item, ok := w.itemOf(h.Place())
	return int64(item), ok
}

// BagTargets returns the items bag b applies to. Before Write, places the
// transaction will create are not included.
func (w *Writer) BagTargets(b *transaction.Bag) []int64 {
	items, ok := w.bagItems[b]
	if !ok {
		items = w.bagTargets(b)
	}
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = int64(item)
	}
	return out
}

func (w *Writer) checkHolder(h *transaction.Holder) error {
	if h == nil {
		return transaction.ErrNilHolder
	}
	if h.Transaction() != w.tx {
		return transaction.ErrForeignHolder
	}
	return nil
}

func (w *Writer) fail(err error) error {
	w.state = Failed
	w.err = err
	w.log.Error("write failed", "error", err)
	return err
}

func (w *Writer) table(typ *record.Record) *collector.TypeTable {
	if typ == nil {
		return nil
	}
	id := typ.TypeID()
	for _, t := range w.coll.Tables() {
		if t.TypeID() == id {
			return t
		}
	}
	return nil
}

func (w *Writer) itemOf(p collector.PlaceRef) (itemstore.ItemID, bool) {
	st, ok := w.places[w.coll.Root(p)]
	if !ok || st.item <= 0 {
		return 0, false
	}
	return st.item, true
}

func (w *Writer) bagTargets(b *transaction.Bag) []itemstore.ItemID {
	plan, ok := w.bags[b]
	if !ok {
		return nil
	}
	items := slices.Clone(plan.items)
	for _, p := range plan.places {
		if item, ok := w.itemOf(p); ok {
			items = append(items, item)
		}
	}
	var excluded []itemstore.ItemID
	for _, p := range b.Excluded() {
		if item, ok := w.itemOf(p); ok {
			excluded = append(excluded, item)
		}
	}
	slices.Sort(items)
	items = slices.Compact(items)
	return slices.DeleteFunc(items, func(item itemstore.ItemID) bool {
		return slices.Contains(excluded, item)
	})
}

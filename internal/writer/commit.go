package writer

import (
	"context"
	"fmt"

	"github.com/roach88/entitysync/internal/bridge"
	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/transaction"
)

// Result summarizes a committed transaction.
type Result struct {
	TxID         string
	Found        int
	Created      int
	Materialized int
	Deleted      int

	// Problems are the diagnosable errors recorded on the transaction,
	// including bag conflicts found while writing.
	Problems []error

	items map[collector.PlaceRef]itemstore.ItemID
	tx    *transaction.Transaction
}

// Item returns the item the holder's place was written to.
func (r *Result) Item(h *transaction.Holder) (itemstore.ItemID, bool) {
	if h == nil || h.Transaction() != r.tx {
		return 0, false
	}
	item, ok := r.items[h.Place()]
	return item, ok
}

// Commit resolves and writes tx inside one store write transaction. The
// store transaction is rolled back when any step fails.
func Commit(ctx context.Context, store itemstore.Store, br bridge.Bridge, tx *transaction.Transaction, opts ...Option) (*Result, error) {
	var w *Writer
	err := store.Write(ctx, func(stx itemstore.Tx) error {
		w = New(tx, stx, br, opts...)
		return w.Write(ctx)
	})
	// Committed values are read through the store transaction, which is
	// gone now.
	tx.SetCommitted(nil)
	if err != nil {
		if w != nil && w.state != Failed {
			w.fail(err)
		}
		return nil, fmt.Errorf("commit transaction %s: %w", tx.ID(), err)
	}
	return w.result(), nil
}

func (w *Writer) result() *Result {
	r := &Result{
		TxID:         w.tx.ID(),
		Found:        w.stats.found,
		Created:      w.stats.created,
		Materialized: w.stats.materialized,
		Deleted:      w.stats.deleted,
		Problems:     w.tx.Problems(),
		items:        make(map[collector.PlaceRef]itemstore.ItemID, len(w.places)),
		tx:           w.tx,
	}
	for p, st := range w.places {
		if st.item > 0 {
			r.items[p] = st.item
		}
	}
	return r
}

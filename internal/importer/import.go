package importer

import (
	"context"
	"fmt"

	"github.com/roach88/entitysync/internal/bridge"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/transaction"
	"github.com/roach88/entitysync/internal/writer"
)

// Import loads doc into a new transaction and commits it to store. Nothing
// is written when the document fails to load.
func (im *Importer) Import(ctx context.Context, store itemstore.Store, br bridge.Bridge, doc *Document) (*writer.Result, error) {
	tx := transaction.New(im.schema.Policies(), im.txOpts...)
	if _, err := im.Load(tx, doc); err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	res, err := writer.Commit(ctx, store, br, tx, im.writeOpts...)
	if err != nil {
		return nil, err
	}
	im.logger.Info("document imported",
		"tx", res.TxID,
		"found", res.Found,
		"created", res.Created,
		"materialized", res.Materialized,
		"deleted", res.Deleted,
		"problems", len(res.Problems))
	return res, nil
}

// ImportFile parses path and imports it.
func (im *Importer) ImportFile(ctx context.Context, store itemstore.Store, br bridge.Bridge, path string) (*writer.Result, error) {
	doc, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	res, err := im.Import(ctx, store, br, doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

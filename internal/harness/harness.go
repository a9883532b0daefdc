package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/entitysync/internal/bridge"
	"github.com/roach88/entitysync/internal/importer"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/schema"
	"github.com/roach88/entitysync/internal/testutil"
	"github.com/roach88/entitysync/internal/transaction"
	"github.com/roach88/entitysync/internal/writer"
)

// Harness runs the steps of one scenario against its own store.
type Harness struct {
	bridge   *bridge.Namespace
	store    itemstore.Store
	importer *importer.Importer
	logger   *slog.Logger
}

// Option configures Run.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sends engine logs to l. By default they are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Run executes a scenario and returns the result. The returned error is
// reserved for problems running the scenario at all; failed expectations
// are reported in the result.
//
// Each scenario runs in a fresh store in a temporary directory, removed
// when Run returns.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext is Run with a context.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	s, err := schema.Load(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	ns := scenario.Namespace
	if ns == "" {
		ns = s.Namespace
	}
	br, err := bridge.New(ns)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}

	dir, err := os.MkdirTemp("", "entitysync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := openStore(scenario.Backend, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ids := testutil.NewTxIDs(scenario.TxPrefix)
	h := &Harness{
		bridge: br,
		store:  st,
		importer: importer.New(s,
			importer.WithLogger(cfg.logger),
			importer.WithTransactionOptions(transaction.WithIDGenerator(ids)),
			importer.WithWriterOptions(writer.WithLogger(cfg.logger)),
		),
		logger: cfg.logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	err = st.Read(ctx, func(r itemstore.Reader) error {
		items, err := itemstore.Snapshot(ctx, r)
		result.Items = items
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot store: %w", err)
	}

	actx := &AssertionContext{
		Items:  result.Items,
		Schema: s,
		Bridge: br,
	}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func openStore(backend, dir string) (itemstore.Store, error) {
	if backend == "" {
		backend = itemstore.BackendSQLite
	}
	path := filepath.Join(dir, "items."+backend)
	if backend == itemstore.BackendBolt {
		return itemstore.OpenBolt(path, itemstore.BoltOptions{IsTesting: true})
	}
	return itemstore.Open(backend, path)
}

// executeStep imports one document and checks the step's expectations.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) {
	trace := StepTrace{Step: i, Name: step.Name}

	var (
		res *writer.Result
		err error
	)
	if step.Document != nil {
		res, err = h.importer.Import(ctx, h.store, h.bridge, step.Document)
	} else {
		res, err = h.importer.ImportFile(ctx, h.store, h.bridge, step.File)
	}

	if err != nil {
		trace.Error = err.Error()
	} else {
		trace.TxID = res.TxID
		trace.Found = res.Found
		trace.Created = res.Created
		trace.Materialized = res.Materialized
		trace.Deleted = res.Deleted
		for _, p := range res.Problems {
			trace.Problems = append(trace.Problems, p.Error())
		}
	}
	result.AddStep(trace)

	h.logger.Info("scenario step completed",
		"step", i,
		"name", step.Name,
		"tx", trace.TxID,
		"error", trace.Error,
	)

	for _, msg := range checkExpect(step.Expect, trace) {
		result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
	}
}

// checkExpect compares a step trace with its expect clause.
func checkExpect(e *ExpectClause, trace StepTrace) []string {
	var errs []string
	switch {
	case e != nil && e.Error != "":
		if trace.Error == "" {
			return []string{fmt.Sprintf("expected error containing %q, import succeeded", e.Error)}
		}
		if !strings.Contains(trace.Error, e.Error) {
			return []string{fmt.Sprintf("expected error containing %q, got %q", e.Error, trace.Error)}
		}
		return nil
	case trace.Error != "":
		return []string{fmt.Sprintf("import failed: %s", trace.Error)}
	case e == nil:
		return nil
	}

	counts := []struct {
		name   string
		want   *int
		actual int
	}{
		{"found", e.Found, trace.Found},
		{"created", e.Created, trace.Created},
		{"materialized", e.Materialized, trace.Materialized},
		{"deleted", e.Deleted, trace.Deleted},
		{"problems", e.Problems, len(trace.Problems)},
	}
	for _, c := range counts {
		if c.want != nil && *c.want != c.actual {
			errs = append(errs, fmt.Sprintf("expected %s=%d, got %d", c.name, *c.want, c.actual))
		}
	}
	return errs
}

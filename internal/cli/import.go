package cli

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/entitysync/internal/importer"
	"github.com/roach88/entitysync/internal/writer"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Schema          string
	ContinueOnError bool
}

// FileResult is the outcome of importing one document.
type FileResult struct {
	File         string   `json:"file"`
	TxID         string   `json:"tx,omitempty"`
	Found        int      `json:"found"`
	Created      int      `json:"created"`
	Materialized int      `json:"materialized"`
	Deleted      int      `json:"deleted"`
	Problems     []string `json:"problems,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Files    []FileResult `json:"files"`
	Imported int          `json:"imported"`
	Failed   int          `json:"failed"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import --schema <schema> <document>...",
		Short: "Import entity graph documents",
		Long: `Import YAML or JSON entity graph documents into the item store.

Each document is loaded and committed in its own transaction. A document
that fails to load or commit writes nothing.

Exit codes:
  0 - All documents imported
  1 - One or more documents failed
  2 - Command error (schema invalid, store not openable)

Examples:
  entitysync import --schema jira.cue issues.yaml
  entitysync import --schema ./schema --db items.db a.yaml b.json
  entitysync import --schema jira.cue --continue-on-error *.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema file or directory (required)")
	cmd.Flags().BoolVar(&opts.ContinueOnError, "continue-on-error", false, "keep importing after a document fails")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

func runImport(opts *ImportOptions, files []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := opts.logger()

	s, err := loadSchema(opts.Schema)
	if err != nil {
		return loadFailure(formatter, err)
	}
	br, err := newBridge(opts.RootOptions, s)
	if err != nil {
		return loadFailure(formatter, err)
	}
	st, err := openStore(opts.RootOptions)
	if err != nil {
		return loadFailure(formatter, err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	wopts := []writer.Option{
		writer.WithLogger(logger),
		writer.WithMetrics(writer.NewMetrics(reg)),
	}
	if opts.Config.SlowTable > 0 {
		wopts = append(wopts, writer.WithSlowTableThreshold(opts.Config.SlowTable))
	}
	im := importer.New(s,
		importer.WithLogger(logger),
		importer.WithWriterOptions(wopts...),
	)

	result := ImportResult{Files: make([]FileResult, 0, len(files))}
	ctx := cmd.Context()
	for _, file := range files {
		formatter.VerboseLog("Importing %s", file)
		fr := FileResult{File: file}
		res, err := im.ImportFile(ctx, st, br, file)
		if err != nil {
			fr.Error = err.Error()
			result.Failed++
			result.Files = append(result.Files, fr)
			if !opts.ContinueOnError {
				break
			}
			continue
		}
		fr.TxID = res.TxID
		fr.Found, fr.Created = res.Found, res.Created
		fr.Materialized, fr.Deleted = res.Materialized, res.Deleted
		for _, p := range res.Problems {
			fr.Problems = append(fr.Problems, p.Error())
		}
		result.Imported++
		result.Files = append(result.Files, fr)
	}
	logMetrics(logger, reg)

	text := func(w io.Writer) { writeImportText(w, result) }
	if result.Failed > 0 {
		msg := fmt.Sprintf("%d document(s) failed to import", result.Failed)
		if err := formatter.Failure(ErrCodeImport, msg, result, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return formatter.Success(result, text)
}

func writeImportText(w io.Writer, result ImportResult) {
	for _, f := range result.Files {
		name := filepath.Base(f.File)
		if f.Error != "" {
			fmt.Fprintf(w, "✗ %s\n  %s\n", name, f.Error)
			continue
		}
		fmt.Fprintf(w, "✓ %s (tx %s): %d found, %d created, %d materialized, %d deleted\n",
			name, f.TxID, f.Found, f.Created, f.Materialized, f.Deleted)
		for _, p := range f.Problems {
			fmt.Fprintf(w, "  ! %s\n", p)
		}
	}
	fmt.Fprintf(w, "\nImported %d document(s), %d failed\n", result.Imported, result.Failed)
}

// logMetrics writes the writer counters gathered during the run at debug
// level.
func logMetrics(logger *slog.Logger, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		logger.Warn("gather metrics", "error", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			attrs := []any{"metric", mf.GetName()}
			for _, lp := range m.GetLabel() {
				attrs = append(attrs, lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				attrs = append(attrs, "value", m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				attrs = append(attrs, "count", m.GetHistogram().GetSampleCount(), "sum", m.GetHistogram().GetSampleSum())
			}
			logger.Debug("writer metric", attrs...)
		}
	}
}

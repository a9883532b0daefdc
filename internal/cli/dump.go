package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/entitysync/internal/itemstore"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Type string // only items linked to this type descriptor
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every alive item with its attributes",
		Long: `Print every alive item in the store with its attribute values.

Links to materialized items (types, keys, identified objects) show the
item's descriptor; other links show "#id".

Examples:
  entitysync dump --db items.db
  entitysync dump --db items.db --type jira/type/jira.Issue --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "only items of this type descriptor")
	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return loadFailure(formatter, err)
	}
	defer st.Close()

	items, err := snapshot(cmd.Context(), st)
	if err != nil {
		return loadFailure(formatter, &LoadError{Code: ErrCodeStoreFailed, Message: err.Error()})
	}
	if opts.Type != "" {
		br, err := newBridge(opts.RootOptions, nil)
		if err != nil {
			return loadFailure(formatter, err)
		}
		items = filterType(items, br.TypeAttribute().Name, opts.Type)
	}
	formatter.VerboseLog("Read %d item(s) from %s", len(items), opts.DB)

	return formatter.Success(items, func(w io.Writer) { writeItemsText(w, items) })
}

func snapshot(ctx context.Context, st itemstore.Store) ([]itemstore.ItemSnapshot, error) {
	var items []itemstore.ItemSnapshot
	err := st.Read(ctx, func(r itemstore.Reader) error {
		var err error
		items, err = itemstore.Snapshot(ctx, r)
		return err
	})
	return items, err
}

func filterType(items []itemstore.ItemSnapshot, typeAttr, descriptor string) []itemstore.ItemSnapshot {
	out := make([]itemstore.ItemSnapshot, 0, len(items))
	for _, item := range items {
		if item.Attributes[typeAttr] == descriptor {
			out = append(out, item)
		}
	}
	return out
}

// writeItemsText prints one block per item with sorted attributes.
func writeItemsText(w io.Writer, items []itemstore.ItemSnapshot) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No items.")
		return
	}
	for _, item := range items {
		if item.Descriptor != "" {
			fmt.Fprintf(w, "%s %s\n", item.ID, item.Descriptor)
		} else {
			fmt.Fprintf(w, "%s\n", item.ID)
		}
		names := make([]string, 0, len(item.Attributes))
		for name := range item.Attributes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s = %v\n", name, item.Attributes[name])
		}
	}
}

package cli

import (
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/entitysync/internal/bridge"
	"github.com/roach88/entitysync/internal/itemquery"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/record"
	"github.com/roach88/entitysync/internal/schema"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Schema string
	Type   string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query --schema <schema> --type <type> [key=value]...",
		Short: "Find items of a type by attribute equality",
		Long: `Find alive items of a schema type whose attributes equal the given values.

Values are parsed by the key's class. Entity keys take an item id ("#12" or
"12"). Collection, order and hint keys cannot be queried.

Examples:
  entitysync query --schema jira.cue --type jira.Issue id=42
  entitysync query --schema jira.cue --type jira.Issue project=#3 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema file or directory (required)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "schema type id (required)")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runQuery(opts *QueryOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	s, err := loadSchema(opts.Schema)
	if err != nil {
		return loadFailure(formatter, err)
	}
	typ, ok := s.Type(opts.Type)
	if !ok {
		return argumentFailure(formatter, fmt.Sprintf("unknown type %q", opts.Type))
	}
	br, err := newBridge(opts.RootOptions, s)
	if err != nil {
		return loadFailure(formatter, err)
	}
	conds, err := parseConditions(s, br, args)
	if err != nil {
		return argumentFailure(formatter, err.Error())
	}

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return loadFailure(formatter, err)
	}
	defer st.Close()

	ctx := cmd.Context()
	items := []itemstore.ItemSnapshot{}
	err = st.Read(ctx, func(r itemstore.Reader) error {
		typeItem, ok, err := r.FindMaterialized(ctx, br.TypeDescriptor(typ))
		if err != nil || !ok {
			return err
		}
		expr := itemquery.All(append([]itemquery.Expr{itemquery.Eq(br.TypeAttribute().Name, typeItem)}, conds...)...)
		formatter.VerboseLog("Query %v", expr)
		ids, err := r.Query(ctx, expr)
		if err != nil {
			return err
		}
		items, err = itemstore.SnapshotItems(ctx, r, ids)
		return err
	})
	if err != nil {
		return loadFailure(formatter, &LoadError{Code: ErrCodeStoreFailed, Message: err.Error()})
	}

	return formatter.Success(items, func(w io.Writer) { writeItemsText(w, items) })
}

func argumentFailure(f *OutputFormatter, msg string) error {
	_ = f.Error(ErrCodeArgument, msg, nil)
	return NewExitError(ExitCommandError, msg)
}

// parseConditions turns key=value arguments into store equalities.
func parseConditions(s *schema.Schema, br bridge.Bridge, args []string) ([]itemquery.Expr, error) {
	exprs := make([]itemquery.Expr, 0, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("condition %q is not key=value", arg)
		}
		def, ok := s.Keys[name]
		if !ok {
			return nil, fmt.Errorf("unknown key %q", name)
		}
		if def.Composition != record.Scalar {
			return nil, fmt.Errorf("key %q has composition %s and cannot be queried", name, def.Composition)
		}
		key, _ := s.Key(name)
		attr, ok := br.Attribute(key)
		if !ok {
			return nil, fmt.Errorf("key %q has no store attribute", name)
		}
		v, err := parseValue(def.Class, raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", name, err)
		}
		sv, err := itemstore.Normalize(attr, v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", name, err)
		}
		exprs = append(exprs, itemquery.Eq(attr.Name, sv))
	}
	return exprs, nil
}

// parseValue converts a command-line value to the store form of class.
func parseValue(class record.ValueClass, raw string) (any, error) {
	switch class {
	case record.ClassString, record.ClassAny:
		return norm.NFC.String(raw), nil
	case record.ClassInt:
		return strconv.ParseInt(raw, 10, 64)
	case record.ClassBool:
		return strconv.ParseBool(raw)
	case record.ClassTime:
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	case record.ClassBytes:
		return base64.StdEncoding.DecodeString(raw)
	case record.ClassEntity:
		n, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid item id %q", raw)
		}
		return itemstore.ItemID(n), nil
	}
	return nil, fmt.Errorf("unsupported class %s", class)
}

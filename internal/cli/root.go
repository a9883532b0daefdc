package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/entitysync/internal/config"
)

// RootOptions holds global flags for all commands, filled from the
// environment where a flag is not given.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	DB        string
	Backend   string
	Namespace string

	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the entitysync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "entitysync",
		Short: "Entity graph identity resolution and upsert",
		Long: `entitysync imports entity graph documents into an item store.

Entities are deduplicated against the store and against each other using
the identities a CUE schema declares, then written as attribute values.

Settings come from ENTITYSYNC_* environment variables; flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.DB, "db", "", "item store path (env ENTITYSYNC_DB)")
	flags.StringVar(&opts.Backend, "backend", "", "item store backend: sqlite|bolt (env ENTITYSYNC_BACKEND)")
	flags.StringVar(&opts.Namespace, "namespace", "", "attribute namespace, defaults to the schema's (env ENTITYSYNC_NAMESPACE)")

	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// setup merges environment configuration with flags and installs the
// logger.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !slices.Contains(ValidFormats, o.Format) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DB = o.DB
	}
	if flags.Changed("backend") {
		cfg.Backend = o.Backend
	}
	if flags.Changed("namespace") {
		cfg.Namespace = o.Namespace
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	o.Config = cfg
	o.DB, o.Backend, o.Namespace = cfg.DB, cfg.Backend, cfg.Namespace

	level := cfg.LogLevel
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.Logger)
	return nil
}

// logger returns the configured logger, or the default one for commands
// constructed without the root command.
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

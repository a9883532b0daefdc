package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/roach88/entitysync/internal/bridge"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/schema"
)

// Error code constants, unified across all CLI commands. Schema validation
// codes (E2xx) come from the schema package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNoFiles     = "E003" // No input files given or found
	ErrCodeLoadFailed  = "E004" // Schema failed to compile
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeStoreFailed = "E006" // Item store could not be opened or read
	ErrCodeImport      = "E007" // Document failed to import
	ErrCodeArgument    = "E008" // Malformed argument
)

// LoadError is a failure to load a schema or open a store.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// loadSchema compiles the schema at path. Schema validation problems are
// returned unchanged as schema.ValidationErrors; everything else becomes a
// LoadError.
func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: "no schema given (use --schema)"}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema not found: %s", path)}
	}
	s, err := schema.Load(path)
	if err == nil {
		return s, nil
	}
	var verrs schema.ValidationErrors
	if errors.As(err, &verrs) {
		return nil, verrs
	}
	var cerr *schema.CompileError
	if errors.As(err, &cerr) {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: cerr.Field + ": " + cerr.Message, Pos: cerr.Pos}
	}
	return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

// openStore opens the configured item store.
func openStore(opts *RootOptions) (itemstore.Store, error) {
	st, err := itemstore.Open(opts.Backend, opts.DB)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeStoreFailed, Message: err.Error()}
	}
	return st, nil
}

// newBridge qualifies attributes with the configured namespace, falling
// back to the schema's.
func newBridge(opts *RootOptions, s *schema.Schema) (*bridge.Namespace, error) {
	ns := opts.Namespace
	if ns == "" && s != nil {
		ns = s.Namespace
	}
	br, err := bridge.New(ns)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeArgument, Message: err.Error()}
	}
	return br, nil
}

// loadFailure turns a loader error into formatter output and an exit error.
func loadFailure(f *OutputFormatter, err error) error {
	var lerr *LoadError
	if !errors.As(err, &lerr) {
		lerr = &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	var verrs schema.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		lerr = &LoadError{Code: verrs[0].Code, Message: verrs.Error()}
	}
	_ = f.Error(lerr.Code, lerr.Message, nil)
	return WrapExitError(ExitCommandError, "failed to load", err)
}

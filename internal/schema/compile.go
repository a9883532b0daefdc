package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/entitysync/internal/record"
)

//go:embed meta.cue
var metaSchema string

// CompileError is a CUE error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads a schema from a .cue file or from the CUE package in a
// directory.
func Load(path string) (*Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	ctx := cuecontext.New()
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
		return Compile(ctx.CompileBytes(data, cue.Filename(path)))
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load schema: no CUE instances in %s", path)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return Compile(ctx.BuildInstance(instances[0]))
}

// CompileString compiles schema source. filename is used in positions.
func CompileString(src, filename string) (*Schema, error) {
	return Compile(cuecontext.New().CompileString(src, cue.Filename(filename)))
}

// Compile unifies v with the schema shape, extracts definitions and
// validates them. Validation problems are returned as ValidationErrors.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	meta := v.Context().CompileString(metaSchema, cue.Filename("meta.cue"))
	if err := meta.Err(); err != nil {
		return nil, fmt.Errorf("meta schema: %w", err)
	}
	v = meta.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{
		Keys:  make(map[string]KeyDef),
		Types: make(map[string]TypeDef),
	}
	if ns := v.LookupPath(cue.ParsePath("namespace")); ns.Exists() {
		name, err := ns.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		s.Namespace = name
	}
	if err := parseKeys(v, s); err != nil {
		return nil, err
	}
	if err := parseTypes(v, s); err != nil {
		return nil, err
	}
	if errs := Validate(s); len(errs) > 0 {
		return nil, errs
	}
	s.build()
	return s, nil
}

func parseKeys(v cue.Value, s *Schema) error {
	iter, err := v.LookupPath(cue.ParsePath("keys")).Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		id := iter.Selector().Unquoted()
		kv := iter.Value()
		def := KeyDef{ID: id}

		class, err := stringField(kv, "class")
		if err != nil {
			return err
		}
		def.Class = record.ValueClass(class)
		comp, err := stringField(kv, "composition")
		if err != nil {
			return err
		}
		def.Composition = record.Composition(comp)
		if def.Target, err = stringField(kv, "target"); err != nil {
			return err
		}
		if def.Merge, err = stringField(kv, "merge"); err != nil {
			return err
		}
		s.Keys[id] = def
	}
	return nil
}

func parseTypes(v cue.Value, s *Schema) error {
	iter, err := v.LookupPath(cue.ParsePath("types")).Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		id := iter.Selector().Unquoted()
		tv := iter.Value()
		def := TypeDef{ID: id}

		err := eachList(tv.LookupPath(cue.ParsePath("identities")), func(identity cue.Value) error {
			var attrs []AttrDef
			err := eachList(identity, func(a cue.Value) error {
				attr, err := parseAttr(a)
				if err != nil {
					return err
				}
				attrs = append(attrs, attr)
				return nil
			})
			def.Identities = append(def.Identities, attrs)
			return err
		})
		if err != nil {
			return err
		}

		err = eachList(tv.LookupPath(cue.ParsePath("searchBy")), func(set cue.Value) error {
			var keys []string
			err := eachList(set, func(k cue.Value) error {
				name, err := k.String()
				if err != nil {
					return formatCUEError(err)
				}
				keys = append(keys, name)
				return nil
			})
			def.SearchBy = append(def.SearchBy, keys)
			return err
		})
		if err != nil {
			return err
		}
		s.Types[id] = def
	}
	return nil
}

// parseAttr accepts "key" or {key: "key", mutable: true}.
func parseAttr(v cue.Value) (AttrDef, error) {
	if name, err := v.String(); err == nil {
		return AttrDef{Key: name}, nil
	}
	name, err := stringField(v, "key")
	if err != nil {
		return AttrDef{}, err
	}
	attr := AttrDef{Key: name}
	if m := v.LookupPath(cue.ParsePath("mutable")); m.Exists() {
		m, _ = m.Default()
		if attr.Mutable, err = m.Bool(); err != nil {
			return AttrDef{}, formatCUEError(err)
		}
	}
	return attr, nil
}

// stringField returns the string at field, or "" when it does not exist.
func stringField(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", nil
	}
	f, _ = f.Default()
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func eachList(v cue.Value, fn func(cue.Value) error) error {
	if !v.Exists() {
		return nil
	}
	iter, err := v.List()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

// formatCUEError extracts the path and position of the first CUE error.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	ce := &CompileError{Field: strings.Join(first.Path(), "."), Message: first.Error()}
	if ce.Field == "" {
		ce.Field = "cue"
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}

package schema

import (
	"fmt"
	"strings"

	"github.com/roach88/entitysync/internal/record"
)

// Validation error codes (E200-E299)
const (
	ErrUnknownKey          = "E201" // identity or searchBy names an undeclared key
	ErrUnknownTarget       = "E202" // entity key targets an undeclared type
	ErrTargetNotEntity     = "E203" // target set on a non-entity key
	ErrNoResolution        = "E204" // type has neither identities nor searchBy
	ErrHintInIdentity      = "E205" // hint keys are never persisted
	ErrMergeOnIdentity     = "E206" // identity keys cannot merge
	ErrCompositionClass    = "E207" // collection/order key with non-entity class
	ErrEmptyResolution     = "E208" // empty attribute set
	ErrDuplicateAttribute  = "E209" // same key twice in one attribute set
	ErrReservedName        = "E210" // id uses the reserved sys. prefix
	ErrNamespaceMismatch   = "E211" // type id outside the declared namespace
	ErrMergeClass          = "E212" // merge rule does not fit the key
	ErrMissingEntityTarget = "E213" // entity key in an identity without target
)

// ValidationError is a semantic problem in a schema.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors collects every problem found in one schema.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks definitions against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(s *Schema) ValidationErrors {
	var errs ValidationErrors
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	for _, id := range s.KeyIDs() {
		def := s.Keys[id]
		field := "keys." + id
		if strings.HasPrefix(id, "sys.") {
			add(field, ErrReservedName, "prefix sys. is reserved")
		}
		if (def.Composition == record.Collection || def.Composition == record.Order) && def.Class != record.ClassEntity {
			add(field, ErrCompositionClass, "%s key must have class entity, got %s", def.Composition, def.Class)
		}
		if def.Target != "" {
			if def.Class != record.ClassEntity {
				add(field+".target", ErrTargetNotEntity, "target requires class entity, got %s", def.Class)
			} else if _, ok := s.Types[def.Target]; !ok {
				add(field+".target", ErrUnknownTarget, "undeclared type %q", def.Target)
			}
		}
		if def.Merge == "union" && def.Composition != record.Collection && def.Composition != record.Order {
			add(field+".merge", ErrMergeClass, "union requires a collection or order key")
		}
		if (def.Merge == "max" || def.Merge == "min") && def.Class == record.ClassEntity {
			add(field+".merge", ErrMergeClass, "%s cannot order entity values", def.Merge)
		}
	}

	for _, id := range s.TypeIDs() {
		def := s.Types[id]
		field := "types." + id
		if strings.HasPrefix(id, "sys.") {
			add(field, ErrReservedName, "prefix sys. is reserved")
		}
		if s.Namespace != "" && !strings.HasPrefix(id, s.Namespace+".") {
			add(field, ErrNamespaceMismatch, "type must start with %q", s.Namespace+".")
		}
		if len(def.Identities) == 0 && len(def.SearchBy) == 0 {
			add(field, ErrNoResolution, "type needs at least one identity or searchBy set")
		}

		for i, identity := range def.Identities {
			f := fmt.Sprintf("%s.identities[%d]", field, i)
			keys := make([]string, len(identity))
			for j, a := range identity {
				keys[j] = a.Key
			}
			checkSet(s, f, keys, add)
			for _, a := range identity {
				k, ok := s.Keys[a.Key]
				if !ok {
					continue
				}
				if k.Merge != "" && !a.Mutable {
					add(f, ErrMergeOnIdentity, "key %q has merge rule %q", a.Key, k.Merge)
				}
				if k.Class == record.ClassEntity && k.Target == "" {
					add(f, ErrMissingEntityTarget, "entity key %q needs a target", a.Key)
				}
			}
		}
		for i, set := range def.SearchBy {
			checkSet(s, fmt.Sprintf("%s.searchBy[%d]", field, i), set, add)
		}
	}
	return errs
}

func checkSet(s *Schema, field string, keys []string, add func(field, code, format string, args ...any)) {
	if len(keys) == 0 {
		add(field, ErrEmptyResolution, "attribute set is empty")
		return
	}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			add(field, ErrDuplicateAttribute, "key %q listed twice", k)
		}
		seen[k] = true
		def, ok := s.Keys[k]
		if !ok {
			add(field, ErrUnknownKey, "undeclared key %q", k)
			continue
		}
		if def.Composition == record.Hint {
			add(field, ErrHintInIdentity, "hint key %q is never stored", k)
		}
	}
}

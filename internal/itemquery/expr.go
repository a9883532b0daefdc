// Package itemquery is the equality-expression IR that item stores evaluate.
//
// The writer builds an expression for every identity lookup and every bag
// query; each store backend compiles or interprets it. Only conjunctions of
// attribute equalities exist, which every backend can answer from an
// attribute/value index.
//
// Expr is a sealed interface: only Equals and And implement it, so backends
// can switch over it exhaustively.
//
//	switch e := expr.(type) {
//	case itemquery.Equals:
//	case itemquery.And:
//	}
package itemquery

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Expr is a boolean expression over item attributes.
type Expr interface {
	exprNode()
}

// Equals matches items whose attribute holds exactly Value.
//
// Value is in store form: string, int64, bool, time.Time, []byte, or the
// store's item id type for links and link collections.
type Equals struct {
	Attribute string
	Value     any
}

func (Equals) exprNode() {}

func (e Equals) String() string {
	return fmt.Sprintf("%s == %v", e.Attribute, e.Value)
}

// And matches items that satisfy every expression. An empty And matches
// nothing; stores reject it through Validate.
type And struct {
	Exprs []Expr
}

func (And) exprNode() {}

func (a And) String() string {
	parts := make([]string, len(a.Exprs))
	for i, e := range a.Exprs {
		parts[i] = fmt.Sprint(e)
	}
	return "(" + strings.Join(parts, " && ") + ")"
}

// Eq is shorthand for Equals{Attribute: attr, Value: v}.
func Eq(attr string, v any) Equals {
	return Equals{Attribute: attr, Value: v}
}

// All conjoins exprs, flattening nested conjunctions. A single expression is
// returned as is.
func All(exprs ...Expr) Expr {
	flat := Flatten(And{Exprs: exprs})
	if len(flat) == 1 {
		return flat[0]
	}
	out := make([]Expr, len(flat))
	for i, e := range flat {
		out[i] = e
	}
	return And{Exprs: out}
}

// Flatten returns the equalities of e in order, descending into nested
// conjunctions.
func Flatten(e Expr) []Equals {
	var out []Equals
	var walk func(Expr)
	walk = func(e Expr) {
		switch x := e.(type) {
		case Equals:
			out = append(out, x)
		case *Equals:
			out = append(out, *x)
		case And:
			for _, sub := range x.Exprs {
				walk(sub)
			}
		case *And:
			for _, sub := range x.Exprs {
				walk(sub)
			}
		}
	}
	walk(e)
	return out
}

// Attributes returns the distinct attribute names e constrains, sorted.
func Attributes(e Expr) []string {
	var out []string
	for _, eq := range Flatten(e) {
		if !slices.Contains(out, eq.Attribute) {
			out = append(out, eq.Attribute)
		}
	}
	slices.Sort(out)
	return out
}

// ErrInvalid is wrapped by every error Validate returns.
var ErrInvalid = errors.New("entitysync: invalid item query")

// Validate reports whether e can be evaluated: it must constrain at least
// one attribute, every attribute needs a name, and no value may be nil.
func Validate(e Expr) error {
	if e == nil {
		return fmt.Errorf("nil expression: %w", ErrInvalid)
	}
	var errs []error
	var walk func(Expr)
	walk = func(e Expr) {
		switch x := e.(type) {
		case Equals:
			errs = append(errs, validateEquals(x)...)
		case *Equals:
			errs = append(errs, validateEquals(*x)...)
		case And:
			if len(x.Exprs) == 0 {
				errs = append(errs, fmt.Errorf("empty conjunction: %w", ErrInvalid))
			}
			for _, sub := range x.Exprs {
				walk(sub)
			}
		case *And:
			walk(*x)
		default:
			errs = append(errs, fmt.Errorf("unknown expression %T: %w", e, ErrInvalid))
		}
	}
	walk(e)
	return errors.Join(errs...)
}

func validateEquals(e Equals) []error {
	var errs []error
	if e.Attribute == "" {
		errs = append(errs, fmt.Errorf("equality without attribute: %w", ErrInvalid))
	}
	if e.Value == nil {
		errs = append(errs, fmt.Errorf("attribute %q compared to nil: %w", e.Attribute, ErrInvalid))
	}
	return errs
}

// Package itemsql compiles itemquery expressions to parameterized SQLite SQL
// over the item store schema (items, attribute_values).
package itemsql

import (
	"fmt"
	"strings"

	"github.com/roach88/entitysync/internal/itemquery"
)

// Compiler compiles item queries to SQL.
//
// Every query orders by item id so results are deterministic, and every
// value is bound as a parameter, never interpolated.
type Compiler struct {
	// Encode turns a store-form value into the bytes stored in
	// attribute_values.value. Must be set before compiling.
	Encode func(v any) ([]byte, error)

	// IncludeDeleted makes queries also return tombstoned items.
	IncludeDeleted bool
}

// NewCompiler creates a Compiler using encode for parameter values.
func NewCompiler(encode func(v any) ([]byte, error)) *Compiler {
	return &Compiler{Encode: encode}
}

// Compile converts an expression into a SELECT returning matching item ids.
func (c *Compiler) Compile(e itemquery.Expr) (string, []any, error) {
	if err := itemquery.Validate(e); err != nil {
		return "", nil, fmt.Errorf("compile: %w", err)
	}
	if c.Encode == nil {
		return "", nil, fmt.Errorf("compile: no value encoder")
	}

	var where []string
	var params []any
	if !c.IncludeDeleted {
		where = append(where, "i.alive = 1")
	}
	for _, eq := range itemquery.Flatten(e) {
		sql, p, err := c.compileEquals(eq)
		if err != nil {
			return "", nil, err
		}
		where = append(where, sql)
		params = append(params, p...)
	}

	sql := "SELECT i.item FROM items i"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY i.item ASC"
	return sql, params, nil
}

// compileEquals compiles one equality to a membership test against the
// attribute/value index.
func (c *Compiler) compileEquals(eq itemquery.Equals) (string, []any, error) {
	encoded, err := c.Encode(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("compile %s: encode value: %w", eq.Attribute, err)
	}
	sql := "i.item IN (SELECT item FROM attribute_values WHERE attribute = ? AND value = ?)"
	return sql, []any{eq.Attribute, encoded}, nil
}

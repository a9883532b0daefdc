package itemquery

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpr_Sealed(t *testing.T) {
	exprs := []Expr{Eq("a", "x"), And{Exprs: []Expr{Eq("a", "x")}}}
	for _, e := range exprs {
		switch e.(type) {
		case Equals, And:
		default:
			t.Fatalf("unexpected expression type %T", e)
		}
	}
}

func TestAll_Flattens(t *testing.T) {
	e := All(Eq("a", "1"), All(Eq("b", int64(2)), Eq("c", true)))

	and, ok := e.(And)
	require.True(t, ok)
	require.Len(t, and.Exprs, 3)
	assert.Equal(t, Eq("a", "1"), and.Exprs[0])
	assert.Equal(t, Eq("c", true), and.Exprs[2])
}

func TestAll_SingleExpression(t *testing.T) {
	assert.Equal(t, Eq("a", "1"), All(Eq("a", "1")))
}

func TestFlatten_PointerForms(t *testing.T) {
	e := &And{Exprs: []Expr{&Equals{Attribute: "a", Value: "1"}, Eq("b", "2")}}
	assert.Equal(t, []Equals{Eq("a", "1"), Eq("b", "2")}, Flatten(e))
}

func TestAttributes_SortedDistinct(t *testing.T) {
	e := All(Eq("z", "1"), Eq("a", "2"), Eq("z", "3"))
	assert.Equal(t, []string{"a", "z"}, Attributes(e))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		expr    Expr
		wantErr bool
	}{
		{name: "equals", expr: Eq("a", "x")},
		{name: "conjunction", expr: All(Eq("a", "x"), Eq("b", int64(1)))},
		{name: "nil", expr: nil, wantErr: true},
		{name: "empty and", expr: And{}, wantErr: true},
		{name: "missing attribute", expr: Eq("", "x"), wantErr: true},
		{name: "nil value", expr: Eq("a", nil), wantErr: true},
		{name: "nested nil value", expr: And{Exprs: []Expr{Eq("a", "x"), Eq("b", nil)}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.expr)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "(a == x && b == 1)", fmt.Sprint(All(Eq("a", "x"), Eq("b", 1))))
}

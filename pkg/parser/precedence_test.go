package parser

import (
	"fmt"
	"testing"

	"taglang/pkg/ast"
)

// flatten renders a parsed expression as a fully-parenthesized
// S-expression, e.g. "(1 + (2 * 3))", so precedence and associativity
// tests can assert on structure without hand-walking the tree.
func flatten(n ast.Node) string {
	switch t := n.(type) {
	case *ast.Integer:
		return t.Literal
	case *ast.Boolean:
		return t.Literal
	case *ast.VariableAccess:
		return t.Name
	case *ast.MethodCall:
		out := "(" + flatten(t.Object) + " " + t.Name
		for _, a := range t.Arguments {
			out += " " + flatten(a)
		}
		return out + ")"
	case *ast.VariableAssignment:
		return "(" + t.Name + " = " + flatten(t.Value) + ")"
	default:
		return fmt.Sprintf("<%T>", n)
	}
}

func TestPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"1 * 2 + 3", "((1 * 2) + 3)"},
		{"1 + 2 + 3", "((1 + 2) + 3)"},
		{"1 - 2 - 3", "((1 - 2) - 3)"},
		{"2 * 3 % 4", "((2 * 3) % 4)"},
		{"1 < 2 == true", "((1 < 2) == true)"},
		{"1 + 2 < 3 + 4", "((1 + 2) < (3 + 4))"},
		{"a & b | c", "((a & b) | c)"},
		{"1 == 2 & 3 == 4", "((1 == 2) & (3 == 4))"},
		{"1 + 2 == 3", "((1 + 2) == 3)"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"1 * (2 + 3)", "(1 * (2 + 3))"},
	}

	for _, tt := range tests {
		n := parseOne(t, tt.input)
		got := flatten(n)
		if got != tt.want {
			t.Errorf("input %q: expected %s, got %s", tt.input, tt.want, got)
		}
	}
}

func TestPrecedencePostfixBindsTighterThanInfix(t *testing.T) {
	// a.size() + 1 should be (a.size()) + 1, not a.size(+1) or similar.
	n := parseOne(t, "a.size() + 1")
	call, ok := n.(*ast.MethodCall)
	if !ok {
		t.Fatalf("expected *ast.MethodCall, got %T", n)
	}
	if call.Name != "+" {
		t.Fatalf("expected top-level operator +, got %s", call.Name)
	}
	recv, ok := call.Object.(*ast.MethodCall)
	if !ok {
		t.Fatalf("expected receiver to be a dotted call to size, got %T", call.Object)
	}
	if recv.Name != "size" {
		t.Errorf("expected receiver method 'size', got %s", recv.Name)
	}
}

func TestPrecedenceAssignmentIsLowestAndRightAssociative(t *testing.T) {
	n := parseOne(t, "x = y = 1 + 2")
	outer, ok := n.(*ast.VariableAssignment)
	if !ok {
		t.Fatalf("expected *ast.VariableAssignment, got %T", n)
	}
	if outer.Name != "x" {
		t.Errorf("expected outer assignment target x, got %s", outer.Name)
	}
	inner, ok := outer.Value.(*ast.VariableAssignment)
	if !ok {
		t.Fatalf("expected assignment to be right-associative, got %T", outer.Value)
	}
	if inner.Name != "y" {
		t.Errorf("expected inner assignment target y, got %s", inner.Name)
	}
	if flatten(inner.Value) != "(1 + 2)" {
		t.Errorf("expected inner value (1 + 2), got %s", flatten(inner.Value))
	}
}

func TestPrecedenceInfixAndDottedFormsAgree(t *testing.T) {
	a := flatten(parseOne(t, "1 + 2 * 3"))
	b := flatten(parseOne(t, "1.+(2.*(3))"))
	if a != b {
		t.Errorf("infix and fully-dotted forms should parse identically: %s vs %s", a, b)
	}
}

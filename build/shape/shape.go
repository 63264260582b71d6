// Copyright 2025 The Flare Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package shape implements the symbolic dimension algebra.
//
// A tensor dimension is a literal, a reference to a kernel parameter
// or axis name, or integer arithmetic over those (M/16). Dimensions
// stay symbolic through checking and are only evaluated once an
// instantiation provides concrete bindings.
package shape

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Bindings maps axis and parameter names to concrete extents.
type Bindings map[string]int64

type (
	// Expr is a symbolic dimension expression.
	Expr interface {
		fmt.Stringer
		// Subst replaces bound references with literals and folds
		// constant subexpressions.
		Subst(binds Bindings) Expr
		// Vars appends the unresolved names referenced by the
		// expression.
		Vars(names []string) []string
	}

	// Lit is a constant extent.
	Lit struct {
		V int64
	}

	// Ref refers to a kernel parameter or named axis.
	Ref struct {
		Name string
	}

	// Binary is integer arithmetic over dimensions.
	Binary struct {
		Op   Op
		X, Y Expr
	}
)

// Op is a dimension arithmetic operator.
type Op uint8

// Dimension operators.
const (
	Add Op = iota
	Sub
	Mul
	Div
	Mod
)

// String returns the operator as written in the source.
func (op Op) String() string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	case Mod:
		return "%"
	}
	return "?"
}

// String returns the literal value.
func (l Lit) String() string { return strconv.FormatInt(l.V, 10) }

// Subst returns the literal unchanged.
func (l Lit) Subst(Bindings) Expr { return l }

// Vars returns names unchanged: a literal references nothing.
func (l Lit) Vars(names []string) []string { return names }

// String returns the referenced name.
func (r Ref) String() string { return r.Name }

// Subst replaces the reference by its bound value, if any.
func (r Ref) Subst(binds Bindings) Expr {
	if v, ok := binds[r.Name]; ok {
		return Lit{V: v}
	}
	return r
}

// Vars appends the referenced name.
func (r Ref) Vars(names []string) []string { return append(names, r.Name) }

// String parenthesizes nested arithmetic so the output re-reads
// unambiguously.
func (b Binary) String() string {
	operand := func(e Expr) string {
		if _, ok := e.(Binary); ok {
			return "(" + e.String() + ")"
		}
		return e.String()
	}
	return fmt.Sprintf("%s %s %s", operand(b.X), b.Op, operand(b.Y))
}

// Subst substitutes both operands and folds the node when both become
// literals.
func (b Binary) Subst(binds Bindings) Expr {
	x := b.X.Subst(binds)
	y := b.Y.Subst(binds)
	lx, okx := x.(Lit)
	ly, oky := y.(Lit)
	if okx && oky {
		if v, err := apply(b.Op, lx.V, ly.V); err == nil {
			return Lit{V: v}
		}
	}
	return Binary{Op: b.Op, X: x, Y: y}
}

// Vars appends unresolved names from both operands.
func (b Binary) Vars(names []string) []string {
	return b.Y.Vars(b.X.Vars(names))
}

func apply(op Op, x, y int64) (int64, error) {
	switch op {
	case Add:
		return x + y, nil
	case Sub:
		return x - y, nil
	case Mul:
		return x * y, nil
	case Div:
		if y == 0 {
			return 0, errors.New("division by zero in dimension expression")
		}
		return x / y, nil
	case Mod:
		if y == 0 {
			return 0, errors.New("division by zero in dimension expression")
		}
		return x % y, nil
	}
	return 0, errors.Errorf("unknown dimension operator %d", op)
}

// Const returns the concrete extent of an expression that does not
// reference any unresolved name.
func Const(e Expr) (int64, bool) {
	l, ok := e.(Lit)
	return l.V, ok
}

// Eval evaluates the expression under the given bindings. It fails if
// any referenced name is unbound or the result is not a valid extent.
func Eval(e Expr, binds Bindings) (int64, error) {
	sub := e.Subst(binds)
	v, ok := Const(sub)
	if !ok {
		var free []string
		free = sub.Vars(free)
		return 0, errors.Errorf("dimension %s is not concrete: unbound %v", e, free)
	}
	if v <= 0 {
		return 0, errors.Errorf("dimension %s evaluates to non-positive extent %d", e, v)
	}
	return v, nil
}

// Equal reports structural equality of two expressions.
func Equal(a, b Expr) bool {
	switch a := a.(type) {
	case Lit:
		bl, ok := b.(Lit)
		return ok && a.V == bl.V
	case Ref:
		br, ok := b.(Ref)
		return ok && a.Name == br.Name
	case Binary:
		bb, ok := b.(Binary)
		return ok && a.Op == bb.Op && Equal(a.X, bb.X) && Equal(a.Y, bb.Y)
	}
	return false
}

// Unify reports whether two dimensions are compatible under the given
// bindings: structurally equal after substitution. An unresolved
// symbolic dimension unifies only with itself, which defers the check
// to instantiation time.
func Unify(a, b Expr, binds Bindings) bool {
	return Equal(a.Subst(binds), b.Subst(binds))
}

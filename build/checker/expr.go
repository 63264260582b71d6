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

package checker

import (
	"github.com/flare-lang/flare/build/ast"
	"github.com/flare-lang/flare/build/shape"
	"github.com/flare-lang/flare/build/types"
)

// inferExpr infers the type of an expression bottom-up and records it
// in the kernel's side table. It returns nil after reporting an error;
// callers treat nil as "already diagnosed".
func (ck *kernelChecker) inferExpr(e ast.Expr) types.Type {
	typ := ck.inferExprType(e)
	if typ != nil {
		ck.kernel.ExprTypes[e] = typ
	}
	return typ
}

func (ck *kernelChecker) inferExprType(e ast.Expr) types.Type {
	switch e := e.(type) {
	case *ast.IntLit:
		return types.Untyped{}
	case *ast.FloatLit:
		return types.Untyped{Float: true}
	case *ast.BoolLit:
		return types.Scalar{Kind: types.Bool}
	case *ast.Ident:
		return ck.inferIdent(e)
	case *ast.UnaryExpr:
		return ck.inferUnary(e)
	case *ast.BinaryExpr:
		return ck.inferBinary(e)
	case *ast.MemberExpr:
		return ck.inferMember(e)
	case *ast.IndexExpr:
		return ck.inferIndex(e)
	case *ast.CallExpr:
		return ck.inferCall(e)
	}
	ck.errorf(UndefinedSymbol, e, "cannot type expression %s", ast.PrintExpr(e))
	return nil
}

func (ck *kernelChecker) inferIdent(e *ast.Ident) types.Type {
	sym := ck.scope.lookup(e.Name)
	if sym == nil {
		ck.errorf(UndefinedSymbol, e, "undefined: %s", e.Name)
		return nil
	}
	if sym.kind == symTypeParam {
		ck.errorf(UndefinedSymbol, e, "%s is a type parameter, not a value", e.Name)
		return nil
	}
	return sym.typ
}

func (ck *kernelChecker) inferUnary(e *ast.UnaryExpr) types.Type {
	x := ck.inferExpr(e.X)
	if x == nil {
		return nil
	}
	switch e.Op {
	case ast.OpNeg:
		if !isNumeric(x) {
			ck.errorf(ShapeMismatch, e, "operator - requires a numeric operand, got %s", x)
			return nil
		}
		return x
	case ast.OpNot:
		if !isBool(x) {
			ck.errorf(ShapeMismatch, e, "operator ! requires a bool operand, got %s", x)
			return nil
		}
		return x
	}
	ck.errorf(ShapeMismatch, e, "unknown unary operator")
	return nil
}

func (ck *kernelChecker) inferBinary(e *ast.BinaryExpr) types.Type {
	x := ck.inferExpr(e.X)
	y := ck.inferExpr(e.Y)
	if x == nil || y == nil {
		return nil
	}
	switch e.Op {
	case ast.OpAnd, ast.OpOr:
		if !isBool(x) || !isBool(y) {
			ck.errorf(ShapeMismatch, e, "operator %s requires bool operands, got %s and %s", e.Op, x, y)
			return nil
		}
		return types.Scalar{Kind: types.Bool}
	case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpGt, ast.OpLe, ast.OpGe:
		if merged := mergeOperands(x, y); merged == nil {
			ck.errorf(ShapeMismatch, e, "mismatched comparison operands %s and %s", x, y)
			return nil
		}
		return types.Scalar{Kind: types.Bool}
	case ast.OpMod:
		if !types.IsInteger(x) || !types.IsInteger(y) {
			ck.errorf(ShapeMismatch, e, "operator %% requires integer operands, got %s and %s", x, y)
			return nil
		}
		return ck.merge(e, x, y)
	case ast.OpAdd, ast.OpSub, ast.OpMul, ast.OpDiv:
		if !isNumeric(x) || !isNumeric(y) {
			ck.errorf(ShapeMismatch, e, "operator %s requires numeric operands, got %s and %s", e.Op, x, y)
			return nil
		}
		return ck.merge(e, x, y)
	}
	ck.errorf(ShapeMismatch, e, "unknown binary operator")
	return nil
}

// merge produces the result type of an arithmetic operation,
// reporting a mismatch when the operands are incompatible.
func (ck *kernelChecker) merge(e *ast.BinaryExpr, x, y types.Type) types.Type {
	merged := mergeOperands(x, y)
	if merged == nil {
		ck.errorf(ShapeMismatch, e, "mismatched operands %s and %s", x, y)
	}
	return merged
}

// mergeOperands reconciles the operand types of an arithmetic or
// comparison operation. Untyped literals adapt to the other operand;
// otherwise the types must be identical.
func mergeOperands(x, y types.Type) types.Type {
	ux, xok := x.(types.Untyped)
	uy, yok := y.(types.Untyped)
	switch {
	case xok && yok:
		return types.Untyped{Float: ux.Float || uy.Float}
	case xok:
		if !types.AssignableTo(x, y, nil, nil) {
			return nil
		}
		return y
	case yok:
		if !types.AssignableTo(y, x, nil, nil) {
			return nil
		}
		return x
	}
	if !types.Unify(x, y, nil, nil) {
		return nil
	}
	return x
}

func (ck *kernelChecker) inferMember(e *ast.MemberExpr) types.Type {
	x := ck.inferExpr(e.X)
	if x == nil {
		return nil
	}
	if _, ok := x.(types.Coord); !ok {
		ck.errorf(ShapeMismatch, e, "type %s has no members", x)
		return nil
	}
	switch e.Sel.Name {
	case "x", "y", "z":
		return types.Scalar{Kind: types.U32}
	}
	ck.errorf(UndefinedSymbol, e.Sel, "coordinate has no member %s", e.Sel.Name)
	return nil
}

func (ck *kernelChecker) inferIndex(e *ast.IndexExpr) types.Type {
	x := ck.inferExpr(e.X)
	if x == nil {
		return nil
	}
	tensor, ok := x.(types.Tensor)
	if !ok {
		ck.errorf(ShapeMismatch, e, "cannot index a value of type %s", x)
		return nil
	}
	if len(e.Indices) != tensor.Rank() {
		ck.errorf(ShapeMismatch, e, "tensor of rank %d indexed with %d indices", tensor.Rank(), len(e.Indices))
		return nil
	}
	name := bufferName(e.X)
	for axis, idx := range e.Indices {
		it := ck.inferExpr(idx)
		if it == nil {
			continue
		}
		if !types.IsInteger(it) {
			ck.errorf(ShapeMismatch, idx, "index must be an integer, got %s", it)
			continue
		}
		ck.checkBounds(name, axis, idx, tensor.Dims[axis])
	}
	return tensor.Elem
}

// checkBounds proves an index in bounds when both the index and the
// extent are compile-time constants, rejects it when the proof fails,
// and otherwise defers the check as an obligation.
func (ck *kernelChecker) checkBounds(buffer string, axis int, idx ast.Expr, extent shape.Expr) {
	v, constIdx := constIndex(idx)
	n, constExt := shape.Const(extent)
	if constIdx && (v < 0 || (constExt && v >= n)) {
		ck.errorf(MemorySafetyViolation, idx,
			"index %d out of range for axis %d of %s with extent %s", v, axis, buffer, extent)
		return
	}
	if constIdx && constExt {
		return
	}
	ck.kernel.Obligations = append(ck.kernel.Obligations, Obligation{
		Buffer: buffer,
		Axis:   axis,
		Index:  idx,
		Extent: extent,
	})
}

// constIndex folds an index expression made of integer literals and
// unary negation.
func constIndex(e ast.Expr) (int64, bool) {
	switch e := e.(type) {
	case *ast.IntLit:
		return e.Value, true
	case *ast.UnaryExpr:
		if e.Op != ast.OpNeg {
			return 0, false
		}
		v, ok := constIndex(e.X)
		return -v, ok
	}
	return 0, false
}

func bufferName(e ast.Expr) string {
	if id, ok := e.(*ast.Ident); ok {
		return id.Name
	}
	return "tensor"
}

func (ck *kernelChecker) inferCall(e *ast.CallExpr) types.Type {
	switch e.Fun.Name {
	case "min", "max":
		return ck.inferMinMax(e)
	case "abs":
		if len(e.Args) != 1 {
			ck.errorf(ShapeMismatch, e, "abs takes 1 argument, got %d", len(e.Args))
			return nil
		}
		arg := ck.inferExpr(e.Args[0])
		if arg == nil {
			return nil
		}
		if !isNumeric(arg) {
			ck.errorf(ShapeMismatch, e.Args[0], "abs requires a numeric argument, got %s", arg)
			return nil
		}
		return arg
	case "sqrt", "exp", "log":
		if len(e.Args) != 1 {
			ck.errorf(ShapeMismatch, e, "%s takes 1 argument, got %d", e.Fun.Name, len(e.Args))
			return nil
		}
		arg := ck.inferExpr(e.Args[0])
		if arg == nil {
			return nil
		}
		if !isFloatLike(arg) {
			ck.errorf(ShapeMismatch, e.Args[0], "%s requires a floating point argument, got %s", e.Fun.Name, arg)
			return nil
		}
		return types.Default(arg)
	}
	ck.errorf(UndefinedSymbol, e.Fun, "undefined function %s", e.Fun.Name)
	return nil
}

func (ck *kernelChecker) inferMinMax(e *ast.CallExpr) types.Type {
	if len(e.Args) != 2 {
		ck.errorf(ShapeMismatch, e, "%s takes 2 arguments, got %d", e.Fun.Name, len(e.Args))
		return nil
	}
	x := ck.inferExpr(e.Args[0])
	y := ck.inferExpr(e.Args[1])
	if x == nil || y == nil {
		return nil
	}
	if !isNumeric(x) || !isNumeric(y) {
		ck.errorf(ShapeMismatch, e, "%s requires numeric arguments, got %s and %s", e.Fun.Name, x, y)
		return nil
	}
	merged := mergeOperands(x, y)
	if merged == nil {
		ck.errorf(ShapeMismatch, e, "mismatched %s arguments %s and %s", e.Fun.Name, x, y)
	}
	return merged
}

func isNumeric(t types.Type) bool {
	switch t := t.(type) {
	case types.Scalar:
		return t.Kind.IsNumeric()
	case types.Generic, types.Untyped:
		return true
	}
	return false
}

func isFloatLike(t types.Type) bool {
	switch t := t.(type) {
	case types.Scalar:
		return t.Kind.IsFloat()
	case types.Generic:
		return true
	case types.Untyped:
		return t.Float
	}
	return false
}

func isBool(t types.Type) bool {
	s, ok := t.(types.Scalar)
	return ok && s.Kind == types.Bool
}

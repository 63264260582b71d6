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
	"github.com/flare-lang/flare/build/types"
)

func (ck *kernelChecker) checkBody() {
	produced := false
	for _, stmt := range ck.kernel.Src.Compute {
		if ck.checkStmt(stmt) {
			produced = true
		}
	}
	if ck.kernel.Result != nil && !produced {
		ck.errorf(ShapeMismatch, ck.kernel.Src,
			"kernel declares result type %s but never writes output or returns", ck.kernel.Result)
	}
}

// checkStmt checks one statement and reports whether it produces the
// kernel result, directly or in a nested block.
func (ck *kernelChecker) checkStmt(stmt ast.Stmt) bool {
	switch stmt := stmt.(type) {
	case *ast.DeclStmt:
		ck.checkDecl(stmt)
	case *ast.AssignStmt:
		return ck.checkAssign(stmt)
	case *ast.ForStmt:
		return ck.checkFor(stmt)
	case *ast.IfStmt:
		return ck.checkIf(stmt)
	case *ast.SyncStmt:
	case *ast.ReturnStmt:
		ck.checkReturn(stmt)
	case *ast.ExprStmt:
		ck.inferExpr(stmt.X)
	}
	return false
}

func (ck *kernelChecker) checkBlock(stmts []ast.Stmt) bool {
	ck.scope = ck.scope.child()
	defer func() { ck.scope = ck.scope.parent }()
	produced := false
	for _, stmt := range stmts {
		if ck.checkStmt(stmt) {
			produced = true
		}
	}
	return produced
}

func (ck *kernelChecker) checkDecl(stmt *ast.DeclStmt) {
	var declared types.Type
	if stmt.Type != nil {
		declared = ck.resolveType(stmt.Type)
		if declared == nil {
			return
		}
	}
	var typ types.Type
	switch {
	case stmt.Value != nil:
		value := ck.inferExpr(stmt.Value)
		if value == nil {
			return
		}
		if declared != nil {
			if !types.AssignableTo(value, declared, nil, nil) {
				ck.errorf(ShapeMismatch, stmt.Value,
					"cannot assign %s to %s of type %s", value, stmt.Name.Name, declared)
				return
			}
			typ = declared
		} else {
			typ = types.Default(value)
		}
	case declared != nil:
		if stmt.Tok != ast.DeclVar {
			ck.errorf(ShapeMismatch, stmt, "%s %s requires an initializer", stmt.Tok, stmt.Name.Name)
			return
		}
		typ = declared
	default:
		ck.errorf(ShapeMismatch, stmt, "%s %s needs a type or an initializer", stmt.Tok, stmt.Name.Name)
		return
	}
	ck.kernel.ExprTypes[stmt.Name] = typ
	sym := &symbol{
		name:    stmt.Name.Name,
		kind:    symLocal,
		typ:     typ,
		mutable: stmt.Tok == ast.DeclVar,
		decl:    stmt,
	}
	if !ck.scope.declare(sym) {
		ck.errorf(UndefinedSymbol, stmt.Name, "%s redeclared in this block", stmt.Name.Name)
	}
}

// checkAssign checks plain and compound assignment. Reports whether
// the statement writes the output tensor.
func (ck *kernelChecker) checkAssign(stmt *ast.AssignStmt) bool {
	rhs := ck.inferExpr(stmt.RHS)

	var lhs types.Type
	output := false
	switch target := stmt.LHS.(type) {
	case *ast.Ident:
		sym := ck.scope.lookup(target.Name)
		if sym == nil {
			ck.errorf(UndefinedSymbol, target, "undefined: %s", target.Name)
			return false
		}
		if !sym.mutable {
			ck.errorf(MemorySafetyViolation, target, "cannot assign to immutable %s", target.Name)
			return false
		}
		if _, ok := sym.typ.(types.Tensor); ok {
			ck.errorf(ShapeMismatch, target, "cannot assign a whole tensor; index %s instead", target.Name)
			return false
		}
		ck.kernel.ExprTypes[target] = sym.typ
		lhs = sym.typ
	case *ast.IndexExpr:
		lhs = ck.inferIndex(target)
		if lhs != nil {
			ck.kernel.ExprTypes[target] = lhs
		}
		if base, ok := target.X.(*ast.Ident); ok {
			if sym := ck.scope.lookup(base.Name); sym != nil {
				switch sym.kind {
				case symOutput:
					output = true
				case symShared:
				case symParam:
					ck.errorf(MemorySafetyViolation, target, "parameter %s is read-only", base.Name)
					return false
				default:
					ck.errorf(MemorySafetyViolation, target, "%s is not a writable buffer", base.Name)
					return false
				}
			}
		}
	default:
		ck.errorf(ShapeMismatch, stmt.LHS, "left side of assignment must be a variable or an indexed element")
		return false
	}
	if lhs == nil || rhs == nil {
		return output
	}
	if stmt.Op != ast.AssignEq && !isNumeric(lhs) {
		ck.errorf(ShapeMismatch, stmt.LHS, "operator %s requires a numeric target, got %s", stmt.Op, lhs)
		return output
	}
	if !types.AssignableTo(rhs, lhs, nil, nil) {
		ck.errorf(ShapeMismatch, stmt.RHS, "cannot assign %s to target of type %s", rhs, lhs)
	}
	return output
}

func (ck *kernelChecker) checkFor(stmt *ast.ForStmt) bool {
	from := ck.inferExpr(stmt.From)
	to := ck.inferExpr(stmt.To)
	for _, bound := range []struct {
		typ  types.Type
		node ast.Expr
	}{{from, stmt.From}, {to, stmt.To}} {
		if bound.typ != nil && !types.IsInteger(bound.typ) {
			ck.errorf(ShapeMismatch, bound.node, "loop bound must be an integer, got %s", bound.typ)
		}
	}
	var iter types.Type = types.Scalar{Kind: types.I32}
	if from != nil && to != nil {
		if merged := mergeOperands(from, to); merged != nil {
			iter = types.Default(merged)
		}
	}

	ck.scope = ck.scope.child()
	defer func() { ck.scope = ck.scope.parent }()
	ck.scope.declare(&symbol{name: stmt.Var.Name, kind: symLocal, typ: iter, decl: stmt})
	ck.kernel.ExprTypes[stmt.Var] = iter

	produced := false
	for _, s := range stmt.Body {
		if ck.checkStmt(s) {
			produced = true
		}
	}
	return produced
}

func (ck *kernelChecker) checkIf(stmt *ast.IfStmt) bool {
	if cond := ck.inferExpr(stmt.Cond); cond != nil && !isBool(cond) {
		ck.errorf(ShapeMismatch, stmt.Cond, "if condition must be bool, got %s", cond)
	}
	thenProduced := ck.checkBlock(stmt.Then)
	elseProduced := ck.checkBlock(stmt.Else)
	return thenProduced || elseProduced
}

// checkReturn checks an early exit. The result tensor is produced by
// writing output, so return never carries a value.
func (ck *kernelChecker) checkReturn(stmt *ast.ReturnStmt) {
	if stmt.Value == nil {
		return
	}
	ck.inferExpr(stmt.Value)
	ck.errorf(ShapeMismatch, stmt, "return takes no value; write the result through output instead")
}

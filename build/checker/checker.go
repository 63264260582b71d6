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

// Package checker performs semantic analysis of parsed kernels.
//
// The checker never mutates the syntax tree. For each kernel it
// builds a summary with resolved types, symbolic shapes and deferred
// bounds obligations; expression types live in a side table keyed by
// node. Kernels check independently: an error in one kernel does not
// hide errors in, or prevent compilation of, its siblings.
package checker

import (
	"fmt"
	"go/token"
	"sort"
	"strings"

	"github.com/flare-lang/flare/base/ordered"
	"github.com/flare-lang/flare/build/ast"
	"github.com/flare-lang/flare/build/fmterr"
	"github.com/flare-lang/flare/build/shape"
	"github.com/flare-lang/flare/build/types"
	"golang.org/x/exp/maps"
)

// Limits are the hardware limits of the compilation target. They are
// read-only to all pipeline stages once a compile request begins.
type Limits struct {
	MaxSharedMemoryBytes int64
	MaxThreadsPerBlock   int64
	SIMDWidth            int64
}

// Unit is the result of checking one source file: the checked kernels
// in declaration order plus the semantic errors of the kernels that
// failed.
type Unit struct {
	FSet    *token.FileSet
	Limits  Limits
	Kernels *ordered.Map[string, *Kernel]
	Errs    []error
}

// Kernel is the annotated summary of one checked kernel.
type Kernel struct {
	Src  *ast.Kernel
	Name string

	TypeParams []string
	Params     []Param
	Result     types.Type // nil when the kernel returns nothing

	Grid  []shape.Expr
	Block []shape.Expr

	Shared []Buffer

	// AxisNames are the symbolic dimension names introduced by the
	// parameter and result shapes, in first-appearance order.
	AxisNames []string

	// ExprTypes annotates every expression of the compute body with
	// its resolved type.
	ExprTypes map[ast.Expr]types.Type

	// Obligations are indexed accesses that could not be proven in
	// bounds at check time. They are re-examined at instantiation
	// and, if still dynamic, handed to codegen for a runtime guard.
	Obligations []Obligation

	// Schedule is the schedule block advising this kernel, if the file
	// declares one. The directives are advisory and unchecked beyond
	// target resolution.
	Schedule *ast.ScheduleBlock
}

// Param is a resolved kernel parameter.
type Param struct {
	Name string
	Type types.Type
}

// Buffer is a shared-memory buffer declaration with resolved element
// type and symbolic extents.
type Buffer struct {
	Name string
	Elem types.Type // Scalar or Generic
	Dims []shape.Expr
	Src  *ast.SharedDecl
}

// Obligation is a deferred bounds check: one axis of one indexed
// access whose index or extent is not a compile-time constant.
type Obligation struct {
	Buffer string
	Axis   int
	Index  ast.Expr
	Extent shape.Expr
}

// Check performs semantic analysis on a parsed file.
// The returned unit contains every kernel that checked successfully;
// Errs carries the semantic errors of the ones that did not.
func Check(fset *token.FileSet, file *ast.File, limits Limits) *Unit {
	unit := &Unit{
		FSet:    fset,
		Limits:  limits,
		Kernels: ordered.NewMap[string, *Kernel](),
	}
	for _, src := range file.Kernels {
		ck := &kernelChecker{
			limits: limits,
			kernel: &Kernel{
				Src:       src,
				Name:      src.Name.Name,
				ExprTypes: make(map[ast.Expr]types.Type),
			},
		}
		ck.app = ck.errs.NewAppender(fset)
		if prev, ok := unit.Kernels.Load(src.Name.Name); ok {
			unit.Errs = append(unit.Errs, instErrorf(fset, UndefinedSymbol, src.Name.Name, nil, src.Name,
				"kernel %s redeclared; previous declaration at %s",
				src.Name.Name, fset.Position(prev.Src.Pos())))
			continue
		}
		ck.check()
		if !ck.errs.Empty() {
			unit.Errs = append(unit.Errs, ck.errs.Errors()...)
			continue
		}
		unit.Kernels.Store(src.Name.Name, ck.kernel)
	}
	for _, s := range file.Schedules {
		kernel, ok := unit.Kernels.Load(s.Target.Name)
		if !ok {
			unit.Errs = append(unit.Errs, instErrorf(fset, UndefinedSymbol, s.Target.Name, nil, s.Target,
				"schedule block names unknown kernel %s", s.Target.Name))
			continue
		}
		kernel.Schedule = s
	}
	return unit
}

// kernelChecker checks a single kernel. Each kernel gets its own
// checker and symbol tables, so distinct kernels can be checked
// concurrently without shared mutable state.
type kernelChecker struct {
	limits Limits
	kernel *Kernel
	errs   fmterr.Errors
	app    *fmterr.Appender

	scope *scope
	axes  *ordered.Map[string, bool]
}

func (ck *kernelChecker) check() {
	ck.scope = kernelRootScope()
	ck.axes = ordered.NewMap[string, bool]()

	ck.checkSignature()
	ck.checkGeometry()
	ck.checkShared()
	if !ck.errs.Empty() {
		// The body check needs a consistent signature to work with.
		return
	}
	ck.checkBody()
}

func (ck *kernelChecker) checkSignature() {
	src := ck.kernel.Src
	declared := map[string]bool{}
	for _, tp := range src.TypeParams {
		if declared[tp.Name] {
			ck.errorf(UndefinedSymbol, tp, "generic parameter %s redeclared", tp.Name)
			continue
		}
		declared[tp.Name] = true
		ck.kernel.TypeParams = append(ck.kernel.TypeParams, tp.Name)
		ck.scope.declare(&symbol{name: tp.Name, kind: symTypeParam, decl: tp})
	}

	for _, p := range src.Params {
		typ := ck.resolveType(p.Type)
		if typ == nil {
			continue
		}
		if !ck.scope.declare(&symbol{name: p.Name.Name, kind: symParam, typ: typ, decl: p}) {
			ck.errorf(UndefinedSymbol, p.Name, "parameter %s redeclared", p.Name.Name)
			continue
		}
		ck.kernel.Params = append(ck.kernel.Params, Param{Name: p.Name.Name, Type: typ})
	}
	if src.Result != nil {
		ck.kernel.Result = ck.resolveType(src.Result)
		if ck.kernel.Result != nil {
			if _, ok := ck.kernel.Result.(types.Tensor); !ok {
				ck.errorf(ShapeMismatch, src.Result, "kernel result must be a tensor, got %s", ck.kernel.Result)
				ck.kernel.Result = nil
			}
		}
	}

	// Every generic parameter must be constrained by the parameter or
	// return types: a parameter used only in the body has no
	// instantiation source.
	constrained := map[string]bool{}
	for _, p := range ck.kernel.Params {
		for _, name := range types.GenericNames(p.Type, nil) {
			constrained[name] = true
		}
	}
	if ck.kernel.Result != nil {
		for _, name := range types.GenericNames(ck.kernel.Result, nil) {
			constrained[name] = true
		}
	}
	for _, tp := range src.TypeParams {
		if declared[tp.Name] && !constrained[tp.Name] {
			ck.errorf(UnconstrainedGeneric, tp,
				"generic parameter %s does not appear in any parameter or return type", tp.Name)
		}
	}

	// Axis names collected from parameter and result shapes become
	// integer scalars in the body scope.
	for name := range ck.axes.Keys() {
		ck.kernel.AxisNames = append(ck.kernel.AxisNames, name)
		ck.scope.declare(&symbol{name: name, kind: symAxis, typ: types.Scalar{Kind: types.U32}})
	}

	// The result tensor is addressable in the body under the builtin
	// name output.
	if result, ok := ck.kernel.Result.(types.Tensor); ok {
		ck.scope.declare(&symbol{name: "output", kind: symOutput, typ: result, mutable: true})
	}
}

// resolveType resolves a syntactic type to a semantic one, collecting
// axis names used by tensor shapes.
func (ck *kernelChecker) resolveType(t ast.TypeExpr) types.Type {
	switch t := t.(type) {
	case *ast.ScalarType:
		return ck.resolveScalar(t.Name)
	case *ast.TensorType:
		elem := ck.resolveType(t.Elem)
		if elem == nil {
			return nil
		}
		if _, ok := elem.(types.Tensor); ok {
			ck.errorf(ShapeMismatch, t, "tensor element type cannot be a tensor")
			return nil
		}
		dims := make([]shape.Expr, 0, len(t.Dims))
		for _, d := range t.Dims {
			se := ck.shapeExpr(d, true)
			if se == nil {
				return nil
			}
			dims = append(dims, se)
		}
		return types.Tensor{Elem: elem, Dims: dims}
	}
	return nil
}

func (ck *kernelChecker) resolveScalar(name *ast.Ident) types.Type {
	if kind, ok := types.ScalarFromName(name.Name); ok {
		return types.Scalar{Kind: kind}
	}
	if sym := ck.scope.lookup(name.Name); sym != nil && sym.kind == symTypeParam {
		return types.Generic{Name: name.Name}
	}
	ck.errorf(UndefinedSymbol, name, "undefined type %s", name.Name)
	return nil
}

// shapeExpr converts a dimension expression from the syntax tree into
// the symbolic algebra. When declare is true, new names introduce
// axes; otherwise names must already be known axes.
func (ck *kernelChecker) shapeExpr(e ast.Expr, declare bool) shape.Expr {
	switch e := e.(type) {
	case *ast.IntLit:
		return shape.Lit{V: e.Value}
	case *ast.Ident:
		if sym := ck.scope.lookup(e.Name); sym != nil && sym.kind == symTypeParam {
			ck.errorf(ShapeMismatch, e, "generic type parameter %s cannot be used as a dimension", e.Name)
			return nil
		}
		if !declare {
			if _, ok := ck.axes.Load(e.Name); !ok {
				ck.errorf(UndefinedSymbol, e, "undefined dimension %s", e.Name)
				return nil
			}
		}
		ck.axes.Store(e.Name, true)
		return shape.Ref{Name: e.Name}
	case *ast.BinaryExpr:
		var op shape.Op
		switch e.Op {
		case ast.OpAdd:
			op = shape.Add
		case ast.OpSub:
			op = shape.Sub
		case ast.OpMul:
			op = shape.Mul
		case ast.OpDiv:
			op = shape.Div
		case ast.OpMod:
			op = shape.Mod
		default:
			ck.errorf(ShapeMismatch, e, "operator %s is not valid in a dimension expression", e.Op)
			return nil
		}
		x := ck.shapeExpr(e.X, declare)
		y := ck.shapeExpr(e.Y, declare)
		if x == nil || y == nil {
			return nil
		}
		return shape.Binary{Op: op, X: x, Y: y}.Subst(nil)
	}
	ck.errorf(ShapeMismatch, e, "expression is not a valid dimension: %s", ast.PrintExpr(e))
	return nil
}

func (ck *kernelChecker) checkGeometry() {
	src := ck.kernel.Src
	ck.kernel.Grid = ck.geometryDims(src.Grid, src, "grid")
	ck.kernel.Block = ck.geometryDims(src.Block, src, "block")
}

func (ck *kernelChecker) geometryDims(dims []ast.Expr, at ast.Node, what string) []shape.Expr {
	if len(dims) == 0 || len(dims) > 3 {
		ck.errorf(ShapeMismatch, at, "%s must declare between 1 and 3 dimensions, got %d", what, len(dims))
		return nil
	}
	out := make([]shape.Expr, 0, len(dims))
	for _, d := range dims {
		se := ck.shapeExpr(d, false)
		if se == nil {
			return nil
		}
		out = append(out, se)
	}
	return out
}

func (ck *kernelChecker) checkShared() {
	for _, decl := range ck.kernel.Src.Shared {
		buf := Buffer{Name: decl.Name.Name, Src: decl}
		if decl.Elem != nil {
			buf.Elem = ck.resolveType(decl.Elem)
		} else {
			buf.Elem = ck.defaultElemType(decl)
		}
		if buf.Elem == nil {
			continue
		}
		bad := false
		for _, d := range decl.Dims {
			se := ck.shapeExpr(d, false)
			if se == nil {
				bad = true
				break
			}
			buf.Dims = append(buf.Dims, se)
		}
		if bad {
			continue
		}
		typ := types.Tensor{Elem: buf.Elem, Dims: buf.Dims}
		if !ck.scope.declare(&symbol{name: buf.Name, kind: symShared, typ: typ, mutable: true, decl: decl}) {
			ck.errorf(UndefinedSymbol, decl, "shared buffer %s redeclares an existing name", buf.Name)
			continue
		}
		ck.kernel.Shared = append(ck.kernel.Shared, buf)
	}
	ck.checkSharedCapacity()
}

// defaultElemType picks the element type of a shared buffer declared
// without one: the element type of the output tensor if there is one,
// otherwise the element type of the first tensor parameter.
func (ck *kernelChecker) defaultElemType(decl *ast.SharedDecl) types.Type {
	if result, ok := ck.kernel.Result.(types.Tensor); ok {
		return result.Elem
	}
	for _, p := range ck.kernel.Params {
		if t, ok := p.Type.(types.Tensor); ok {
			return t.Elem
		}
	}
	ck.errorf(ShapeMismatch, decl,
		"shared buffer %s has no element type and the kernel has no tensor to default from", decl.Name.Name)
	return nil
}

// checkSharedCapacity checks the summed shared-memory footprint when
// every buffer has concrete extents and a concrete element type. The
// generic case is rechecked at instantiation.
func (ck *kernelChecker) checkSharedCapacity() {
	total := int64(0)
	for _, buf := range ck.kernel.Shared {
		elem, ok := buf.Elem.(types.Scalar)
		if !ok {
			return
		}
		bytes := elem.Kind.SizeBytes()
		for _, d := range buf.Dims {
			v, ok := shape.Const(d)
			if !ok {
				return
			}
			bytes *= v
		}
		total += bytes
	}
	if ck.limits.MaxSharedMemoryBytes > 0 && total > ck.limits.MaxSharedMemoryBytes {
		ck.errorf(ResourceLimitExceeded, ck.kernel.Src,
			"shared memory usage %d bytes exceeds the target limit of %d bytes",
			total, ck.limits.MaxSharedMemoryBytes)
	}
}

// subsString renders a substitution in canonical order.
func subsString(subs types.Subs) string {
	names := maps.Keys(subs)
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%s", name, subs[name])
	}
	return "<" + strings.Join(parts, ",") + ">"
}

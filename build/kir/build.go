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

package kir

import (
	"strconv"

	"github.com/flare-lang/flare/build/ast"
	"github.com/flare-lang/flare/build/checker"
	"github.com/flare-lang/flare/build/fmterr"
	"github.com/flare-lang/flare/build/shape"
	"github.com/flare-lang/flare/build/types"
)

// Build lowers one checked instantiation to its IR graph. Statements
// lower in program order; barriers are inserted conservatively before
// any read of a shared buffer written since the last barrier.
func Build(inst *checker.Instance) (*Graph, error) {
	b := &builder{
		inst: inst,
		graph: &Graph{
			Name:  inst.Kernel.Name,
			Key:   inst.Key(),
			Grid:  inst.Grid,
			Block: inst.Block,
		},
		clamped: make(map[ast.Expr]bool),
		spaces:  make(map[string]Space),
	}
	for _, ob := range inst.Obligations {
		b.clamped[ob.Index] = true
	}
	if err := b.buildSignature(); err != nil {
		return nil, err
	}
	body, err := b.buildBlock(inst.Kernel.Src.Compute)
	if err != nil {
		return nil, err
	}
	b.graph.Body = body
	return b.graph, nil
}

type builder struct {
	inst  *checker.Instance
	graph *Graph

	// clamped marks the index expressions whose bounds obligation
	// survived instantiation.
	clamped map[ast.Expr]bool
	// spaces maps buffer names to their memory space.
	spaces map[string]Space
	// dirty tracks shared buffers written since the last barrier.
	dirty map[string]bool
}

// internalf reports a lowering failure on a checked kernel. The checker
// guarantees these cases cannot happen, so the error is marked internal.
func (b *builder) internalf(node ast.Node, format string, a ...any) error {
	format = "kernel %s: " + format
	a = append([]any{b.inst.Kernel.Name}, a...)
	return fmterr.Internalf(b.inst.FSet, node, format, a...)
}

func (b *builder) buildSignature() error {
	kernel := b.inst.Kernel
	for _, p := range kernel.Params {
		switch t := p.Type.(type) {
		case types.Tensor:
			buf, err := b.buffer(p.Name, t, Global)
			if err != nil {
				return err
			}
			b.graph.Params = append(b.graph.Params, buf)
		default:
			kind, ok := b.inst.ElemKind(t)
			if !ok {
				return b.internalf(kernel.Src, "parameter %s has unresolved type %s", p.Name, t)
			}
			b.graph.Scalars = append(b.graph.Scalars, ScalarParam{Name: p.Name, Kind: kind})
		}
	}
	if result, ok := kernel.Result.(types.Tensor); ok {
		buf, err := b.buffer("output", result, Global)
		if err != nil {
			return err
		}
		b.graph.Output = &buf
	}
	for _, sh := range kernel.Shared {
		buf, err := b.buffer(sh.Name, types.Tensor{Elem: sh.Elem, Dims: sh.Dims}, Shared)
		if err != nil {
			return err
		}
		b.graph.Shared = append(b.graph.Shared, buf)
	}
	return nil
}

func (b *builder) buffer(name string, t types.Tensor, space Space) (Buffer, error) {
	kind, ok := b.inst.ElemKind(t.Elem)
	if !ok {
		return Buffer{}, b.internalf(b.inst.Kernel.Src, "buffer %s has unresolved element type %s", name, t.Elem)
	}
	dims := make([]int64, len(t.Dims))
	for i, d := range t.Dims {
		v, err := shape.Eval(d, b.inst.Binds)
		if err != nil {
			return Buffer{}, b.internalf(b.inst.Kernel.Src, "buffer %s: %v", name, err)
		}
		dims[i] = v
	}
	b.spaces[name] = space
	return Buffer{Name: name, Kind: kind, Dims: dims, Space: space}, nil
}

// buildBlock lowers a statement list, tracking written-but-unsynced
// shared buffers so a barrier lands before the first racy read. A
// loop back edge makes earlier reads in the same body racy too, so a
// loop ending with unsynced writes gets a trailing barrier when its
// body reads shared memory.
func (b *builder) buildBlock(stmts []ast.Stmt) ([]Stmt, error) {
	saved := b.dirty
	defer func() { b.dirty = saved }()
	b.dirty = map[string]bool{}
	for k, v := range saved {
		b.dirty[k] = v
	}

	var out []Stmt
	for _, stmt := range stmts {
		if b.readsDirty(stmt) {
			out = append(out, b.barrier())
		}
		lowered, err := b.buildStmt(stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, lowered...)
	}
	return out, nil
}

func (b *builder) barrier() Stmt {
	id := b.graph.NewNode(&Node{Op: OpBarrier})
	b.dirty = map[string]bool{}
	return &Barrier{Node: id}
}

func (b *builder) buildStmt(stmt ast.Stmt) ([]Stmt, error) {
	switch stmt := stmt.(type) {
	case *ast.DeclStmt:
		return b.buildDecl(stmt)
	case *ast.AssignStmt:
		return b.buildAssign(stmt)
	case *ast.ForStmt:
		return b.buildFor(stmt)
	case *ast.IfStmt:
		return b.buildIf(stmt)
	case *ast.SyncStmt:
		return []Stmt{b.barrier()}, nil
	case *ast.ReturnStmt:
		return []Stmt{&Return{}}, nil
	case *ast.ExprStmt:
		// Expressions without effects lower to nothing.
		if _, err := b.buildExpr(stmt.X); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, b.internalf(stmt, "cannot lower statement %T", stmt)
}

func (b *builder) buildDecl(stmt *ast.DeclStmt) ([]Stmt, error) {
	kind, err := b.kindOf(stmt.Name)
	if err != nil {
		return nil, err
	}
	init := -1
	if stmt.Value != nil {
		init, err = b.buildExpr(stmt.Value)
		if err != nil {
			return nil, err
		}
		// An untyped literal initializer takes the declared kind.
		if n := b.graph.Nodes[init]; n.Op == OpConst {
			n.Kind = kind
		}
	}
	return []Stmt{&Decl{Name: stmt.Name.Name, Kind: kind, Init: init}}, nil
}

func (b *builder) buildAssign(stmt *ast.AssignStmt) ([]Stmt, error) {
	rhs, err := b.buildExpr(stmt.RHS)
	if err != nil {
		return nil, err
	}
	switch target := stmt.LHS.(type) {
	case *ast.Ident:
		value := rhs
		if stmt.Op != ast.AssignEq {
			kind, err := b.kindOf(target)
			if err != nil {
				return nil, err
			}
			cur := b.graph.NewNode(&Node{Op: OpLocal, Kind: kind, Lit: target.Name})
			value = b.graph.NewNode(&Node{
				Op:    OpArith,
				Kind:  kind,
				Arith: assignArith(stmt.Op),
				Args:  []int{cur, rhs},
			})
		}
		return []Stmt{&Assign{Name: target.Name, Value: value}}, nil
	case *ast.IndexExpr:
		base, ok := target.X.(*ast.Ident)
		if !ok {
			return nil, b.internalf(target.X, "store target is not a named buffer")
		}
		buf, ok := b.graph.BufferByName(base.Name)
		if !ok {
			return nil, b.internalf(base, "unknown buffer %s", base.Name)
		}
		idx, err := b.buildIndex(buf, target.Indices)
		if err != nil {
			return nil, err
		}
		value := rhs
		if stmt.Op != ast.AssignEq {
			cur := b.graph.NewNode(&Node{
				Op:     OpLoad,
				Kind:   buf.Kind,
				Buffer: buf.Name,
				Space:  buf.Space,
				Args:   []int{idx},
			})
			value = b.graph.NewNode(&Node{
				Op:    OpArith,
				Kind:  buf.Kind,
				Arith: assignArith(stmt.Op),
				Args:  []int{cur, rhs},
			})
		}
		store := b.graph.NewNode(&Node{
			Op:     OpStore,
			Kind:   buf.Kind,
			Buffer: buf.Name,
			Space:  buf.Space,
			Args:   []int{idx, value},
		})
		if buf.Space == Shared {
			if b.dirty == nil {
				b.dirty = map[string]bool{}
			}
			b.dirty[buf.Name] = true
		}
		return []Stmt{&Store{Node: store}}, nil
	}
	return nil, b.internalf(stmt.LHS, "cannot lower assignment target %T", stmt.LHS)
}

func assignArith(op ast.AssignOp) ArithOp {
	switch op {
	case ast.AssignSub:
		return Sub
	case ast.AssignMul:
		return Mul
	case ast.AssignDiv:
		return Div
	default:
		return Add
	}
}

func (b *builder) buildFor(stmt *ast.ForStmt) ([]Stmt, error) {
	kind, err := b.kindOf(stmt.Var)
	if err != nil {
		return nil, err
	}
	from, err := b.buildExpr(stmt.From)
	if err != nil {
		return nil, err
	}
	to, err := b.buildExpr(stmt.To)
	if err != nil {
		return nil, err
	}
	body, err := b.buildBlock(stmt.Body)
	if err != nil {
		return nil, err
	}
	if b.blockWritesShared(stmt.Body) && readsAnyShared(stmt.Body, b.spaces) {
		// Writes from one iteration race with reads in the next.
		if _, last := lastIsBarrier(body); !last {
			body = append(body, b.barrier())
		}
	}
	return []Stmt{&Loop{Var: stmt.Var.Name, Kind: kind, From: from, To: to, Body: body}}, nil
}

func (b *builder) buildIf(stmt *ast.IfStmt) ([]Stmt, error) {
	cond, err := b.buildExpr(stmt.Cond)
	if err != nil {
		return nil, err
	}
	then, err := b.buildBlock(stmt.Then)
	if err != nil {
		return nil, err
	}
	els, err := b.buildBlock(stmt.Else)
	if err != nil {
		return nil, err
	}
	return []Stmt{&If{Cond: cond, Then: then, Else: els}}, nil
}

func (b *builder) buildExpr(e ast.Expr) (int, error) {
	switch e := e.(type) {
	case *ast.IntLit:
		kind, err := b.kindOf(e)
		if err != nil {
			return 0, err
		}
		return b.graph.NewNode(&Node{Op: OpConst, Kind: kind, Lit: strconv.FormatInt(e.Value, 10)}), nil
	case *ast.FloatLit:
		kind, err := b.kindOf(e)
		if err != nil {
			return 0, err
		}
		return b.graph.NewNode(&Node{Op: OpConst, Kind: kind, Lit: e.Lexeme}), nil
	case *ast.BoolLit:
		lit := "false"
		if e.Value {
			lit = "true"
		}
		return b.graph.NewNode(&Node{Op: OpConst, Kind: types.Bool, Lit: lit}), nil
	case *ast.Ident:
		return b.buildIdent(e)
	case *ast.MemberExpr:
		return b.buildCoord(e)
	case *ast.UnaryExpr:
		x, err := b.buildExpr(e.X)
		if err != nil {
			return 0, err
		}
		kind, err := b.kindOf(e)
		if err != nil {
			return 0, err
		}
		op := Neg
		if e.Op == ast.OpNot {
			op = Not
		}
		return b.graph.NewNode(&Node{Op: OpArith, Kind: kind, Arith: op, Args: []int{x}}), nil
	case *ast.BinaryExpr:
		x, err := b.buildExpr(e.X)
		if err != nil {
			return 0, err
		}
		y, err := b.buildExpr(e.Y)
		if err != nil {
			return 0, err
		}
		kind, err := b.kindOf(e)
		if err != nil {
			return 0, err
		}
		return b.graph.NewNode(&Node{Op: OpArith, Kind: kind, Arith: binArith(e.Op), Args: []int{x, y}}), nil
	case *ast.IndexExpr:
		return b.buildLoad(e)
	case *ast.CallExpr:
		args := make([]int, 0, len(e.Args))
		for _, arg := range e.Args {
			id, err := b.buildExpr(arg)
			if err != nil {
				return 0, err
			}
			args = append(args, id)
		}
		kind, err := b.kindOf(e)
		if err != nil {
			return 0, err
		}
		return b.graph.NewNode(&Node{Op: OpCall, Kind: kind, Fn: e.Fun.Name, Args: args}), nil
	}
	return 0, b.internalf(e, "cannot lower expression %T", e)
}

func (b *builder) buildIdent(e *ast.Ident) (int, error) {
	// Axis names are concrete under the instance bindings.
	if v, ok := b.inst.Binds[e.Name]; ok {
		return b.graph.NewNode(&Node{Op: OpConst, Kind: types.U32, Lit: strconv.FormatInt(v, 10)}), nil
	}
	kind, err := b.kindOf(e)
	if err != nil {
		return 0, err
	}
	return b.graph.NewNode(&Node{Op: OpLocal, Kind: kind, Lit: e.Name}), nil
}

var coordBuiltins = map[string]Builtin{
	"thread_idx": ThreadIdx,
	"block_idx":  BlockIdx,
	"block_dim":  BlockDim,
}

func (b *builder) buildCoord(e *ast.MemberExpr) (int, error) {
	base, ok := e.X.(*ast.Ident)
	if !ok {
		return 0, b.internalf(e.X, "member access on non-coordinate")
	}
	builtin, ok := coordBuiltins[base.Name]
	if !ok {
		return 0, b.internalf(base, "unknown coordinate %s", base.Name)
	}
	axis := map[string]int{"x": 0, "y": 1, "z": 2}[e.Sel.Name]
	return b.graph.NewNode(&Node{Op: OpCoord, Kind: types.U32, Coord: builtin, Axis: axis}), nil
}

func (b *builder) buildLoad(e *ast.IndexExpr) (int, error) {
	base, ok := e.X.(*ast.Ident)
	if !ok {
		return 0, b.internalf(e.X, "load target is not a named buffer")
	}
	buf, ok := b.graph.BufferByName(base.Name)
	if !ok {
		return 0, b.internalf(base, "unknown buffer %s", base.Name)
	}
	idx, err := b.buildIndex(buf, e.Indices)
	if err != nil {
		return 0, err
	}
	return b.graph.NewNode(&Node{
		Op:     OpLoad,
		Kind:   buf.Kind,
		Buffer: buf.Name,
		Space:  buf.Space,
		Args:   []int{idx},
	}), nil
}

// buildIndex lowers a multi-axis index to one OpIndex node holding
// the concrete extents, the per-axis value nodes, and the clamp flags
// of the axes whose bounds obligation survived instantiation.
func (b *builder) buildIndex(buf Buffer, indices []ast.Expr) (int, error) {
	args := make([]int, 0, len(indices))
	clamp := make([]bool, len(indices))
	for axis, idx := range indices {
		id, err := b.buildExpr(idx)
		if err != nil {
			return 0, err
		}
		args = append(args, id)
		if b.clamped[idx] {
			clamp[axis] = true
			b.graph.Guards = append(b.graph.Guards, Guard{Buffer: buf.Name, Axis: axis})
		}
	}
	return b.graph.NewNode(&Node{
		Op:     OpIndex,
		Kind:   types.I64,
		Buffer: buf.Name,
		Args:   args,
		Dims:   buf.Dims,
		Clamp:  clamp,
	}), nil
}

func binArith(op ast.BinOp) ArithOp {
	switch op {
	case ast.OpOr:
		return Or
	case ast.OpAnd:
		return And
	case ast.OpEq:
		return Eq
	case ast.OpNe:
		return Ne
	case ast.OpLt:
		return Lt
	case ast.OpGt:
		return Gt
	case ast.OpLe:
		return Le
	case ast.OpGe:
		return Ge
	case ast.OpSub:
		return Sub
	case ast.OpMul:
		return Mul
	case ast.OpDiv:
		return Div
	case ast.OpMod:
		return Mod
	default:
		return Add
	}
}

// kindOf resolves the checked type of an expression to its concrete
// scalar kind under the instance substitution.
func (b *builder) kindOf(e ast.Expr) (types.ScalarKind, error) {
	t, ok := b.inst.Kernel.ExprTypes[e]
	if !ok {
		return 0, b.internalf(e, "expression %s has no checked type", ast.PrintExpr(e))
	}
	s, ok := types.Substitute(types.Default(t), b.inst.Subs).(types.Scalar)
	if !ok {
		return 0, b.internalf(e, "expression %s has non-scalar type %s", ast.PrintExpr(e), t)
	}
	return s.Kind, nil
}

// readsDirty reports whether the statement reads a shared buffer
// written since the last barrier. Assignment targets do not count as
// reads unless the assignment is compound.
func (b *builder) readsDirty(stmt ast.Stmt) bool {
	if len(b.dirty) == 0 {
		return false
	}
	reads := map[string]bool{}
	collectReads(stmt, reads)
	for name := range reads {
		if b.dirty[name] {
			return true
		}
	}
	return false
}

func (b *builder) blockWritesShared(stmts []ast.Stmt) bool {
	for _, stmt := range stmts {
		writes := map[string]bool{}
		collectWrites(stmt, writes)
		for name := range writes {
			if b.spaces[name] == Shared {
				return true
			}
		}
	}
	return false
}

func readsAnyShared(stmts []ast.Stmt, spaces map[string]Space) bool {
	reads := map[string]bool{}
	for _, stmt := range stmts {
		collectReads(stmt, reads)
	}
	for name := range reads {
		if spaces[name] == Shared {
			return true
		}
	}
	return false
}

func lastIsBarrier(stmts []Stmt) (int, bool) {
	if len(stmts) == 0 {
		return 0, false
	}
	_, ok := stmts[len(stmts)-1].(*Barrier)
	return len(stmts) - 1, ok
}

func collectReads(stmt ast.Stmt, out map[string]bool) {
	switch stmt := stmt.(type) {
	case *ast.DeclStmt:
		if stmt.Value != nil {
			collectExprReads(stmt.Value, out)
		}
	case *ast.AssignStmt:
		collectExprReads(stmt.RHS, out)
		if target, ok := stmt.LHS.(*ast.IndexExpr); ok {
			for _, idx := range target.Indices {
				collectExprReads(idx, out)
			}
			if stmt.Op != ast.AssignEq {
				collectExprReads(target, out)
			}
		}
	case *ast.ForStmt:
		collectExprReads(stmt.From, out)
		collectExprReads(stmt.To, out)
		for _, s := range stmt.Body {
			collectReads(s, out)
		}
	case *ast.IfStmt:
		collectExprReads(stmt.Cond, out)
		for _, s := range stmt.Then {
			collectReads(s, out)
		}
		for _, s := range stmt.Else {
			collectReads(s, out)
		}
	case *ast.ReturnStmt:
		if stmt.Value != nil {
			collectExprReads(stmt.Value, out)
		}
	case *ast.ExprStmt:
		collectExprReads(stmt.X, out)
	}
}

func collectExprReads(e ast.Expr, out map[string]bool) {
	switch e := e.(type) {
	case *ast.IndexExpr:
		if base, ok := e.X.(*ast.Ident); ok {
			out[base.Name] = true
		}
		for _, idx := range e.Indices {
			collectExprReads(idx, out)
		}
	case *ast.BinaryExpr:
		collectExprReads(e.X, out)
		collectExprReads(e.Y, out)
	case *ast.UnaryExpr:
		collectExprReads(e.X, out)
	case *ast.MemberExpr:
		collectExprReads(e.X, out)
	case *ast.CallExpr:
		for _, arg := range e.Args {
			collectExprReads(arg, out)
		}
	}
}

func collectWrites(stmt ast.Stmt, out map[string]bool) {
	switch stmt := stmt.(type) {
	case *ast.AssignStmt:
		if target, ok := stmt.LHS.(*ast.IndexExpr); ok {
			if base, ok := target.X.(*ast.Ident); ok {
				out[base.Name] = true
			}
		}
	case *ast.ForStmt:
		for _, s := range stmt.Body {
			collectWrites(s, out)
		}
	case *ast.IfStmt:
		for _, s := range stmt.Then {
			collectWrites(s, out)
		}
		for _, s := range stmt.Else {
			collectWrites(s, out)
		}
	}
}

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

// Package ast declares the syntax tree for Flare kernels.
//
// The parser is the only producer of these nodes. Once a parse
// completes the tree is never mutated: the checker builds its own
// annotations on the side so that diagnostics can always refer to
// the source as written.
package ast

import "go/token"

// Node is implemented by all syntax tree nodes.
type Node interface {
	// Pos returns the position of the first token of the node.
	Pos() token.Pos
}

// File is the root of the tree: the kernels declared in one source
// file, plus the schedule blocks advising them.
type File struct {
	Filename  string
	Kernels   []*Kernel
	Schedules []*ScheduleBlock
}

// Kernel is a kernel declaration: name, generic parameters, typed
// parameters, return type, launch geometry, shared memory buffers and
// the per-thread compute body.
type Kernel struct {
	Attrs      []*Attribute
	KernelPos  token.Pos
	Name       *Ident
	TypeParams []*Ident
	Params     []*Param
	Result     TypeExpr // nil if the kernel returns nothing

	Grid   []Expr
	Block  []Expr
	Shared []*SharedDecl

	Compute []Stmt
}

// Pos returns the position of the kernel keyword.
func (k *Kernel) Pos() token.Pos { return k.KernelPos }

// Attribute is an @name or @name(args) annotation preceding a kernel
// declaration. Attributes are advisory: the compiler carries them but
// derives nothing from them.
type Attribute struct {
	AtPos token.Pos
	Name  *Ident
	Args  []Expr // identifiers and integer literals only
}

// Pos returns the position of the @ sign.
func (a *Attribute) Pos() token.Pos { return a.AtPos }

// ScheduleBlock is a top-level schedule block advising the named
// kernel: schedule target { tile(16, 16) vectorize(4) ... }.
// Directives are advisory metadata and do not affect lowering.
type ScheduleBlock struct {
	SchedulePos token.Pos
	Target      *Ident
	Directives  []*Directive
}

// Pos returns the position of the schedule keyword.
func (s *ScheduleBlock) Pos() token.Pos { return s.SchedulePos }

// Directive is one entry of a schedule block: a name with optional
// arguments, such as tile(16, 16) or parallel.
type Directive struct {
	Name *Ident
	Args []Expr // identifiers and integer literals only
}

// Pos returns the position of the directive name.
func (d *Directive) Pos() token.Pos { return d.Name.Pos() }

// Param is one typed kernel parameter.
type Param struct {
	Name *Ident
	Type TypeExpr
}

// Pos returns the position of the parameter name.
func (p *Param) Pos() token.Pos { return p.Name.Pos() }

// SharedDecl declares a named fixed-shape buffer in the kernel's
// shared_memory block. Elem is nil when the element type is elided;
// the checker then defaults it.
type SharedDecl struct {
	Name *Ident
	Elem TypeExpr
	Dims []Expr
}

// Pos returns the position of the buffer name.
func (d *SharedDecl) Pos() token.Pos { return d.Name.Pos() }

type (
	// TypeExpr is a type as written in the source.
	TypeExpr interface {
		Node
		typeExpr()
	}

	// ScalarType names a scalar type or a generic type parameter.
	ScalarType struct {
		Name *Ident
	}

	// TensorType is Tensor<Elem, [dims]>.
	TensorType struct {
		TensorPos token.Pos
		Elem      TypeExpr
		Dims      []Expr
	}
)

func (*ScalarType) typeExpr() {}
func (*TensorType) typeExpr() {}

// Pos returns the position of the type name.
func (t *ScalarType) Pos() token.Pos { return t.Name.Pos() }

// Pos returns the position of the Tensor keyword.
func (t *TensorType) Pos() token.Pos { return t.TensorPos }

type (
	// Stmt is a statement in a compute body.
	Stmt interface {
		Node
		stmt()
	}

	// DeclStmt is a let, var or const declaration.
	DeclStmt struct {
		TokPos token.Pos
		Tok    DeclTok
		Name   *Ident
		Type   TypeExpr // nil when inferred
		Value  Expr     // nil for var declarations without initializer
	}

	// AssignStmt assigns to a variable or an indexed buffer element.
	// Op distinguishes plain from compound assignment.
	AssignStmt struct {
		LHS Expr
		Op  AssignOp
		RHS Expr
	}

	// ForStmt is a counted loop: for v in lo..hi { body }.
	ForStmt struct {
		ForPos token.Pos
		Var    *Ident
		From   Expr
		To     Expr
		Body   []Stmt
	}

	// IfStmt is a conditional with an optional else branch.
	IfStmt struct {
		IfPos token.Pos
		Cond  Expr
		Then  []Stmt
		Else  []Stmt
	}

	// SyncStmt is a sync_threads() barrier.
	SyncStmt struct {
		SyncPos token.Pos
	}

	// ReturnStmt returns a value from the compute body.
	ReturnStmt struct {
		ReturnPos token.Pos
		Value     Expr // may be nil
	}

	// ExprStmt is an expression evaluated for its effect.
	ExprStmt struct {
		X Expr
	}
)

// DeclTok is the keyword introducing a declaration.
type DeclTok uint8

// Declaration keywords.
const (
	DeclLet DeclTok = iota
	DeclVar
	DeclConst
)

// String returns the keyword as written in the source.
func (t DeclTok) String() string {
	switch t {
	case DeclVar:
		return "var"
	case DeclConst:
		return "const"
	default:
		return "let"
	}
}

// AssignOp is the operator of an assignment statement.
type AssignOp uint8

// Assignment operators.
const (
	AssignEq AssignOp = iota
	AssignAdd
	AssignSub
	AssignMul
	AssignDiv
)

// String returns the operator as written in the source.
func (op AssignOp) String() string {
	switch op {
	case AssignAdd:
		return "+="
	case AssignSub:
		return "-="
	case AssignMul:
		return "*="
	case AssignDiv:
		return "/="
	default:
		return "="
	}
}

func (*DeclStmt) stmt()   {}
func (*AssignStmt) stmt() {}
func (*ForStmt) stmt()    {}
func (*IfStmt) stmt()     {}
func (*SyncStmt) stmt()   {}
func (*ReturnStmt) stmt() {}
func (*ExprStmt) stmt()   {}

// Pos returns the position of the declaration keyword.
func (s *DeclStmt) Pos() token.Pos { return s.TokPos }

// Pos returns the position of the assignment target.
func (s *AssignStmt) Pos() token.Pos { return s.LHS.Pos() }

// Pos returns the position of the for keyword.
func (s *ForStmt) Pos() token.Pos { return s.ForPos }

// Pos returns the position of the if keyword.
func (s *IfStmt) Pos() token.Pos { return s.IfPos }

// Pos returns the position of the sync_threads keyword.
func (s *SyncStmt) Pos() token.Pos { return s.SyncPos }

// Pos returns the position of the return keyword.
func (s *ReturnStmt) Pos() token.Pos { return s.ReturnPos }

// Pos returns the position of the expression.
func (s *ExprStmt) Pos() token.Pos { return s.X.Pos() }

type (
	// Expr is an expression node.
	Expr interface {
		Node
		expr()
	}

	// Ident is a reference to a name.
	Ident struct {
		NamePos token.Pos
		Name    string
	}

	// IntLit is an integer literal.
	IntLit struct {
		LitPos token.Pos
		Value  int64
	}

	// FloatLit is a floating point literal. Lexeme keeps the literal
	// as written so that printing round-trips.
	FloatLit struct {
		LitPos token.Pos
		Lexeme string
		Value  float64
	}

	// BoolLit is true or false.
	BoolLit struct {
		LitPos token.Pos
		Value  bool
	}

	// BinaryExpr is a binary operation.
	BinaryExpr struct {
		X  Expr
		Op BinOp
		Y  Expr
	}

	// UnaryExpr is -x or !x.
	// Parenthesized groups carry no node of their own: the printer
	// reinserts parentheses from operator precedence.
	UnaryExpr struct {
		OpPos token.Pos
		Op    UnOp
		X     Expr
	}

	// IndexExpr is an indexed access buf[i, j].
	IndexExpr struct {
		X       Expr
		Indices []Expr
	}

	// MemberExpr selects a field, such as thread_idx.x.
	MemberExpr struct {
		X   Expr
		Sel *Ident
	}

	// CallExpr calls a builtin function such as min or max.
	CallExpr struct {
		Fun  *Ident
		Args []Expr
	}
)

func (*Ident) expr()      {}
func (*IntLit) expr()     {}
func (*FloatLit) expr()   {}
func (*BoolLit) expr()    {}
func (*BinaryExpr) expr() {}
func (*UnaryExpr) expr()  {}
func (*IndexExpr) expr()  {}
func (*MemberExpr) expr() {}
func (*CallExpr) expr()   {}

// Pos returns the position of the identifier.
func (e *Ident) Pos() token.Pos { return e.NamePos }

// Pos returns the position of the literal.
func (e *IntLit) Pos() token.Pos { return e.LitPos }

// Pos returns the position of the literal.
func (e *FloatLit) Pos() token.Pos { return e.LitPos }

// Pos returns the position of the literal.
func (e *BoolLit) Pos() token.Pos { return e.LitPos }

// Pos returns the position of the left operand.
func (e *BinaryExpr) Pos() token.Pos { return e.X.Pos() }

// Pos returns the position of the operator.
func (e *UnaryExpr) Pos() token.Pos { return e.OpPos }

// Pos returns the position of the indexed expression.
func (e *IndexExpr) Pos() token.Pos { return e.X.Pos() }

// Pos returns the position of the selected expression.
func (e *MemberExpr) Pos() token.Pos { return e.X.Pos() }

// Pos returns the position of the function name.
func (e *CallExpr) Pos() token.Pos { return e.Fun.Pos() }

// BinOp is a binary operator.
type BinOp uint8

// Binary operators in increasing precedence groups.
const (
	OpOr BinOp = iota
	OpAnd
	OpEq
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

// String returns the operator as written in the source.
func (op BinOp) String() string {
	switch op {
	case OpOr:
		return "||"
	case OpAnd:
		return "&&"
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpGt:
		return ">"
	case OpLe:
		return "<="
	case OpGe:
		return ">="
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	}
	return "?"
}

// Precedence returns the binding strength of the operator.
// Higher binds tighter.
func (op BinOp) Precedence() int {
	switch op {
	case OpOr:
		return 1
	case OpAnd:
		return 2
	case OpEq, OpNe, OpLt, OpGt, OpLe, OpGe:
		return 3
	case OpAdd, OpSub:
		return 4
	case OpMul, OpDiv, OpMod:
		return 5
	}
	return 0
}

// UnOp is a unary operator.
type UnOp uint8

// Unary operators.
const (
	OpNeg UnOp = iota
	OpNot
)

// String returns the operator as written in the source.
func (op UnOp) String() string {
	if op == OpNot {
		return "!"
	}
	return "-"
}

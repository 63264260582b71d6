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

package codegen

import (
	"fmt"
	"strings"

	"github.com/flare-lang/flare/build/kir"
	"github.com/flare-lang/flare/build/types"
)

// Dialect captures what differs between the C-family targets: type
// names, coordinate intrinsics, builtin calls and the barrier form.
// The Writer owns everything they share.
type Dialect interface {
	// ScalarType names a scalar kind, or fails for kinds the target
	// does not have.
	ScalarType(k types.ScalarKind) (string, error)
	// Coord renders one component of a builtin thread coordinate.
	Coord(b kir.Builtin, axis int) string
	// Call renders a builtin function call.
	Call(fn string, kind types.ScalarKind, args []string) string
	// CastInt wraps an expression in a signed integer conversion.
	CastInt(expr string) string
	// Barrier is the block-wide synchronization statement.
	Barrier() string
}

// Writer emits the body of a kernel in a C-family dialect. Values are
// emitted as inline expressions: the IR builder creates one node per
// use, so inlining never duplicates work.
type Writer struct {
	backend string
	graph   *kir.Graph
	dialect Dialect
	bounds  BoundsCheckPolicy

	sb     strings.Builder
	indent int
}

// NewWriter returns a body writer for one graph.
func NewWriter(backend string, g *kir.Graph, d Dialect, bounds BoundsCheckPolicy) *Writer {
	return &Writer{backend: backend, graph: g, dialect: d, bounds: bounds, indent: 1}
}

// WriteBody emits the statement list and returns the emitted text.
func (w *Writer) WriteBody() (string, error) {
	if err := w.writeStmts(w.graph.Body); err != nil {
		return "", err
	}
	return w.sb.String(), nil
}

func (w *Writer) line(format string, a ...any) {
	w.sb.WriteString(strings.Repeat("    ", w.indent))
	fmt.Fprintf(&w.sb, format, a...)
	w.sb.WriteByte('\n')
}

func (w *Writer) writeStmts(stmts []kir.Stmt) error {
	for _, stmt := range stmts {
		if err := w.writeStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeStmt(stmt kir.Stmt) error {
	switch stmt := stmt.(type) {
	case *kir.Decl:
		typ, err := w.dialect.ScalarType(stmt.Kind)
		if err != nil {
			return err
		}
		if stmt.Init < 0 {
			w.line("%s %s;", typ, stmt.Name)
			return nil
		}
		init, err := w.expr(stmt.Init)
		if err != nil {
			return err
		}
		w.line("%s %s = %s;", typ, stmt.Name, init)
	case *kir.Assign:
		value, err := w.expr(stmt.Value)
		if err != nil {
			return err
		}
		w.line("%s = %s;", stmt.Name, value)
	case *kir.Store:
		return w.writeStore(w.graph.Nodes[stmt.Node])
	case *kir.Loop:
		return w.writeLoop(stmt)
	case *kir.If:
		return w.writeIf(stmt)
	case *kir.Barrier:
		w.line("%s", w.dialect.Barrier())
	case *kir.Return:
		w.line("return;")
	default:
		return Unsupportedf(w.backend, "statement %T", stmt)
	}
	return nil
}

func (w *Writer) writeStore(n *kir.Node) error {
	if n.Op != kir.OpStore {
		return Unsupportedf(w.backend, "store of non-store node %d", n.ID)
	}
	idx, err := w.indexExpr(w.graph.Nodes[n.Args[0]])
	if err != nil {
		return err
	}
	value, err := w.expr(n.Args[1])
	if err != nil {
		return err
	}
	w.line("%s[%s] = %s;", n.Buffer, idx, value)
	return nil
}

func (w *Writer) writeLoop(stmt *kir.Loop) error {
	typ, err := w.dialect.ScalarType(stmt.Kind)
	if err != nil {
		return err
	}
	from, err := w.expr(stmt.From)
	if err != nil {
		return err
	}
	to, err := w.expr(stmt.To)
	if err != nil {
		return err
	}
	w.line("for (%s %s = %s; %s < %s; ++%s) {", typ, stmt.Var, from, stmt.Var, to, stmt.Var)
	w.indent++
	if err := w.writeStmts(stmt.Body); err != nil {
		return err
	}
	w.indent--
	w.line("}")
	return nil
}

func (w *Writer) writeIf(stmt *kir.If) error {
	cond, err := w.expr(stmt.Cond)
	if err != nil {
		return err
	}
	w.line("if (%s) {", cond)
	w.indent++
	if err := w.writeStmts(stmt.Then); err != nil {
		return err
	}
	w.indent--
	if len(stmt.Else) == 0 {
		w.line("}")
		return nil
	}
	w.line("} else {")
	w.indent++
	if err := w.writeStmts(stmt.Else); err != nil {
		return err
	}
	w.indent--
	w.line("}")
	return nil
}

var arithOps = map[kir.ArithOp]string{
	kir.Add: "+", kir.Sub: "-", kir.Mul: "*", kir.Div: "/", kir.Mod: "%",
	kir.Eq: "==", kir.Ne: "!=", kir.Lt: "<", kir.Gt: ">", kir.Le: "<=", kir.Ge: ">=",
	kir.And: "&&", kir.Or: "||",
}

func (w *Writer) expr(id int) (string, error) {
	n := w.graph.Nodes[id]
	switch n.Op {
	case kir.OpConst:
		return FormatConst(n.Lit, n.Kind), nil
	case kir.OpCoord:
		return w.dialect.Coord(n.Coord, n.Axis), nil
	case kir.OpLocal:
		return n.Lit, nil
	case kir.OpArith:
		return w.arithExpr(n)
	case kir.OpCall:
		args := make([]string, 0, len(n.Args))
		for _, arg := range n.Args {
			s, err := w.expr(arg)
			if err != nil {
				return "", err
			}
			args = append(args, s)
		}
		return w.dialect.Call(n.Fn, n.Kind, args), nil
	case kir.OpLoad:
		idx, err := w.indexExpr(w.graph.Nodes[n.Args[0]])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s[%s]", n.Buffer, idx), nil
	case kir.OpIndex:
		return w.indexExpr(n)
	}
	return "", Unsupportedf(w.backend, "value node kind %d", n.Op)
}

func (w *Writer) arithExpr(n *kir.Node) (string, error) {
	if n.Arith == kir.Neg || n.Arith == kir.Not {
		x, err := w.expr(n.Args[0])
		if err != nil {
			return "", err
		}
		op := "-"
		if n.Arith == kir.Not {
			op = "!"
		}
		return fmt.Sprintf("%s(%s)", op, x), nil
	}
	op, ok := arithOps[n.Arith]
	if !ok {
		return "", Unsupportedf(w.backend, "arithmetic operator %d", n.Arith)
	}
	x, err := w.expr(n.Args[0])
	if err != nil {
		return "", err
	}
	y, err := w.expr(n.Args[1])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s %s %s)", x, op, y), nil
}

// indexExpr linearizes a multi-axis index row-major, clamping guarded
// axes into range under the clamp policy.
func (w *Writer) indexExpr(n *kir.Node) (string, error) {
	if n.Op != kir.OpIndex {
		return "", Unsupportedf(w.backend, "index of non-index node %d", n.ID)
	}
	linear := ""
	for axis, arg := range n.Args {
		term, err := w.expr(arg)
		if err != nil {
			return "", err
		}
		if n.Clamp[axis] && w.bounds == BoundsClamp {
			term = w.dialect.Call("min", types.I32, []string{
				w.dialect.Call("max", types.I32, []string{w.dialect.CastInt(term), "0"}),
				fmt.Sprintf("%d", n.Dims[axis]-1),
			})
		} else {
			term = w.dialect.CastInt(term)
		}
		if linear == "" {
			linear = term
		} else {
			linear = fmt.Sprintf("(%s * %d + %s)", linear, n.Dims[axis], term)
		}
	}
	return linear, nil
}

// FormatConst renders a literal for a C-family target, normalizing
// float literals and suffixing single precision.
func FormatConst(lit string, kind types.ScalarKind) string {
	if !kind.IsFloat() {
		if kind == types.U32 || kind == types.U64 {
			return lit + "u"
		}
		return lit
	}
	if !strings.ContainsAny(lit, ".eE") {
		lit += ".0"
	}
	if kind == types.F32 {
		lit += "f"
	}
	return lit
}

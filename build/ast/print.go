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

package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// Print returns the file as canonical Flare source.
// Printing a parsed file and parsing the result yields a
// structurally identical tree.
func Print(f *File) string {
	var sb strings.Builder
	for i, k := range f.Kernels {
		if i > 0 {
			sb.WriteString("\n")
		}
		printKernel(&sb, k)
	}
	for _, s := range f.Schedules {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		printSchedule(&sb, s)
	}
	return sb.String()
}

// PrintExpr returns the expression as canonical source.
func PrintExpr(e Expr) string {
	var sb strings.Builder
	printExpr(&sb, e)
	return sb.String()
}

// PrintType returns the type expression as canonical source.
func PrintType(t TypeExpr) string {
	var sb strings.Builder
	printType(&sb, t)
	return sb.String()
}

func printKernel(sb *strings.Builder, k *Kernel) {
	for _, a := range k.Attrs {
		sb.WriteString("@")
		sb.WriteString(a.Name.Name)
		if len(a.Args) > 0 {
			sb.WriteString("(")
			for i, arg := range a.Args {
				if i > 0 {
					sb.WriteString(", ")
				}
				printExpr(sb, arg)
			}
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("kernel ")
	sb.WriteString(k.Name.Name)
	if len(k.TypeParams) > 0 {
		names := make([]string, len(k.TypeParams))
		for i, tp := range k.TypeParams {
			names[i] = tp.Name
		}
		fmt.Fprintf(sb, "<%s>", strings.Join(names, ", "))
	}
	sb.WriteString("(")
	for i, p := range k.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Name.Name)
		sb.WriteString(": ")
		printType(sb, p.Type)
	}
	sb.WriteString(")")
	if k.Result != nil {
		sb.WriteString(" -> ")
		printType(sb, k.Result)
	}
	sb.WriteString(" {\n")
	sb.WriteString("    grid: ")
	printExprList(sb, k.Grid)
	sb.WriteString("\n    block: ")
	printExprList(sb, k.Block)
	sb.WriteString("\n")
	if len(k.Shared) > 0 {
		sb.WriteString("    shared_memory {\n")
		for _, d := range k.Shared {
			sb.WriteString("        ")
			sb.WriteString(d.Name.Name)
			sb.WriteString(": ")
			if d.Elem != nil {
				printType(sb, d.Elem)
			}
			printExprList(sb, d.Dims)
			sb.WriteString("\n")
		}
		sb.WriteString("    }\n")
	}
	sb.WriteString("    compute {\n")
	for _, s := range k.Compute {
		printStmt(sb, s, 2)
	}
	sb.WriteString("    }\n")
	sb.WriteString("}\n")
}

func printSchedule(sb *strings.Builder, s *ScheduleBlock) {
	sb.WriteString("schedule ")
	sb.WriteString(s.Target.Name)
	sb.WriteString(" {\n")
	for _, d := range s.Directives {
		sb.WriteString("    ")
		sb.WriteString(d.Name.Name)
		if len(d.Args) > 0 {
			sb.WriteString("(")
			for i, arg := range d.Args {
				if i > 0 {
					sb.WriteString(", ")
				}
				printExpr(sb, arg)
			}
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n")
}

func printExprList(sb *strings.Builder, exprs []Expr) {
	sb.WriteString("[")
	for i, e := range exprs {
		if i > 0 {
			sb.WriteString(", ")
		}
		printExpr(sb, e)
	}
	sb.WriteString("]")
}

func printType(sb *strings.Builder, t TypeExpr) {
	switch t := t.(type) {
	case *ScalarType:
		sb.WriteString(t.Name.Name)
	case *TensorType:
		sb.WriteString("Tensor<")
		printType(sb, t.Elem)
		sb.WriteString(", ")
		printExprList(sb, t.Dims)
		sb.WriteString(">")
	}
}

func indent(sb *strings.Builder, depth int) {
	for range depth {
		sb.WriteString("    ")
	}
}

func printStmt(sb *strings.Builder, s Stmt, depth int) {
	indent(sb, depth)
	switch s := s.(type) {
	case *DeclStmt:
		sb.WriteString(s.Tok.String())
		sb.WriteString(" ")
		sb.WriteString(s.Name.Name)
		if s.Type != nil {
			sb.WriteString(": ")
			printType(sb, s.Type)
		}
		if s.Value != nil {
			sb.WriteString(" = ")
			printExpr(sb, s.Value)
		}
	case *AssignStmt:
		printExpr(sb, s.LHS)
		sb.WriteString(" ")
		sb.WriteString(s.Op.String())
		sb.WriteString(" ")
		printExpr(sb, s.RHS)
	case *ForStmt:
		sb.WriteString("for ")
		sb.WriteString(s.Var.Name)
		sb.WriteString(" in ")
		printExpr(sb, s.From)
		sb.WriteString("..")
		printExpr(sb, s.To)
		printBlock(sb, s.Body, depth)
		sb.WriteString("\n")
		return
	case *IfStmt:
		sb.WriteString("if ")
		printExpr(sb, s.Cond)
		printBlock(sb, s.Then, depth)
		if s.Else != nil {
			// The else keyword must share the closing brace's line
			// for the printed form to reparse.
			sb.WriteString(" else")
			printBlock(sb, s.Else, depth)
		}
		sb.WriteString("\n")
		return
	case *SyncStmt:
		sb.WriteString("sync_threads()")
	case *ReturnStmt:
		sb.WriteString("return")
		if s.Value != nil {
			sb.WriteString(" ")
			printExpr(sb, s.Value)
		}
	case *ExprStmt:
		printExpr(sb, s.X)
	}
	sb.WriteString("\n")
}

// printBlock leaves the closing brace unterminated so the caller can
// continue the line (an else branch) or end it.
func printBlock(sb *strings.Builder, stmts []Stmt, depth int) {
	sb.WriteString(" {\n")
	for _, s := range stmts {
		printStmt(sb, s, depth+1)
	}
	indent(sb, depth)
	sb.WriteString("}")
}

func printExpr(sb *strings.Builder, e Expr) {
	switch e := e.(type) {
	case *Ident:
		sb.WriteString(e.Name)
	case *IntLit:
		sb.WriteString(strconv.FormatInt(e.Value, 10))
	case *FloatLit:
		sb.WriteString(e.Lexeme)
	case *BoolLit:
		sb.WriteString(strconv.FormatBool(e.Value))
	case *BinaryExpr:
		printOperand(sb, e.X, e.Op.Precedence(), false)
		sb.WriteString(" ")
		sb.WriteString(e.Op.String())
		sb.WriteString(" ")
		printOperand(sb, e.Y, e.Op.Precedence(), true)
	case *UnaryExpr:
		sb.WriteString(e.Op.String())
		printOperand(sb, e.X, 6, false)
	case *IndexExpr:
		printExpr(sb, e.X)
		sb.WriteString("[")
		for i, idx := range e.Indices {
			if i > 0 {
				sb.WriteString(", ")
			}
			printExpr(sb, idx)
		}
		sb.WriteString("]")
	case *MemberExpr:
		printExpr(sb, e.X)
		sb.WriteString(".")
		sb.WriteString(e.Sel.Name)
	case *CallExpr:
		sb.WriteString(e.Fun.Name)
		sb.WriteString("(")
		for i, a := range e.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			printExpr(sb, a)
		}
		sb.WriteString(")")
	}
}

// printOperand prints a binary operand, parenthesizing it when its
// top-level operator binds less tightly than the parent.
func printOperand(sb *strings.Builder, e Expr, parent int, right bool) {
	bin, ok := e.(*BinaryExpr)
	need := false
	if ok {
		prec := bin.Op.Precedence()
		need = prec < parent || (prec == parent && right)
	}
	if need {
		sb.WriteString("(")
		printExpr(sb, e)
		sb.WriteString(")")
		return
	}
	printExpr(sb, e)
}

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

// Package source turns Flare source text into a token stream.
//
// Positions are tracked with [go/token.FileSet] so that every
// diagnostic downstream formats as file:line:column.
package source

import "go/token"

// Kind identifies the kind of a token.
type Kind uint8

const (
	EOF Kind = iota
	Newline

	// Literals.
	Ident
	IntLit
	FloatLit
	StringLit

	// Keywords.
	Kernel
	Let
	Var
	Const
	For
	In
	If
	Else
	Return
	Grid
	Block
	SharedMemory
	Compute
	SyncThreads
	Schedule
	Tensor
	True
	False

	// Operators.
	Plus         // +
	Minus        // -
	Star         // *
	Slash        // /
	Percent      // %
	Assign       // =
	PlusAssign   // +=
	MinusAssign  // -=
	StarAssign   // *=
	SlashAssign  // /=
	Equal        // ==
	NotEqual     // !=
	Less         // <
	Greater      // >
	LessEqual    // <=
	GreaterEqual // >=
	And          // &&
	Or           // ||
	Not          // !
	Arrow        // ->
	Dot          // .
	DotDot       // ..

	// Delimiters.
	Colon        // :
	Comma        // ,
	Semicolon    // ;
	At           // @
	LeftParen    // (
	RightParen   // )
	LeftBrace    // {
	RightBrace   // }
	LeftBracket  // [
	RightBracket // ]
)

var kindNames = map[Kind]string{
	EOF:     "EOF",
	Newline: "newline",

	Ident:     "identifier",
	IntLit:    "integer literal",
	FloatLit:  "float literal",
	StringLit: "string literal",

	Kernel:       "kernel",
	Let:          "let",
	Var:          "var",
	Const:        "const",
	For:          "for",
	In:           "in",
	If:           "if",
	Else:         "else",
	Return:       "return",
	Grid:         "grid",
	Block:        "block",
	SharedMemory: "shared_memory",
	Compute:      "compute",
	SyncThreads:  "sync_threads",
	Schedule:     "schedule",
	Tensor:       "Tensor",
	True:         "true",
	False:        "false",

	Plus:         "+",
	Minus:        "-",
	Star:         "*",
	Slash:        "/",
	Percent:      "%",
	Assign:       "=",
	PlusAssign:   "+=",
	MinusAssign:  "-=",
	StarAssign:   "*=",
	SlashAssign:  "/=",
	Equal:        "==",
	NotEqual:     "!=",
	Less:         "<",
	Greater:      ">",
	LessEqual:    "<=",
	GreaterEqual: ">=",
	And:          "&&",
	Or:           "||",
	Not:          "!",
	Arrow:        "->",
	Dot:          ".",
	DotDot:       "..",

	Colon:        ":",
	Comma:        ",",
	Semicolon:    ";",
	At:           "@",
	LeftParen:    "(",
	RightParen:   ")",
	LeftBrace:    "{",
	RightBrace:   "}",
	LeftBracket:  "[",
	RightBracket: "]",
}

// String returns the name of the token kind as it appears in diagnostics.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

var keywords = map[string]Kind{
	"kernel":        Kernel,
	"let":           Let,
	"var":           Var,
	"const":         Const,
	"for":           For,
	"in":            In,
	"if":            If,
	"else":          Else,
	"return":        Return,
	"grid":          Grid,
	"block":         Block,
	"shared_memory": SharedMemory,
	"compute":       Compute,
	"sync_threads":  SyncThreads,
	"schedule":      Schedule,
	"Tensor":        Tensor,
	"true":          True,
	"false":         False,
}

// Token is one lexical element of a Flare source file.
// Tokens are immutable: the lexer produces them once and the
// parser only reads them.
type Token struct {
	Kind   Kind
	Lexeme string
	Pos    token.Pos
}

// IsKeyword returns true for keyword tokens.
func (t Token) IsKeyword() bool {
	return t.Kind >= Kernel && t.Kind <= False
}

// String returns the token as it appears in diagnostics.
func (t Token) String() string {
	switch t.Kind {
	case Ident, IntLit, FloatLit, StringLit:
		return t.Kind.String() + " " + t.Lexeme
	default:
		return t.Kind.String()
	}
}

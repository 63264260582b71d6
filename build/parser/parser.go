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

// Package parser builds a Flare syntax tree from a token stream.
//
// The parser is a deterministic single pass recursive descent with
// precedence climbing for expressions. The only lookahead beyond one
// token disambiguates a generic argument list from a comparison.
package parser

import (
	"fmt"
	"go/token"
	"strings"

	"github.com/flare-lang/flare/build/ast"
	"github.com/flare-lang/flare/build/source"
)

// Error is a syntax error: the parser found a token outside the
// expected set. Syntax errors abort the whole compilation unit.
type Error struct {
	Position token.Position
	Expected []string
	Found    source.Token
}

// Error returns the error with its source position.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: expected %s, found %s",
		e.Position, strings.Join(e.Expected, " or "), e.Found)
}

// Parser consumes a token stream produced by [source.Lexer].
type Parser struct {
	fset *token.FileSet
	toks []source.Token
	pos  int
}

// Parse lexes and parses one source file.
func Parse(fset *token.FileSet, filename, src string) (*ast.File, error) {
	toks, err := source.NewLexer(fset, filename, src).Scan()
	if err != nil {
		return nil, err
	}
	p := &Parser{fset: fset, toks: toks}
	return p.parseFile(filename)
}

func (p *Parser) cur() source.Token {
	return p.toks[p.pos]
}

func (p *Parser) peek(i int) source.Token {
	if p.pos+i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+i]
}

func (p *Parser) advance() source.Token {
	tok := p.toks[p.pos]
	if tok.Kind != source.EOF {
		p.pos++
	}
	return tok
}

func (p *Parser) at(kind source.Kind) bool {
	return p.cur().Kind == kind
}

func (p *Parser) accept(kind source.Kind) bool {
	if !p.at(kind) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) errorExpected(expected ...string) error {
	return &Error{
		Position: p.fset.Position(p.cur().Pos),
		Expected: expected,
		Found:    p.cur(),
	}
}

func (p *Parser) expect(kind source.Kind) (source.Token, error) {
	if !p.at(kind) {
		return source.Token{}, p.errorExpected(kind.String())
	}
	return p.advance(), nil
}

// skipNewlines moves past blank lines between statements and clauses.
func (p *Parser) skipNewlines() {
	for p.at(source.Newline) || p.at(source.Semicolon) {
		p.advance()
	}
}

// endOfStmt consumes a statement terminator: a newline, a semicolon,
// or nothing when the statement is followed by a closing brace.
func (p *Parser) endOfStmt() error {
	switch p.cur().Kind {
	case source.Newline, source.Semicolon:
		p.advance()
		p.skipNewlines()
		return nil
	case source.RightBrace, source.EOF:
		return nil
	}
	return p.errorExpected("newline", ";")
}

func (p *Parser) parseFile(filename string) (*ast.File, error) {
	f := &ast.File{Filename: filename}
	p.skipNewlines()
	for !p.at(source.EOF) {
		if p.at(source.Schedule) {
			s, err := p.parseSchedule()
			if err != nil {
				return nil, err
			}
			f.Schedules = append(f.Schedules, s)
			p.skipNewlines()
			continue
		}
		k, err := p.parseKernel()
		if err != nil {
			return nil, err
		}
		f.Kernels = append(f.Kernels, k)
		p.skipNewlines()
	}
	return f, nil
}

func (p *Parser) parseIdent() (*ast.Ident, error) {
	tok, err := p.expect(source.Ident)
	if err != nil {
		return nil, err
	}
	return &ast.Ident{NamePos: tok.Pos, Name: tok.Lexeme}, nil
}

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

package parser

import (
	"github.com/flare-lang/flare/build/ast"
	"github.com/flare-lang/flare/build/source"
)

func (p *Parser) parseStmt() (ast.Stmt, error) {
	switch p.cur().Kind {
	case source.Let, source.Var, source.Const:
		return p.parseDecl()
	case source.For:
		return p.parseFor()
	case source.If:
		return p.parseIf()
	case source.SyncThreads:
		return p.parseSync()
	case source.Return:
		return p.parseReturn()
	}
	return p.parseAssignOrExpr()
}

func (p *Parser) parseDecl() (ast.Stmt, error) {
	kw := p.advance()
	s := &ast.DeclStmt{TokPos: kw.Pos}
	switch kw.Kind {
	case source.Var:
		s.Tok = ast.DeclVar
	case source.Const:
		s.Tok = ast.DeclConst
	default:
		s.Tok = ast.DeclLet
	}
	var err error
	if s.Name, err = p.parseIdent(); err != nil {
		return nil, err
	}
	if p.accept(source.Colon) {
		if s.Type, err = p.parseType(); err != nil {
			return nil, err
		}
	}
	if p.accept(source.Assign) {
		if s.Value, err = p.parseExpr(); err != nil {
			return nil, err
		}
	} else if s.Tok != ast.DeclVar {
		// let and const always bind a value; only var may be
		// declared without one.
		return nil, p.errorExpected("=")
	}
	return s, p.endOfStmt()
}

func (p *Parser) parseFor() (ast.Stmt, error) {
	kw := p.advance()
	s := &ast.ForStmt{ForPos: kw.Pos}
	var err error
	if s.Var, err = p.parseIdent(); err != nil {
		return nil, err
	}
	if _, err = p.expect(source.In); err != nil {
		return nil, err
	}
	if s.From, err = p.parseExpr(); err != nil {
		return nil, err
	}
	if _, err = p.expect(source.DotDot); err != nil {
		return nil, err
	}
	if s.To, err = p.parseExpr(); err != nil {
		return nil, err
	}
	if s.Body, err = p.parseBlock(); err != nil {
		return nil, err
	}
	return s, p.endOfStmt()
}

func (p *Parser) parseIf() (ast.Stmt, error) {
	kw := p.advance()
	s := &ast.IfStmt{IfPos: kw.Pos}
	var err error
	if s.Cond, err = p.parseExpr(); err != nil {
		return nil, err
	}
	if s.Then, err = p.parseBlock(); err != nil {
		return nil, err
	}
	if p.accept(source.Else) {
		if p.at(source.If) {
			elseIf, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			s.Else = []ast.Stmt{elseIf}
			return s, nil
		}
		if s.Else, err = p.parseBlock(); err != nil {
			return nil, err
		}
	}
	return s, p.endOfStmt()
}

func (p *Parser) parseSync() (ast.Stmt, error) {
	kw := p.advance()
	if _, err := p.expect(source.LeftParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(source.RightParen); err != nil {
		return nil, err
	}
	return &ast.SyncStmt{SyncPos: kw.Pos}, p.endOfStmt()
}

func (p *Parser) parseReturn() (ast.Stmt, error) {
	kw := p.advance()
	s := &ast.ReturnStmt{ReturnPos: kw.Pos}
	if p.at(source.Newline) || p.at(source.Semicolon) || p.at(source.RightBrace) {
		return s, p.endOfStmt()
	}
	var err error
	if s.Value, err = p.parseExpr(); err != nil {
		return nil, err
	}
	return s, p.endOfStmt()
}

var assignOps = map[source.Kind]ast.AssignOp{
	source.Assign:      ast.AssignEq,
	source.PlusAssign:  ast.AssignAdd,
	source.MinusAssign: ast.AssignSub,
	source.StarAssign:  ast.AssignMul,
	source.SlashAssign: ast.AssignDiv,
}

func (p *Parser) parseAssignOrExpr() (ast.Stmt, error) {
	lhs, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	op, ok := assignOps[p.cur().Kind]
	if !ok {
		return &ast.ExprStmt{X: lhs}, p.endOfStmt()
	}
	switch lhs.(type) {
	case *ast.Ident, *ast.IndexExpr:
	default:
		return nil, p.errorExpected("assignable expression")
	}
	p.advance()
	rhs, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ast.AssignStmt{LHS: lhs, Op: op, RHS: rhs}, p.endOfStmt()
}

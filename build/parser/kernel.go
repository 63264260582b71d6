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
	"strconv"

	"github.com/flare-lang/flare/build/ast"
	"github.com/flare-lang/flare/build/source"
)

// parseKernel parses one kernel declaration, preceded by any number of
// @attribute annotations:
//
//	@fusion_point
//	kernel name<T, ...>(param: Type, ...) -> Type {
//	    grid: [expr, ...]
//	    block: [expr, ...]
//	    shared_memory { name: elem[dims] ... }
//	    compute { statements }
//	}
func (p *Parser) parseKernel() (*ast.Kernel, error) {
	attrs, err := p.parseAttributes()
	if err != nil {
		return nil, err
	}
	kw, err := p.expect(source.Kernel)
	if err != nil {
		return nil, err
	}
	k := &ast.Kernel{Attrs: attrs, KernelPos: kw.Pos}
	if k.Name, err = p.parseIdent(); err != nil {
		return nil, err
	}
	if k.TypeParams, err = p.parseTypeParams(); err != nil {
		return nil, err
	}
	if k.Params, err = p.parseParams(); err != nil {
		return nil, err
	}
	if p.accept(source.Arrow) {
		if k.Result, err = p.parseType(); err != nil {
			return nil, err
		}
	}
	if _, err = p.expect(source.LeftBrace); err != nil {
		return nil, err
	}
	p.skipNewlines()

	if k.Grid, err = p.parseDimList(source.Grid); err != nil {
		return nil, err
	}
	p.skipNewlines()
	if k.Block, err = p.parseDimList(source.Block); err != nil {
		return nil, err
	}
	p.skipNewlines()

	if p.at(source.SharedMemory) {
		if k.Shared, err = p.parseSharedMemory(); err != nil {
			return nil, err
		}
		p.skipNewlines()
	}

	if k.Compute, err = p.parseCompute(); err != nil {
		return nil, err
	}
	p.skipNewlines()
	if _, err = p.expect(source.RightBrace); err != nil {
		return nil, err
	}
	return k, nil
}

func (p *Parser) parseTypeParams() ([]*ast.Ident, error) {
	if !p.accept(source.Less) {
		return nil, nil
	}
	var params []*ast.Ident
	for {
		id, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		params = append(params, id)
		if p.accept(source.Comma) {
			continue
		}
		if _, err := p.expect(source.Greater); err != nil {
			return nil, err
		}
		return params, nil
	}
}

func (p *Parser) parseParams() ([]*ast.Param, error) {
	if _, err := p.expect(source.LeftParen); err != nil {
		return nil, err
	}
	var params []*ast.Param
	for !p.at(source.RightParen) {
		if len(params) > 0 {
			if _, err := p.expect(source.Comma); err != nil {
				return nil, err
			}
		}
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(source.Colon); err != nil {
			return nil, err
		}
		typ, err := p.parseType()
		if err != nil {
			return nil, err
		}
		params = append(params, &ast.Param{Name: name, Type: typ})
	}
	p.advance() // ')'
	return params, nil
}

// parseType parses Tensor<Elem, [dims]> or a scalar or generic type name.
func (p *Parser) parseType() (ast.TypeExpr, error) {
	if p.at(source.Tensor) {
		kw := p.advance()
		if _, err := p.expect(source.Less); err != nil {
			return nil, err
		}
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(source.Comma); err != nil {
			return nil, err
		}
		dims, err := p.parseBracketList()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(source.Greater); err != nil {
			return nil, err
		}
		return &ast.TensorType{TensorPos: kw.Pos, Elem: elem, Dims: dims}, nil
	}
	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	return &ast.ScalarType{Name: name}, nil
}

// parseDimList parses `kw: [expr, ...]` for the grid and block specs.
func (p *Parser) parseDimList(kw source.Kind) ([]ast.Expr, error) {
	if _, err := p.expect(kw); err != nil {
		return nil, err
	}
	if _, err := p.expect(source.Colon); err != nil {
		return nil, err
	}
	return p.parseBracketList()
}

func (p *Parser) parseBracketList() ([]ast.Expr, error) {
	if _, err := p.expect(source.LeftBracket); err != nil {
		return nil, err
	}
	var exprs []ast.Expr
	for !p.at(source.RightBracket) {
		if len(exprs) > 0 {
			if _, err := p.expect(source.Comma); err != nil {
				return nil, err
			}
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	p.advance() // ']'
	return exprs, nil
}

// parseSharedMemory parses the shared_memory block. Each declaration is
// `name: [dims]` or `name: elem[dims]`; the element type may be elided.
func (p *Parser) parseSharedMemory() ([]*ast.SharedDecl, error) {
	p.advance() // shared_memory
	if _, err := p.expect(source.LeftBrace); err != nil {
		return nil, err
	}
	p.skipNewlines()
	var decls []*ast.SharedDecl
	for !p.at(source.RightBrace) {
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(source.Colon); err != nil {
			return nil, err
		}
		decl := &ast.SharedDecl{Name: name}
		if p.at(source.Ident) {
			elemName, err := p.parseIdent()
			if err != nil {
				return nil, err
			}
			decl.Elem = &ast.ScalarType{Name: elemName}
		}
		if decl.Dims, err = p.parseBracketList(); err != nil {
			return nil, err
		}
		decls = append(decls, decl)
		if err := p.endOfStmt(); err != nil {
			return nil, err
		}
	}
	p.advance() // '}'
	return decls, nil
}

func (p *Parser) parseAttributes() ([]*ast.Attribute, error) {
	var attrs []*ast.Attribute
	for p.at(source.At) {
		at := p.advance()
		// schedule is a keyword at the top level but a plain name in
		// attribute position, as in @schedule(vectorized).
		var name *ast.Ident
		var err error
		if p.at(source.Schedule) {
			tok := p.advance()
			name = &ast.Ident{NamePos: tok.Pos, Name: tok.Lexeme}
		} else if name, err = p.parseIdent(); err != nil {
			return nil, err
		}
		attr := &ast.Attribute{AtPos: at.Pos, Name: name}
		if attr.Args, err = p.parseAnnotationArgs(); err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
		p.skipNewlines()
	}
	return attrs, nil
}

// parseAnnotationArgs parses the optional argument list of an attribute
// or schedule directive. Arguments are restricted to names and integer
// literals; annotations carry no computation.
func (p *Parser) parseAnnotationArgs() ([]ast.Expr, error) {
	if !p.accept(source.LeftParen) {
		return nil, nil
	}
	var args []ast.Expr
	for !p.at(source.RightParen) {
		if len(args) > 0 {
			if _, err := p.expect(source.Comma); err != nil {
				return nil, err
			}
		}
		switch tok := p.cur(); tok.Kind {
		case source.Ident:
			p.advance()
			args = append(args, &ast.Ident{NamePos: tok.Pos, Name: tok.Lexeme})
		case source.IntLit:
			p.advance()
			v, err := strconv.ParseInt(tok.Lexeme, 10, 64)
			if err != nil {
				return nil, &Error{
					Position: p.fset.Position(tok.Pos),
					Expected: []string{"integer literal"},
					Found:    tok,
				}
			}
			args = append(args, &ast.IntLit{LitPos: tok.Pos, Value: v})
		default:
			return nil, p.errorExpected("identifier", "integer literal")
		}
	}
	p.advance() // ')'
	return args, nil
}

// parseSchedule parses a top-level schedule block:
//
//	schedule target {
//	    tile(16, 16)
//	    vectorize(4)
//	    memory(tile, shared)
//	}
//
// The target names the kernel the block advises.
func (p *Parser) parseSchedule() (*ast.ScheduleBlock, error) {
	kw, err := p.expect(source.Schedule)
	if err != nil {
		return nil, err
	}
	s := &ast.ScheduleBlock{SchedulePos: kw.Pos}
	if s.Target, err = p.parseIdent(); err != nil {
		return nil, err
	}
	if _, err = p.expect(source.LeftBrace); err != nil {
		return nil, err
	}
	p.skipNewlines()
	for !p.at(source.RightBrace) {
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		d := &ast.Directive{Name: name}
		if d.Args, err = p.parseAnnotationArgs(); err != nil {
			return nil, err
		}
		s.Directives = append(s.Directives, d)
		if err := p.endOfStmt(); err != nil {
			return nil, err
		}
	}
	p.advance() // '}'
	return s, nil
}

func (p *Parser) parseCompute() ([]ast.Stmt, error) {
	if _, err := p.expect(source.Compute); err != nil {
		return nil, err
	}
	return p.parseBlock()
}

func (p *Parser) parseBlock() ([]ast.Stmt, error) {
	if _, err := p.expect(source.LeftBrace); err != nil {
		return nil, err
	}
	p.skipNewlines()
	stmts := []ast.Stmt{}
	for !p.at(source.RightBrace) {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		p.skipNewlines()
	}
	p.advance() // '}'
	return stmts, nil
}

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

var binOps = map[source.Kind]ast.BinOp{
	source.Or:           ast.OpOr,
	source.And:          ast.OpAnd,
	source.Equal:        ast.OpEq,
	source.NotEqual:     ast.OpNe,
	source.Less:         ast.OpLt,
	source.Greater:      ast.OpGt,
	source.LessEqual:    ast.OpLe,
	source.GreaterEqual: ast.OpGe,
	source.Plus:         ast.OpAdd,
	source.Minus:        ast.OpSub,
	source.Star:         ast.OpMul,
	source.Slash:        ast.OpDiv,
	source.Percent:      ast.OpMod,
}

// parseExpr parses an expression by precedence climbing.
func (p *Parser) parseExpr() (ast.Expr, error) {
	return p.parseBinary(1)
}

func (p *Parser) parseBinary(minPrec int) (ast.Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := binOps[p.cur().Kind]
		if !ok || op.Precedence() < minPrec {
			return lhs, nil
		}
		p.advance()
		rhs, err := p.parseBinary(op.Precedence() + 1)
		if err != nil {
			return nil, err
		}
		lhs = &ast.BinaryExpr{X: lhs, Op: op, Y: rhs}
	}
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	switch p.cur().Kind {
	case source.Minus:
		tok := p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{OpPos: tok.Pos, Op: ast.OpNeg, X: x}, nil
	case source.Not:
		tok := p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{OpPos: tok.Pos, Op: ast.OpNot, X: x}, nil
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary expression followed by any number of
// index and member accesses.
func (p *Parser) parsePostfix() (ast.Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Kind {
		case source.LeftBracket:
			p.advance()
			var indices []ast.Expr
			for !p.at(source.RightBracket) {
				if len(indices) > 0 {
					if _, err := p.expect(source.Comma); err != nil {
						return nil, err
					}
				}
				idx, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				indices = append(indices, idx)
			}
			p.advance() // ']'
			x = &ast.IndexExpr{X: x, Indices: indices}
		case source.Dot:
			p.advance()
			sel, err := p.parseIdent()
			if err != nil {
				return nil, err
			}
			x = &ast.MemberExpr{X: x, Sel: sel}
		default:
			return x, nil
		}
	}
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	switch tok := p.cur(); tok.Kind {
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
		return &ast.IntLit{LitPos: tok.Pos, Value: v}, nil
	case source.FloatLit:
		p.advance()
		v, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			return nil, &Error{
				Position: p.fset.Position(tok.Pos),
				Expected: []string{"float literal"},
				Found:    tok,
			}
		}
		return &ast.FloatLit{LitPos: tok.Pos, Lexeme: tok.Lexeme, Value: v}, nil
	case source.True, source.False:
		p.advance()
		return &ast.BoolLit{LitPos: tok.Pos, Value: tok.Kind == source.True}, nil
	case source.Ident:
		id, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		if p.at(source.LeftParen) {
			return p.parseCall(id)
		}
		return id, nil
	case source.LeftParen:
		p.advance()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(source.RightParen); err != nil {
			return nil, err
		}
		return x, nil
	}
	return nil, p.errorExpected("expression")
}

func (p *Parser) parseCall(fun *ast.Ident) (ast.Expr, error) {
	p.advance() // '('
	call := &ast.CallExpr{Fun: fun}
	for !p.at(source.RightParen) {
		if len(call.Args) > 0 {
			if _, err := p.expect(source.Comma); err != nil {
				return nil, err
			}
		}
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
	}
	p.advance() // ')'
	return call, nil
}

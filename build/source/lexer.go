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

package source

import (
	"fmt"
	"go/token"
	"unicode"
	"unicode/utf8"
)

// Error is a lexical error at a position in the source.
// Syntactic errors always abort the whole compilation unit.
type Error struct {
	Position token.Position
	Msg      string
}

// Error returns the error with its source position.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Position, e.Msg)
}

// Lexer scans Flare source text.
type Lexer struct {
	fset *token.FileSet
	file *token.File
	src  string

	offset int // start of the token being scanned
	next   int // next byte to read
}

// NewLexer returns a lexer for one source file.
// The file is registered in fset so that token positions resolve
// to file:line:column.
func NewLexer(fset *token.FileSet, filename, src string) *Lexer {
	file := fset.AddFile(filename, -1, len(src))
	return &Lexer{fset: fset, file: file, src: src}
}

// Scan tokenizes the whole input. The returned stream always ends with
// an EOF token. Every input byte belongs to exactly one token or to a
// whitespace or comment skip; anything else is an *Error.
func (lx *Lexer) Scan() ([]Token, error) {
	var toks []Token
	for {
		tok, err := lx.scanOne()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == EOF {
			return toks, nil
		}
	}
}

func (lx *Lexer) pos() token.Pos {
	return lx.file.Pos(lx.offset)
}

func (lx *Lexer) errorf(offset int, format string, args ...any) error {
	return &Error{
		Position: lx.fset.Position(lx.file.Pos(offset)),
		Msg:      fmt.Sprintf(format, args...),
	}
}

func (lx *Lexer) peekByte() byte {
	if lx.next >= len(lx.src) {
		return 0
	}
	return lx.src[lx.next]
}

func (lx *Lexer) peekByteAt(i int) byte {
	if lx.next+i >= len(lx.src) {
		return 0
	}
	return lx.src[lx.next+i]
}

func (lx *Lexer) advance() byte {
	b := lx.src[lx.next]
	lx.next++
	if b == '\n' {
		lx.file.AddLine(lx.next)
	}
	return b
}

// skip moves past whitespace and comments. Newlines are significant
// (they terminate statements) and are not skipped here.
func (lx *Lexer) skip() error {
	for lx.next < len(lx.src) {
		switch lx.peekByte() {
		case ' ', '\t', '\r':
			lx.advance()
		case '/':
			switch lx.peekByteAt(1) {
			case '/':
				for lx.next < len(lx.src) && lx.peekByte() != '\n' {
					lx.advance()
				}
			case '*':
				if err := lx.skipBlockComment(); err != nil {
					return err
				}
			default:
				return nil
			}
		default:
			return nil
		}
	}
	return nil
}

func (lx *Lexer) skipBlockComment() error {
	opening := lx.next
	lx.advance() // '/'
	lx.advance() // '*'
	for lx.next < len(lx.src) {
		if lx.peekByte() == '*' && lx.peekByteAt(1) == '/' {
			lx.advance()
			lx.advance()
			return nil
		}
		lx.advance()
	}
	return lx.errorf(opening, "unterminated block comment")
}

func (lx *Lexer) scanOne() (Token, error) {
	if err := lx.skip(); err != nil {
		return Token{}, err
	}
	lx.offset = lx.next
	if lx.next >= len(lx.src) {
		return Token{Kind: EOF, Pos: lx.pos()}, nil
	}
	b := lx.peekByte()
	switch {
	case b == '\n':
		lx.advance()
		return lx.token(Newline), nil
	case isIdentStart(b):
		return lx.scanIdent(), nil
	case b >= '0' && b <= '9':
		return lx.scanNumber()
	case b == '"':
		return lx.scanString()
	}
	return lx.scanOperator()
}

func (lx *Lexer) token(kind Kind) Token {
	return Token{Kind: kind, Lexeme: lx.src[lx.offset:lx.next], Pos: lx.pos()}
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentPart(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}

func (lx *Lexer) scanIdent() Token {
	for lx.next < len(lx.src) && isIdentPart(lx.peekByte()) {
		lx.advance()
	}
	tok := lx.token(Ident)
	if kind, ok := keywords[tok.Lexeme]; ok {
		tok.Kind = kind
	}
	return tok
}

func (lx *Lexer) scanNumber() (Token, error) {
	for lx.next < len(lx.src) && lx.peekByte() >= '0' && lx.peekByte() <= '9' {
		lx.advance()
	}
	// A '.' followed by a digit continues a float literal. A '..' is a
	// range and belongs to the next token.
	if lx.peekByte() != '.' || lx.peekByteAt(1) < '0' || lx.peekByteAt(1) > '9' {
		return lx.token(IntLit), nil
	}
	lx.advance() // '.'
	for lx.next < len(lx.src) && lx.peekByte() >= '0' && lx.peekByte() <= '9' {
		lx.advance()
	}
	return lx.token(FloatLit), nil
}

func (lx *Lexer) scanString() (Token, error) {
	opening := lx.next
	lx.advance() // opening quote
	for lx.next < len(lx.src) {
		switch lx.peekByte() {
		case '"':
			lx.advance()
			return lx.token(StringLit), nil
		case '\n':
			return Token{}, lx.errorf(opening, "unterminated string literal")
		case '\\':
			lx.advance()
			if lx.next < len(lx.src) {
				lx.advance()
			}
		default:
			lx.advance()
		}
	}
	return Token{}, lx.errorf(opening, "unterminated string literal")
}

var operators = [...]struct {
	text string
	kind Kind
}{
	// Longest match first.
	{"==", Equal},
	{"!=", NotEqual},
	{"<=", LessEqual},
	{">=", GreaterEqual},
	{"&&", And},
	{"||", Or},
	{"+=", PlusAssign},
	{"-=", MinusAssign},
	{"*=", StarAssign},
	{"/=", SlashAssign},
	{"->", Arrow},
	{"..", DotDot},
	{"+", Plus},
	{"-", Minus},
	{"*", Star},
	{"/", Slash},
	{"%", Percent},
	{"=", Assign},
	{"<", Less},
	{">", Greater},
	{"!", Not},
	{".", Dot},
	{":", Colon},
	{"@", At},
	{",", Comma},
	{";", Semicolon},
	{"(", LeftParen},
	{")", RightParen},
	{"{", LeftBrace},
	{"}", RightBrace},
	{"[", LeftBracket},
	{"]", RightBracket},
}

func (lx *Lexer) scanOperator() (Token, error) {
	rest := lx.src[lx.next:]
	for _, op := range operators {
		if len(rest) >= len(op.text) && rest[:len(op.text)] == op.text {
			for range op.text {
				lx.advance()
			}
			return lx.token(op.kind), nil
		}
	}
	r, _ := utf8.DecodeRuneInString(rest)
	if !unicode.IsPrint(r) {
		return Token{}, lx.errorf(lx.next, "unrecognized character %q", r)
	}
	return Token{}, lx.errorf(lx.next, "unrecognized character %q", string(r))
}

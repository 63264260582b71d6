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

package source_test

import (
	"go/token"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/flare-lang/flare/build/source"
)

type lexed struct {
	Kind   source.Kind
	Lexeme string
}

func scan(t *testing.T, src string) ([]source.Token, error) {
	t.Helper()
	lx := source.NewLexer(token.NewFileSet(), "test.fl", src)
	return lx.Scan()
}

func kinds(toks []source.Token) []lexed {
	var out []lexed
	for _, tok := range toks {
		out = append(out, lexed{Kind: tok.Kind, Lexeme: tok.Lexeme})
	}
	return out
}

func TestScan(t *testing.T) {
	tests := []struct {
		src  string
		want []lexed
	}{
		{
			src: "kernel matmul<T>(A: Tensor<f32, [M, K]>)",
			want: []lexed{
				{source.Kernel, "kernel"},
				{source.Ident, "matmul"},
				{source.Less, "<"},
				{source.Ident, "T"},
				{source.Greater, ">"},
				{source.LeftParen, "("},
				{source.Ident, "A"},
				{source.Colon, ":"},
				{source.Tensor, "Tensor"},
				{source.Less, "<"},
				{source.Ident, "f32"},
				{source.Comma, ","},
				{source.LeftBracket, "["},
				{source.Ident, "M"},
				{source.Comma, ","},
				{source.Ident, "K"},
				{source.RightBracket, "]"},
				{source.Greater, ">"},
				{source.RightParen, ")"},
				{source.EOF, ""},
			},
		},
		{
			src: "sum += A[row, k] * B[k, col] // tail comment",
			want: []lexed{
				{source.Ident, "sum"},
				{source.PlusAssign, "+="},
				{source.Ident, "A"},
				{source.LeftBracket, "["},
				{source.Ident, "row"},
				{source.Comma, ","},
				{source.Ident, "k"},
				{source.RightBracket, "]"},
				{source.Star, "*"},
				{source.Ident, "B"},
				{source.LeftBracket, "["},
				{source.Ident, "k"},
				{source.Comma, ","},
				{source.Ident, "col"},
				{source.RightBracket, "]"},
				{source.EOF, ""},
			},
		},
		{
			src: "for k in 0..K { }",
			want: []lexed{
				{source.For, "for"},
				{source.Ident, "k"},
				{source.In, "in"},
				{source.IntLit, "0"},
				{source.DotDot, ".."},
				{source.Ident, "K"},
				{source.LeftBrace, "{"},
				{source.RightBrace, "}"},
				{source.EOF, ""},
			},
		},
		{
			src: "@fusion_point\nschedule f { tile(16) }",
			want: []lexed{
				{source.At, "@"},
				{source.Ident, "fusion_point"},
				{source.Newline, "\n"},
				{source.Schedule, "schedule"},
				{source.Ident, "f"},
				{source.LeftBrace, "{"},
				{source.Ident, "tile"},
				{source.LeftParen, "("},
				{source.IntLit, "16"},
				{source.RightParen, ")"},
				{source.RightBrace, "}"},
				{source.EOF, ""},
			},
		},
		{
			src: "1.5 <= x != 2 /* skipped */ && !done\n",
			want: []lexed{
				{source.FloatLit, "1.5"},
				{source.LessEqual, "<="},
				{source.Ident, "x"},
				{source.NotEqual, "!="},
				{source.IntLit, "2"},
				{source.And, "&&"},
				{source.Not, "!"},
				{source.Ident, "done"},
				{source.Newline, "\n"},
				{source.EOF, ""},
			},
		},
	}
	for _, test := range tests {
		toks, err := scan(t, test.src)
		if err != nil {
			t.Errorf("Scan(%q): unexpected error: %v", test.src, err)
			continue
		}
		if diff := cmp.Diff(test.want, kinds(toks)); diff != "" {
			t.Errorf("Scan(%q): unexpected tokens (-want +got):\n%s", test.src, diff)
		}
	}
}

func TestScanPositions(t *testing.T) {
	src := "kernel add()\ncompute { }\n"
	fset := token.NewFileSet()
	lx := source.NewLexer(fset, "add.fl", src)
	toks, err := lx.Scan()
	if err != nil {
		t.Fatalf("Scan: unexpected error: %v", err)
	}
	wantPositions := map[string]string{
		"kernel":  "add.fl:1:1",
		"add":     "add.fl:1:8",
		"compute": "add.fl:2:1",
		"{":       "add.fl:2:9",
	}
	for _, tok := range toks {
		want, ok := wantPositions[tok.Lexeme]
		if !ok {
			continue
		}
		if got := fset.Position(tok.Pos).String(); got != want {
			t.Errorf("token %q: got position %s, want %s", tok.Lexeme, got, want)
		}
	}
}

func TestScanErrors(t *testing.T) {
	tests := []struct {
		src     string
		wantMsg string
		wantPos string
	}{
		{
			src:     "let x = 1\n/* never closed\nlet y = 2",
			wantMsg: "unterminated block comment",
			wantPos: "test.fl:2:1",
		},
		{
			src:     "let s = \"oops",
			wantMsg: "unterminated string literal",
			wantPos: "test.fl:1:9",
		},
		{
			src:     "let x = $",
			wantMsg: "unrecognized character",
			wantPos: "test.fl:1:9",
		},
	}
	for _, test := range tests {
		fset := token.NewFileSet()
		lx := source.NewLexer(fset, "test.fl", test.src)
		_, err := lx.Scan()
		if err == nil {
			t.Errorf("Scan(%q): want error, got none", test.src)
			continue
		}
		lexErr, ok := err.(*source.Error)
		if !ok {
			t.Errorf("Scan(%q): error has type %T, want *source.Error", test.src, err)
			continue
		}
		if !strings.Contains(lexErr.Msg, test.wantMsg) {
			t.Errorf("Scan(%q): error %q does not mention %q", test.src, lexErr.Msg, test.wantMsg)
		}
		if got := lexErr.Position.String(); got != test.wantPos {
			t.Errorf("Scan(%q): error at %s, want %s", test.src, got, test.wantPos)
		}
	}
}

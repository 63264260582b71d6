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

package parser_test

import (
	"go/token"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/flare-lang/flare/build/ast"
	"github.com/flare-lang/flare/build/parser"
)

const matmulSrc = `
kernel matmul<T>(A: Tensor<T, [M, K]>, B: Tensor<T, [K, N]>) -> Tensor<T, [M, N]> {
    grid: [M / 16, N / 16]
    block: [16, 16]
    shared_memory {
        tile_a: T[16, 16]
        tile_b: T[16, 16]
    }
    compute {
        let row = block_idx.y * 16 + thread_idx.y
        let col = block_idx.x * 16 + thread_idx.x
        var sum: T = 0
        for kb in 0..K / 16 {
            tile_a[thread_idx.y, thread_idx.x] = A[row, kb * 16 + thread_idx.x]
            tile_b[thread_idx.y, thread_idx.x] = B[kb * 16 + thread_idx.y, col]
            sync_threads()
            for k in 0..16 {
                sum += tile_a[thread_idx.y, k] * tile_b[k, thread_idx.x]
            }
            sync_threads()
        }
        output[row, col] = sum
    }
}
`

func parseString(t *testing.T, src string) *ast.File {
	t.Helper()
	f, err := parser.Parse(token.NewFileSet(), "test.fl", src)
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	return f
}

func TestParseMatmul(t *testing.T) {
	f := parseString(t, matmulSrc)
	if len(f.Kernels) != 1 {
		t.Fatalf("got %d kernels, want 1", len(f.Kernels))
	}
	k := f.Kernels[0]
	if k.Name.Name != "matmul" {
		t.Errorf("kernel name: got %q, want %q", k.Name.Name, "matmul")
	}
	if len(k.TypeParams) != 1 || k.TypeParams[0].Name != "T" {
		t.Errorf("type params: got %v, want [T]", k.TypeParams)
	}
	if len(k.Params) != 2 {
		t.Fatalf("got %d params, want 2", len(k.Params))
	}
	tt, ok := k.Params[0].Type.(*ast.TensorType)
	if !ok {
		t.Fatalf("param A type is %T, want *ast.TensorType", k.Params[0].Type)
	}
	if len(tt.Dims) != 2 {
		t.Errorf("param A rank: got %d, want 2", len(tt.Dims))
	}
	if len(k.Grid) != 2 || len(k.Block) != 2 {
		t.Errorf("geometry: got grid %d block %d dims, want 2 and 2", len(k.Grid), len(k.Block))
	}
	if len(k.Shared) != 2 {
		t.Errorf("got %d shared buffers, want 2", len(k.Shared))
	}
	if len(k.Compute) != 5 {
		t.Errorf("got %d compute statements, want 5", len(k.Compute))
	}
}

func TestParseExprPrecedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"a + b * c", "a + b * c"},
		{"(a + b) * c", "(a + b) * c"},
		{"a / b / c", "a / b / c"},
		{"a / (b / c)", "a / (b / c)"},
		{"-a * b", "-a * b"},
		{"a < b && c < d || !e", "a < b && c < d || !e"},
		{"(a || b) && c", "(a || b) && c"},
		{"min(a + 1, b) % 2", "min(a + 1, b) % 2"},
		{"buf[i + 1, j].x", "buf[i + 1, j].x"},
	}
	for _, test := range tests {
		src := "kernel k(x: f32) {\n grid: [1]\n block: [1]\n compute { let v = " + test.src + " }\n}"
		f := parseString(t, src)
		decl := f.Kernels[0].Compute[0].(*ast.DeclStmt)
		if got := ast.PrintExpr(decl.Value); got != test.want {
			t.Errorf("parse(%q) prints as %q, want %q", test.src, got, test.want)
		}
	}
}

// TestPrintRoundTrip checks that pretty-printing a parsed file and
// parsing the result yields a structurally identical tree.
func TestPrintRoundTrip(t *testing.T) {
	srcs := []string{
		matmulSrc,
		`
kernel scale(x: Tensor<f32, [N]>, alpha: f32) -> Tensor<f32, [N]> {
    grid: [N / 256]
    block: [256]
    compute {
        let i = block_idx.x * 256 + thread_idx.x
        if i < N {
            output[i] = x[i] * alpha
        }
    }
}
`,
		`
kernel clip(x: Tensor<f32, [N]>, lo: f32, hi: f32) -> Tensor<f32, [N]> {
    grid: [N / 256]
    block: [256]
    compute {
        let i = block_idx.x * 256 + thread_idx.x
        if x[i] < lo {
            output[i] = lo
        } else {
            if x[i] > hi {
                output[i] = hi
            } else {
                output[i] = x[i]
            }
        }
    }
}
`,
		`
@fusion_point
@optimize(2)
kernel square(x: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 128]
    block: [128]
    compute {
        let i = block_idx.x * 128 + thread_idx.x
        output[i] = x[i] * x[i]
    }
}

schedule square {
    tile(16, 16)
    vectorize(4)
    unroll(8)
    threads(128)
    memory(x, shared)
    parallel
}
`,
	}
	ignorePos := cmpopts.IgnoreTypes(token.NoPos)
	for _, src := range srcs {
		first := parseString(t, src)
		printed := ast.Print(first)
		second, err := parser.Parse(token.NewFileSet(), "test.fl", printed)
		if err != nil {
			t.Fatalf("reparse of printed source failed: %v\nsource:\n%s", err, printed)
		}
		if diff := cmp.Diff(first, second, ignorePos, cmpopts.IgnoreFields(ast.File{}, "Filename")); diff != "" {
			t.Errorf("print round trip changed the tree (-first +second):\n%s", diff)
		}
		if again := ast.Print(second); again != printed {
			t.Errorf("printing is not a fixpoint:\n%s\nvs\n%s", printed, again)
		}
	}
}

func TestParseAnnotations(t *testing.T) {
	src := `
@fusion_point
@schedule(vectorized, 4)
kernel f(x: f32) {
    grid: [1]
    block: [1]
    compute { let v = x }
}

schedule f {
    tile(16, 16)
    memory(x, shared)
    parallel
}
`
	f := parseString(t, src)
	k := f.Kernels[0]
	if len(k.Attrs) != 2 {
		t.Fatalf("got %d attributes, want 2", len(k.Attrs))
	}
	if got := k.Attrs[0].Name.Name; got != "fusion_point" {
		t.Errorf("attrs[0] = %q, want %q", got, "fusion_point")
	}
	if got := len(k.Attrs[0].Args); got != 0 {
		t.Errorf("attrs[0] has %d args, want 0", got)
	}
	if got := k.Attrs[1].Name.Name; got != "schedule" {
		t.Errorf("attrs[1] = %q, want %q", got, "schedule")
	}
	if got := len(k.Attrs[1].Args); got != 2 {
		t.Fatalf("attrs[1] has %d args, want 2", got)
	}
	if lit, ok := k.Attrs[1].Args[1].(*ast.IntLit); !ok || lit.Value != 4 {
		t.Errorf("attrs[1] args[1] = %v, want integer literal 4", k.Attrs[1].Args[1])
	}

	if len(f.Schedules) != 1 {
		t.Fatalf("got %d schedule blocks, want 1", len(f.Schedules))
	}
	s := f.Schedules[0]
	if s.Target.Name != "f" {
		t.Errorf("schedule target = %q, want %q", s.Target.Name, "f")
	}
	var names []string
	for _, d := range s.Directives {
		names = append(names, d.Name.Name)
	}
	want := []string{"tile", "memory", "parallel"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("directives (-want +got):\n%s", diff)
	}
	if got := len(s.Directives[0].Args); got != 2 {
		t.Errorf("tile has %d args, want 2", got)
	}
	if id, ok := s.Directives[1].Args[1].(*ast.Ident); !ok || id.Name != "shared" {
		t.Errorf("memory args[1] = %v, want identifier shared", s.Directives[1].Args[1])
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src      string
		expected string
	}{
		{"kernel", "identifier"},
		{"kernel k(x f32) { }", ":"},
		{"kernel k() { compute { } }", "grid"},
		{"kernel k() { grid: [1]\n compute { } }", "block"},
		{"kernel k() { grid: [1]\n block: [1]\n compute { let } }", "identifier"},
		{"kernel k() { grid: [1]\n block: [1]\n compute { let x } }", "="},
		{"kernel k() { grid: [1]\n block: [1]\n compute { 1 = x } }", "assignable"},
		{"kernel k() { grid: [1]\n block: [1]\n compute { let x = * } }", "expression"},
	}
	for _, test := range tests {
		_, err := parser.Parse(token.NewFileSet(), "test.fl", test.src)
		if err == nil {
			t.Errorf("Parse(%q): want error, got none", test.src)
			continue
		}
		parseErr, ok := err.(*parser.Error)
		if !ok {
			t.Errorf("Parse(%q): error has type %T, want *parser.Error", test.src, err)
			continue
		}
		if !strings.Contains(strings.Join(parseErr.Expected, " "), test.expected) {
			t.Errorf("Parse(%q): error %q does not expect %q", test.src, parseErr, test.expected)
		}
	}
}

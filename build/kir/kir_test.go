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

package kir_test

import (
	"go/token"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/flare-lang/flare/build/checker"
	"github.com/flare-lang/flare/build/kir"
	"github.com/flare-lang/flare/build/parser"
	"github.com/flare-lang/flare/build/shape"
	"github.com/flare-lang/flare/build/types"
)

var testLimits = checker.Limits{
	MaxSharedMemoryBytes: 49152,
	MaxThreadsPerBlock:   1024,
	SIMDWidth:            32,
}

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

func buildInstance(t *testing.T, src, kernel string, subs types.Subs, binds shape.Bindings) *kir.Graph {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.Parse(fset, "test.fl", src)
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	unit := checker.Check(fset, f, testLimits)
	if len(unit.Errs) > 0 {
		t.Fatalf("Check: unexpected errors: %v", unit.Errs)
	}
	inst, err := unit.Instantiate(kernel, subs, binds)
	if err != nil {
		t.Fatalf("Instantiate: unexpected error: %v", err)
	}
	g, err := kir.Build(inst)
	if err != nil {
		t.Fatalf("Build: unexpected error: %v", err)
	}
	return g
}

func TestBuildMatmul(t *testing.T) {
	g := buildInstance(t, matmulSrc, "matmul",
		types.Subs{"T": types.F32}, shape.Bindings{"M": 64, "N": 64, "K": 64})

	if g.Output == nil {
		t.Fatal("graph has no output buffer")
	}
	if diff := cmp.Diff([]int64{64, 64}, g.Output.Dims); diff != "" {
		t.Errorf("output dims mismatch (-want +got):\n%s", diff)
	}
	if g.Output.Kind != types.F32 {
		t.Errorf("output kind: got %s, want f32", g.Output.Kind)
	}
	if len(g.Params) != 2 || len(g.Shared) != 2 {
		t.Fatalf("got %d params and %d shared buffers, want 2 and 2", len(g.Params), len(g.Shared))
	}

	fp := g.Footprint()
	if fp.SharedBytes != 2048 {
		t.Errorf("shared footprint: got %d bytes, want 2048", fp.SharedBytes)
	}
	if diff := cmp.Diff([3]int64{4, 4, 1}, fp.Grid); diff != "" {
		t.Errorf("grid mismatch (-want +got):\n%s", diff)
	}

	// let row, let col, var sum, the outer loop, the output store.
	if len(g.Body) != 5 {
		t.Fatalf("got %d body statements, want 5", len(g.Body))
	}
	loop, ok := g.Body[3].(*kir.Loop)
	if !ok {
		t.Fatalf("body[3] is %T, want *kir.Loop", g.Body[3])
	}
	// Two tile stores, a barrier, the inner loop, a trailing barrier.
	if len(loop.Body) != 5 {
		t.Fatalf("got %d loop body statements, want 5", len(loop.Body))
	}
	if _, ok := loop.Body[2].(*kir.Barrier); !ok {
		t.Errorf("loop body[2] is %T, want *kir.Barrier", loop.Body[2])
	}
	if _, ok := loop.Body[4].(*kir.Barrier); !ok {
		t.Errorf("loop body[4] is %T, want *kir.Barrier", loop.Body[4])
	}

	store, ok := g.Body[4].(*kir.Store)
	if !ok {
		t.Fatalf("body[4] is %T, want *kir.Store", g.Body[4])
	}
	node := g.Nodes[store.Node]
	if node.Buffer != "output" || node.Space != kir.Global {
		t.Errorf("final store targets %s in space %d, want output in global", node.Buffer, node.Space)
	}
	// A store to the output is terminal.
	for _, n := range g.Nodes {
		for _, arg := range n.Args {
			if arg == node.ID {
				t.Errorf("node %d depends on the terminal output store", n.ID)
			}
		}
	}

	if len(g.Guards) == 0 {
		t.Error("expected runtime guards for dynamic indices")
	}
}

func TestBuildInsertsBarrierBeforeRacyRead(t *testing.T) {
	g := buildInstance(t, `
kernel rev(x: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    shared_memory {
        buf: [64]
    }
    compute {
        buf[thread_idx.x] = x[block_idx.x * 64 + thread_idx.x]
        output[block_idx.x * 64 + thread_idx.x] = buf[63 - thread_idx.x]
    }
}
`, "rev", nil, shape.Bindings{"N": 128})

	// Store to shared, inserted barrier, store to output.
	if len(g.Body) != 3 {
		t.Fatalf("got %d body statements, want 3", len(g.Body))
	}
	if _, ok := g.Body[1].(*kir.Barrier); !ok {
		t.Errorf("body[1] is %T, want inserted *kir.Barrier", g.Body[1])
	}
}

func TestBuildScalarParam(t *testing.T) {
	g := buildInstance(t, `
kernel axpy(a: f32, x: Tensor<f32, [N]>, y: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    compute {
        let i = block_idx.x * 64 + thread_idx.x
        output[i] = a * x[i] + y[i]
    }
}
`, "axpy", nil, shape.Bindings{"N": 256})

	if len(g.Scalars) != 1 || g.Scalars[0].Name != "a" || g.Scalars[0].Kind != types.F32 {
		t.Errorf("scalar params: got %v, want [a f32]", g.Scalars)
	}
	if len(g.Params) != 2 {
		t.Errorf("got %d tensor params, want 2", len(g.Params))
	}
	if fp := g.Footprint(); fp.SharedBytes != 0 {
		t.Errorf("shared footprint: got %d, want 0", fp.SharedBytes)
	}
}

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

package metal_test

import (
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/flare-lang/flare/build/checker"
	"github.com/flare-lang/flare/build/kir"
	"github.com/flare-lang/flare/build/parser"
	"github.com/flare-lang/flare/build/shape"
	"github.com/flare-lang/flare/build/types"
	"github.com/flare-lang/flare/codegen"
	"github.com/flare-lang/flare/codegen/metal"
)

func lower(t *testing.T, src, kernel string, subs types.Subs, binds shape.Bindings) *codegen.Artifact {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.Parse(fset, "test.fl", src)
	require.NoError(t, err)
	limits := checker.Limits{MaxSharedMemoryBytes: 32768, MaxThreadsPerBlock: 1024, SIMDWidth: 32}
	unit := checker.Check(fset, f, limits)
	require.Empty(t, unit.Errs)
	inst, err := unit.Instantiate(kernel, subs, binds)
	require.NoError(t, err)
	g, err := kir.Build(inst)
	require.NoError(t, err)
	art, err := metal.New().Lower(g, codegen.Target{Limits: limits})
	require.NoError(t, err)
	return art
}

func TestLowerMatmul(t *testing.T) {
	art := lower(t, `
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
`, "matmul", types.Subs{"T": types.F32}, shape.Bindings{"M": 64, "N": 64, "K": 64})

	assert.Equal(t, "metal", art.Backend)
	assert.Contains(t, art.Source, "#include <metal_stdlib>")
	assert.Contains(t, art.Source, "kernel void matmul_T_f32_K_64_M_64_N_64(")
	assert.Contains(t, art.Source, "device const float* A [[buffer(0)]]")
	assert.Contains(t, art.Source, "device const float* B [[buffer(1)]]")
	assert.Contains(t, art.Source, "device float* output [[buffer(2)]]")
	assert.Contains(t, art.Source, "uint3 tgpig [[threadgroup_position_in_grid]]")
	assert.Contains(t, art.Source, "uint3 tpitg [[thread_position_in_threadgroup]]")
	assert.Contains(t, art.Source, "threadgroup float tile_a[256];")
	assert.Contains(t, art.Source, "threadgroup_barrier(mem_flags::mem_threadgroup);")
	assert.Contains(t, art.Source, "tgpig.y")
	assert.Contains(t, art.Source, "float sum = 0.0f;")
	assert.Equal(t, [3]int64{4, 4, 1}, art.Launch.Grid)
	assert.Equal(t, [3]int64{16, 16, 1}, art.Launch.Block)
	assert.Equal(t, int64(2048), art.Launch.SharedMemBytes)
}

func TestLowerScalarBinding(t *testing.T) {
	art := lower(t, `
kernel axpy(a: f32, x: Tensor<f32, [N]>, y: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    compute {
        let i = block_idx.x * 64 + thread_idx.x
        output[i] = a * x[i] + y[i]
    }
}
`, "axpy", nil, shape.Bindings{"N": 256})

	// Scalars bind after the tensors: x=0, y=1, output=2, a=3.
	assert.Contains(t, art.Source, "constant float& a [[buffer(3)]]")
	assert.Contains(t, art.Source, "uint i = ")
}

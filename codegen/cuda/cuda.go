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

// Package cuda lowers IR graphs to CUDA C++ kernel source.
package cuda

import (
	"fmt"
	"strings"

	"github.com/flare-lang/flare/build/kir"
	"github.com/flare-lang/flare/build/types"
	"github.com/flare-lang/flare/codegen"
)

// Backend lowers IR graphs to CUDA source.
type Backend struct{}

// New returns the CUDA backend.
func New() *Backend { return &Backend{} }

// Name implements codegen.Backend.
func (*Backend) Name() string { return "cuda" }

// Lower implements codegen.Backend.
func (b *Backend) Lower(g *kir.Graph, target codegen.Target) (*codegen.Artifact, error) {
	d := dialect{}
	symbol := codegen.Symbol(g.Key)

	var sb strings.Builder
	params := make([]string, 0, len(g.Params)+len(g.Scalars)+1)
	for _, buf := range g.Params {
		typ, err := d.ScalarType(buf.Kind)
		if err != nil {
			return nil, err
		}
		params = append(params, fmt.Sprintf("const %s* __restrict__ %s", typ, buf.Name))
	}
	if g.Output != nil {
		typ, err := d.ScalarType(g.Output.Kind)
		if err != nil {
			return nil, err
		}
		params = append(params, fmt.Sprintf("%s* __restrict__ %s", typ, g.Output.Name))
	}
	for _, p := range g.Scalars {
		typ, err := d.ScalarType(p.Kind)
		if err != nil {
			return nil, err
		}
		params = append(params, fmt.Sprintf("%s %s", typ, p.Name))
	}
	fmt.Fprintf(&sb, "extern \"C\" __global__ void %s(%s) {\n", symbol, strings.Join(params, ", "))

	for _, buf := range g.Shared {
		typ, err := d.ScalarType(buf.Kind)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, "    __shared__ %s %s[%d];\n", typ, buf.Name, buf.Len())
	}

	body, err := codegen.NewWriter(b.Name(), g, d, target.Bounds).WriteBody()
	if err != nil {
		return nil, err
	}
	sb.WriteString(body)
	sb.WriteString("}\n")

	return &codegen.Artifact{
		Kernel:  g.Key,
		Backend: b.Name(),
		Symbol:  symbol,
		Source:  sb.String(),
		Launch:  codegen.LaunchFor(g),
		Guards:  g.Guards,
	}, nil
}

type dialect struct{}

func (dialect) ScalarType(k types.ScalarKind) (string, error) {
	switch k {
	case types.Bool:
		return "bool", nil
	case types.I32:
		return "int", nil
	case types.I64:
		return "long long", nil
	case types.U32:
		return "unsigned int", nil
	case types.U64:
		return "unsigned long long", nil
	case types.F32:
		return "float", nil
	case types.F64:
		return "double", nil
	}
	return "", codegen.Unsupportedf("cuda", "scalar kind %s", k)
}

var coords = map[kir.Builtin]string{
	kir.ThreadIdx: "threadIdx",
	kir.BlockIdx:  "blockIdx",
	kir.BlockDim:  "blockDim",
}

func (dialect) Coord(b kir.Builtin, axis int) string {
	return coords[b] + "." + string("xyz"[axis])
}

func (dialect) Call(fn string, kind types.ScalarKind, args []string) string {
	name := fn
	switch fn {
	case "sqrt", "exp", "log":
		if kind == types.F32 {
			name = fn + "f"
		}
	case "abs":
		if kind.IsFloat() {
			name = "fabs"
			if kind == types.F32 {
				name = "fabsf"
			}
		}
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(args, ", "))
}

func (dialect) CastInt(expr string) string { return fmt.Sprintf("(int)(%s)", expr) }

func (dialect) Barrier() string { return "__syncthreads();" }

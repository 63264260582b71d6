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

// Package metal lowers IR graphs to Metal Shading Language kernel
// source. Shared buffers become threadgroup arrays; tensor arguments
// bind to sequential [[buffer(n)]] slots in signature order.
package metal

import (
	"fmt"
	"strings"

	"github.com/flare-lang/flare/build/kir"
	"github.com/flare-lang/flare/build/types"
	"github.com/flare-lang/flare/codegen"
)

// Backend lowers IR graphs to MSL source.
type Backend struct{}

// New returns the Metal backend.
func New() *Backend { return &Backend{} }

// Name implements codegen.Backend.
func (*Backend) Name() string { return "metal" }

// Lower implements codegen.Backend.
func (b *Backend) Lower(g *kir.Graph, target codegen.Target) (*codegen.Artifact, error) {
	d := dialect{}
	symbol := codegen.Symbol(g.Key)

	var sb strings.Builder
	sb.WriteString("#include <metal_stdlib>\nusing namespace metal;\n\n")

	slot := 0
	var params []string
	for _, buf := range g.Params {
		typ, err := d.ScalarType(buf.Kind)
		if err != nil {
			return nil, err
		}
		params = append(params, fmt.Sprintf("device const %s* %s [[buffer(%d)]]", typ, buf.Name, slot))
		slot++
	}
	if g.Output != nil {
		typ, err := d.ScalarType(g.Output.Kind)
		if err != nil {
			return nil, err
		}
		params = append(params, fmt.Sprintf("device %s* %s [[buffer(%d)]]", typ, g.Output.Name, slot))
		slot++
	}
	for _, p := range g.Scalars {
		typ, err := d.ScalarType(p.Kind)
		if err != nil {
			return nil, err
		}
		params = append(params, fmt.Sprintf("constant %s& %s [[buffer(%d)]]", typ, p.Name, slot))
		slot++
	}
	params = append(params,
		"uint3 tgpig [[threadgroup_position_in_grid]]",
		"uint3 tpitg [[thread_position_in_threadgroup]]",
		"uint3 tptg [[threads_per_threadgroup]]",
	)

	fmt.Fprintf(&sb, "kernel void %s(\n    %s)\n{\n", symbol, strings.Join(params, ",\n    "))

	for _, buf := range g.Shared {
		typ, err := d.ScalarType(buf.Kind)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, "    threadgroup %s %s[%d];\n", typ, buf.Name, buf.Len())
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
		return "long", nil
	case types.U32:
		return "uint", nil
	case types.U64:
		return "ulong", nil
	case types.F32:
		return "float", nil
	case types.F64:
		// MSL has no 64-bit floating point type.
		return "", codegen.Unsupportedf("metal", "scalar kind %s", k)
	}
	return "", codegen.Unsupportedf("metal", "scalar kind %s", k)
}

var coords = map[kir.Builtin]string{
	kir.ThreadIdx: "tpitg",
	kir.BlockIdx:  "tgpig",
	kir.BlockDim:  "tptg",
}

func (dialect) Coord(b kir.Builtin, axis int) string {
	return coords[b] + "." + string("xyz"[axis])
}

func (dialect) Call(fn string, kind types.ScalarKind, args []string) string {
	name := fn
	if fn == "abs" && kind.IsFloat() {
		name = "fabs"
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(args, ", "))
}

func (dialect) CastInt(expr string) string { return fmt.Sprintf("int(%s)", expr) }

func (dialect) Barrier() string { return "threadgroup_barrier(mem_flags::mem_threadgroup);" }

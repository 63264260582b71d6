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

package fusion_test

import (
	"go/token"
	"sort"
	"testing"

	"github.com/flare-lang/flare/build/checker"
	"github.com/flare-lang/flare/build/fusion"
	"github.com/flare-lang/flare/build/kir"
	"github.com/flare-lang/flare/build/parser"
	"github.com/flare-lang/flare/build/shape"
)

var testLimits = checker.Limits{
	MaxSharedMemoryBytes: 49152,
	MaxThreadsPerBlock:   1024,
	SIMDWidth:            32,
}

// buildGraphs compiles every kernel in src at N=128.
func buildGraphs(t *testing.T, src string) map[string]*kir.Graph {
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
	out := map[string]*kir.Graph{}
	for name := range unit.Kernels.Keys() {
		inst, err := unit.Instantiate(name, nil, shape.Bindings{"N": 128})
		if err != nil {
			t.Fatalf("Instantiate %s: unexpected error: %v", name, err)
		}
		g, err := kir.Build(inst)
		if err != nil {
			t.Fatalf("Build %s: unexpected error: %v", name, err)
		}
		out[name] = g
	}
	return out
}

const pipelineSrc = `
kernel square(x: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    compute {
        let i = block_idx.x * 64 + thread_idx.x
        output[i] = x[i] * x[i]
    }
}

kernel scale(y: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    compute {
        let i = block_idx.x * 64 + thread_idx.x
        output[i] = y[i] * 2.0
    }
}
`

func TestFuseProducerConsumer(t *testing.T) {
	graphs := buildGraphs(t, pipelineSrc)
	producer, consumer := graphs["square"], graphs["scale"]
	edges := []fusion.Edge{{Producer: producer.Key, Consumer: consumer.Key, Param: "y"}}

	fused := fusion.Fuse([]*kir.Graph{producer, consumer}, edges, testLimits)
	if len(fused) != 1 {
		t.Fatalf("got %d graphs, want 1", len(fused))
	}
	g := fused[0]

	// The store/load pair disappears, along with the address
	// arithmetic that fed only those two nodes.
	sum := len(producer.Nodes) + len(consumer.Nodes)
	if len(g.Nodes) > sum-2 {
		t.Errorf("node count: got %d, want at most %d", len(g.Nodes), sum-2)
	}
	for _, n := range g.Nodes {
		if n.Op == kir.OpLoad && n.Buffer == "y" {
			t.Error("fused graph still loads the intermediate tensor")
		}
	}
	assertNoDeadNodes(t, g)
	if len(g.Params) != 1 || g.Params[0].Name != "x" {
		t.Errorf("fused params: got %v, want [x]", g.Params)
	}
	if g.Output == nil || g.Output.Dims[0] != 128 {
		t.Errorf("fused output: got %v", g.Output)
	}

	fp := g.Footprint()
	sharedSum := producer.Footprint().SharedBytes + consumer.Footprint().SharedBytes
	if fp.SharedBytes > sharedSum {
		t.Errorf("fused shared footprint %d exceeds constituent sum %d", fp.SharedBytes, sharedSum)
	}
	if fp.Block != producer.Footprint().Block {
		t.Errorf("fused block %v incompatible with constituent block %v", fp.Block, producer.Footprint().Block)
	}

	// The colliding consumer local is renamed.
	found := false
	for _, stmt := range g.Body {
		if decl, ok := stmt.(*kir.Decl); ok && decl.Name == "i_f" {
			found = true
		}
	}
	if !found {
		t.Error("consumer local i was not renamed in the fused body")
	}
}

func TestFuseChainCollapses(t *testing.T) {
	graphs := buildGraphs(t, pipelineSrc+`
kernel shift(z: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    compute {
        let i = block_idx.x * 64 + thread_idx.x
        output[i] = z[i] + 1.0
    }
}
`)
	edges := []fusion.Edge{
		{Producer: graphs["square"].Key, Consumer: graphs["scale"].Key, Param: "y"},
		{Producer: graphs["scale"].Key, Consumer: graphs["shift"].Key, Param: "z"},
	}
	fused := fusion.Fuse(
		[]*kir.Graph{graphs["square"], graphs["scale"], graphs["shift"]}, edges, testLimits)
	if len(fused) != 1 {
		t.Fatalf("got %d graphs, want 1", len(fused))
	}
	if got := len(fused[0].Params); got != 1 {
		t.Errorf("fused chain params: got %d, want 1", got)
	}
}

func TestFuseRejectsEscapingIntermediate(t *testing.T) {
	graphs := buildGraphs(t, pipelineSrc+`
kernel shift(z: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    compute {
        let i = block_idx.x * 64 + thread_idx.x
        output[i] = z[i] + 1.0
    }
}
`)
	// square's output feeds two consumers, so it escapes.
	edges := []fusion.Edge{
		{Producer: graphs["square"].Key, Consumer: graphs["scale"].Key, Param: "y"},
		{Producer: graphs["square"].Key, Consumer: graphs["shift"].Key, Param: "z"},
	}
	fused := fusion.Fuse(
		[]*kir.Graph{graphs["square"], graphs["scale"], graphs["shift"]}, edges, testLimits)
	if len(fused) != 3 {
		t.Errorf("got %d graphs, want 3 (no legal fusion)", len(fused))
	}
}

func TestFuseRejectsIrreconcilableGeometry(t *testing.T) {
	graphs := buildGraphs(t, `
kernel square(x: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    compute {
        let i = block_idx.x * 64 + thread_idx.x
        output[i] = x[i] * x[i]
    }
}

kernel scale(y: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 48]
    block: [48]
    compute {
        let i = block_idx.x * 48 + thread_idx.x
        output[i] = y[i] * 2.0
    }
}
`)
	edges := []fusion.Edge{{
		Producer: graphs["square"].Key, Consumer: graphs["scale"].Key, Param: "y",
	}}
	fused := fusion.Fuse([]*kir.Graph{graphs["square"], graphs["scale"]}, edges, testLimits)
	if len(fused) != 2 {
		t.Errorf("got %d graphs, want 2 (geometry not reconcilable)", len(fused))
	}
}

// A block that divides the other's is still not fusible: the merged
// kernel would launch the narrower constituent's body with threads it
// never declared.
func TestFuseRejectsMultipleGeometry(t *testing.T) {
	graphs := buildGraphs(t, `
kernel square(x: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 128]
    block: [128]
    compute {
        let i = block_idx.x * 128 + thread_idx.x
        output[i] = x[i] * x[i]
    }
}

kernel scale(y: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    compute {
        let i = block_idx.x * 64 + thread_idx.x
        output[i] = y[i] * 2.0
    }
}
`)
	edges := []fusion.Edge{{
		Producer: graphs["square"].Key, Consumer: graphs["scale"].Key, Param: "y",
	}}
	fused := fusion.Fuse([]*kir.Graph{graphs["square"], graphs["scale"]}, edges, testLimits)
	if len(fused) != 2 {
		t.Errorf("got %d graphs, want 2 (geometry multiple, not equal)", len(fused))
	}
}

// Two producers feeding different parameters of one consumer both
// fuse: after the first merge the second edge follows the consumer
// into the merged graph.
func TestFuseJoinsTwoProducers(t *testing.T) {
	graphs := buildGraphs(t, `
kernel square(x: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    compute {
        let i = block_idx.x * 64 + thread_idx.x
        output[i] = x[i] * x[i]
    }
}

kernel cube(w: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    compute {
        let i = block_idx.x * 64 + thread_idx.x
        output[i] = w[i] * w[i] * w[i]
    }
}

kernel add(a: Tensor<f32, [N]>, b: Tensor<f32, [N]>) -> Tensor<f32, [N]> {
    grid: [N / 64]
    block: [64]
    compute {
        let i = block_idx.x * 64 + thread_idx.x
        output[i] = a[i] + b[i]
    }
}
`)
	edges := []fusion.Edge{
		{Producer: graphs["square"].Key, Consumer: graphs["add"].Key, Param: "a"},
		{Producer: graphs["cube"].Key, Consumer: graphs["add"].Key, Param: "b"},
	}
	fused := fusion.Fuse(
		[]*kir.Graph{graphs["square"], graphs["cube"], graphs["add"]}, edges, testLimits)
	if len(fused) != 1 {
		t.Fatalf("got %d graphs, want 1", len(fused))
	}
	g := fused[0]
	names := make([]string, len(g.Params))
	for i, p := range g.Params {
		names[i] = p.Name
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "w" || names[1] != "x" {
		t.Errorf("fused params: got %v, want [w x]", names)
	}
	for _, n := range g.Nodes {
		if n.Op == kir.OpLoad && (n.Buffer == "a" || n.Buffer == "b") {
			t.Errorf("fused graph still loads intermediate tensor %s", n.Buffer)
		}
	}
	assertNoDeadNodes(t, g)
}

// assertNoDeadNodes checks that every value node is reachable from a
// statement: merges must not leave orphaned address arithmetic behind.
func assertNoDeadNodes(t *testing.T, g *kir.Graph) {
	t.Helper()
	live := map[int]bool{}
	var mark func(id int)
	mark = func(id int) {
		if id < 0 || live[id] {
			return
		}
		live[id] = true
		for _, arg := range g.Nodes[id].Args {
			mark(arg)
		}
	}
	var walk func(stmts []kir.Stmt)
	walk = func(stmts []kir.Stmt) {
		for _, stmt := range stmts {
			switch stmt := stmt.(type) {
			case *kir.Decl:
				mark(stmt.Init)
			case *kir.Assign:
				mark(stmt.Value)
			case *kir.Store:
				mark(stmt.Node)
			case *kir.Loop:
				mark(stmt.From)
				mark(stmt.To)
				walk(stmt.Body)
			case *kir.If:
				mark(stmt.Cond)
				walk(stmt.Then)
				walk(stmt.Else)
			case *kir.Barrier:
				mark(stmt.Node)
			}
		}
	}
	walk(g.Body)
	for _, n := range g.Nodes {
		if !live[n.ID] {
			t.Errorf("node %d (%v on %q) is unreachable from the body", n.ID, n.Op, n.Buffer)
		}
	}
}

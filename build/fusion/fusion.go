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

// Package fusion merges producer-consumer kernel pairs into single
// kernels, eliding the intermediate global-memory round trip.
//
// Fusion is a single-writer stage: it runs after every graph of the
// unit is built and rewrites the shared graph set as one ordered
// algorithm. Finding no legal fusion is not an error; the unfused
// graphs pass through unchanged.
package fusion

import (
	"github.com/flare-lang/flare/base/ordered"
	"github.com/flare-lang/flare/build/checker"
	"github.com/flare-lang/flare/build/kir"
)

// Edge is one host-level data-flow fact: the producer instance's
// output tensor feeds the named tensor parameter of the consumer
// instance, with no other consumer of the intermediate.
type Edge struct {
	Producer string // producer graph key
	Consumer string // consumer graph key
	Param    string // consumer parameter fed by the producer output
}

// Fuse rewrites the graph set, merging every legal producer-consumer
// pair. Deeper chains fuse first so the longest sequences of round
// trips collapse before resources run out; footprints are re-checked
// after every merge. The returned slice preserves the relative order
// of the surviving graphs.
func Fuse(graphs []*kir.Graph, edges []Edge, limits checker.Limits) []*kir.Graph {
	set := ordered.NewMap[string, *kir.Graph]()
	for _, g := range graphs {
		set.Store(g.Key, g)
	}
	work := append([]Edge(nil), edges...)
	for {
		candidate := -1
		depth := -1
		for i, e := range work {
			producer, pok := set.Load(e.Producer)
			consumer, cok := set.Load(e.Consumer)
			if !pok || !cok {
				continue
			}
			if !legal(producer, consumer, e, work, limits) {
				continue
			}
			if d := chainDepth(e, work); d > depth {
				depth = d
				candidate = i
			}
		}
		if candidate < 0 {
			break
		}
		e := work[candidate]
		producer, _ := set.Load(e.Producer)
		consumer, _ := set.Load(e.Consumer)
		merged := merge(producer, consumer, e.Param)
		set.Delete(e.Producer)
		set.Delete(e.Consumer)
		set.Store(merged.Key, merged)

		// Re-point every surviving edge endpoint that references a
		// merged constituent. A second producer feeding another
		// parameter of the same consumer keeps its edge this way and
		// is re-evaluated against the merged graph.
		next := work[:0]
		for i, other := range work {
			if i == candidate {
				continue
			}
			if other.Producer == e.Producer || other.Producer == e.Consumer {
				other.Producer = merged.Key
			}
			if other.Consumer == e.Producer || other.Consumer == e.Consumer {
				other.Consumer = merged.Key
			}
			next = append(next, other)
		}
		work = next
	}
	out := make([]*kir.Graph, 0, set.Size())
	for g := range set.Values() {
		out = append(out, g)
	}
	return out
}

// chainDepth counts the longest producer-consumer chain through an
// edge: upstream depth plus downstream depth plus the edge itself.
func chainDepth(e Edge, edges []Edge) int {
	return upstream(e.Producer, edges, 0) + 1 + downstream(e.Consumer, edges, 0)
}

func upstream(key string, edges []Edge, hops int) int {
	if hops > len(edges) {
		return hops
	}
	best := 0
	for _, e := range edges {
		if e.Consumer == key {
			if d := upstream(e.Producer, edges, hops+1) + 1; d > best {
				best = d
			}
		}
	}
	return best
}

func downstream(key string, edges []Edge, hops int) int {
	if hops > len(edges) {
		return hops
	}
	best := 0
	for _, e := range edges {
		if e.Producer == key {
			if d := downstream(e.Consumer, edges, hops+1) + 1; d > best {
				best = d
			}
		}
	}
	return best
}

// legal applies the fusion legality rule: identical geometry,
// combined shared memory within the target limit, sole use of the
// intermediate, and a forwardable store/load pair.
func legal(producer, consumer *kir.Graph, e Edge, edges []Edge, limits checker.Limits) bool {
	if producer == consumer {
		return false
	}
	// Geometry must match exactly. A constituent whose extents divide
	// the other's would need a thread guard around its statements, and
	// the forwarded value is emitted at the consumer's use sites where
	// the producer's index arithmetic still assumes its own extents;
	// until that is guarded, multiples stay unfused.
	if producer.Block != consumer.Block || producer.Grid != consumer.Grid {
		return false
	}
	combined := producer.Footprint().SharedBytes + consumer.Footprint().SharedBytes
	if limits.MaxSharedMemoryBytes > 0 && combined > limits.MaxSharedMemoryBytes {
		return false
	}
	// The intermediate escapes if any other edge consumes the same
	// producer output.
	for _, other := range edges {
		if other.Producer == e.Producer && other != e {
			return false
		}
	}
	if _, ok := soleOutputStore(producer); !ok {
		return false
	}
	if _, ok := soleParamLoad(consumer, e.Param); !ok {
		return false
	}
	return true
}

// soleOutputStore returns the producer's single top-level store to
// its output buffer. Producers storing the output under control flow
// or more than once cannot forward a value.
func soleOutputStore(g *kir.Graph) (*kir.Store, bool) {
	if g.Output == nil {
		return nil, false
	}
	var found *kir.Store
	for _, stmt := range g.Body {
		store, ok := stmt.(*kir.Store)
		if !ok {
			continue
		}
		if g.Nodes[store.Node].Buffer != g.Output.Name {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = store
	}
	if found == nil {
		return nil, false
	}
	// Any additional output store nested in control flow disqualifies.
	if countStores(g.Body, g.Output.Name, g) != 1 {
		return nil, false
	}
	return found, true
}

func countStores(stmts []kir.Stmt, buffer string, g *kir.Graph) int {
	n := 0
	for _, stmt := range stmts {
		switch stmt := stmt.(type) {
		case *kir.Store:
			if g.Nodes[stmt.Node].Buffer == buffer {
				n++
			}
		case *kir.Loop:
			n += countStores(stmt.Body, buffer, g)
		case *kir.If:
			n += countStores(stmt.Then, buffer, g)
			n += countStores(stmt.Else, buffer, g)
		}
	}
	return n
}

// soleParamLoad returns the consumer's single load of the fused
// parameter.
func soleParamLoad(g *kir.Graph, param string) (*kir.Node, bool) {
	var found *kir.Node
	for _, n := range g.Nodes {
		if n.Op != kir.OpLoad || n.Buffer != param {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = n
	}
	return found, found != nil
}

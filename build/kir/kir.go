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

// Package kir defines the kernel IR: one data-dependency graph per
// kernel instantiation. Values are nodes referenced by index; data
// dependencies are the Args edges. Program order and control flow
// live in the structured Body, which references value nodes.
//
// The graph is what fusion rewrites and what the backends lower.
package kir

import "github.com/flare-lang/flare/build/types"

// Op is the kind of an IR value node.
type Op uint8

// IR node kinds.
const (
	// OpConst is a literal constant. Lit holds its source text.
	OpConst Op = iota
	// OpCoord reads one component of a builtin thread coordinate.
	OpCoord
	// OpLocal reads a local variable or a scalar kernel parameter.
	OpLocal
	// OpArith is a unary or binary arithmetic, comparison or logical
	// operation over its Args.
	OpArith
	// OpCall is a builtin function call such as min or sqrt.
	OpCall
	// OpIndex linearizes a multi-dimensional index into a flat
	// element offset, clamping the axes listed in Clamp.
	OpIndex
	// OpLoad reads one buffer element. Args[0] is the OpIndex node.
	OpLoad
	// OpStore writes one buffer element. Args[0] is the OpIndex
	// node, Args[1] the stored value. Stores to the output buffer
	// are terminal: nothing in the same graph depends on them.
	OpStore
	// OpBarrier is a block-wide synchronization point.
	OpBarrier
)

// ArithOp is the operator of an OpArith node.
type ArithOp uint8

// Arithmetic, comparison and logical operators. Neg and Not are
// unary; the rest are binary.
const (
	Add ArithOp = iota
	Sub
	Mul
	Div
	Mod
	Eq
	Ne
	Lt
	Gt
	Le
	Ge
	And
	Or
	Neg
	Not
)

// Builtin identifies a thread coordinate read by an OpCoord node.
type Builtin uint8

// Thread coordinates.
const (
	ThreadIdx Builtin = iota
	BlockIdx
	BlockDim
)

// Space is the memory space of a buffer.
type Space uint8

// Memory spaces.
const (
	Global Space = iota
	Shared
)

// Node is one IR value. Nodes are identified by their position in
// Graph.Nodes; Args holds the IDs of the operand nodes.
type Node struct {
	ID   int
	Op   Op
	Kind types.ScalarKind
	Args []int

	Lit    string  // OpConst
	Coord  Builtin // OpCoord
	Axis   int     // OpCoord component: 0=x 1=y 2=z
	Arith  ArithOp // OpArith
	Fn     string  // OpCall
	Buffer string  // OpIndex, OpLoad, OpStore
	Space  Space   // OpLoad, OpStore

	// OpIndex payload: the concrete extent of each axis and whether
	// the axis index must be clamped into range at runtime.
	Dims  []int64
	Clamp []bool
}

// Buffer is a tensor-valued storage location: a global parameter, the
// output, or a shared-memory tile.
type Buffer struct {
	Name  string
	Kind  types.ScalarKind
	Dims  []int64
	Space Space
}

// Len returns the element count of the buffer.
func (b Buffer) Len() int64 {
	n := int64(1)
	for _, d := range b.Dims {
		n *= d
	}
	return n
}

// Bytes returns the byte footprint of the buffer.
func (b Buffer) Bytes() int64 { return b.Len() * b.Kind.SizeBytes() }

// ScalarParam is a scalar kernel argument.
type ScalarParam struct {
	Name string
	Kind types.ScalarKind
}

// Guard records one runtime-guarded buffer access for artifact
// reporting.
type Guard struct {
	Buffer string
	Axis   int
}

type (
	// Stmt is one step of the structured kernel body.
	Stmt interface {
		stmt()
	}

	// Decl declares a local variable. Init is the value node of the
	// initializer, or -1 when the variable starts undefined.
	Decl struct {
		Name string
		Kind types.ScalarKind
		Init int
	}

	// Assign overwrites a local variable.
	Assign struct {
		Name  string
		Value int
	}

	// Store executes an OpStore node.
	Store struct {
		Node int
	}

	// Loop is a counted loop over [From, To).
	Loop struct {
		Var  string
		Kind types.ScalarKind
		From int
		To   int
		Body []Stmt
	}

	// If is a conditional.
	If struct {
		Cond int
		Then []Stmt
		Else []Stmt
	}

	// Barrier executes an OpBarrier node.
	Barrier struct {
		Node int
	}

	// Return exits the thread early.
	Return struct{}
)

func (*Decl) stmt()    {}
func (*Assign) stmt()  {}
func (*Store) stmt()   {}
func (*Loop) stmt()    {}
func (*If) stmt()      {}
func (*Barrier) stmt() {}
func (*Return) stmt()  {}

// Graph is the IR of one kernel instantiation.
type Graph struct {
	// Name is the kernel name; Key the canonical instance key the
	// graph was built for.
	Name string
	Key  string

	Params  []Buffer
	Scalars []ScalarParam
	Output  *Buffer
	Shared  []Buffer

	Grid  [3]int64
	Block [3]int64

	Nodes []*Node
	Body  []Stmt

	Guards []Guard
}

// Footprint is the per-graph resource summary checked by fusion.
type Footprint struct {
	SharedBytes int64
	// Values is the node count, a register-pressure proxy.
	Values int
	Grid   [3]int64
	Block  [3]int64
}

// Footprint returns the graph's resource footprint.
func (g *Graph) Footprint() Footprint {
	shared := int64(0)
	for _, buf := range g.Shared {
		shared += buf.Bytes()
	}
	return Footprint{
		SharedBytes: shared,
		Values:      len(g.Nodes),
		Grid:        g.Grid,
		Block:       g.Block,
	}
}

// BufferByName returns the named buffer and whether it exists.
func (g *Graph) BufferByName(name string) (Buffer, bool) {
	if g.Output != nil && g.Output.Name == name {
		return *g.Output, true
	}
	for _, buf := range g.Params {
		if buf.Name == name {
			return buf, true
		}
	}
	for _, buf := range g.Shared {
		if buf.Name == name {
			return buf, true
		}
	}
	return Buffer{}, false
}

// NewNode appends a value node, assigning its ID.
func (g *Graph) NewNode(n *Node) int {
	n.ID = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	return n.ID
}

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

// Package types defines the semantic types the checker assigns to
// Flare expressions: scalars, generic type parameters and tensors
// with symbolic shapes.
package types

import (
	"fmt"
	"strings"

	"github.com/flare-lang/flare/build/shape"
)

// ScalarKind identifies a concrete scalar type.
type ScalarKind uint8

// Scalar kinds.
const (
	InvalidKind ScalarKind = iota
	Bool
	I32
	I64
	U32
	U64
	F32
	F64
)

var scalarNames = map[ScalarKind]string{
	Bool: "bool",
	I32:  "i32",
	I64:  "i64",
	U32:  "u32",
	U64:  "u64",
	F32:  "f32",
	F64:  "f64",
}

// String returns the scalar type name as written in the source.
func (k ScalarKind) String() string {
	if name, ok := scalarNames[k]; ok {
		return name
	}
	return "invalid"
}

// SizeBytes returns the number of bytes one element occupies.
func (k ScalarKind) SizeBytes() int64 {
	switch k {
	case Bool:
		return 1
	case I32, U32, F32:
		return 4
	case I64, U64, F64:
		return 8
	}
	return 0
}

// IsNumeric returns true for integer and floating point kinds.
func (k ScalarKind) IsNumeric() bool {
	return k != InvalidKind && k != Bool
}

// IsFloat returns true for floating point kinds.
func (k ScalarKind) IsFloat() bool {
	return k == F32 || k == F64
}

// ScalarFromName resolves a source-level scalar type name.
func ScalarFromName(name string) (ScalarKind, bool) {
	for k, n := range scalarNames {
		if n == name {
			return k, true
		}
	}
	return InvalidKind, false
}

type (
	// Type is a semantic Flare type.
	Type interface {
		fmt.Stringer
		typ()
	}

	// Scalar is a concrete scalar type.
	Scalar struct {
		Kind ScalarKind
	}

	// Generic is an unresolved generic type parameter.
	Generic struct {
		Name string
	}

	// Tensor is a generically typed tensor. Its rank is the length
	// of Dims: every shape expression list has exactly one entry
	// per axis.
	Tensor struct {
		Elem Type
		Dims []shape.Expr
	}

	// Coord is the type of the builtin thread coordinates
	// (thread_idx, block_idx, block_dim). Its x, y, z members
	// are u32 scalars.
	Coord struct{}

	// Untyped is the type of a numeric literal before it adapts
	// to its context.
	Untyped struct {
		Float bool
	}
)

func (Scalar) typ()  {}
func (Generic) typ() {}
func (Tensor) typ()  {}
func (Coord) typ()   {}
func (Untyped) typ() {}

// String returns the scalar type name.
func (t Scalar) String() string { return t.Kind.String() }

// String returns the generic parameter name.
func (t Generic) String() string { return t.Name }

// String returns the type as written in the source.
func (t Tensor) String() string {
	dims := make([]string, len(t.Dims))
	for i, d := range t.Dims {
		dims[i] = d.String()
	}
	return fmt.Sprintf("Tensor<%s, [%s]>", t.Elem, strings.Join(dims, ", "))
}

// Rank returns the number of tensor axes.
func (t Tensor) Rank() int { return len(t.Dims) }

// String returns the name of the coordinate type.
func (Coord) String() string { return "coord3" }

// String distinguishes untyped integer from untyped float literals.
func (t Untyped) String() string {
	if t.Float {
		return "untyped float"
	}
	return "untyped int"
}

// Default returns the concrete type an untyped literal assumes when
// nothing constrains it: i32 for integers, f32 for floats, matching
// the default literal types of the GPU targets.
func Default(t Type) Type {
	u, ok := t.(Untyped)
	if !ok {
		return t
	}
	if u.Float {
		return Scalar{Kind: F32}
	}
	return Scalar{Kind: I32}
}

// AssignableTo reports whether a value of type from can be assigned to
// a target of type to. Untyped literals adapt to any numeric target
// (floats only to floating point or generic targets); everything else
// must unify.
func AssignableTo(from, to Type, subs Subs, binds shape.Bindings) bool {
	from = Substitute(from, subs)
	to = Substitute(to, subs)
	if u, ok := from.(Untyped); ok {
		switch to := to.(type) {
		case Scalar:
			if u.Float {
				return to.Kind.IsFloat()
			}
			return to.Kind.IsNumeric()
		case Generic:
			// Adaptation to a generic parameter is rechecked once
			// the parameter resolves.
			return true
		case Untyped:
			return true
		}
		return false
	}
	return Unify(from, to, subs, binds)
}

// IsInteger reports whether the type can index a buffer: a concrete
// integer scalar, an untyped integer literal, or a coordinate member
// expression result.
func IsInteger(t Type) bool {
	switch t := t.(type) {
	case Scalar:
		return t.Kind.IsNumeric() && !t.Kind.IsFloat()
	case Untyped:
		return !t.Float
	}
	return false
}

// Subs maps generic type parameter names to concrete scalar kinds.
// It is the substitution half of an instantiation record.
type Subs map[string]ScalarKind

// Substitute resolves generic parameters in a type. Generic names
// without a binding are kept as is.
func Substitute(t Type, subs Subs) Type {
	switch t := t.(type) {
	case Generic:
		if k, ok := subs[t.Name]; ok {
			return Scalar{Kind: k}
		}
		return t
	case Tensor:
		return Tensor{Elem: Substitute(t.Elem, subs), Dims: t.Dims}
	}
	return t
}

// Unify reports whether two types are compatible under the given
// substitution and dimension bindings. Tensors unify axis by axis;
// unresolved symbolic dimensions unify only with themselves.
func Unify(a, b Type, subs Subs, binds shape.Bindings) bool {
	a = Substitute(a, subs)
	b = Substitute(b, subs)
	switch a := a.(type) {
	case Scalar:
		bs, ok := b.(Scalar)
		return ok && a.Kind == bs.Kind
	case Generic:
		bg, ok := b.(Generic)
		return ok && a.Name == bg.Name
	case Coord:
		_, ok := b.(Coord)
		return ok
	case Untyped:
		bu, ok := b.(Untyped)
		return ok && a.Float == bu.Float
	case Tensor:
		bt, ok := b.(Tensor)
		if !ok || len(a.Dims) != len(bt.Dims) {
			return false
		}
		if !Unify(a.Elem, bt.Elem, subs, binds) {
			return false
		}
		for i := range a.Dims {
			if !shape.Unify(a.Dims[i], bt.Dims[i], binds) {
				return false
			}
		}
		return true
	}
	return false
}

// GenericNames appends the names of all generic parameters referenced
// by a type.
func GenericNames(t Type, names []string) []string {
	switch t := t.(type) {
	case Generic:
		return append(names, t.Name)
	case Tensor:
		return GenericNames(t.Elem, names)
	}
	return names
}

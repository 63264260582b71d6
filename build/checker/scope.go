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

package checker

import (
	"github.com/flare-lang/flare/build/ast"
	"github.com/flare-lang/flare/build/types"
)

// symKind says where a name in scope comes from.
type symKind uint8

const (
	symParam symKind = iota
	symAxis
	symLocal
	symShared
	symOutput
	symCoord
	symTypeParam
)

type symbol struct {
	name    string
	kind    symKind
	typ     types.Type
	mutable bool
	decl    ast.Node
}

// scope is a chain of per-block symbol tables. Each kernel gets its
// own root scope: kernels share no mutable state and check
// independently.
type scope struct {
	parent *scope
	names  map[string]*symbol
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, names: make(map[string]*symbol)}
}

// child opens a nested block scope.
func (sc *scope) child() *scope { return newScope(sc) }

// lookup searches the scope chain.
func (sc *scope) lookup(name string) *symbol {
	for s := sc; s != nil; s = s.parent {
		if sym, ok := s.names[name]; ok {
			return sym
		}
	}
	return nil
}

// declare adds a symbol to the innermost scope. It returns false when
// the name is already declared in this scope (shadowing an outer
// scope is allowed).
func (sc *scope) declare(sym *symbol) bool {
	if _, ok := sc.names[sym.name]; ok {
		return false
	}
	sc.names[sym.name] = sym
	return true
}

// coordNames are the builtin thread coordinates available in every
// compute body.
var coordNames = []string{"thread_idx", "block_idx", "block_dim"}

func kernelRootScope() *scope {
	sc := newScope(nil)
	for _, name := range coordNames {
		sc.declare(&symbol{name: name, kind: symCoord, typ: types.Coord{}})
	}
	return sc
}

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

// Package codegen defines the lowering contract the backends
// implement: one IR graph in, one source artifact with launch
// metadata out. Artifacts from different backends for the same graph
// carry identical launch metadata and differ only in source text.
package codegen

import (
	"fmt"
	"strings"

	"github.com/flare-lang/flare/build/checker"
	"github.com/flare-lang/flare/build/kir"
)

// Target is the read-only compilation target configuration.
type Target struct {
	Limits checker.Limits
	Bounds BoundsCheckPolicy
}

// BoundsCheckPolicy selects how guarded accesses are emitted.
type BoundsCheckPolicy uint8

// Bounds check policies.
const (
	// BoundsClamp clamps guarded indices into range. The default:
	// neither target surfaces a trap usefully through the driver.
	BoundsClamp BoundsCheckPolicy = iota
	// BoundsUnchecked emits guarded indices as written.
	BoundsUnchecked
)

// LaunchParams is the metadata a loader needs to launch the kernel.
type LaunchParams struct {
	Grid           [3]int64
	Block          [3]int64
	SharedMemBytes int64
}

// Artifact is one generated kernel for one backend.
type Artifact struct {
	// Kernel is the instance key the artifact was generated for.
	Kernel string
	// Backend is the generating backend's name.
	Backend string
	// Symbol is the entry-point name in Source.
	Symbol string
	Source string
	Launch LaunchParams
	// Guards lists the runtime-guarded accesses in the source.
	Guards []kir.Guard
}

// Backend lowers IR graphs to target source.
type Backend interface {
	Name() string
	Lower(g *kir.Graph, target Target) (*Artifact, error)
}

// UnsupportedError reports an IR construct a backend cannot lower.
// Backends fail with it rather than miscompiling; the error is fatal
// to that backend's artifact only.
type UnsupportedError struct {
	Backend   string
	Construct string
}

// Error implements error.
func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: unsupported construct: %s", e.Backend, e.Construct)
}

// Unsupportedf builds an UnsupportedError.
func Unsupportedf(backend, format string, a ...any) error {
	return &UnsupportedError{Backend: backend, Construct: fmt.Sprintf(format, a...)}
}

// LaunchFor derives the launch metadata of a graph. Every backend
// uses it so artifacts stay launch-equivalent.
func LaunchFor(g *kir.Graph) LaunchParams {
	return LaunchParams{
		Grid:           g.Grid,
		Block:          g.Block,
		SharedMemBytes: g.Footprint().SharedBytes,
	}
}

// Symbol turns an instance key into a target-language identifier.
func Symbol(key string) string {
	var sb strings.Builder
	last := byte('_')
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			sb.WriteByte(c)
			last = c
		default:
			if last != '_' {
				sb.WriteByte('_')
				last = '_'
			}
		}
	}
	return strings.TrimRight(sb.String(), "_")
}

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
	"fmt"
	"go/token"
	"sort"
	"strings"

	"github.com/flare-lang/flare/build/shape"
	"github.com/flare-lang/flare/build/types"
	"golang.org/x/exp/maps"
)

// Instance is a kernel made concrete: every generic type parameter
// bound to a scalar kind and every symbolic dimension bound to an
// extent. Instances are what the IR builder and the backends consume.
type Instance struct {
	// FSet positions the instance's diagnostics, including the
	// internal errors of downstream stages.
	FSet *token.FileSet

	Kernel *Kernel
	Subs   types.Subs
	Binds  shape.Bindings

	// Grid and Block are the concrete launch geometry, padded with
	// trailing ones up to three dimensions.
	Grid  [3]int64
	Block [3]int64

	// SharedBytes is the summed footprint of the shared buffers.
	SharedBytes int64

	// Obligations are the bounds checks still dynamic under the
	// instance bindings. The backends guard them at runtime.
	Obligations []Obligation
}

// Key returns the canonical identity of the instance. Two requests
// for the same kernel under the same substitution and bindings
// produce equal keys, whatever order their maps iterate in.
func (inst *Instance) Key() string {
	var sb strings.Builder
	sb.WriteString(inst.Kernel.Name)
	if len(inst.Subs) > 0 {
		sb.WriteString(subsString(inst.Subs))
	}
	if len(inst.Binds) > 0 {
		names := maps.Keys(inst.Binds)
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s=%d", name, inst.Binds[name])
		}
		sb.WriteString("[" + strings.Join(parts, ",") + "]")
	}
	return sb.String()
}

// ElemKind resolves the scalar kind of a possibly generic element
// type under the instance substitution.
func (inst *Instance) ElemKind(t types.Type) (types.ScalarKind, bool) {
	s, ok := types.Substitute(t, inst.Subs).(types.Scalar)
	if !ok {
		return 0, false
	}
	return s.Kind, true
}

// Instantiate binds a checked kernel to a concrete substitution and
// dimension bindings, validating resource limits and re-proving the
// bounds obligations that become static.
func (u *Unit) Instantiate(name string, subs types.Subs, binds shape.Bindings) (*Instance, error) {
	kernel, ok := u.Kernels.Load(name)
	if !ok {
		return nil, &Error{Kind: UndefinedSymbol, Kernel: name,
			err: fmt.Errorf("kernel %s is not defined or failed checking", name)}
	}
	fail := func(kind ErrKind, format string, a ...any) error {
		return instErrorf(u.FSet, kind, name, subs, kernel.Src, format, a...)
	}

	declared := map[string]bool{}
	for _, tp := range kernel.TypeParams {
		declared[tp] = true
		if _, ok := subs[tp]; !ok {
			return nil, fail(UnconstrainedGeneric, "no binding for generic parameter %s", tp)
		}
	}
	for name := range subs {
		if !declared[name] {
			return nil, fail(UnconstrainedGeneric, "kernel has no generic parameter %s", name)
		}
	}
	axes := map[string]bool{}
	for _, axis := range kernel.AxisNames {
		axes[axis] = true
		if _, ok := binds[axis]; !ok {
			return nil, fail(ShapeMismatch, "no extent for dimension %s", axis)
		}
	}
	for name := range binds {
		if !axes[name] {
			return nil, fail(ShapeMismatch, "kernel has no dimension %s", name)
		}
	}

	inst := &Instance{FSet: u.FSet, Kernel: kernel, Subs: subs, Binds: binds}
	if err := inst.evalGeometry(u.Limits, fail); err != nil {
		return nil, err
	}
	if err := inst.evalShared(u.Limits, fail); err != nil {
		return nil, err
	}
	if err := inst.recheckBounds(u); err != nil {
		return nil, err
	}
	return inst, nil
}

type failFunc func(kind ErrKind, format string, a ...any) error

func (inst *Instance) evalGeometry(limits Limits, fail failFunc) error {
	eval := func(dims []shape.Expr, out *[3]int64, what string) error {
		*out = [3]int64{1, 1, 1}
		for i, d := range dims {
			v, err := shape.Eval(d, inst.Binds)
			if err != nil {
				return fail(ShapeMismatch, "%s dimension %d: %s", what, i, err)
			}
			out[i] = v
		}
		return nil
	}
	if err := eval(inst.Kernel.Grid, &inst.Grid, "grid"); err != nil {
		return err
	}
	if err := eval(inst.Kernel.Block, &inst.Block, "block"); err != nil {
		return err
	}
	threads := inst.Block[0] * inst.Block[1] * inst.Block[2]
	if limits.MaxThreadsPerBlock > 0 && threads > limits.MaxThreadsPerBlock {
		return fail(ResourceLimitExceeded, "block of %d threads exceeds the target limit of %d",
			threads, limits.MaxThreadsPerBlock)
	}
	return nil
}

func (inst *Instance) evalShared(limits Limits, fail failFunc) error {
	total := int64(0)
	for _, buf := range inst.Kernel.Shared {
		kind, ok := inst.ElemKind(buf.Elem)
		if !ok {
			return fail(UnconstrainedGeneric,
				"shared buffer %s has unresolved element type %s", buf.Name, buf.Elem)
		}
		bytes := kind.SizeBytes()
		for i, d := range buf.Dims {
			v, err := shape.Eval(d, inst.Binds)
			if err != nil {
				return fail(ShapeMismatch, "shared buffer %s dimension %d: %s", buf.Name, i, err)
			}
			bytes *= v
		}
		total += bytes
	}
	inst.SharedBytes = total
	if limits.MaxSharedMemoryBytes > 0 && total > limits.MaxSharedMemoryBytes {
		return fail(ResourceLimitExceeded,
			"shared memory usage %d bytes exceeds the target limit of %d bytes",
			total, limits.MaxSharedMemoryBytes)
	}
	return nil
}

// recheckBounds re-examines the deferred obligations under the
// instance bindings. Obligations whose index and extent are now both
// constant either discharge or fail; the rest stay deferred for the
// backends to guard.
func (inst *Instance) recheckBounds(u *Unit) error {
	for _, ob := range inst.Kernel.Obligations {
		extent := ob.Extent.Subst(inst.Binds)
		n, constExt := shape.Const(extent)
		v, constIdx := constIndex(ob.Index)
		if constIdx && constExt {
			if v < 0 || v >= n {
				return instErrorf(u.FSet, MemorySafetyViolation, inst.Kernel.Name, inst.Subs, ob.Index,
					"index %d out of range for axis %d of %s with extent %d", v, ob.Axis, ob.Buffer, n)
			}
			continue
		}
		inst.Obligations = append(inst.Obligations, Obligation{
			Buffer: ob.Buffer,
			Axis:   ob.Axis,
			Index:  ob.Index,
			Extent: extent,
		})
	}
	return nil
}

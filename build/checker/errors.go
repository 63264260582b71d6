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

	"github.com/flare-lang/flare/build/ast"
	"github.com/flare-lang/flare/build/fmterr"
	"github.com/flare-lang/flare/build/types"
	"github.com/pkg/errors"
)

// ErrKind classifies a semantic error. Semantic errors are fatal to
// the offending kernel but not to its siblings in the same unit.
type ErrKind uint8

// Semantic error kinds.
const (
	UndefinedSymbol ErrKind = iota
	ShapeMismatch
	UnconstrainedGeneric
	MemorySafetyViolation
	ResourceLimitExceeded
)

// String returns the kind name used in diagnostics.
func (k ErrKind) String() string {
	switch k {
	case UndefinedSymbol:
		return "UndefinedSymbol"
	case ShapeMismatch:
		return "ShapeMismatch"
	case UnconstrainedGeneric:
		return "UnconstrainedGeneric"
	case MemorySafetyViolation:
		return "MemorySafetyViolation"
	case ResourceLimitExceeded:
		return "ResourceLimitExceeded"
	}
	return "unknown"
}

// Error is a semantic error. It always carries the kernel name and,
// when the error arises at instantiation time, the substitution.
type Error struct {
	Kind   ErrKind
	Kernel string
	Subs   types.Subs
	err    error
}

// Error returns the error with its classification and kernel context.
func (e *Error) Error() string {
	where := e.Kernel
	if len(e.Subs) > 0 {
		where = fmt.Sprintf("%s%s", e.Kernel, subsString(e.Subs))
	}
	return fmt.Sprintf("%s: kernel %s: %s", e.Kind, where, e.err)
}

// Unwrap returns the underlying positioned error.
func (e *Error) Unwrap() error { return e.err }

// KindOf returns the semantic kind of an error, if it has one.
func KindOf(err error) (ErrKind, bool) {
	var sem *Error
	if !errors.As(err, &sem) {
		return 0, false
	}
	return sem.Kind, true
}

func (ck *kernelChecker) errorf(kind ErrKind, node ast.Node, format string, a ...any) bool {
	return ck.app.Append(&Error{
		Kind:   kind,
		Kernel: ck.kernel.Name,
		err:    ck.app.FSet().Errorf(node, format, a...),
	})
}

func instErrorf(fset *token.FileSet, kind ErrKind, kernel string, subs types.Subs, node ast.Node, format string, a ...any) *Error {
	return &Error{
		Kind:   kind,
		Kernel: kernel,
		Subs:   subs,
		err:    fmterr.Errorf(fset, node, format, a...),
	}
}

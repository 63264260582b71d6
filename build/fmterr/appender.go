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

package fmterr

import (
	"fmt"
	"go/token"
	"strings"

	"github.com/flare-lang/flare/build/ast"
)

type (
	// Errors is a set of errors.
	Errors struct {
		errs []error
	}

	// Appender appends errors to a set within the context of a FileSet.
	Appender struct {
		errors *Errors
		fset   FileSet
	}
)

// Append an error to the list of errors.
func (errs *Errors) Append(err error) bool {
	errs.errs = append(errs.errs, err)
	return false
}

// Empty returns true if no error has been declared.
func (errs *Errors) Empty() bool {
	return len(errs.errs) == 0
}

// Error returns the current set of errors as a string.
func (errs *Errors) Error() string {
	var ss []string
	if len(errs.errs) > 0 {
		ss = []string{""}
	}
	for _, err := range errs.errs {
		ss = append(ss, err.Error())
	}
	return strings.Join(ss, "\n")
}

// Errors returns the list of all collected errors.
func (errs *Errors) Errors() []error {
	return append([]error{}, errs.errs...)
}

// ToError returns the errors as an error interface.
func (errs *Errors) ToError() error {
	if errs == nil || errs.Empty() {
		return nil
	}
	return errs
}

// Format writes the error into the state of the formatter.
func (errs *Errors) Format(s fmt.State, verb rune) {
	flag := ""
	if s.Flag('+') {
		flag = "+"
	}
	for _, e := range errs.errs {
		format := fmt.Sprintf("%%%s%s\n", flag, string(verb))
		fmt.Fprintf(s, format, e)
	}
}

// String representation of the error.
func (errs *Errors) String() string {
	return errs.Error()
}

// NewAppender returns a new appender to collect errors.
func (errs *Errors) NewAppender(fset *token.FileSet) *Appender {
	return &Appender{errors: errs, fset: FileSet{FSet: fset}}
}

// Append an error to the list of errors.
func (app *Appender) Append(err error) bool {
	return app.errors.Append(err)
}

// AppendAt appends an existing error at a given position.
func (app *Appender) AppendAt(node ast.Node, err error) bool {
	return app.Append(app.fset.Position(node, err))
}

// Appendf appends an error at a position.
func (app *Appender) Appendf(node ast.Node, format string, a ...any) bool {
	return app.Append(app.fset.Errorf(node, format, a...))
}

// AppendInternalf appends an internal error at a position.
func (app *Appender) AppendInternalf(node ast.Node, format string, a ...any) bool {
	return app.Append(Internal(app.fset.Errorf(node, format, a...)))
}

// FSet returns the error fileset formatter.
func (app *Appender) FSet() FileSet {
	return app.fset
}

// Errors returns the set of errors or nil if no errors have been appended.
func (app *Appender) Errors() *Errors {
	if app.errors.Empty() {
		return nil
	}
	return app.errors
}

// Empty returns true if no errors have been appended.
func (app *Appender) Empty() bool {
	return app.errors.Empty()
}

// String representation of the error.
func (app *Appender) String() string {
	return app.errors.String()
}

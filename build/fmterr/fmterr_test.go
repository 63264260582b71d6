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

package fmterr_test

import (
	"go/token"
	"strings"
	"testing"

	"github.com/flare-lang/flare/build/ast"
	"github.com/flare-lang/flare/build/fmterr"
	"github.com/pkg/errors"
)

const testSrc = "kernel add() {\n  let i = 0\n}\n"

// testNode returns a fileset positioned over testSrc and an identifier
// node at line 2 column 7.
func testNode() (*token.FileSet, *ast.Ident) {
	fset := token.NewFileSet()
	f := fset.AddFile("add.fl", -1, len(testSrc))
	f.SetLinesForContent([]byte(testSrc))
	return fset, &ast.Ident{Name: "i", NamePos: f.Pos(21)}
}

func TestErrorf(t *testing.T) {
	fset, node := testNode()
	err := fmterr.Errorf(fset, node, "undefined symbol %s", node.Name)
	const want = "add.fl:2:7: undefined symbol i"
	if got := err.Error(); got != want {
		t.Errorf("Errorf = %q, want %q", got, want)
	}

	var ewp fmterr.ErrorWithPos
	if !errors.As(err, &ewp) {
		t.Fatalf("Errorf did not return an ErrorWithPos: %T", err)
	}
	if ewp.Src() != ast.Node(node) {
		t.Errorf("Src() = %v, want the reported node", ewp.Src())
	}
	if got, want := ewp.Err().Error(), "undefined symbol i"; got != want {
		t.Errorf("Err() = %q, want %q", got, want)
	}
	if got, want := fmterr.PosString(ewp.FSet(), node.Pos()), "add.fl:2:7:"; got != want {
		t.Errorf("PosString = %q, want %q", got, want)
	}
}

func TestPosErrorf(t *testing.T) {
	fset, node := testNode()
	pos := fmterr.FileSet{FSet: fset}.Pos(node)
	err := pos.Errorf("cannot use %s here", node.Name)
	const want = "add.fl:2:7: cannot use i here"
	if got := err.Error(); got != want {
		t.Errorf("Pos.Errorf = %q, want %q", got, want)
	}
}

func TestInternalf(t *testing.T) {
	fset, node := testNode()
	err := fmterr.Internalf(fset, node, "no checked type for %s", node.Name)
	got := err.Error()
	for _, want := range []string{"flare internal error", "add.fl:2:7", "no checked type for i"} {
		if !strings.Contains(got, want) {
			t.Errorf("Internalf = %q, want it to contain %q", got, want)
		}
	}
}

func TestAppender(t *testing.T) {
	fset, node := testNode()
	var errs fmterr.Errors
	app := errs.NewAppender(fset)
	if !app.Empty() {
		t.Errorf("new appender is not empty")
	}
	if errs.ToError() != nil {
		t.Errorf("ToError on an empty set = %v, want nil", errs.ToError())
	}

	app.Appendf(node, "undefined symbol %s", node.Name)
	app.AppendAt(node, errors.New("shape mismatch"))
	app.AppendInternalf(node, "lost track of %s", node.Name)

	if app.Empty() {
		t.Fatalf("appender is empty after three appends")
	}
	all := errs.Errors()
	if len(all) != 3 {
		t.Fatalf("got %d errors, want 3", len(all))
	}
	wants := []string{
		"add.fl:2:7: undefined symbol i",
		"add.fl:2:7: shape mismatch",
		"lost track of i",
	}
	for i, want := range wants {
		if got := all[i].Error(); !strings.Contains(got, want) {
			t.Errorf("errors[%d] = %q, want it to contain %q", i, got, want)
		}
	}
	if err := errs.ToError(); err == nil || !strings.Contains(err.Error(), wants[0]) {
		t.Errorf("ToError = %v, want the collected errors", err)
	}
}

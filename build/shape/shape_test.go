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

package shape_test

import (
	"testing"

	"github.com/flare-lang/flare/build/shape"
)

func div(x, y shape.Expr) shape.Expr { return shape.Binary{Op: shape.Div, X: x, Y: y} }
func mul(x, y shape.Expr) shape.Expr { return shape.Binary{Op: shape.Mul, X: x, Y: y} }
func ref(n string) shape.Expr        { return shape.Ref{Name: n} }
func lit(v int64) shape.Expr         { return shape.Lit{V: v} }

func TestEval(t *testing.T) {
	tests := []struct {
		expr    shape.Expr
		binds   shape.Bindings
		want    int64
		wantErr bool
	}{
		{expr: lit(16), want: 16},
		{expr: ref("M"), binds: shape.Bindings{"M": 128}, want: 128},
		{expr: div(ref("M"), lit(16)), binds: shape.Bindings{"M": 128}, want: 8},
		{expr: mul(div(ref("M"), lit(16)), ref("N")), binds: shape.Bindings{"M": 64, "N": 3}, want: 12},
		{expr: ref("M"), wantErr: true},
		{expr: div(ref("M"), lit(0)), binds: shape.Bindings{"M": 16}, wantErr: true},
		{expr: shape.Binary{Op: shape.Sub, X: lit(4), Y: lit(4)}, wantErr: true},
	}
	for _, test := range tests {
		got, err := shape.Eval(test.expr, test.binds)
		if test.wantErr {
			if err == nil {
				t.Errorf("Eval(%s) = %d, want error", test.expr, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Eval(%s): unexpected error: %v", test.expr, err)
			continue
		}
		if got != test.want {
			t.Errorf("Eval(%s) = %d, want %d", test.expr, got, test.want)
		}
	}
}

func TestUnify(t *testing.T) {
	tests := []struct {
		a, b  shape.Expr
		binds shape.Bindings
		want  bool
	}{
		// Unresolved symbols unify only with themselves.
		{a: ref("M"), b: ref("M"), want: true},
		{a: ref("M"), b: ref("N"), want: false},
		// Bound symbols unify with their value.
		{a: ref("M"), b: lit(128), binds: shape.Bindings{"M": 128}, want: true},
		{a: ref("M"), b: lit(64), binds: shape.Bindings{"M": 128}, want: false},
		// Arithmetic folds before comparison.
		{a: div(ref("M"), lit(16)), b: lit(8), binds: shape.Bindings{"M": 128}, want: true},
		{a: div(ref("M"), lit(16)), b: div(ref("M"), lit(16)), want: true},
		// Structural only: no algebraic normalization.
		{a: mul(ref("M"), lit(2)), b: mul(lit(2), ref("M")), want: false},
	}
	for _, test := range tests {
		if got := shape.Unify(test.a, test.b, test.binds); got != test.want {
			t.Errorf("Unify(%s, %s, %v) = %t, want %t", test.a, test.b, test.binds, got, test.want)
		}
	}
}

func TestString(t *testing.T) {
	e := mul(div(ref("M"), lit(16)), lit(4))
	if got, want := e.String(), "(M / 16) * 4"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

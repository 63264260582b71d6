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

// Package trace provides ready-made pipeline listeners.
package trace

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/flare-lang/flare/api"
)

// Span is one completed pipeline stage.
type Span struct {
	Stage   string
	Items   int
	Elapsed time.Duration
}

// Recorder collects a span per completed stage. It is safe for use
// by concurrent compile calls sharing one recorder.
type Recorder struct {
	mu    sync.Mutex
	spans []Span
}

var _ api.Listener = (*Recorder)(nil)

// StageStart implements api.Listener.
func (r *Recorder) StageStart(stage string, items int) {}

// StageEnd implements api.Listener.
func (r *Recorder) StageEnd(stage string, items int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, Span{Stage: stage, Items: items, Elapsed: elapsed})
}

// Spans returns a copy of the spans recorded so far, in completion
// order.
func (r *Recorder) Spans() []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Span, len(r.spans))
	copy(out, r.spans)
	return out
}

// Logger writes one line per stage boundary to an io.Writer.
type Logger struct {
	mu sync.Mutex
	w  io.Writer
}

var _ api.Listener = (*Logger)(nil)

// NewLogger returns a listener logging stage boundaries to w.
func NewLogger(w io.Writer) *Logger {
	return &Logger{w: w}
}

// StageStart implements api.Listener.
func (l *Logger) StageStart(stage string, items int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s: start (%d items)\n", stage, items)
}

// StageEnd implements api.Listener.
func (l *Logger) StageEnd(stage string, items int, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s: done (%d items, %v)\n", stage, items, elapsed)
}

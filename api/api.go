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

// Package api is the compilation entry point: DSL source text in,
// generated artifacts out. The call is synchronous and in-memory; no
// stage touches the network or the filesystem.
//
// Syntactic errors abort the whole unit. Semantic errors are
// collected per kernel and backend errors per record, so one bad
// kernel never hides errors in, or prevents compilation of, its
// siblings. Independent records build and lower in parallel; fusion
// is the serial stage in between.
package api

import (
	"go/token"
	"runtime"
	"time"

	"github.com/flare-lang/flare/base/sync"
	"github.com/flare-lang/flare/build/checker"
	"github.com/flare-lang/flare/build/fusion"
	"github.com/flare-lang/flare/build/kir"
	"github.com/flare-lang/flare/build/parser"
	"github.com/flare-lang/flare/build/shape"
	"github.com/flare-lang/flare/build/types"
	"github.com/flare-lang/flare/codegen"
	"github.com/flare-lang/flare/codegen/cuda"
	"github.com/flare-lang/flare/codegen/metal"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Request asks for one kernel instantiation: a substitution for its
// generic parameters and concrete extents for its dimensions.
type Request struct {
	Kernel string
	Subs   types.Subs
	Binds  shape.Bindings
}

// Flow is a host-level data-flow fact between two requests, by index
// into Config.Requests: the producer's output feeds the named tensor
// parameter of the consumer, with no other consumer.
type Flow struct {
	Producer int
	Consumer int
	Param    string
}

// Listener observes pipeline stages. Implementations must not mutate
// anything the pipeline owns.
type Listener interface {
	StageStart(stage string, items int)
	StageEnd(stage string, items int, elapsed time.Duration)
}

// Config configures one compile call.
type Config struct {
	Target codegen.Target
	// Backends to lower with. Empty means both CUDA and Metal.
	Backends []codegen.Backend
	// Requests to instantiate. Empty means every concrete kernel
	// (no generic parameters, no symbolic dimensions) once.
	Requests []Request
	// Flows drive the fusion stage. Out-of-range indices are a
	// configuration error.
	Flows []Flow

	Listeners []Listener
}

// Status classifies a compile outcome.
type Status uint8

// Compile outcomes.
const (
	// Succeeded: every record produced artifacts for every backend.
	Succeeded Status = iota
	// Partial: some records or backends failed; the rest compiled.
	Partial
	// Aborted: the unit failed before semantic analysis.
	Aborted
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Partial:
		return "partial"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Record is the outcome for one output graph: the artifacts of the
// backends that lowered it and the collected errors of those that
// did not.
type Record struct {
	// Key identifies the graph; fused graphs join the constituent
	// instance keys with +.
	Key       string
	Kernel    string
	Launch    codegen.LaunchParams
	Artifacts []*codegen.Artifact
	Err       error
}

// Result is the outcome of one compile call.
type Result struct {
	Status  Status
	Records []*Record
	// Errs are the per-kernel semantic errors and the per-request
	// instantiation errors.
	Errs []error
}

// Compile compiles DSL source text. A non-nil error is returned only
// for syntactic failures and misconfiguration, which abort the unit;
// all later failures are collected in the result.
func Compile(src string, cfg Config) (*Result, error) {
	p := pipeline{cfg: cfg}
	if len(p.cfg.Backends) == 0 {
		p.cfg.Backends = []codegen.Backend{cuda.New(), metal.New()}
	}
	return p.run(src)
}

type pipeline struct {
	cfg    Config
	result Result
}

func (p *pipeline) stage(name string, items int) func() {
	for _, l := range p.cfg.Listeners {
		l.StageStart(name, items)
	}
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		for _, l := range p.cfg.Listeners {
			l.StageEnd(name, items, elapsed)
		}
	}
}

func (p *pipeline) run(src string) (*Result, error) {
	fset := token.NewFileSet()

	done := p.stage("parse", 1)
	file, err := parser.Parse(fset, "input.fl", src)
	done()
	if err != nil {
		p.result.Status = Aborted
		return &p.result, err
	}

	done = p.stage("check", len(file.Kernels))
	unit := checker.Check(fset, file, p.cfg.Target.Limits)
	done()
	p.result.Errs = append(p.result.Errs, unit.Errs...)

	requests := p.cfg.Requests
	if len(requests) == 0 {
		requests = concreteRequests(unit)
	}

	done = p.stage("instantiate", len(requests))
	instances, keys := p.instantiate(unit, requests)
	done()

	done = p.stage("build", len(instances))
	graphs := p.buildAll(instances)
	done()

	edges, err := p.edges(keys)
	if err != nil {
		p.result.Status = Aborted
		return &p.result, err
	}
	done = p.stage("fuse", len(graphs))
	graphs = fusion.Fuse(graphs, edges, p.cfg.Target.Limits)
	done()

	done = p.stage("lower", len(graphs))
	p.lowerAll(graphs)
	done()

	p.result.Status = p.status()
	return &p.result, nil
}

// concreteRequests instantiates every kernel that needs neither a
// substitution nor dimension bindings.
func concreteRequests(unit *checker.Unit) []Request {
	var out []Request
	for name, kernel := range unit.Kernels.Iter() {
		if len(kernel.TypeParams) > 0 || len(kernel.AxisNames) > 0 {
			continue
		}
		out = append(out, Request{Kernel: name})
	}
	return out
}

// instantiate resolves the requests in parallel, deduplicating
// identical ones by their canonical key. Failed instantiations are
// collected; keys maps each request index to its instance key, or ""
// on failure.
func (p *pipeline) instantiate(unit *checker.Unit, requests []Request) ([]*checker.Instance, []string) {
	var seen sync.Map[string, *checker.Instance]
	keys := make([]string, len(requests))
	owned := make([]*checker.Instance, len(requests))
	instErrs := make([]error, len(requests))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, req := range requests {
		g.Go(func() error {
			inst, err := unit.Instantiate(req.Kernel, req.Subs, req.Binds)
			if err != nil {
				instErrs[i] = err
				return nil
			}
			keys[i] = inst.Key()
			if _, loaded := seen.LoadOrStore(keys[i], inst); !loaded {
				owned[i] = inst
			}
			return nil
		})
	}
	g.Wait()

	var out []*checker.Instance
	for i := range requests {
		if instErrs[i] != nil {
			p.result.Errs = append(p.result.Errs, instErrs[i])
			continue
		}
		if owned[i] != nil {
			out = append(out, owned[i])
		}
	}
	return out, keys
}

// buildAll lowers the instances to IR graphs in parallel. A build
// failure drops that record but not its siblings.
func (p *pipeline) buildAll(instances []*checker.Instance) []*kir.Graph {
	graphs := make([]*kir.Graph, len(instances))
	buildErrs := make([]error, len(instances))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, inst := range instances {
		g.Go(func() error {
			graphs[i], buildErrs[i] = kir.Build(inst)
			return nil
		})
	}
	g.Wait()

	var out []*kir.Graph
	for i, graph := range graphs {
		if buildErrs[i] != nil {
			p.result.Errs = append(p.result.Errs, buildErrs[i])
			continue
		}
		out = append(out, graph)
	}
	return out
}

func (p *pipeline) edges(keys []string) ([]fusion.Edge, error) {
	out := make([]fusion.Edge, 0, len(p.cfg.Flows))
	for _, flow := range p.cfg.Flows {
		if flow.Producer < 0 || flow.Producer >= len(keys) ||
			flow.Consumer < 0 || flow.Consumer >= len(keys) {
			return nil, errors.Errorf("flow references request %d of %d",
				max(flow.Producer, flow.Consumer), len(keys))
		}
		producer, consumer := keys[flow.Producer], keys[flow.Consumer]
		if producer == "" || consumer == "" {
			// One endpoint failed to instantiate; the flow is moot.
			continue
		}
		out = append(out, fusion.Edge{Producer: producer, Consumer: consumer, Param: flow.Param})
	}
	return out, nil
}

// lowerAll runs every backend over every graph in parallel. Backend
// errors accumulate per record; an unsupported construct on one
// backend does not cost the other backends' artifacts.
func (p *pipeline) lowerAll(graphs []*kir.Graph) {
	records := make([]*Record, len(graphs))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, graph := range graphs {
		g.Go(func() error {
			rec := &Record{
				Key:    graph.Key,
				Kernel: graph.Name,
				Launch: codegen.LaunchFor(graph),
			}
			for _, backend := range p.cfg.Backends {
				art, err := backend.Lower(graph, p.cfg.Target)
				if err != nil {
					rec.Err = multierr.Append(rec.Err, err)
					continue
				}
				rec.Artifacts = append(rec.Artifacts, art)
			}
			records[i] = rec
			return nil
		})
	}
	g.Wait()
	p.result.Records = records
}

func (p *pipeline) status() Status {
	failed := len(p.result.Errs) > 0
	for _, rec := range p.result.Records {
		if rec.Err != nil {
			failed = true
		}
	}
	if failed {
		return Partial
	}
	return Succeeded
}

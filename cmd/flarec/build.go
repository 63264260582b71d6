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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/flare-lang/flare/api"
	"github.com/flare-lang/flare/api/trace"
	"github.com/flare-lang/flare/build/checker"
	"github.com/flare-lang/flare/codegen"
	"github.com/flare-lang/flare/codegen/cuda"
	"github.com/flare-lang/flare/codegen/metal"
)

// Default limits of current server-class hardware.
var defaultLimits = checker.Limits{
	MaxSharedMemoryBytes: 49152,
	MaxThreadsPerBlock:   1024,
	SIMDWidth:            32,
}

var extensions = map[string]string{
	"cuda":  ".cu",
	"metal": ".metal",
}

func buildCommand() *cobra.Command {
	var (
		target    string
		maxShared int64
		unchecked bool
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "build [flags] file.fl...",
		Short: "Compile kernel files and write backend source next to them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backends, err := selectBackends(target)
			if err != nil {
				return err
			}
			limits := defaultLimits
			limits.MaxSharedMemoryBytes = maxShared
			bounds := codegen.BoundsClamp
			if unchecked {
				bounds = codegen.BoundsUnchecked
			}
			cfg := api.Config{
				Target:   codegen.Target{Limits: limits, Bounds: bounds},
				Backends: backends,
			}
			if verbose {
				cfg.Listeners = []api.Listener{trace.NewLogger(cmd.ErrOrStderr())}
			}
			failed := false
			for _, path := range args {
				if err := buildFile(cmd, path, cfg); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed = true
				}
			}
			if failed {
				return errors.New("compilation failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "all", "backend to emit: cuda, metal or all")
	cmd.Flags().Int64Var(&maxShared, "max-shared", defaultLimits.MaxSharedMemoryBytes,
		"shared memory budget per block, in bytes")
	cmd.Flags().BoolVar(&unchecked, "unchecked", false,
		"emit dynamic tensor accesses without clamping")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline stages")
	return cmd
}

func selectBackends(target string) ([]codegen.Backend, error) {
	switch target {
	case "cuda":
		return []codegen.Backend{cuda.New()}, nil
	case "metal":
		return []codegen.Backend{metal.New()}, nil
	case "all":
		return []codegen.Backend{cuda.New(), metal.New()}, nil
	}
	return nil, errors.Errorf("unknown target %q (want cuda, metal or all)", target)
}

// buildFile compiles one source file and writes every artifact to a
// sibling file named after the kernel instance.
func buildFile(cmd *cobra.Command, path string, cfg api.Config) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	res, err := api.Compile(string(src), cfg)
	if err != nil {
		return err
	}
	for _, cerr := range res.Errs {
		fmt.Fprintln(cmd.ErrOrStderr(), cerr)
	}
	dir := filepath.Dir(path)
	for _, rec := range res.Records {
		if rec.Err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), rec.Err)
		}
		for _, art := range rec.Artifacts {
			out := filepath.Join(dir, art.Symbol+extensions[art.Backend])
			if err := os.WriteFile(out, []byte(art.Source), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (grid %v block %v shared %dB)\n",
				out, art.Launch.Grid, art.Launch.Block, art.Launch.SharedMemBytes)
		}
	}
	if res.Status != api.Succeeded {
		return errors.Errorf("compilation %s", res.Status)
	}
	return nil
}

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

// flarec compiles kernel source files to GPU backend source.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "flarec",
		Short:         "flarec compiles kernel definitions to GPU backend source",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "flarec:", err)
		os.Exit(1)
	}
}

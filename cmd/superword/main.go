// Copyright 2025 go-highway Authors
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

// Command superword drives the reduction-aware SLP vectorizer.
//
// Usage:
//
//	superword sweep [--config matrix.yaml] [--kernel addInt,mulLong] [-j 8]
//	superword compile --file kernel.go [--func dot] [--features avx2] [--no-reductions]
//	superword cpuinfo
//
// sweep runs the acceptance catalogue under every configuration of a matrix,
// compares each vectorized program against the scalar reference and checks
// the node presence rules; it exits non-zero when any result fails. compile
// vectorizes the kernels of one Go file and prints the program listing and
// its report. cpuinfo prints the host features the capability gate sees.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "superword",
		Short:        "Reduction-aware superword vectorizer",
		SilenceUsage: true,
	}
	root.AddCommand(newSweepCmd(), newCompileCmd(), newCPUInfoCmd())
	return root
}

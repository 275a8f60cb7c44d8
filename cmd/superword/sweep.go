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

package main

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/ajroetker/go-superword/internal/redtest"
	"github.com/spf13/cobra"
)

type sweepOptions struct {
	config     string
	kernels    []string
	jobs       int
	failedOnly bool
}

func newSweepCmd() *cobra.Command {
	var opts sweepOptions
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the reduction catalogue over a configuration matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.config, "config", "", "YAML matrix file (default: built-in scenario grid)")
	f.StringSliceVar(&opts.kernels, "kernel", nil, "kernels to run (default: the matrix's list, else all)")
	f.IntVarP(&opts.jobs, "jobs", "j", runtime.GOMAXPROCS(0), "number of parallel tasks")
	f.BoolVar(&opts.failedOnly, "failed", false, "print failing results only")
	return cmd
}

func runSweep(ctx context.Context, w io.Writer, opts sweepOptions) error {
	m := redtest.DefaultMatrix()
	if opts.config != "" {
		var err error
		if m, err = redtest.LoadMatrix(opts.config); err != nil {
			return err
		}
	}
	configs, err := m.Configs()
	if err != nil {
		return err
	}
	names := opts.kernels
	if len(names) == 0 {
		names = m.Kernels
	}

	results, err := redtest.Sweep(ctx, configs, names, opts.jobs)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else if opts.failedOnly {
			continue
		}
		fmt.Fprintln(w, r)
	}
	fmt.Fprintf(w, "%d configurations, %d results, %d failed\n", len(configs), len(results), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d results failed", failed, len(results))
	}
	return nil
}

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
	"fmt"
	"io"
	"os"

	"github.com/ajroetker/go-superword/ir"
	"github.com/ajroetker/go-superword/superword"
	"github.com/ajroetker/go-superword/target"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type compileOptions struct {
	file         string
	fn           string
	config       string
	unroll       int
	maxUnroll    int
	features     string
	noReductions bool
	unordered    bool
	reportOnly   bool
	trace        bool
}

func newCompileCmd() *cobra.Command {
	var opts compileOptions
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Vectorize the kernels of a Go file and print the program and report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompile(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.file, "file", "", "Go source file holding the kernels (required)")
	f.StringVar(&opts.fn, "func", "", "compile only this function")
	f.StringVar(&opts.config, "config", "", "YAML file with configuration overrides")
	f.IntVar(&opts.unroll, "unroll", 0, "unroll factor, a power of two (default: chosen from the loop size)")
	f.IntVar(&opts.maxUnroll, "max-unroll", 0, "override loop_max_unroll")
	f.StringVar(&opts.features, "features", "", "comma-separated feature tokens (default: host)")
	f.BoolVar(&opts.noReductions, "no-reductions", false, "leave reduction loops scalar")
	f.BoolVar(&opts.unordered, "unordered", false, "allow reassociating float add and mul reductions")
	f.BoolVar(&opts.reportOnly, "report", false, "print the report without the program listing")
	f.BoolVar(&opts.trace, "trace", false, "write the vectorizer trace to stderr")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (opts compileOptions) buildConfig(traceOut io.Writer) (superword.Config, error) {
	cfg := superword.DefaultConfig()
	if opts.config != "" {
		f, err := os.Open(opts.config)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return cfg, fmt.Errorf("decode %s: %w", opts.config, err)
		}
	}
	if opts.features != "" {
		feat, err := target.Parse(opts.features)
		if err != nil {
			return cfg, err
		}
		cfg.Features = feat
	}
	if opts.maxUnroll > 0 {
		cfg.LoopMaxUnroll = opts.maxUnroll
	}
	if opts.noReductions {
		cfg.ReductionVectorization = false
	}
	if opts.unordered {
		cfg.StrictFloatReductions = false
	}
	if opts.trace {
		cfg.Trace = traceOut
	}
	return cfg, cfg.Validate()
}

func runCompile(w, errw io.Writer, opts compileOptions) error {
	cfg, err := opts.buildConfig(errw)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(opts.file)
	if err != nil {
		return err
	}
	loops, err := ir.ParseFile(opts.file, src, ir.WithUnroll(opts.unroll))
	if err != nil {
		return err
	}
	if opts.fn != "" {
		loops = lo.Filter(loops, func(l *ir.Loop, _ int) bool { return l.Name == opts.fn })
		if len(loops) == 0 {
			return fmt.Errorf("function %q not found in %s", opts.fn, opts.file)
		}
	}

	fmt.Fprintf(w, "config: %s\n", cfg)
	for _, loop := range loops {
		prog, err := superword.Vectorize(loop, cfg)
		if err != nil {
			return fmt.Errorf("%s: %w", loop.Name, err)
		}
		if !opts.reportOnly {
			fmt.Fprint(w, prog)
		}
		fmt.Fprint(w, prog.Report)
	}
	return nil
}

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
	"strings"

	"github.com/ajroetker/go-superword/ir"
	"github.com/ajroetker/go-superword/target"
	"github.com/spf13/cobra"
)

func newCPUInfoCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "cpuinfo",
		Short: "Print the host CPU features and vector widths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printCPUInfo(cmd.OutOrStdout(), target.Describe(), raw)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "also list every feature cpuid reports")
	return cmd
}

func printCPUInfo(w io.Writer, info target.CPUInfo, raw bool) {
	fmt.Fprintf(w, "cpu:    %s (%s), %d cores / %d threads\n",
		info.Brand, info.Vendor, info.PhysicalCores, info.LogicalCores)
	fmt.Fprintf(w, "host:   %s\n", info.Host.Compact())
	fmt.Fprintf(w, "cpuid:  %s\n", info.CPUID.Compact())
	if info.Host != info.CPUID {
		fmt.Fprintf(w, "note:   detectors disagree (x/sys/cpu: %s)\n", info.Host)
	}

	gate := target.NewGate(info.Host)
	fmt.Fprintf(w, "widths:")
	for _, t := range []ir.Type{ir.Int16, ir.Int32, ir.Int64, ir.Float32, ir.Float64} {
		fmt.Fprintf(w, " %s=%d", t, gate.MaxVectorBytes(t))
	}
	fmt.Fprintln(w)
	if raw {
		fmt.Fprintf(w, "raw:    %s\n", strings.Join(info.Raw, " "))
	}
}

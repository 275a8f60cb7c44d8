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

package superword_test

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/ajroetker/go-superword/ir"
	"github.com/ajroetker/go-superword/superword"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
	"gopkg.in/yaml.v3"
)

// TestGolden compiles every testdata/*.txtar archive. An archive holds
//
//	kernel.go    the kernel source
//	config.yaml  overrides of DefaultConfig
//	want         one "field op value" line per expectation
//
// where field is state, path, unroll, lanes, bytes, strategy, reason or a
// node name counted in the report, and op is = (equal), > (greater) or ~
// (contains).
func TestGolden(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.txtar"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".txtar"), func(t *testing.T) {
			runGolden(t, file)
		})
	}
}

func runGolden(t *testing.T, file string) {
	ar, err := txtar.ParseFile(file)
	require.NoError(t, err)
	sections := make(map[string][]byte)
	for _, f := range ar.Files {
		sections[f.Name] = f.Data
	}
	for _, name := range []string{"kernel.go", "config.yaml", "want"} {
		require.Contains(t, sections, name, "archive section")
	}

	cfg := superword.DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(sections["config.yaml"]))
	dec.KnownFields(true)
	require.NoError(t, dec.Decode(&cfg))

	loop, err := ir.ParseFunc(string(sections["kernel.go"]), "")
	require.NoError(t, err)
	prog, err := superword.Vectorize(loop, cfg)
	require.NoError(t, err)
	rep := prog.Report

	sc := bufio.NewScanner(bytes.NewReader(sections["want"]))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			t.Fatalf("want:%d: malformed line %q", line, text)
		}
		field, op, want := fields[0], fields[1], strings.Join(fields[2:], " ")

		if field == "path" {
			got := make([]string, len(rep.Path))
			for i, s := range rep.Path {
				got[i] = s.String()
			}
			if diff := cmp.Diff(strings.Fields(want), got); diff != "" {
				t.Errorf("want:%d: path mismatch (-want +got):\n%s", line, diff)
			}
			continue
		}

		var got string
		switch field {
		case "state":
			got = rep.State.String()
		case "unroll":
			got = strconv.Itoa(rep.Unroll)
		case "lanes":
			got = strconv.Itoa(rep.Lanes)
		case "bytes":
			got = strconv.Itoa(rep.VectorBytes)
		case "strategy":
			got = rep.Strategy
		case "reason":
			got = rep.Reason
		default:
			got = strconv.Itoa(rep.Count(field))
		}
		ok, err := compare(op, got, want)
		if err != nil {
			t.Fatalf("want:%d: %v", line, err)
		}
		if !ok {
			t.Errorf("want:%d: %s = %q, want %s %q\n%s", line, field, got, op, want, rep)
		}
	}
	require.NoError(t, sc.Err())
}

func compare(op, got, want string) (bool, error) {
	switch op {
	case "=":
		return got == want, nil
	case "~":
		return strings.Contains(got, want), nil
	case ">":
		g, err := strconv.Atoi(got)
		if err != nil {
			return false, err
		}
		w, err := strconv.Atoi(want)
		if err != nil {
			return false, err
		}
		return g > w, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

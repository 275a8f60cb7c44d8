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

package superword

import (
	"fmt"
	"io"
	"os"
)

// debugSuperword enables trace output for every compilation.
var debugSuperword = os.Getenv("SUPERWORD_DEBUG") != ""

// tracer writes "[superword]" lines to the configured writer.
type tracer struct {
	w io.Writer
}

func newTracer(cfg Config) tracer {
	if cfg.Trace != nil {
		return tracer{w: cfg.Trace}
	}
	if debugSuperword {
		return tracer{w: os.Stderr}
	}
	return tracer{}
}

func (t tracer) printf(format string, args ...any) {
	if t.w != nil {
		fmt.Fprintf(t.w, "[superword] "+format+"\n", args...)
	}
}

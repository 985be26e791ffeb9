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
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ajroetker/hwylower/cmd/hwylower/ir"
	"github.com/samber/lo"
)

// Lowerer orchestrates parsing, lowering and emission of one input file.
type Lowerer struct {
	InputFile        string           // Input Go source file
	OutputFile       string           // Output C file; empty writes to the Run writer
	Target           string           // Target name, see AvailableTargets
	FuncName         string           // Only lower this kernel when set
	Check            map[string]int64 // Extents to verify the lowering with, if any
	LaunchPredicated []string         // Parallel dims guarded outside the kernel
}

// Run lowers every selected kernel and writes the C output either to
// OutputFile or to w. It returns the names of the lowered kernels.
func (l *Lowerer) Run(w io.Writer) ([]string, error) {
	t, err := GetTarget(l.Target)
	if err != nil {
		return nil, err
	}
	launch, err := l.launchDims()
	if err != nil {
		return nil, err
	}

	src, err := os.ReadFile(l.InputFile)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	fusions, err := ir.ParseKernels(l.InputFile, src, ir.WithLanes(t.Lanes()))
	if err != nil {
		return nil, err
	}
	if l.FuncName != "" {
		fusions = lo.Filter(fusions, func(f *ir.Fusion, _ int) bool { return f.Name == l.FuncName })
	}
	if len(fusions) == 0 {
		if l.FuncName != "" {
			return nil, fmt.Errorf("no kernel named %s in %s", l.FuncName, l.InputFile)
		}
		return nil, fmt.Errorf("no //hwy:kernel functions found in %s", l.InputFile)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "// Code generated by hwylower from %s for target %s. DO NOT EDIT.\n\n", l.InputFile, t.Name)
	var names []string
	for i, f := range fusions {
		lowered, stats, err := l.lower(f, launch)
		if err != nil {
			return nil, fmt.Errorf("kernel %s: %w", f.Name, err)
		}
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "// %s: %d loops, %d guards, %d splits (%d without fallback), %d fast-only\n",
			f.Name, stats.Loops, stats.Guards, stats.Splits, stats.OmittedElse, stats.FastOnly)
		buf.WriteString(ir.NewEmitter(f, ir.WithFunctionName(t.Symbol(f.Name))).EmitKernel(lowered))
		names = append(names, f.Name)
	}

	if l.OutputFile == "" {
		_, err = w.Write(buf.Bytes())
		return names, err
	}
	if err := os.WriteFile(l.OutputFile, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	return names, nil
}

// lower runs the unroll pass on f and, when requested, verifies the result.
func (l *Lowerer) lower(f *ir.Fusion, launch []ir.ParallelType) ([]ir.StmtID, ir.PassStats, error) {
	domains := ir.NewTensorDomains(f)
	p := ir.NewUnrollPass(f,
		ir.WithDomainOracle(domains),
		ir.WithAxisOracle(ir.NewLaunchOracle(f, domains, ir.WithLaunchPredicated(launch...))))
	if err := p.Run(f.Exprs); err != nil {
		return nil, ir.PassStats{}, err
	}
	lowered, err := p.Replacements().Apply(f, f.Exprs)
	if err != nil {
		return nil, ir.PassStats{}, err
	}
	if l.Check != nil {
		if err := ir.VerifyLowering(f, f.Exprs, lowered, l.Check); err != nil {
			return nil, ir.PassStats{}, fmt.Errorf("check: %w", err)
		}
	}
	return lowered, p.Stats(), nil
}

func (l *Lowerer) launchDims() ([]ir.ParallelType, error) {
	var out []ir.ParallelType
	for _, name := range l.LaunchPredicated {
		pt, err := ir.ParseParallelType(name)
		if err != nil {
			return nil, err
		}
		if !pt.IsThread() {
			return nil, fmt.Errorf("%s is not a block or thread dimension", pt)
		}
		out = append(out, pt)
	}
	return out, nil
}

// parseBindings parses "N=10,M=7". An empty string yields nil.
func parseBindings(s string) (map[string]int64, error) {
	parts := splitList(s)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make(map[string]int64, len(parts))
	for _, p := range parts {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("bad extent binding %q, want name=value", p)
		}
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("bad extent binding %q: value must be a non-negative integer", p)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	}))
}

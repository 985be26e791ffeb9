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

// Command hwylower lowers loop-nest kernels written in Go syntax: it adds the
// bounds predicates every loop needs, splits unrolled loops into a fast path
// and a predicated fallback, and emits the result as C.
//
// Usage:
//
//	hwylower -input kernels.go                         # all kernels, host target, to stdout
//	hwylower -input kernels.go -output kernels.c -target avx2
//	hwylower -input kernels.go -func Scale -check N=10,M=7
//
// Kernels are functions tagged //hwy:kernel; see the ir package for the
// accepted source form. The -check flag simulates the original and lowered
// kernels with the given extents and fails if they differ.
//
// Set DEBUG_UNROLL=1 to trace the unroll pass.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

var (
	inputFile        = flag.String("input", "", "Input Go source file (required)")
	outputFile       = flag.String("output", "", "Output C file (default: stdout)")
	target           = flag.String("target", DefaultTarget(), "Target ("+strings.Join(AvailableTargets(), ",")+"), default $HWYLOWER_TARGET or the host")
	funcName         = flag.String("func", "", "Lower only the named kernel")
	check            = flag.String("check", "", "Verify the lowering by simulation with extents name=value,...")
	launchPredicated = flag.String("launch_predicated", "", "Comma-separated parallel dims (e.g. threadIdx.x) already guarded by the launch")
)

func main() {
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -input flag is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	bindings, err := parseBindings(*check)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	l := &Lowerer{
		InputFile:        *inputFile,
		OutputFile:       *outputFile,
		Target:           *target,
		FuncName:         *funcName,
		Check:            bindings,
		LaunchPredicated: splitList(*launchPredicated),
	}
	kernels, err := l.Run(os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *outputFile != "" {
		fmt.Printf("Successfully lowered %s for target %s\n", strings.Join(kernels, ", "), *target)
	}
}

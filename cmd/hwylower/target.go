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
	"runtime"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/xyproto/env/v2"
	"golang.org/x/sys/cpu"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Target is a SIMD target a kernel is lowered for. Its vector width fixes
// the value of `lanes` in kernel sources.
type Target struct {
	// Name is the target name used on the command line.
	Name string

	// Width is the vector register width in bytes.
	Width int
}

var targets = map[string]Target{
	"fallback": {Name: "fallback", Width: 16},
	"neon":     {Name: "neon", Width: 16},
	"avx2":     {Name: "avx2", Width: 32},
	"avx512":   {Name: "avx512", Width: 64},
	"sme":      {Name: "sme", Width: 64},
}

// Lanes returns the number of 32-bit elements in one vector.
func (t Target) Lanes() int {
	return t.Width / 4
}

// Symbol returns the name of the C function emitted for kernel on t,
// e.g. "ScaleAvx2".
func (t Target) Symbol(kernel string) string {
	return kernel + cases.Title(language.English).String(strings.ToLower(t.Name))
}

// AvailableTargets returns the target names, sorted.
func AvailableTargets() []string {
	names := lo.Keys(targets)
	slices.Sort(names)
	return names
}

// GetTarget looks up a target by name.
func GetTarget(name string) (Target, error) {
	t, ok := targets[strings.ToLower(name)]
	if !ok {
		return Target{}, fmt.Errorf("unknown target %q (available: %s)", name, strings.Join(AvailableTargets(), ","))
	}
	return t, nil
}

// DefaultTarget returns $HWYLOWER_TARGET, or the best target of the host.
// The environment is re-read on every call.
func DefaultTarget() string {
	env.Load()
	return env.Str("HWYLOWER_TARGET", hostTarget())
}

// hostTarget picks the widest target the running CPU supports.
func hostTarget() string {
	switch runtime.GOARCH {
	case "amd64":
		switch {
		case cpu.X86.HasAVX512F:
			return "avx512"
		case cpu.X86.HasAVX2:
			return "avx2"
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			return "neon"
		}
	}
	return "fallback"
}

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

package ir

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExecuteRecordsEvents(t *testing.T) {
	f, c := splitKernel(Sym("N"), 4)
	trace, err := Execute(f, f.Exprs, map[string]int64{"N": 6})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var got []string
	for _, e := range trace.OutOfBounds() {
		got = append(got, e.Index)
	}
	if diff := cmp.Diff([]string{"T0[6]", "T0[7]"}, got); diff != "" {
		t.Errorf("out-of-bounds events mismatch (-want +got):\n%s", diff)
	}
	if n := len(trace.InBounds()); n != 6 {
		t.Errorf("in-bounds events = %d, want 6", n)
	}
	if n := trace.Count(c); n != 8 {
		t.Errorf("Count = %d, want 8", n)
	}

	if _, err := Execute(f, f.Exprs, nil); err == nil {
		t.Error("Execute without binding N should fail")
	}
}

func TestVerifyLoweringRejectsBadLowerings(t *testing.T) {
	f, _ := splitKernel(Const(10), 4)

	err := VerifyLowering(f, f.Exprs, f.Exprs, nil)
	if err == nil || !strings.Contains(err.Error(), "out of bounds") {
		t.Errorf("unguarded kernel: got %v, want out-of-bounds error", err)
	}

	err = VerifyLowering(f, f.Exprs, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "compute events") {
		t.Errorf("empty kernel: got %v, want event count error", err)
	}
}

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

import "errors"

// ErrMapApplied is returned when a ReplacementMap is applied a second time.
var ErrMapApplied = errors.New("ir: replacement map already applied")

// ReplacementMap maps original statements to the statements replacing them.
// It is built once per pass run and consumed by a single Apply.
type ReplacementMap struct {
	entries map[StmtID]StmtID
	applied bool
}

// NewReplacementMap creates an empty map.
func NewReplacementMap() *ReplacementMap {
	return &ReplacementMap{entries: make(map[StmtID]StmtID)}
}

// Record maps old to repl. Each statement may be replaced at most once, and
// never by itself.
func (m *ReplacementMap) Record(old, repl StmtID) error {
	if old == repl {
		return contractf(old, "", "statement recorded as its own replacement")
	}
	if prev, ok := m.entries[old]; ok {
		return contractf(old, "", "statement already replaced by %d", prev)
	}
	m.entries[old] = repl
	return nil
}

// Lookup returns the replacement of id, if any.
func (m *ReplacementMap) Lookup(id StmtID) (StmtID, bool) {
	r, ok := m.entries[id]
	return r, ok
}

// Len returns the number of recorded replacements.
func (m *ReplacementMap) Len() int {
	return len(m.entries)
}

// Apply produces the rewritten form of exprs: every statement found in the
// map is substituted by its replacement (which is taken as-is, not
// rewritten further), and every other statement keeps its identity unless
// one of its descendants was substituted, in which case a copy with the new
// children is allocated. Every key must be reachable from exprs.
func (m *ReplacementMap) Apply(f *Fusion, exprs []StmtID) ([]StmtID, error) {
	if m.applied {
		return nil, ErrMapApplied
	}
	m.applied = true

	reachable := f.Reachable(exprs)
	for old := range m.entries {
		if !reachable[old] {
			return nil, contractf(old, "", "replaced statement is not reachable from the statement sequence")
		}
	}
	out, _ := m.applyList(f, exprs)
	return out, nil
}

func (m *ReplacementMap) applyList(f *Fusion, ids []StmtID) ([]StmtID, bool) {
	if len(ids) == 0 {
		return ids, false
	}
	out := make([]StmtID, len(ids))
	changed := false
	for i, id := range ids {
		out[i] = m.applyStmt(f, id)
		changed = changed || out[i] != id
	}
	if !changed {
		return ids, false
	}
	return out, true
}

func (m *ReplacementMap) applyStmt(f *Fusion, id StmtID) StmtID {
	if r, ok := m.entries[id]; ok {
		return r
	}
	kids := f.Stmt(id).Children()
	if kids == nil {
		return id
	}
	next := make([][]StmtID, len(kids))
	changed := false
	for i, list := range kids {
		var c bool
		next[i], c = m.applyList(f, list)
		changed = changed || c
	}
	if !changed {
		return id
	}
	return f.withChildren(id, next)
}

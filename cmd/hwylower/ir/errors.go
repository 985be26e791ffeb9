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
	"errors"
	"fmt"
)

// ErrContract is the sentinel matched by every contract violation: metadata
// supplied to a pass that is inconsistent with the IR it describes. These
// errors are fatal for the kernel being lowered.
var ErrContract = errors.New("ir: contract violation")

// ContractError identifies the statement and axis a contract violation was
// detected at.
type ContractError struct {
	Stmt StmtID
	Axis string
	Msg  string
}

func (e *ContractError) Error() string {
	switch {
	case e.Stmt != NoStmt && e.Axis != "":
		return fmt.Sprintf("%v: stmt %d axis %s: %s", ErrContract, e.Stmt, e.Axis, e.Msg)
	case e.Stmt != NoStmt:
		return fmt.Sprintf("%v: stmt %d: %s", ErrContract, e.Stmt, e.Msg)
	case e.Axis != "":
		return fmt.Sprintf("%v: axis %s: %s", ErrContract, e.Axis, e.Msg)
	}
	return fmt.Sprintf("%v: %s", ErrContract, e.Msg)
}

// Unwrap makes errors.Is(err, ErrContract) hold.
func (e *ContractError) Unwrap() error {
	return ErrContract
}

func contractf(stmt StmtID, axis string, format string, args ...any) error {
	return &ContractError{Stmt: stmt, Axis: axis, Msg: fmt.Sprintf(format, args...)}
}

// Copyright 2026 The JeMa Authors
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

package githubauth

import (
	"errors"
	"fmt"
)

// Stage is how far a sign-in attempt progressed
type Stage string

const (
	StageInitiated        Stage = "INITIATED"
	StageCallbackReceived Stage = "CALLBACK_RECEIVED"
	StageComplete         Stage = "COMPLETE"
)

// Sentinel errors
var (
	ErrStateMismatch  = errors.New("oauth state mismatch")
	ErrExchangeFailed = errors.New("github token exchange failed")
	ErrProfileFailed  = errors.New("github profile fetch failed")
	ErrAccountFailed  = errors.New("local account resolution failed")
	ErrNotJSON        = errors.New("github responded without a JSON body")
)

// Error codes
const (
	CodeStateMismatch  = "state_mismatch"
	CodeExchangeFailed = "exchange_failed"
	CodeProfileFailed  = "profile_failed"
	CodeAccountFailed  = "account_failed"
)

// Error is a sign-in failure at a given stage. It unwraps to both the
// sentinel and the underlying cause.
type Error struct {
	Stage    Stage
	Code     string
	sentinel error
	cause    error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("github sign-in %s at %s: %v", e.Code, e.Stage, e.sentinel)
	}
	return fmt.Sprintf("github sign-in %s at %s: %v: %v", e.Code, e.Stage, e.sentinel, e.cause)
}

func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.sentinel}
	}
	return []error{e.sentinel, e.cause}
}

func newError(stage Stage, code string, sentinel, cause error) *Error {
	return &Error{Stage: stage, Code: code, sentinel: sentinel, cause: cause}
}

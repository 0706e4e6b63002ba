// Copyright 2025 Tom Barlow
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

package cli

import (
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/conductorbatch/core/pkg/errors"
)

// Exit codes for batchctl.
const (
	ExitSuccess       = 0
	ExitRuntimeError  = 1
	ExitInvalidInput  = 2
	ExitNotFound      = 3
	ExitConfig        = 4
)

// ExitError is an error that carries the process exit code it should
// produce, the way shared.ExitError did for the teacher's run command.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Cause }

// NewExitError classifies err against the package-level error taxonomy
// (pkg/errors) and wraps it with the exit code that best matches it.
func NewExitError(msg string, err error) *ExitError {
	var notFound *pkgerrors.NotFoundError
	var validation *pkgerrors.ValidationError
	var cfgErr *pkgerrors.ConfigError
	switch {
	case errors.As(err, &notFound):
		return &ExitError{Code: ExitNotFound, Message: msg, Cause: err}
	case errors.As(err, &validation):
		return &ExitError{Code: ExitInvalidInput, Message: msg, Cause: err}
	case errors.As(err, &cfgErr):
		return &ExitError{Code: ExitConfig, Message: msg, Cause: err}
	default:
		return &ExitError{Code: ExitRuntimeError, Message: msg, Cause: err}
	}
}

// HandleExitError prints err to stderr (plus a suggestion, if the error
// chain carries one) and exits with its classified code. A nil err is a
// no-op so commands can call this unconditionally.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		exitErr = NewExitError("", err)
	}

	fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
	printSuggestion(err)
	os.Exit(exitErr.Code)
}

func printSuggestion(err error) {
	for err != nil {
		if visible, ok := err.(pkgerrors.UserVisibleError); ok {
			if visible.IsUserVisible() {
				if s := visible.Suggestion(); s != "" {
					fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", s)
				}
			}
			return
		}
		err = errors.Unwrap(err)
	}
}

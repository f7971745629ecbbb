/*
Copyright The Ratify Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package errors

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

var (
	nextCode     = 1000
	registerLock sync.Mutex
)

var errorCodeToDescriptors = map[ErrorCode]ErrorDescriptor{}

// ErrorCode identifies a class of replication failure. The integer value is
// assigned at registration time and must never be persisted; use
// [ErrorDescriptor.Value] instead.
type ErrorCode int

// ErrorDescriptor provides relevant information about a given error code.
type ErrorDescriptor struct {
	// Code is the error code that this descriptor describes.
	Code ErrorCode

	// Value is a unique, upper-case key such as "ENUMERATION_FAILURE".
	Value string

	// Description explains when the error is raised.
	Description string
}

// Descriptor returns the descriptor for the error code.
func (ec ErrorCode) Descriptor() ErrorDescriptor {
	d, ok := errorCodeToDescriptors[ec]
	if !ok {
		return ErrorCodeUnknown.Descriptor()
	}
	return d
}

// NewError returns a bare Error of this code. Bare errors are used as
// sentinels for [errors.Is].
func (ec ErrorCode) NewError() Error {
	return Error{code: ec}
}

// WithError returns a new Error of this code caused by err.
func (ec ErrorCode) WithError(err error) Error {
	return Error{code: ec, cause: err}
}

// WithDetail returns a new Error of this code carrying detail.
func (ec ErrorCode) WithDetail(detail any) Error {
	return Error{code: ec, detail: detail}
}

// Error is a coded error with an optional detail and cause.
type Error struct {
	code   ErrorCode
	detail any
	cause  error
}

// Code returns the error code.
func (e Error) Code() ErrorCode {
	return e.code
}

// Is reports whether target is an Error of the same code.
func (e Error) Is(target error) bool {
	var t Error
	if errors.As(target, &t) {
		return e.code == t.code
	}
	return false
}

// Unwrap returns the cause.
func (e Error) Unwrap() error {
	return e.cause
}

// Error returns the code value followed by the detail and cause, separated
// by ": ".
func (e Error) Error() string {
	parts := []string{e.code.Descriptor().Value}
	if e.detail != nil {
		parts = append(parts, fmt.Sprint(e.detail))
	}
	if e.cause != nil {
		parts = append(parts, e.cause.Error())
	}
	return strings.Join(parts, ": ")
}

// Reason returns the message of the first cause that is not itself a coded
// Error, or the detail when there is no cause. Only directly nested coded
// errors are skipped: a cause wrapping a coded error with its own context is
// reported whole.
func (e Error) Reason() string {
	err := e
	for {
		inner, ok := err.cause.(Error)
		if !ok {
			break
		}
		err = inner
	}
	if err.cause != nil {
		return err.cause.Error()
	}
	if err.detail != nil {
		return fmt.Sprint(err.detail)
	}
	return err.code.Descriptor().Description
}

// WithDetail returns a copy of e with detail set.
func (e Error) WithDetail(detail any) Error {
	e.detail = detail
	return e
}

// WithError returns a copy of e with the cause set.
func (e Error) WithError(err error) Error {
	e.cause = err
	return e
}

// Truncate shortens msg to at most maxLength bytes, marking the cut with an
// ellipsis. The cut never splits a UTF-8 sequence.
func Truncate(msg string, maxLength int) string {
	if len(msg) <= maxLength {
		return msg
	}
	if maxLength <= 0 {
		return ""
	}
	ellipsis := "..."
	if maxLength <= len(ellipsis) {
		ellipsis = ""
	}
	n := maxLength - len(ellipsis)
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n] + ellipsis
}

// Register makes the descriptor known and returns its new ErrorCode.
func Register(descriptor ErrorDescriptor) ErrorCode {
	registerLock.Lock()
	defer registerLock.Unlock()

	descriptor.Code = ErrorCode(nextCode)
	if _, ok := errorCodeToDescriptors[descriptor.Code]; ok {
		panic(fmt.Sprintf("ErrorCode %v is already registered", descriptor.Code))
	}
	errorCodeToDescriptors[descriptor.Code] = descriptor

	nextCode++
	return descriptor.Code
}

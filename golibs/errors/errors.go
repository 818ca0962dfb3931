// Copyright 2023 The acquirecloud Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// The general errors that any service may use to classify failures that
// could be translated into an API response.
var (
	ErrExist         = errors.New("already exists")
	ErrNotExist      = errors.New("not found")
	ErrInvalid       = errors.New("invalid argument")
	ErrClosed        = errors.New("already closed")
	ErrExhausted     = errors.New("resource exhausted")
	ErrInternal      = errors.New("internal error")
	ErrNotAuthorized = errors.New("not authorized")
	ErrDataLoss      = errors.New("unrecoverable data loss or corruption")
	ErrUnimplemented = errors.New("not implemented")
	ErrConflict      = errors.New("conflicts with the current state")
	ErrCanceled      = errors.New("canceled")
	ErrCommunication = errors.New("communication error")
)

// jsonErrorMarker is used to embed an arbitrary JSON-encoded object into an
// error message produced by EmbedObject, so it can be extracted later by
// ExtractObject on the other side of an RPC boundary.
const jsonErrorMarker = "\x00obj:"

// Is reports whether err, or some error it wraps, matches target. It behaves
// like the standard errors.Is, but additionally unwraps gRPC status errors
// via FromGRPCError so remote errors compare equal to their local counterpart.
func Is(err, target error) bool {
	if errors.Is(err, target) {
		return true
	}
	return errors.Is(FromGRPCError(err), target)
}

// As is a direct alias of the standard errors.As, provided for symmetry with Is.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// EmbedObject JSON-encodes obj and appends it to err's message, so the object
// can travel across a boundary (e.g. gRPC) that only preserves error text, and
// be recovered on the other side with ExtractObject. Panics if obj or err is nil.
func EmbedObject(obj any, err error) error {
	if obj == nil {
		panic("errors.EmbedObject: obj must not be nil")
	}
	if err == nil {
		panic("errors.EmbedObject: err must not be nil")
	}
	if strings.Contains(err.Error(), jsonErrorMarker) {
		panic("errors.EmbedObject: err already carries an embedded object")
	}
	buf, mErr := json.Marshal(obj)
	if mErr != nil {
		panic(fmt.Sprintf("errors.EmbedObject: could not marshal object: %v", mErr))
	}
	return fmt.Errorf("%w%s%s%s", err, jsonErrorMarker, string(buf), jsonErrorMarker)
}

// ExtractObject looks for an object previously embedded into err via
// EmbedObject and, if found, unmarshals it into dst. It returns false if err
// is nil, carries no embedded object, or the object could not be unmarshaled.
func ExtractObject(err error, dst any) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	start := strings.Index(msg, jsonErrorMarker)
	if start < 0 {
		return false
	}
	start += len(jsonErrorMarker)
	end := strings.Index(msg[start:], jsonErrorMarker)
	if end < 0 {
		return false
	}
	payload := msg[start : start+end]
	if json.Unmarshal([]byte(payload), dst) != nil {
		return false
	}
	return true
}

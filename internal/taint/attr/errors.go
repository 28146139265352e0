// Copyright 2025 The taintflow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package attr

import (
	"errors"
	"fmt"
)

// Failures of the monitored program's own attribute access. They surface
// to the caller exactly as the program would have seen them.
var (
	ErrNoAttribute  = errors.New("no such attribute")
	ErrUnexported   = errors.New("attribute is not exported")
	ErrNilParent    = errors.New("nil parent")
	ErrNotSettable  = errors.New("attribute is not settable")
	ErrNoAttributes = errors.New("value has no attributes")
)

// Error describes a failed attribute access.
//
// Example:
//
//	get *main.Doc.Titel: no such attribute
type Error struct {
	Op   string // "get" or "set"
	Type string // dynamic type of the parent, adapters erased
	Name string // attribute name
	Err  error  // one of the sentinels above, or the error of a custom accessor
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s %s.%s: %v", e.Op, e.Type, e.Name, e.Err)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, parent any, name string, err error) *Error {
	return &Error{Op: op, Type: fmt.Sprintf("%T", parent), Name: name, Err: err}
}

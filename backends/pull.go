// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"context"

	"github.com/pkg/errors"
)

// Pull blocks until ref is resolved and returns its value as type T.
//
// It returns an error wrapping ErrTypeMismatch if the resolved value is not a T.
func Pull[T any](ctx context.Context, backend Backend, ref ObjRef) (T, error) {
	var zero T
	value, err := backend.Pull(ctx, ref)
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, errors.Wrapf(ErrTypeMismatch, "pulling %s: expected %T, got %T", ref, zero, value)
	}
	return typed, nil
}

// PullAll pulls each of the references, in order, as type T.
// It stops at the first error.
func PullAll[T any](ctx context.Context, backend Backend, refs ...ObjRef) ([]T, error) {
	values := make([]T, len(refs))
	for ii, ref := range refs {
		var err error
		values[ii], err = Pull[T](ctx, backend, ref)
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}

// CallOne is a shortcut for a Backend.Call with exactly one output.
func CallOne(backend Backend, name string, args ...any) (ObjRef, error) {
	refs, err := backend.Call(name, 1, args...)
	if err != nil {
		return ObjRef{}, err
	}
	return refs[0], nil
}

// wrapf is errors.Wrapf.
func wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/pkg/errors"
)

var (
	// ErrTypeMismatch is returned when a resolved value doesn't have the type the caller expected.
	ErrTypeMismatch = errors.New("backends: type mismatch")

	// ErrUnknownFunction is returned by Backend.Call for names not registered with RegisterFunction.
	ErrUnknownFunction = errors.New("backends: unknown function")

	// ErrInvalidRef is returned for unassigned, freed or unknown references.
	ErrInvalidRef = errors.New("backends: invalid object reference")

	// ErrFinalized is returned when using a backend after Backend.Finalize.
	ErrFinalized = errors.New("backends: backend finalized")
)

// errorf is errors.Errorf, kept short for the many messages in this package.
func errorf(format string, args ...any) error {
	return errors.Errorf(format, args...)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/google/uuid"
)

// ObjRef is an opaque reference to a value held by a Backend.
//
// It is comparable and can be gob-encoded, so it can be stored in maps and serialized along with
// the structure referencing it. The zero value is the unassigned reference: it is never returned
// by a Backend, and ObjRef.IsValid returns false for it.
type ObjRef struct {
	ID uuid.UUID
}

// NewObjRef returns a new unique reference. Only Backend implementations should create references.
func NewObjRef() ObjRef {
	return ObjRef{ID: uuid.New()}
}

// IsValid returns whether the reference was assigned.
func (r ObjRef) IsValid() bool {
	return r.ID != uuid.Nil
}

// String implements fmt.Stringer.
func (r ObjRef) String() string {
	if !r.IsValid() {
		return "ObjRef(unassigned)"
	}
	return "ObjRef(" + r.ID.String()[:8] + ")"
}

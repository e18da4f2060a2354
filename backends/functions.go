// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"sync"

	"github.com/gomlx/distarray/pkg/support/xslices"
	"github.com/gomlx/exceptions"
)

// Function is the body of a remotely executed operation.
//
// args holds the resolved values of the ObjRef arguments given to Backend.Call, and the other
// arguments as they were given. It returns exactly as many outputs as requested in the call.
//
// Functions must not mutate their arguments: values held by a backend are shared by every
// consumer.
type Function func(args []any) (outputs []any, err error)

var (
	muFunctions sync.RWMutex
	functions   = make(map[string]Function)
)

// RegisterFunction makes fn available to all backends under the given name.
//
// It panics if the name is already registered: it should be called during package
// initialization, and a duplicate is a programming error.
func RegisterFunction(name string, fn Function) {
	muFunctions.Lock()
	defer muFunctions.Unlock()
	if _, found := functions[name]; found {
		exceptions.Panicf("backends.RegisterFunction(%q): function already registered", name)
	}
	functions[name] = fn
}

// LookupFunction returns the function registered under name, or ErrUnknownFunction.
func LookupFunction(name string) (Function, error) {
	muFunctions.RLock()
	defer muFunctions.RUnlock()
	fn, found := functions[name]
	if !found {
		return nil, wrapf(ErrUnknownFunction, "function %q", name)
	}
	return fn, nil
}

// RegisteredFunctions returns the sorted names of all registered functions.
func RegisteredFunctions() []string {
	muFunctions.RLock()
	defer muFunctions.RUnlock()
	return xslices.SortedKeys(functions)
}

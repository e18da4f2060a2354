// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface to the execution and object-store layer that distributed
// arrays are built on.
//
// A Backend holds values (tiles, small matrices, tuples of results) behind opaque references
// (ObjRef), and executes registered functions (see RegisterFunction) lazily: Backend.Call returns
// the references to the results immediately, and the function body runs once all the references
// given as arguments are resolved. Backend.Pull blocks until a reference is resolved.
//
// The only dependency structure is the reference graph: a task consuming a reference waits for the
// task producing it. Errors also flow through the graph: if a task fails, every reference it was
// supposed to produce resolves to that error, and so do the results of any task consuming them.
//
// Backends register themselves with Register, and New returns the default one, configurable by
// the DISTARRAY_BACKEND environment variable. Import github.com/gomlx/distarray/backends/default
// to register the default implementations.
package backends

import (
	"context"
	"os"
	"strings"

	"github.com/gomlx/exceptions"
)

// Backend is the API that needs to be implemented by an execution and object-store layer.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "local" for the in-process backend.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Push stores an already computed value and returns a reference to it.
	Push(value any) (ObjRef, error)

	// Pull blocks until the reference is resolved (or ctx is done), and returns its value.
	//
	// If the task that should have produced the value failed, the error is returned.
	// See the generic Pull function for a version that checks the type of the value.
	Pull(ctx context.Context, ref ObjRef) (any, error)

	// Call dispatches the execution of the registered function name, and returns immediately
	// numOutputs references to its future results.
	//
	// Arguments of type ObjRef are dependencies: the function only runs once they are resolved, and
	// it receives their values instead. Any other argument is passed to the function as is.
	//
	// It returns an error immediately only for problems that can be detected without running
	// anything, like an unknown function name or an invalid reference.
	Call(name string, numOutputs int, args ...any) ([]ObjRef, error)

	// Free informs the backend that the values are no longer needed, and associated resources can be
	// released. A freed reference should never be used again.
	Free(refs ...ObjRef)

	// Wait blocks until all tasks dispatched so far finished executing.
	Wait()

	// Stats returns a snapshot of the backend counters.
	Stats() Stats

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "local") and
// "<backend_configuration>" is backend specific (e.g.: for the local backend, "parallelism=4").
const ConfigEnvVar = "DISTARRAY_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment DISTARRAY_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
// If there is no ":" the whole string is taken as the backend name, and an empty string selects
// the first registered backend.
//
// It panics if no backend was registered, which is a missing import and not a runtime condition.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for distarray -- maybe import the default one with import _ "github.com/gomlx/distarray/backends/default"?`)
	}
	backendName := config
	var backendConfig string
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	if backendName == "" {
		backendName = firstRegistered
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errorf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}

// MustNew returns New() and panics on error.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		panic(err)
	}
	return backend
}

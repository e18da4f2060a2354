// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package local implements an in-process backends.Backend: values are held in a Go map, and tasks
// run in goroutines, limited by a pool of workers.
//
// Configuration, given as "local:<config>" (see backends.NewWithConfig), is a comma separated list
// of key=value pairs. The only supported key is "parallelism": the max number of tasks executing
// at the same time. It defaults to the number of CPUs; -1 means unlimited, and 0 disables the pool:
// each task runs directly in its own dispatch goroutine.
package local

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/distarray/backends"
	"github.com/gomlx/distarray/internal/workerspool"
	"github.com/gomlx/distarray/pkg/support/xsync"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in DISTARRAY_BACKEND to specify this backend.
const BackendName = "local"

func init() {
	backends.Register(BackendName, New)
}

// New constructs a new local Backend from the configuration string.
func New(config string) (backends.Backend, error) {
	parallelism, err := parseConfig(config)
	if err != nil {
		return nil, err
	}
	return NewWithParallelism(parallelism), nil
}

// NewWithParallelism returns a new local Backend running at most parallelism tasks at a time.
func NewWithParallelism(parallelism int) *Backend {
	klog.V(1).Infof("local backend: parallelism=%d", parallelism)
	return &Backend{
		objects: make(map[backends.ObjRef]*object),
		pool:    workerspool.New(parallelism),
		pending: xsync.NewDynamicWaitGroup(),
	}
}

func parseConfig(config string) (parallelism int, err error) {
	parallelism = workerspool.NewDefault().MaxParallelism()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "parallelism":
			parallelism, err = strconv.Atoi(value)
			if err != nil {
				return 0, errors.Wrapf(err, "local backend: invalid parallelism %q", value)
			}
		default:
			return 0, errors.Errorf("local backend: unknown configuration key %q in %q", key, config)
		}
	}
	return parallelism, nil
}

// result of a task: either the value or the error.
type result struct {
	value any
	err   error
}

// object is an entry of the object table. It is resolved exactly once.
type object struct {
	latch *xsync.LatchWithValue[result]
}

func newObject() *object {
	return &object{latch: xsync.NewLatchWithValue[result]()}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	mu        sync.Mutex
	objects   map[backends.ObjRef]*object
	finalized bool

	pool    *workerspool.Pool
	pending *xsync.DynamicWaitGroup

	numPushed, tasksDispatched, tasksCompleted, tasksFailed atomic.Int64
}

// Compile-time check that local.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name implements backends.Backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	return "in-process backend, parallelism=" + strconv.Itoa(b.pool.MaxParallelism())
}

// Push implements backends.Backend.
func (b *Backend) Push(value any) (backends.ObjRef, error) {
	if value == nil {
		return backends.ObjRef{}, errors.New("local backend: cannot push a nil value")
	}
	obj := newObject()
	obj.latch.Trigger(result{value: value})
	ref := backends.NewObjRef()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return backends.ObjRef{}, errors.WithStack(backends.ErrFinalized)
	}
	b.objects[ref] = obj
	b.numPushed.Add(1)
	return ref, nil
}

// lockedLookup returns the object for ref. It must be called with b.mu locked.
func (b *Backend) lockedLookup(ref backends.ObjRef) (*object, error) {
	if b.finalized {
		return nil, errors.WithStack(backends.ErrFinalized)
	}
	if !ref.IsValid() {
		return nil, errors.WithStack(backends.ErrInvalidRef)
	}
	obj, found := b.objects[ref]
	if !found {
		return nil, errors.Wrapf(backends.ErrInvalidRef, "%s not found, maybe already freed", ref)
	}
	return obj, nil
}

// Pull implements backends.Backend.
func (b *Backend) Pull(ctx context.Context, ref backends.ObjRef) (any, error) {
	b.mu.Lock()
	obj, err := b.lockedLookup(ref)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	res, err := obj.latch.WaitContext(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "pulling %s", ref)
	}
	return res.value, res.err
}

// Call implements backends.Backend.
func (b *Backend) Call(name string, numOutputs int, args ...any) ([]backends.ObjRef, error) {
	fn, err := backends.LookupFunction(name)
	if err != nil {
		return nil, err
	}
	if numOutputs < 1 {
		return nil, errors.Errorf("local backend: Call(%q) requires at least one output, got %d", name, numOutputs)
	}

	// Capture the dependencies now: freeing an argument after the call doesn't affect the task.
	deps := make(map[int]*object)
	outputs := make([]*object, numOutputs)
	refs := make([]backends.ObjRef, numOutputs)
	b.mu.Lock()
	if b.finalized {
		b.mu.Unlock()
		return nil, errors.WithStack(backends.ErrFinalized)
	}
	for ii, arg := range args {
		ref, isRef := arg.(backends.ObjRef)
		if !isRef {
			continue
		}
		obj, err := b.lockedLookup(ref)
		if err != nil {
			b.mu.Unlock()
			return nil, errors.WithMessagef(err, "Call(%q), argument #%d", name, ii)
		}
		deps[ii] = obj
	}
	for ii := range outputs {
		outputs[ii] = newObject()
		refs[ii] = backends.NewObjRef()
		b.objects[refs[ii]] = outputs[ii]
	}
	b.mu.Unlock()

	b.tasksDispatched.Add(1)
	b.pending.Add(1)
	klog.V(3).Infof("local backend: dispatched %s(%d args) -> %v", name, len(args), refs)
	go b.pool.WaitToStart(func() {
		defer b.pending.Done()
		values, err := b.execute(name, fn, numOutputs, args, deps)
		if err != nil {
			b.tasksFailed.Add(1)
			klog.V(2).Infof("local backend: task %s failed: %v", name, err)
			for _, obj := range outputs {
				obj.latch.Trigger(result{err: err})
			}
			return
		}
		b.tasksCompleted.Add(1)
		for ii, obj := range outputs {
			obj.latch.Trigger(result{value: values[ii]})
		}
	})
	return refs, nil
}

// execute waits for the dependencies of a task and runs it.
func (b *Backend) execute(name string, fn backends.Function, numOutputs int, args []any, deps map[int]*object) (outputs []any, err error) {
	resolved := make([]any, len(args))
	copy(resolved, args)
	for ii, obj := range deps {
		if !obj.latch.Test() {
			// Release our slot while waiting, so the producer can run.
			b.pool.WorkerIsAsleep()
			obj.latch.Wait()
			b.pool.WorkerRestarted()
		}
		res := obj.latch.Wait()
		if res.err != nil {
			return nil, errors.WithMessagef(res.err, "%s: argument #%d", name, ii)
		}
		resolved[ii] = res.value
	}

	exception := exceptions.Try(func() {
		outputs, err = fn(resolved)
	})
	if exception != nil {
		if panicErr, ok := exception.(error); ok {
			return nil, errors.WithMessagef(panicErr, "%s panicked", name)
		}
		return nil, errors.Errorf("%s panicked: %v", name, exception)
	}
	if err != nil {
		return nil, errors.WithMessage(err, name)
	}
	if len(outputs) != numOutputs {
		return nil, errors.Errorf("%s returned %d outputs, but %d were requested", name, len(outputs), numOutputs)
	}
	return outputs, nil
}

// Free implements backends.Backend.
func (b *Backend) Free(refs ...backends.ObjRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ref := range refs {
		if _, found := b.objects[ref]; !found && !b.finalized {
			klog.Warningf("local backend: freeing unknown %s", ref)
		}
		delete(b.objects, ref)
	}
}

// Wait implements backends.Backend.
func (b *Backend) Wait() {
	b.pending.Wait()
}

// Stats implements backends.Backend.
func (b *Backend) Stats() backends.Stats {
	b.mu.Lock()
	numObjects := len(b.objects)
	b.mu.Unlock()
	return backends.Stats{
		NumObjects:      numObjects,
		NumPushed:       b.numPushed.Load(),
		TasksDispatched: b.tasksDispatched.Load(),
		TasksCompleted:  b.tasksCompleted.Load(),
		TasksFailed:     b.tasksFailed.Load(),
	}
}

// Finalize implements backends.Backend. Tasks already running are not interrupted, but their
// results are dropped.
func (b *Backend) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalized = true
	b.objects = make(map[backends.ObjRef]*object)
}

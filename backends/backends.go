// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the Executor interface that execution backends
// need to implement to run the sampling kernels, plus the Buffer type they
// operate on.
//
// An Executor knows how to do exactly two things: launch a data-parallel
// elementwise kernel over N elements, and copy a scalar from a device buffer
// back to the host. The sampling algorithms are written once against this
// interface; see the cpu and parallel sub-packages for the implementations.
//
// To simplify error handling, functions here are expected to throw (panic)
// with a stack trace in case of errors. See package
// github.com/gomlx/exceptions.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/variates/types/shapes"
)

// Executor is the capability interface implemented by execution backends.
type Executor interface {
	// Name returns the short name of the executor. E.g.: "cpu".
	Name() string

	// NewBuffer creates a device buffer for the given shape.
	// Its contents are undefined: buffers are recycled, so callers that rely
	// on initial values must write them.
	NewBuffer(shape shapes.Shape) *Buffer

	// PutBuffer returns a buffer for recycling. After this, any references to
	// the buffer should be dropped.
	PutBuffer(buffer *Buffer)

	// Launch runs the kernel over the index range [0, n), partitioned into
	// contiguous half-open sub-ranges [low, high). The kernel may be invoked
	// concurrently on disjoint ranges; Launch returns only after every
	// invocation has finished. Launching with n <= 0 is a no-op.
	Launch(n int, kernel func(low, high int))

	// Parallelism returns the number of lanes Launch aims to use. It is 1 for
	// sequential executors.
	Parallelism() int

	// ReadScalarF32 copies the single Float32 element of the buffer back to
	// host memory. This is a synchronization point: it only returns after
	// previously launched kernels have completed their writes.
	ReadScalarF32(buffer *Buffer) float32
}

// Constructor takes a config string (possibly empty, its interpretation is up
// to the executor) and returns an Executor.
type Constructor func(config string) Executor

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register an executor with the given name and its constructor. To be safe,
// call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
	klog.V(1).Infof("backends: registered executor %q", name)
}

// DefaultConfig is the executor configuration used by New if the environment
// variable is not set. See NewWithConfig for the format.
var DefaultConfig string

// VARIATES_EXECUTOR is the environment variable with the default executor
// configuration. The format is "<name>" or "<name>:<config>", e.g.
// "parallel:8".
const VARIATES_EXECUTOR = "VARIATES_EXECUTOR"

// New returns a new Executor built from the default configuration:
//
//  1. The environment variable VARIATES_EXECUTOR, if set.
//  2. The package variable DefaultConfig, if not empty.
//  3. The first registered executor, with an empty configuration.
//
// It panics if no executor was registered.
func New() Executor {
	if config, found := os.LookupEnv(VARIATES_EXECUTOR); found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig builds an Executor from a "<name>" or "<name>:<config>"
// string. An empty string selects the first registered executor.
func NewWithConfig(config string) Executor {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered executors -- import one, e.g.: import _ "github.com/gomlx/variates/backends/cpu"`)
	}
	name := firstRegistered
	executorConfig := ""
	if config != "" {
		name = config
		if idx := strings.Index(config, ":"); idx != -1 {
			name = config[:idx]
			executorConfig = config[idx+1:]
		}
	}
	constructor, found := registeredConstructors[name]
	if !found {
		exceptions.Panicf("can't find executor %q for configuration %q", name, config)
	}
	klog.V(1).Infof("backends: creating executor %q (config %q)", name, executorConfig)
	return constructor(executorConfig)
}

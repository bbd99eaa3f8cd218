// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"reflect"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/variates/types/shapes"
)

// Buffer holds a shape and a reference to the flat device data.
//
// The flat data is always a slice of the Go type corresponding to the shape's
// DType (e.g. []float32 for dtypes.Float32), with shape.Size() elements.
type Buffer struct {
	shape shapes.Shape

	// flat is always a slice of the underlying data type (shape.DType).
	flat any
}

// Shape of the buffer.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// Flat returns the underlying flat data slice, typed as any. Cast it to the
// slice type of the shape's dtype.
func (b *Buffer) Flat() any { return b.flat }

// FromFlat wraps an existing Go slice as a Buffer with the given shape. The
// slice is aliased, not copied. It panics if the slice element type doesn't
// match the shape's dtype or if the length doesn't match the shape's size.
//
// Buffers created this way are not pooled; don't pass them to PutBuffer.
func FromFlat(shape shapes.Shape, flat any) *Buffer {
	flatType := reflect.TypeOf(flat)
	if flatType.Kind() != reflect.Slice {
		exceptions.Panicf("backends.FromFlat: expected a slice, got %T", flat)
	}
	if got := dtypes.FromGoType(flatType.Elem()); got != shape.DType {
		exceptions.Panicf("backends.FromFlat: flat data type %s does not match shape %s", got, shape)
	}
	if length := reflect.ValueOf(flat).Len(); length != shape.Size() {
		exceptions.Panicf("backends.FromFlat: flat has %d elements, shape %s requires %d", length, shape, shape.Size())
	}
	return &Buffer{shape: shape.Clone(), flat: flat}
}

// Pool recycles buffers per (dtype, length). Executors embed it to implement
// NewBuffer and PutBuffer. The zero value is ready to use.
type Pool struct {
	// pools is a map[bufferPoolKey]*sync.Pool.
	pools sync.Map
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

func (p *Pool) getPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := p.pools.Load(key)
	if !ok {
		poolInterface, _ = p.pools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				return &Buffer{
					flat:  reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface(),
					shape: shapes.Make(dtype, length),
				}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// NewBuffer returns a recycled (or freshly allocated) buffer with the given
// shape. Its contents are undefined.
func (p *Pool) NewBuffer(shape shapes.Shape) *Buffer {
	if !shape.Ok() {
		exceptions.Panicf("backends: cannot create a buffer for invalid shape %s", shape)
	}
	buffer := p.getPool(shape.DType, shape.Size()).Get().(*Buffer)
	buffer.shape = shape.Clone()
	return buffer
}

// PutBuffer returns a buffer to the pool. Any references to it should be
// dropped after this.
func (p *Pool) PutBuffer(buffer *Buffer) {
	if buffer == nil || !buffer.shape.Ok() {
		return
	}
	p.getPool(buffer.shape.DType, buffer.shape.Size()).Put(buffer)
}

package roadhazard

import (
	"fmt"
	"sync"
)

// BufferPool holds a set of named pools of fp32 tensor buffers so output
// tensors can be copied out of OpenCV without allocating on every frame
type BufferPool struct {
	mu    sync.Mutex
	pools map[string]*bufferEntry
}

// bufferEntry defines a single named pool
type bufferEntry struct {
	pool    sync.Pool
	maxSize int
}

// NewBufferPool returns an empty BufferPool
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pools: make(map[string]*bufferEntry),
	}
}

// Create registers a new pool under name that produces buffers of maxSize
// elements.  Calling it twice with the same name returns an error.
func (b *BufferPool) Create(name string, maxSize int) error {

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.pools[name]; exists {
		return fmt.Errorf("buffer pool %q already exists", name)
	}

	entry := &bufferEntry{maxSize: maxSize}

	entry.pool.New = func() any {
		return make([]float32, maxSize)
	}

	b.pools[name] = entry

	return nil
}

// Get returns a slice of length size from the named pool, allocating a new
// one if size is larger than the pool's buffers.  The contents are not
// cleared.
func (b *BufferPool) Get(name string, size int) []float32 {

	entry := b.entry(name)

	buf := entry.pool.Get().([]float32)

	if cap(buf) < size {
		return make([]float32, size)
	}

	return buf[:size]
}

// Put returns a buffer obtained from Get with the same name.  Buffers that
// were allocated beyond the pool's size are dropped.
func (b *BufferPool) Put(name string, buf []float32) {

	entry := b.entry(name)

	if cap(buf) < entry.maxSize {
		return
	}

	// restore to full length so it matches entry.New next time
	entry.pool.Put(buf[:entry.maxSize])
}

// entry looks up a pool, panicking on an unregistered name
func (b *BufferPool) entry(name string) *bufferEntry {

	b.mu.Lock()
	entry, ok := b.pools[name]
	b.mu.Unlock()

	if !ok {
		panic(fmt.Sprintf("buffer pool %q not registered", name))
	}

	return entry
}

// yolov8OutputSize is the number of fp32 values in a YOLOv8 output tensor
// for a square input of inputSize with the given class count
func yolov8OutputSize(inputSize, classes int) int {

	anchors := 0

	for _, stride := range []int{8, 16, 32} {
		cells := inputSize / stride
		anchors += cells * cells
	}

	return (4 + classes) * anchors
}

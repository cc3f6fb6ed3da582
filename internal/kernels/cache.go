package kernels

import (
	"slices"
	"sync"
)

// Cache memoizes cubic B-spline kernels by stride.
//
// A kernel is created on first registration and handed out by reference
// afterwards. Deregistering only drops the cache entry; transforms holding the
// kernel keep using it.
type Cache struct {
	mu      sync.RWMutex
	kernels map[int]*Kernel
}

// NewCache creates an empty kernel cache.
func NewCache() *Cache {
	return &Cache{kernels: make(map[int]*Kernel)}
}

var defaultCache = NewCache()

// Default returns the process-wide kernel cache.
func Default() *Cache {
	return defaultCache
}

// Register returns the cached kernel for stride, creating it if necessary.
func (c *Cache) Register(stride int) (*Kernel, error) {
	c.mu.RLock()
	k, ok := c.kernels[stride]
	c.mu.RUnlock()
	if ok {
		return k, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.kernels[stride]; ok {
		return k, nil
	}
	k, err := CubicBSpline1D(stride)
	if err != nil {
		return nil, err
	}
	c.kernels[stride] = k
	return k, nil
}

// RegisterAll registers a kernel for every distinct stride and returns them
// in the order of strides.
func (c *Cache) RegisterAll(strides ...int) ([]*Kernel, error) {
	out := make([]*Kernel, len(strides))
	for i, s := range strides {
		k, err := c.Register(s)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

// Lookup returns the cached kernel for stride, if any.
func (c *Cache) Lookup(stride int) (*Kernel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.kernels[stride]
	return k, ok
}

// Deregister removes the kernels for the given strides from the cache.
func (c *Cache) Deregister(strides ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range strides {
		delete(c.kernels, s)
	}
}

// Strides returns the registered strides in increasing order.
func (c *Cache) Strides() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int, 0, len(c.kernels))
	for s := range c.kernels {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Register returns the kernel for stride from the process-wide cache.
func Register(stride int) (*Kernel, error) {
	return defaultCache.Register(stride)
}

// Lookup returns the kernel for stride from the process-wide cache, if registered.
func Lookup(stride int) (*Kernel, bool) {
	return defaultCache.Lookup(stride)
}

// Deregister removes kernels from the process-wide cache.
func Deregister(strides ...int) {
	defaultCache.Deregister(strides...)
}

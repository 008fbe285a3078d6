package storage

import (
	"fmt"
	"sync"
)

// MemoryDevice keeps the persistent region in a byte slice. It stands in
// for real storage in tests and in the "memory" storage type.
type MemoryDevice struct {
	mu      sync.Mutex
	data    []byte
	opens   int
	commits int
	fault   error
}

// NewMemoryDevice returns a zero provisioned device of capacity bytes.
func NewMemoryDevice(capacity int) *MemoryDevice {
	return &MemoryDevice{data: make([]byte, capacity)}
}

// NewMemoryDeviceFrom returns a device whose contents are a copy of data.
func NewMemoryDeviceFrom(data []byte) *MemoryDevice {
	d := &MemoryDevice{data: make([]byte, len(data))}
	copy(d.data, data)
	return d
}

// SetFault makes every following operation fail with err wrapped in
// ErrStorageFault. A nil err heals the device.
func (d *MemoryDevice) SetFault(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fault = err
}

// Bytes returns a copy of the committed contents.
func (d *MemoryDevice) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	ret := make([]byte, len(d.data))
	copy(ret, d.data)
	return ret
}

// Opens returns how many regions have been opened so far.
func (d *MemoryDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Commits returns how many commits reached the device.
func (d *MemoryDevice) Commits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits
}

func (d *MemoryDevice) Open(size int) (Region, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fault != nil {
		return nil, fault("open", d.fault)
	}
	if size <= 0 || size > len(d.data) {
		return nil, fault("open", fmt.Errorf("size %d exceeds capacity %d", size, len(d.data)))
	}
	d.opens++
	buf := make([]byte, size)
	copy(buf, d.data)
	return &memoryRegion{device: d, cache: newCache(buf)}, nil
}

type memoryRegion struct {
	device *MemoryDevice
	cache  *cache
	closed bool
}

func (r *memoryRegion) check(op string) error {
	if r.closed {
		return fault(op, fmt.Errorf("region closed"))
	}
	r.device.mu.Lock()
	defer r.device.mu.Unlock()
	if r.device.fault != nil {
		return fault(op, r.device.fault)
	}
	return nil
}

func (r *memoryRegion) ByteAt(offset int) (byte, error) {
	if err := r.check("read"); err != nil {
		return 0, err
	}
	return r.cache.get(offset)
}

func (r *memoryRegion) SetByteAt(offset int, value byte) error {
	if err := r.check("write"); err != nil {
		return err
	}
	return r.cache.set(offset, value)
}

func (r *memoryRegion) Commit() error {
	if err := r.check("commit"); err != nil {
		return err
	}
	r.device.mu.Lock()
	defer r.device.mu.Unlock()
	for i, dirty := range r.cache.dirty {
		if dirty {
			r.device.data[i] = r.cache.data[i]
		}
	}
	r.cache.clean()
	r.device.commits++
	return nil
}

func (r *memoryRegion) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return nil
}

package storage

import (
	"errors"
	"fmt"
)

// ErrStorageFault is wrapped by every error a Device or Region returns.
// Callers that only care whether the persistent region misbehaved can
// test for it with errors.Is.
var ErrStorageFault = errors.New("storage fault")

// ErrOutOfRange is returned when an offset lies outside the opened region.
var ErrOutOfRange = fmt.Errorf("%w: offset out of range", ErrStorageFault)

// Device hands out access to a block of non-volatile storage.
type Device interface {
	// Open acquires a region of at least size bytes. Every successful
	// Open must be paired with a Close on the returned Region.
	Open(size int) (Region, error)
}

// Region is an opened persistent region. Writes are cached until Commit
// and discarded if the region is closed without committing.
type Region interface {
	ByteAt(offset int) (byte, error)
	SetByteAt(offset int, value byte) error
	// Commit durably flushes pending writes before returning.
	Commit() error
	Close() error
}

func fault(op string, err error) error {
	if errors.Is(err, ErrStorageFault) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageFault, op, err)
}

func checkOffset(offset, size int) error {
	if offset < 0 || offset >= size {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfRange, offset, size)
	}
	return nil
}

// cache is the RAM copy of a region shared by all backends.
type cache struct {
	data  []byte
	dirty []bool
}

func newCache(data []byte) *cache {
	return &cache{data: data, dirty: make([]bool, len(data))}
}

func (c *cache) get(offset int) (byte, error) {
	if err := checkOffset(offset, len(c.data)); err != nil {
		return 0, err
	}
	return c.data[offset], nil
}

func (c *cache) set(offset int, value byte) error {
	if err := checkOffset(offset, len(c.data)); err != nil {
		return err
	}
	c.data[offset] = value
	c.dirty[offset] = true
	return nil
}

func (c *cache) isDirty() bool {
	for _, d := range c.dirty {
		if d {
			return true
		}
	}
	return false
}

func (c *cache) clean() {
	for i := range c.dirty {
		c.dirty[i] = false
	}
}

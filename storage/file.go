package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// FileDevice stores the region in an image file. A missing or short
// file is zero filled up to the requested size on Open.
type FileDevice struct {
	path string
}

func NewFileDevice(path string) *FileDevice {
	return &FileDevice{path: path}
}

func (d *FileDevice) Path() string {
	return d.path
}

func (d *FileDevice) Open(size int) (Region, error) {
	if size <= 0 {
		return nil, fault("open", fmt.Errorf("invalid size %d", size))
	}
	f, err := os.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fault("open", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fault("stat", err)
	}
	if info.Size() < int64(size) {
		slog.Info("Provisioning region image", "path", d.path, "size", size)
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fault("provision", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fault("provision", err)
		}
	}

	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
		f.Close()
		return nil, fault("read", err)
	}
	return &fileRegion{file: f, cache: newCache(buf)}, nil
}

type fileRegion struct {
	file  *os.File
	cache *cache
}

func (r *fileRegion) ByteAt(offset int) (byte, error) {
	if r.file == nil {
		return 0, fault("read", os.ErrClosed)
	}
	return r.cache.get(offset)
}

func (r *fileRegion) SetByteAt(offset int, value byte) error {
	if r.file == nil {
		return fault("write", os.ErrClosed)
	}
	return r.cache.set(offset, value)
}

func (r *fileRegion) Commit() error {
	if r.file == nil {
		return fault("commit", os.ErrClosed)
	}
	for i, dirty := range r.cache.dirty {
		if !dirty {
			continue
		}
		if _, err := r.file.WriteAt(r.cache.data[i:i+1], int64(i)); err != nil {
			return fault("commit", err)
		}
	}
	if err := r.file.Sync(); err != nil {
		return fault("commit", err)
	}
	r.cache.clean()
	return nil
}

func (r *fileRegion) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	if err != nil {
		return fault("close", err)
	}
	return nil
}

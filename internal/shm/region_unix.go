//go:build unix

// internal/shm/region_unix.go

package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Create makes a new zero-filled region. It fails when the name exists.
func Create(name string, capacity int) (*Region, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("shm: invalid capacity %d", capacity)
	}

	path := regionPath(name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(capacity)); err != nil {
		cleanup()
		return nil, fmt.Errorf("shm: resize %s: %w", path, err)
	}

	mem, err := mapFile(file, capacity)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &Region{name: name, path: path, file: file, mem: mem}, nil
}

// Attach maps an existing region at its current size.
func Attach(name string) (*Region, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	path := regionPath(name)
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: attach %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		file.Close()
		return nil, fmt.Errorf("shm: region %s is empty", name)
	}

	mem, err := mapFile(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Region{name: name, path: path, file: file, mem: mem}, nil
}

func mapFile(file *os.File, size int) ([]byte, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}
	return mem, nil
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}

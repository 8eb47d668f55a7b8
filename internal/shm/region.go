// internal/shm/region.go
package shm

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

var (
	ErrUnsupported = errors.New("shm: shared memory not supported on this platform")
	ErrClosed      = errors.New("shm: region closed")
)

// Region is a named, fixed-size byte region mapped into this process.
// Other processes attach to the same name and see the same bytes.
// There is no lock: writers and readers race and readers must tolerate
// torn content.
type Region struct {
	name string
	path string

	mu   sync.Mutex
	file *os.File
	mem  []byte
}

// Name returns the region name as given to Create or Attach.
func (r *Region) Name() string { return r.name }

// Path returns the backing file.
func (r *Region) Path() string { return r.path }

// Size returns the capacity in bytes, 0 after Close.
func (r *Region) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mem)
}

// ReadAt copies from the region. It implements io.ReaderAt.
func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mem == nil {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, errors.New("shm: negative offset")
	}
	if off >= int64(len(r.mem)) {
		return 0, io.EOF
	}
	n := copy(p, r.mem[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt copies into the region. Bytes past the capacity are not
// written and io.ErrShortWrite is returned.
func (r *Region) WriteAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mem == nil {
		return 0, ErrClosed
	}
	if off < 0 || off > int64(len(r.mem)) {
		return 0, errors.New("shm: offset out of range")
	}
	n := copy(r.mem[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Payload returns a copy of the bytes before the first NUL, which is how
// consumers delimit the published document.
func (r *Region) Payload() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mem == nil {
		return nil
	}
	end := bytes.IndexByte(r.mem, 0)
	if end < 0 {
		end = len(r.mem)
	}
	return append([]byte(nil), r.mem[:end]...)
}

// Close unmaps the region. The name stays valid for other processes
// until Unlink. Calling Close twice is harmless.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mem == nil {
		return nil
	}
	err := unmap(r.mem)
	r.mem = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	r.file = nil
	return err
}

// Unlink removes the name. Mapped views stay usable until closed.
func (r *Region) Unlink() error {
	err := os.Remove(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Remove deletes a region by name without attaching to it.
func Remove(name string) error {
	err := os.Remove(regionPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// regionPath mirrors POSIX shm_open naming so runtimes using the
// system call attach to the same object.
func regionPath(name string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", name)
	}
	return filepath.Join(os.TempDir(), name)
}

func validName(name string) error {
	if name == "" {
		return errors.New("shm: empty name")
	}
	if filepath.Base(name) != name || name == "." || name == ".." {
		return errors.New("shm: name must not contain path separators")
	}
	return nil
}

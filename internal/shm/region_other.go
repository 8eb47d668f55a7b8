//go:build !unix

// internal/shm/region_other.go

package shm

func Create(name string, capacity int) (*Region, error) {
	return nil, ErrUnsupported
}

func Attach(name string) (*Region, error) {
	return nil, ErrUnsupported
}

func unmap(mem []byte) error {
	return nil
}

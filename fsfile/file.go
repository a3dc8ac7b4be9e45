// Package fsfile implements the byte-addressed random-access file
// abstraction the core treats as an external collaborator: length, read,
// write, close, remove, all offset-addressed with no caching layer —
// the core itself owns no buffer pool. Every write is followed by an
// fsync: synchronous write-through and nothing more, no WAL.
package fsfile

import (
	"fmt"
	"os"
)

// File wraps an *os.File with the engine's I/O contract and an advisory
// single-writer lock taken for the lifetime of the handle.
type File struct {
	f      *os.File
	path   string
	locked bool
}

// Create creates a new file (failing if it already exists) and takes an
// exclusive advisory lock on it.
func Create(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("fsfile: create %s: %w", path, err)
	}
	return lockAndWrap(path, f)
}

// Open opens an existing file and takes an exclusive advisory lock on it.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("fsfile: open %s: %w", path, err)
	}
	return lockAndWrap(path, f)
}

func lockAndWrap(path string, f *os.File) (*File, error) {
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("fsfile: lock %s: %w", path, err)
	}
	return &File{f: f, path: path, locked: true}, nil
}

// Length returns the current file size in bytes.
func (file *File) Length() (int64, error) {
	fi, err := file.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("fsfile: stat %s: %w", file.path, err)
	}
	return fi.Size(), nil
}

// Read fills buf[:n] from the given file offset.
func (file *File) Read(offset int64, buf []byte, n int) (int, error) {
	got, err := file.f.ReadAt(buf[:n], offset)
	if err != nil {
		return got, fmt.Errorf("fsfile: read %s at %d: %w", file.path, offset, err)
	}
	return got, nil
}

// Write writes buf[:n] at the given file offset and fsyncs, giving
// synchronous write-through with no WAL (per the Non-goals).
func (file *File) Write(offset int64, buf []byte, n int) (int, error) {
	wrote, err := file.f.WriteAt(buf[:n], offset)
	if err != nil {
		return wrote, fmt.Errorf("fsfile: write %s at %d: %w", file.path, offset, err)
	}
	if err := file.f.Sync(); err != nil {
		return wrote, fmt.Errorf("fsfile: sync %s: %w", file.path, err)
	}
	return wrote, nil
}

// Close releases the advisory lock and closes the underlying handle.
func (file *File) Close() error {
	if file.locked {
		unlockFile(file.f)
		file.locked = false
	}
	if err := file.f.Close(); err != nil {
		return fmt.Errorf("fsfile: close %s: %w", file.path, err)
	}
	return nil
}

// Remove deletes the named file. The caller must Close it first.
func Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("fsfile: remove %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path names an existing file.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

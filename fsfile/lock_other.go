//go:build !unix

package fsfile

import "os"

// lockFile is a no-op on platforms without flock(2); the single-writer
// invariant then relies on the caller not opening the same file twice.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }

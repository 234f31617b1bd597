//go:build windows

package browser

import "os"

// Cross-process locking is not supported on Windows; the in-process held
// set still applies.
func lockFile(f *os.File) error   { return nil }
func unlockFile(f *os.File) error { return nil }

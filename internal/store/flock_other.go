//go:build !unix

package store

import "os"

// Without flock only one process may use a file store at a time.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }

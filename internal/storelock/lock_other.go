//go:build !unix

package storelock

import "os"

var errWouldBlock = errUnsupported{}

type errUnsupported struct{}

func (errUnsupported) Error() string { return "storelock: file locking unsupported on this platform" }

func flock(f *os.File, exclusive, block bool) error {
	return nil
}

func unflock(f *os.File) error {
	return nil
}

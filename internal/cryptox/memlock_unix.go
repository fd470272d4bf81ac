//go:build linux || darwin || freebsd

package cryptox

import "golang.org/x/sys/unix"

// lockMemory keeps b out of swap on a best-effort basis.
func lockMemory(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Mlock(b)
}

func unlockMemory(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Munlock(b)
}

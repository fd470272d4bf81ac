//go:build !(linux || darwin || freebsd)

package cryptox

func lockMemory(b []byte) {}

func unlockMemory(b []byte) {}

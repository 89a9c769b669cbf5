//go:build windows

package rlimit

// Raise is a no-op on Windows, which has no RLIMIT_NOFILE equivalent.
func Raise() {}

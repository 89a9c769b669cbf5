//go:build !windows

// Package rlimit raises the process's open-file limit at startup,
// since a retrieval pool and a FileStore with several read roots can
// each hold a meaningful number of file descriptors open at once.
package rlimit

import (
	"log"

	"golang.org/x/sys/unix"
)

// Raise sets RLIMIT_NOFILE's soft limit to its hard limit.
func Raise() {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		log.Println("rlimit: failed to read RLIMIT_NOFILE:", err)
		return
	}

	log.Printf("rlimit: initial RLIMIT_NOFILE cur=%d max=%d", limit.Cur, limit.Max)

	limit.Cur = limit.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		log.Println("rlimit: failed to raise RLIMIT_NOFILE:", err)
		return
	}

	log.Printf("rlimit: raised RLIMIT_NOFILE cur=%d max=%d", limit.Cur, limit.Max)
}

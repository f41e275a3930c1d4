//go:build !linux

package nanolog

import "golang.org/x/sys/unix"

// Direct I/O is only wired on Linux
const directIOFlag = 0

func fdatasync(fd int) error {
	return unix.Fsync(fd)
}

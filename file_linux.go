//go:build linux

package nanolog

import "golang.org/x/sys/unix"

// directIOFlag bypasses the page cache. Writes must then be 512 byte
// aligned and padded.
const directIOFlag = unix.O_DIRECT

// fdatasync flushes file data without forcing a metadata update
func fdatasync(fd int) error {
	return unix.Fdatasync(fd)
}

//go:build unix

package ingest

import (
	"fmt"
	"io/fs"
	"syscall"
)

// fileID derives an id from device and inode, which survive renames and
// moves within one filesystem.
func fileID(info fs.FileInfo) (string, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%x-%x", uint64(st.Dev), uint64(st.Ino)), true
}

//go:build linux

package fileops

import (
	"io/fs"
	"syscall"
	"time"
)

// createdTime reports the inode change time; Stat_t carries no birth time on
// Linux.
func createdTime(st fs.FileInfo) time.Time {
	if sys, ok := st.Sys().(*syscall.Stat_t); ok && sys != nil {
		return time.Unix(sys.Ctim.Unix())
	}
	return st.ModTime()
}

func hiddenAttr(fs.FileInfo) bool {
	return false
}

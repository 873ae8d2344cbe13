//go:build darwin

package fileops

import (
	"io/fs"
	"syscall"
	"time"
)

func createdTime(st fs.FileInfo) time.Time {
	if sys, ok := st.Sys().(*syscall.Stat_t); ok && sys != nil {
		return time.Unix(sys.Birthtimespec.Unix())
	}
	return st.ModTime()
}

// hiddenAttr checks the UF_HIDDEN flag set by chflags hidden.
func hiddenAttr(st fs.FileInfo) bool {
	const ufHidden = 0x8000
	if sys, ok := st.Sys().(*syscall.Stat_t); ok && sys != nil {
		return sys.Flags&ufHidden != 0
	}
	return false
}

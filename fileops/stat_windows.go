//go:build windows

package fileops

import (
	"io/fs"
	"syscall"
	"time"
)

func createdTime(st fs.FileInfo) time.Time {
	if data, ok := st.Sys().(*syscall.Win32FileAttributeData); ok && data != nil {
		return time.Unix(0, data.CreationTime.Nanoseconds())
	}
	return st.ModTime()
}

func hiddenAttr(st fs.FileInfo) bool {
	if data, ok := st.Sys().(*syscall.Win32FileAttributeData); ok && data != nil {
		return data.FileAttributes&syscall.FILE_ATTRIBUTE_HIDDEN != 0
	}
	return false
}

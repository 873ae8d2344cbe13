//go:build !linux && !darwin && !windows

package fileops

import (
	"io/fs"
	"time"
)

func createdTime(st fs.FileInfo) time.Time {
	return st.ModTime()
}

func hiddenAttr(fs.FileInfo) bool {
	return false
}

package fileops

import (
	"fmt"
	"strings"
)

const (
	folderIcon  = "📁"
	fileIcon    = "📄"
	warningIcon = "⚠️"
	driveIcon   = "💾"

	mb = 1 << 20
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// humanSize renders n bytes with a binary unit, e.g. "1.5 KB".
func humanSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n)
	unit := 0
	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s", v, sizeUnits[unit])
}

func formatMB(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/mb)
}

// exactSize is humanSize followed by the byte count.
func exactSize(n int64) string {
	return fmt.Sprintf("%s (%d bytes)", humanSize(n), n)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}

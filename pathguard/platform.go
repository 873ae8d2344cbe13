package pathguard

import (
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/disk"
)

// DriveDetector discovers the filesystem roots to allow when none are
// configured.
type DriveDetector interface {
	Drives() ([]string, error)
}

// ExclusionProvider supplies the built-in exclusion patterns for a host OS.
type ExclusionProvider interface {
	Exclusions() []string
}

// Platform bundles the per-OS strategies. One is selected at startup.
type Platform interface {
	DriveDetector
	ExclusionProvider
	Name() string
	// CaseInsensitive reports whether path comparisons fold case.
	CaseInsensitive() bool
}

// PartitionLister matches disk.Partitions so tests can substitute it.
type PartitionLister func(all bool) ([]disk.PartitionStat, error)

// DetectPlatform returns the strategy for goos. Unknown systems get the
// Linux strategy.
func DetectPlatform(goos string) Platform {
	switch goos {
	case "windows":
		return &WindowsPlatform{}
	case "darwin":
		return &DarwinPlatform{}
	default:
		return &LinuxPlatform{}
	}
}

// HostPlatform is DetectPlatform(runtime.GOOS).
func HostPlatform() Platform {
	return DetectPlatform(runtime.GOOS)
}

var commonExclusions = []string{
	"**/.git/**",
	"**/.ssh/**",
	"**/.gnupg/**",
}

func partitions(lister PartitionLister) ([]disk.PartitionStat, error) {
	if lister == nil {
		lister = disk.Partitions
	}
	return lister(false)
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// LinuxPlatform handles Linux and other Unix-like hosts.
type LinuxPlatform struct {
	Partitions PartitionLister
}

func (p *LinuxPlatform) Name() string          { return "linux" }
func (p *LinuxPlatform) CaseInsensitive() bool { return false }

var linuxPseudoMounts = []string{"/proc", "/sys", "/dev", "/run", "/snap", "/boot"}

// Drives returns "/" plus every real mount point outside the pseudo
// filesystems. A failed partition query still yields "/".
func (p *LinuxPlatform) Drives() ([]string, error) {
	drives := []string{"/"}

	parts, err := partitions(p.Partitions)
	if err != nil {
		return drives, err
	}

	for _, part := range parts {
		if part.Mountpoint == "" || isUnder(part.Mountpoint, linuxPseudoMounts) {
			continue
		}
		drives = append(drives, filepath.Clean(part.Mountpoint))
	}
	return uniqueSorted(drives), nil
}

func (p *LinuxPlatform) Exclusions() []string {
	return append([]string{
		"/proc/**",
		"/sys/**",
		"/dev/**",
		"/run/**",
		"/boot/**",
		"/lost+found/**",
		"/etc/shadow",
		"/etc/gshadow",
		"/etc/sudoers",
		"/etc/sudoers.d/**",
	}, commonExclusions...)
}

// DarwinPlatform handles macOS.
type DarwinPlatform struct {
	Partitions PartitionLister
}

func (p *DarwinPlatform) Name() string          { return "darwin" }
func (p *DarwinPlatform) CaseInsensitive() bool { return false }

// Drives returns "/" plus mounted volumes under /Volumes.
func (p *DarwinPlatform) Drives() ([]string, error) {
	drives := []string{"/"}

	parts, err := partitions(p.Partitions)
	if err != nil {
		return drives, err
	}

	for _, part := range parts {
		if strings.HasPrefix(part.Mountpoint, "/Volumes/") {
			drives = append(drives, filepath.Clean(part.Mountpoint))
		}
	}
	return uniqueSorted(drives), nil
}

func (p *DarwinPlatform) Exclusions() []string {
	return append([]string{
		"/System/**",
		"/dev/**",
		"/private/var/db/**",
		"/private/var/vm/**",
		"/private/etc/master.passwd",
		"/private/etc/sudoers",
		"/Volumes/*/.Spotlight-V100/**",
		"**/.Trashes/**",
		"**/.fseventsd/**",
	}, commonExclusions...)
}

// WindowsPlatform handles Windows drive letters.
type WindowsPlatform struct {
	Partitions PartitionLister
}

func (p *WindowsPlatform) Name() string          { return "windows" }
func (p *WindowsPlatform) CaseInsensitive() bool { return true }

// Drives returns one root per mounted drive letter, e.g. `C:\`.
func (p *WindowsPlatform) Drives() ([]string, error) {
	parts, err := partitions(p.Partitions)
	if err != nil {
		return []string{`C:\`}, err
	}

	var drives []string
	for _, part := range parts {
		mp := strings.TrimRight(part.Mountpoint, `\/`)
		if len(mp) != 2 || mp[1] != ':' {
			continue
		}
		drives = append(drives, strings.ToUpper(mp)+`\`)
	}
	if len(drives) == 0 {
		drives = []string{`C:\`}
	}
	return uniqueSorted(drives), nil
}

func (p *WindowsPlatform) Exclusions() []string {
	return append([]string{
		"?:/Windows/**",
		"?:/$Recycle.Bin/**",
		"?:/System Volume Information/**",
		"?:/Recovery/**",
		"?:/ProgramData/Microsoft/Crypto/**",
		"?:/pagefile.sys",
		"?:/hiberfil.sys",
		"?:/swapfile.sys",
	}, commonExclusions...)
}

func isUnder(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

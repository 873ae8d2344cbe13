package pathguard

import (
	"errors"
	"testing"

	"github.com/shirou/gopsutil/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakePartitions(mounts ...string) PartitionLister {
	return func(bool) ([]disk.PartitionStat, error) {
		parts := make([]disk.PartitionStat, 0, len(mounts))
		for _, m := range mounts {
			parts = append(parts, disk.PartitionStat{Mountpoint: m})
		}
		return parts, nil
	}
}

func failingPartitions(bool) ([]disk.PartitionStat, error) {
	return nil, errors.New("no partitions")
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		goos string
		want string
		fold bool
	}{
		{"linux", "linux", false},
		{"freebsd", "linux", false},
		{"darwin", "darwin", false},
		{"windows", "windows", true},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			p := DetectPlatform(tt.goos)
			assert.Equal(t, tt.want, p.Name())
			assert.Equal(t, tt.fold, p.CaseInsensitive())
			assert.Contains(t, p.Exclusions(), "**/.git/**")
		})
	}
}

func TestLinuxPlatform_Drives(t *testing.T) {
	p := &LinuxPlatform{Partitions: fakePartitions("/", "/home", "/proc/sys/fs/binfmt_misc", "/run/user/1000", "/mnt/data/", "/home")}
	drives, err := p.Drives()
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/home", "/mnt/data"}, drives)

	p = &LinuxPlatform{Partitions: failingPartitions}
	drives, err = p.Drives()
	assert.Error(t, err)
	assert.Equal(t, []string{"/"}, drives)
}

func TestDarwinPlatform_Drives(t *testing.T) {
	p := &DarwinPlatform{Partitions: fakePartitions("/", "/System/Volumes/Data", "/Volumes/Backup")}
	drives, err := p.Drives()
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/Volumes/Backup"}, drives)
}

func TestWindowsPlatform_Drives(t *testing.T) {
	p := &WindowsPlatform{Partitions: fakePartitions("C:", "d:\\", "\\\\?\\Volume{abc}\\")}
	drives, err := p.Drives()
	require.NoError(t, err)
	assert.Equal(t, []string{`C:\`, `D:\`}, drives)

	p = &WindowsPlatform{Partitions: failingPartitions}
	drives, err = p.Drives()
	assert.Error(t, err)
	assert.Equal(t, []string{`C:\`}, drives)
}

func TestPlatformExclusionsAreValid(t *testing.T) {
	for _, goos := range []string{"linux", "darwin", "windows"} {
		for _, pattern := range DetectPlatform(goos).Exclusions() {
			_, err := New(Config{
				Roots:      []string{t.TempDir()},
				Exclusions: []string{pattern},
				Platform:   &LinuxPlatform{},
			})
			assert.NoError(t, err, "%s: %s", goos, pattern)
		}
	}
}

package pathguard

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T, exclusions ...string) (*Guard, string) {
	t.Helper()
	root := t.TempDir()
	g, err := New(Config{
		Roots:      []string{root},
		Exclusions: exclusions,
		Platform:   &LinuxPlatform{},
	})
	require.NoError(t, err)

	canonical, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	return g, canonical
}

func touch(t *testing.T, p string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
}

func TestGuard_Resolve(t *testing.T) {
	g, root := newTestGuard(t)
	touch(t, filepath.Join(root, "docs", "a.txt"))

	tests := []struct {
		name    string
		input   string
		want    string
		denied  bool
		wantErr bool
	}{
		{name: "file under root", input: filepath.Join(root, "docs", "a.txt"), want: filepath.Join(root, "docs", "a.txt")},
		{name: "root itself", input: root, want: root},
		{name: "dot segments collapse", input: filepath.Join(root, "docs", "..", "docs", "a.txt"), want: filepath.Join(root, "docs", "a.txt")},
		{name: "missing leaf keeps tail", input: filepath.Join(root, "docs", "missing", "b.txt"), want: filepath.Join(root, "docs", "missing", "b.txt")},
		{name: "traversal out of root", input: filepath.Join(root, "..", ".."), denied: true},
		{name: "system file", input: "/etc/passwd", denied: true},
		{name: "empty", input: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Resolve(tt.input)
			switch {
			case tt.denied:
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDenied)
				var denied *DeniedError
				require.True(t, errors.As(err, &denied))
				assert.Equal(t, ReasonOutsideRoots, denied.Reason)
			case tt.wantErr:
				require.Error(t, err)
				assert.NotErrorIs(t, err, ErrDenied)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGuard_ComponentWisePrefix(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "data"), 0o755))
	touch(t, filepath.Join(base, "database", "x.txt"))

	g, err := New(Config{Roots: []string{filepath.Join(base, "data")}, Platform: &LinuxPlatform{}})
	require.NoError(t, err)

	_, err = g.Resolve(filepath.Join(base, "database", "x.txt"))
	assert.ErrorIs(t, err, ErrDenied)
}

func TestGuard_SymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	g, root := newTestGuard(t)
	outside := t.TempDir()
	touch(t, filepath.Join(outside, "secret.txt"))

	link := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(outside, link))

	_, err := g.Check(filepath.Join(link, "secret.txt"))
	assert.ErrorIs(t, err, ErrDenied)

	_, err = g.Check(link)
	assert.ErrorIs(t, err, ErrDenied)
}

func TestGuard_ExclusionWins(t *testing.T) {
	var denials []Reason
	root := t.TempDir()
	g, err := New(Config{
		Roots:      []string{root},
		Exclusions: []string{"**/confidential/**", "**/*.key"},
		Platform:   &LinuxPlatform{},
		OnDeny:     func(r Reason) { denials = append(denials, r) },
	})
	require.NoError(t, err)
	root, err = filepath.EvalSymlinks(root)
	require.NoError(t, err)

	touch(t, filepath.Join(root, "confidential", "notes.txt"))
	touch(t, filepath.Join(root, "certs", "server.key"))
	touch(t, filepath.Join(root, ".git", "config"))
	touch(t, filepath.Join(root, "public", "index.html"))

	for _, p := range []string{
		filepath.Join(root, "confidential"),
		filepath.Join(root, "confidential", "notes.txt"),
		filepath.Join(root, "certs", "server.key"),
		filepath.Join(root, ".git"),
		filepath.Join(root, ".git", "config"),
	} {
		resolved, err := g.Resolve(p)
		require.NoError(t, err, "path is inside the root: %s", p)

		_, excluded := g.IsExcluded(resolved)
		assert.True(t, excluded, p)

		_, err = g.Check(p)
		var denied *DeniedError
		require.True(t, errors.As(err, &denied), p)
		assert.Equal(t, ReasonExcluded, denied.Reason)
		assert.NotEmpty(t, denied.Pattern)
	}

	got, err := g.Check(filepath.Join(root, "public", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "public", "index.html"), got)

	assert.Len(t, denials, 5)
	for _, r := range denials {
		assert.Equal(t, ReasonExcluded, r)
	}
}

func TestGuard_AncestorExclusion(t *testing.T) {
	g, root := newTestGuard(t, "**/node_modules")
	touch(t, filepath.Join(root, "app", "node_modules", "pkg", "index.js"))

	_, err := g.Check(filepath.Join(root, "app", "node_modules", "pkg", "index.js"))
	assert.ErrorIs(t, err, ErrDenied)

	_, err = g.Check(filepath.Join(root, "app"))
	assert.NoError(t, err)
}

func TestGuard_InvalidPattern(t *testing.T) {
	_, err := New(Config{
		Roots:      []string{t.TempDir()},
		Exclusions: []string{"[unterminated"},
		Platform:   &LinuxPlatform{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid exclusion pattern")
}

func TestGuard_MissingRoot(t *testing.T) {
	_, err := New(Config{
		Roots:    []string{filepath.Join(t.TempDir(), "nope")},
		Platform: &LinuxPlatform{},
	})
	assert.Error(t, err)
}

func TestGuard_PathReplacedBySymlinkAfterCheck(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	g, root := newTestGuard(t)
	outside := t.TempDir()
	touch(t, filepath.Join(outside, "secret.txt"))

	file := filepath.Join(root, "notes.txt")
	dir := filepath.Join(root, "a")

	got, err := g.Check(file)
	require.NoError(t, err, "a missing path inside the root is allowed")
	assert.Equal(t, file, got)
	_, err = g.Check(dir)
	require.NoError(t, err)

	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), file))
	require.NoError(t, os.Symlink(outside, dir))

	_, err = g.Check(file)
	assert.ErrorIs(t, err, ErrDenied)
	_, err = g.Check(dir)
	assert.ErrorIs(t, err, ErrDenied)
	_, err = g.Check(filepath.Join(dir, "secret.txt"))
	assert.ErrorIs(t, err, ErrDenied)
}

func TestGuard_DirectoryReplacedBySymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	g, root := newTestGuard(t)
	outside := t.TempDir()
	touch(t, filepath.Join(outside, "secret.txt"))

	dir := filepath.Join(root, "shared")
	touch(t, filepath.Join(dir, "secret.txt"))
	_, err := g.Check(filepath.Join(dir, "secret.txt"))
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.Symlink(outside, dir))

	_, err = g.Check(filepath.Join(dir, "secret.txt"))
	assert.ErrorIs(t, err, ErrDenied)
}

type noDrivesPlatform struct{ *LinuxPlatform }

func (noDrivesPlatform) Drives() ([]string, error) { return nil, nil }

func TestGuard_NoDrivesDetected(t *testing.T) {
	_, err := New(Config{Platform: noDrivesPlatform{&LinuxPlatform{}}})
	require.Error(t, err)
	assert.Equal(t, "detect drives: no drives detected", err.Error())
}

func TestGuard_MemoIsBounded(t *testing.T) {
	root := t.TempDir()
	g, err := New(Config{Roots: []string{root}, Platform: &LinuxPlatform{}, MemoSize: 8})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		_, err := g.Resolve(filepath.Join(root, "missing", string(rune('a'+i%26)), "f"))
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, g.memo.Len(), 8)
}

func TestGuard_RootsAndPatterns(t *testing.T) {
	g, root := newTestGuard(t, "/custom/**")
	assert.Equal(t, []string{root}, g.Roots())
	assert.Contains(t, g.Patterns(), "/custom/**")
	assert.Contains(t, g.Patterns(), "/proc/**")
	assert.Equal(t, "linux", g.Platform().Name())
}

package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listingFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, Options{})
	f.write(t, "b.md", "# title")
	f.write(t, ".env", "SECRET=1")
	f.write(t, "docs/a.txt", strings.Repeat("a", 2048))
	f.write(t, "docs/sub/deep.txt", "deep")
	f.write(t, "docs/sub/deeper/deepest.txt", "deepest")
	f.write(t, "confidential/plan.txt", "plan")
	f.mkdir(t, "empty")
	return f
}

func TestListDirectory(t *testing.T) {
	f := listingFixture(t)

	res := call(t, f.svc.ListDirectory, map[string]interface{}{"path": f.root})
	require.False(t, res.IsError, res.Content[0].Text)
	text := res.Content[0].Text

	assert.True(t, strings.HasPrefix(text, folderIcon+" "+f.root+"\n"))
	assert.Contains(t, text, folderIcon+" docs/\n")
	assert.Contains(t, text, folderIcon+" empty/\n")
	assert.Contains(t, text, fileIcon+" b.md (7 B, .md)\n")
	assert.NotContains(t, text, ".env")
	assert.NotContains(t, text, "confidential")
	assert.NotContains(t, text, "a.txt", "not recursive")
	assert.Less(t, strings.Index(text, "docs/"), strings.Index(text, "b.md"), "directories first")
	assert.True(t, strings.HasSuffix(text, "2 directories, 1 file"))
}

func TestListDirectory_EntriesStatInParallel(t *testing.T) {
	f := newFixture(t, Options{})
	for i := 0; i < 32; i++ {
		f.write(t, fmt.Sprintf("f%02d.txt", i), "x")
	}
	peak := f.statConcurrency(f.root)

	res := call(t, f.svc.ListDirectory, map[string]interface{}{"path": f.root})
	require.False(t, res.IsError, res.Content[0].Text)

	assert.GreaterOrEqual(t, peak.Load(), int64(2))
	assert.LessOrEqual(t, peak.Load(), int64(f.pool.Size()))
	assert.True(t, strings.HasSuffix(res.Content[0].Text, "0 directories, 32 files"))
	assert.Less(t, strings.Index(res.Content[0].Text, "f00.txt"), strings.Index(res.Content[0].Text, "f31.txt"))
}

func TestListDirectory_Recursive(t *testing.T) {
	f := listingFixture(t)

	res := call(t, f.svc.ListDirectory, map[string]interface{}{"path": f.root, "recursive": true, "max_depth": 2})
	require.False(t, res.IsError)
	text := res.Content[0].Text

	assert.Contains(t, text, "\n  "+folderIcon+" sub/\n")
	assert.Contains(t, text, "\n  "+fileIcon+" a.txt (2.0 KB, .txt)\n")
	assert.NotContains(t, text, "deep.txt", "beyond max_depth")

	res = call(t, f.svc.ListDirectory, map[string]interface{}{"path": f.root, "recursive": true, "max_depth": 4})
	text = res.Content[0].Text
	assert.Contains(t, text, "\n    "+fileIcon+" deep.txt (4 B, .txt)\n")
	assert.Contains(t, text, "\n      "+fileIcon+" deepest.txt (7 B, .txt)\n")
	assert.NotContains(t, text, "plan.txt")
}

func TestListDirectory_ShowHidden(t *testing.T) {
	f := listingFixture(t)

	res := call(t, f.svc.ListDirectory, map[string]interface{}{"path": f.root, "show_hidden": true})
	assert.Contains(t, res.Content[0].Text, fileIcon+" .env (8 B)\n")
}

func TestListDirectory_Empty(t *testing.T) {
	f := listingFixture(t)

	res := call(t, f.svc.ListDirectory, map[string]interface{}{"path": filepath.Join(f.root, "empty")})
	assert.True(t, strings.HasSuffix(res.Content[0].Text, "(empty directory)"))
}

func TestListDirectory_Errors(t *testing.T) {
	f := listingFixture(t)

	res := call(t, f.svc.ListDirectory, map[string]interface{}{"path": filepath.Join(f.root, "b.md")})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "Not a directory")

	res = call(t, f.svc.ListDirectory, map[string]interface{}{"path": "/proc"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "not allowed")

	res = call(t, f.svc.ListDirectory, map[string]interface{}{"path": filepath.Join(f.root, "confidential")})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "not allowed")
}

func TestListDirectory_SymlinkOutOfRootIsHidden(t *testing.T) {
	f := listingFixture(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "loot.txt"), []byte("x"), 0o644))
	if err := os.Symlink(outside, filepath.Join(f.root, "escape")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	res := call(t, f.svc.ListDirectory, map[string]interface{}{"path": f.root, "recursive": true})
	assert.NotContains(t, res.Content[0].Text, "escape")
	assert.NotContains(t, res.Content[0].Text, "loot.txt")
}

func TestListDirectory_PermissionErrorIsInline(t *testing.T) {
	skipWithoutPermissions(t)
	f := listingFixture(t)
	locked := filepath.Join(f.root, "docs", "sub")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	res := call(t, f.svc.ListDirectory, map[string]interface{}{"path": f.root, "recursive": true})
	require.False(t, res.IsError)
	text := res.Content[0].Text
	assert.Contains(t, text, "  "+warningIcon+" sub/ [Permission denied]")
	assert.Contains(t, text, "a.txt")
}

package fileops

import (
	"fmt"
	"io/fs"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const timeLayout = "2006-01-02 15:04:05"

// FileInfo is the metadata reported for one resolved path. Size is nil for
// directories.
type FileInfo struct {
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	IsFile      bool      `json:"is_file"`
	IsDir       bool      `json:"is_dir"`
	Size        *int64    `json:"size,omitempty"`
	HumanSize   string    `json:"human_size,omitempty"`
	Modified    time.Time `json:"modified"`
	Created     time.Time `json:"created"`
	Extension   string    `json:"extension,omitempty"`
	MimeType    string    `json:"mime_type,omitempty"`
	Permissions string    `json:"permissions"`
	Hidden      bool      `json:"hidden"`
}

// fileInfo returns metadata for an already admitted path, from the cache when
// possible. Concurrent lookups of the same path share one stat.
func (s *Service) fileInfo(resolved string) (FileInfo, error) {
	if info, ok := s.cache.Get(resolved); ok {
		return info, nil
	}

	v, err, _ := s.stats.Do(resolved, func() (interface{}, error) {
		info, err := s.statFileInfo(resolved)
		if err != nil {
			s.cache.Invalidate(resolved)
			return FileInfo{}, err
		}
		s.cache.Set(resolved, info)
		return info, nil
	})
	if err != nil {
		return FileInfo{}, err
	}
	return v.(FileInfo), nil
}

func (s *Service) statFileInfo(path string) (FileInfo, error) {
	st, err := s.stat(path)
	if err != nil {
		return FileInfo{}, err
	}

	name := filepath.Base(path)
	info := FileInfo{
		Path:        path,
		Name:        name,
		IsFile:      st.Mode().IsRegular(),
		IsDir:       st.IsDir(),
		Modified:    st.ModTime(),
		Created:     createdTime(st),
		Permissions: st.Mode().String(),
		Hidden:      strings.HasPrefix(name, ".") || hiddenAttr(st),
	}

	if !info.IsDir {
		size := st.Size()
		info.Size = &size
		info.HumanSize = humanSize(size)
		if ext := filepath.Ext(name); ext != name {
			info.Extension = strings.ToLower(ext)
		}
		info.MimeType = detectMIME(path, info.Extension, st)
	}
	return info, nil
}

// detectMIME prefers the extension table and sniffs content only when the
// extension is unknown.
func detectMIME(path, ext string, st fs.FileInfo) string {
	if ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return mediaType(t)
		}
	}
	if st.Mode().IsRegular() && st.Size() > 0 {
		if m, err := mimetype.DetectFile(path); err == nil {
			return mediaType(m.String())
		}
	}
	return "application/octet-stream"
}

// mediaType drops parameters such as charset.
func mediaType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

func (fi FileInfo) render() string {
	var b strings.Builder

	kind := "File"
	icon := fileIcon
	if fi.IsDir {
		kind = "Directory"
		icon = folderIcon
	}

	fmt.Fprintf(&b, "%s %s\n", icon, fi.Name)
	fmt.Fprintf(&b, "Path: %s\n", fi.Path)
	fmt.Fprintf(&b, "Type: %s\n", kind)
	if fi.Size != nil {
		fmt.Fprintf(&b, "Size: %s (%d bytes)\n", fi.HumanSize, *fi.Size)
	}
	if fi.Extension != "" {
		fmt.Fprintf(&b, "Extension: %s\n", fi.Extension)
	}
	if fi.MimeType != "" {
		fmt.Fprintf(&b, "MIME type: %s\n", fi.MimeType)
	}
	fmt.Fprintf(&b, "Modified: %s\n", fi.Modified.Format(timeLayout))
	fmt.Fprintf(&b, "Created: %s\n", fi.Created.Format(timeLayout))
	fmt.Fprintf(&b, "Permissions: %s\n", fi.Permissions)
	fmt.Fprintf(&b, "Hidden: %t", fi.Hidden)
	return b.String()
}

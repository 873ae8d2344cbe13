package fileops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shaharia-lab/fsmcp/pathguard"
	"github.com/shaharia-lab/fsmcp/workerpool"
)

// entry is one admitted directory entry. name is the entry's own name; path
// is its resolved location and dir the directory it was listed from.
type entry struct {
	dir     string
	name    string
	path    string
	isDir   bool
	size    int64
	modTime time.Time
}

// dirent is a name read from dir that has not been checked yet.
type dirent struct {
	dir  string
	name string
}

// readDirs lists every directory in dirs as one pool batch. keep filters
// names before any per-entry work is queued. Directories that cannot be read
// are returned in failed; the error is non-nil only when the whole level must
// stop.
func (s *Service) readDirs(ctx context.Context, dirs []string, keep func(name string) bool) ([]dirent, map[string]error, error) {
	results := workerpool.SubmitAll(ctx, s.pool, dirs, func(ctx context.Context, dir string) ([]os.DirEntry, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return os.ReadDir(dir)
	})

	var (
		out    []dirent
		failed map[string]error
	)
	for _, r := range results {
		if r.Err != nil {
			if err := interrupted(ctx, r.Err); err != nil {
				return nil, nil, err
			}
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[r.Item] = r.Err
			continue
		}
		for _, d := range r.Value {
			if keep == nil || keep(d.Name()) {
				out = append(out, dirent{dir: r.Item, name: d.Name()})
			}
		}
	}
	return out, failed, nil
}

// interrupted returns the error that should end a walk: cancellation or a
// closed pool. Anything else only affects its own item.
func interrupted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, workerpool.ErrClosed) {
		return err
	}
	return nil
}

// skipped logs an entry dropped from a walk. Guard denials are expected and
// already counted by the guard.
func (s *Service) skipped(path string, err error) {
	if !errors.Is(err, pathguard.ErrDenied) {
		s.walkWarning(path, err)
	}
}

func (s *Service) statEntry(ctx context.Context, d dirent) (entry, error) {
	if err := ctx.Err(); err != nil {
		return entry{}, err
	}
	resolved, err := s.guard.Check(filepath.Join(d.dir, d.name))
	if err != nil {
		return entry{}, err
	}
	st, err := s.stat(resolved)
	if err != nil {
		return entry{}, err
	}
	return entry{
		dir:     d.dir,
		name:    d.name,
		path:    resolved,
		isDir:   st.IsDir(),
		size:    st.Size(),
		modTime: st.ModTime(),
	}, nil
}

// walk visits every admitted entry below root breadth-first, down to maxDepth
// levels. Each level is two pool batches: one item per directory to read it,
// then one item per entry to check and stat it. Within a level, directories
// are visited in path order and entries in name order. visit returning false
// ends the walk. Unreadable directories and entries are logged and skipped.
func (s *Service) walk(ctx context.Context, root string, maxDepth int, visit func(depth int, e entry) bool) error {
	seen := map[string]struct{}{root: {}}
	level := []string{root}

	for depth := 1; depth <= maxDepth && len(level) > 0; depth++ {
		dirents, failed, err := s.readDirs(ctx, level, nil)
		if err != nil {
			return err
		}
		for dir, err := range failed {
			s.walkWarning(dir, err)
		}

		results := workerpool.SubmitAll(ctx, s.pool, dirents, s.statEntry)
		entries := make([]entry, 0, len(results))
		for _, r := range results {
			if r.Err != nil {
				if err := interrupted(ctx, r.Err); err != nil {
					return err
				}
				s.skipped(filepath.Join(r.Item.dir, r.Item.name), r.Err)
				continue
			}
			entries = append(entries, r.Value)
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].dir != entries[j].dir {
				return entries[i].dir < entries[j].dir
			}
			return entries[i].name < entries[j].name
		})

		var next []string
		for _, e := range entries {
			if !visit(depth, e) {
				return nil
			}
			if !e.isDir {
				continue
			}
			if _, ok := seen[e.path]; ok {
				continue
			}
			seen[e.path] = struct{}{}
			next = append(next, e.path)
		}
		level = next
	}
	return nil
}

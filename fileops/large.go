package fileops

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shaharia-lab/fsmcp"
)

const (
	defaultLargeMinMB   = 100
	defaultLargeResults = 50
)

type largeArgs struct {
	RootPath   string  `json:"root_path"`
	MinSizeMB  float64 `json:"min_size_mb"`
	MaxResults int     `json:"max_results"`
}

// FindLargeFiles handles find_large_files.
func (s *Service) FindLargeFiles(ctx context.Context, params fsmcp.CallToolParams) (fsmcp.CallToolResult, error) {
	ctx, span := fsmcp.StartSpan(ctx, "fileops.FindLargeFiles")
	defer span.End()

	args := largeArgs{MinSizeMB: defaultLargeMinMB, MaxResults: defaultLargeResults}
	if err := bind(params, &args); err != nil {
		return fsmcp.CallToolResult{}, err
	}

	root, err := s.walkRoot(args.RootPath)
	if err != nil {
		return s.fail(ctx, ToolFindLargeFiles, args.RootPath, err), nil
	}

	limit := s.capResults(args.MaxResults, defaultLargeResults)
	threshold := int64(args.MinSizeMB * mb)

	var (
		found []entry
		total int
	)
	err = s.walk(ctx, root, largeMaxDepth, func(_ int, e entry) bool {
		if e.isDir || e.size < threshold {
			return true
		}
		total++
		found = append(found, e)
		// Keep memory proportional to the limit on trees with many hits.
		if len(found) > 2*limit+256 {
			found = largestFirst(found)[:limit]
		}
		return true
	})
	if err != nil {
		return s.fail(ctx, ToolFindLargeFiles, args.RootPath, err), nil
	}

	found = largestFirst(found)
	if len(found) > limit {
		found = found[:limit]
	}
	return fsmcp.TextResult(renderLarge(root, threshold, found, total)), nil
}

func largestFirst(files []entry) []entry {
	sort.Slice(files, func(i, j int) bool {
		if files[i].size != files[j].size {
			return files[i].size > files[j].size
		}
		return files[i].path < files[j].path
	})
	return files
}

func renderLarge(root string, threshold int64, files []entry, total int) string {
	if len(files) == 0 {
		return fmt.Sprintf("No files of at least %s found under %s.", formatMB(threshold), root)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %s of at least %s under %s (largest first):\n",
		plural(total, "file", "files"), formatMB(threshold), root)
	for i, f := range files {
		fmt.Fprintf(&b, "%d. %s %s (%s, modified %s)\n", i+1, fileIcon, f.path, humanSize(f.size), f.modTime.Format(timeLayout))
	}
	if total > len(files) {
		fmt.Fprintf(&b, "\n[Showing the largest %d of %d files. Raise min_size_mb or max_results to adjust.]", len(files), total)
	}
	return strings.TrimRight(b.String(), "\n")
}

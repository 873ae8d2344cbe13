package fileops

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/shaharia-lab/fsmcp"
)

const defaultSearchResults = 100

type searchArgs struct {
	Pattern    string   `json:"pattern"`
	RootPath   string   `json:"root_path"`
	FileTypes  []string `json:"file_types"`
	MaxResults int      `json:"max_results"`
}

// SearchFiles handles search_files. Names are matched case-insensitively;
// the walk stops at the first match beyond the limit.
func (s *Service) SearchFiles(ctx context.Context, params fsmcp.CallToolParams) (fsmcp.CallToolResult, error) {
	ctx, span := fsmcp.StartSpan(ctx, "fileops.SearchFiles")
	defer span.End()

	args := searchArgs{MaxResults: defaultSearchResults}
	if err := bind(params, &args); err != nil {
		return fsmcp.CallToolResult{}, err
	}

	pattern := namePattern(args.Pattern)
	if !doublestar.ValidatePattern(pattern) {
		return fsmcp.ErrorResult(fmt.Sprintf("Invalid search pattern %q.", args.Pattern)), nil
	}

	root, err := s.walkRoot(args.RootPath)
	if err != nil {
		return s.fail(ctx, ToolSearchFiles, args.RootPath, err), nil
	}

	limit := s.capResults(args.MaxResults, defaultSearchResults)
	types := extensionSet(args.FileTypes)

	var (
		matches   []entry
		truncated bool
	)
	err = s.walk(ctx, root, searchMaxDepth, func(_ int, e entry) bool {
		if ok, _ := doublestar.Match(pattern, strings.ToLower(e.name)); !ok {
			return true
		}
		if len(types) > 0 {
			if e.isDir {
				return true
			}
			if _, ok := types[strings.ToLower(filepath.Ext(e.name))]; !ok {
				return true
			}
		}
		if len(matches) == limit {
			truncated = true
			return false
		}
		matches = append(matches, e)
		return true
	})
	if err != nil {
		return s.fail(ctx, ToolSearchFiles, args.RootPath, err), nil
	}

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"root":      root,
		"pattern":   args.Pattern,
		"matches":   len(matches),
		"truncated": truncated,
	}).Debug("Search finished")

	return fsmcp.TextResult(renderMatches(args.Pattern, root, matches, limit, truncated)), nil
}

// walkRoot admits and checks the starting directory of a walk.
func (s *Service) walkRoot(raw string) (string, error) {
	root, err := s.guard.Check(raw)
	if err != nil {
		return "", err
	}
	st, err := s.stat(root)
	if err != nil {
		return "", err
	}
	if !st.IsDir() {
		return "", fmt.Errorf("%s is not a directory", raw)
	}
	return root, nil
}

// capResults applies the per-call default and the server-wide maximum.
func (s *Service) capResults(requested, fallback int) int {
	if requested <= 0 {
		requested = fallback
	}
	if requested > s.maxResults {
		return s.maxResults
	}
	return requested
}

// namePattern lowercases the pattern. Plain text without glob syntax matches
// anywhere in the name.
func namePattern(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if !strings.ContainsAny(p, "*?[{") {
		return "*" + p + "*"
	}
	return p
}

func extensionSet(types []string) map[string]struct{} {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		t = strings.TrimPrefix(t, "*")
		if t == "" || t == "." {
			continue
		}
		if !strings.HasPrefix(t, ".") {
			t = "." + t
		}
		set[t] = struct{}{}
	}
	return set
}

func renderMatches(pattern, root string, matches []entry, limit int, truncated bool) string {
	if len(matches) == 0 {
		return fmt.Sprintf("No matches for %q under %s.", pattern, root)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %s for %q under %s:\n", plural(len(matches), "match", "matches"), pattern, root)
	for _, m := range matches {
		if m.isDir {
			fmt.Fprintf(&b, "%s %s%c\n", folderIcon, m.path, filepath.Separator)
			continue
		}
		fmt.Fprintf(&b, "%s %s (%s)\n", fileIcon, m.path, humanSize(m.size))
	}
	if truncated {
		fmt.Fprintf(&b, "\n[Truncated: stopped after %d results. Narrow the pattern or raise max_results.]", limit)
	}
	return strings.TrimRight(b.String(), "\n")
}

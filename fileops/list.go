package fileops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shaharia-lab/fsmcp"
	"github.com/shaharia-lab/fsmcp/workerpool"
)

type listArgs struct {
	Path       string `json:"path"`
	ShowHidden bool   `json:"show_hidden"`
	Recursive  bool   `json:"recursive"`
	MaxDepth   int    `json:"max_depth"`
}

type listNode struct {
	name     string
	info     FileInfo
	children []*listNode
	// err is set when the directory could not be read.
	err error
}

// ListDirectory handles list_directory. Each level of the tree is read as one
// pool batch and its entries are checked and stat'ed as another, one item per
// entry. A subdirectory that cannot be read is shown inline and does not fail
// the listing.
func (s *Service) ListDirectory(ctx context.Context, params fsmcp.CallToolParams) (fsmcp.CallToolResult, error) {
	ctx, span := fsmcp.StartSpan(ctx, "fileops.ListDirectory")
	defer span.End()

	args := listArgs{MaxDepth: 3}
	if err := bind(params, &args); err != nil {
		return fsmcp.CallToolResult{}, err
	}

	resolved, err := s.guard.Check(args.Path)
	if err != nil {
		return s.fail(ctx, ToolListDirectory, args.Path, err), nil
	}
	info, err := s.fileInfo(resolved)
	if err != nil {
		return s.fail(ctx, ToolListDirectory, args.Path, err), nil
	}
	if !info.IsDir {
		return fsmcp.ErrorResult(fmt.Sprintf("Not a directory: %s. Use read_file or get_file_info for files.", args.Path)), nil
	}

	depth := 1
	if args.Recursive && args.MaxDepth > 1 {
		depth = args.MaxDepth
	}

	keep := func(name string) bool {
		return args.ShowHidden || !strings.HasPrefix(name, ".")
	}

	root := &listNode{name: resolved, info: info}
	seen := map[string]struct{}{resolved: {}}
	level := []*listNode{root}

	for d := 1; d <= depth && len(level) > 0; d++ {
		byDir := make(map[string]*listNode, len(level))
		dirs := make([]string, 0, len(level))
		for _, n := range level {
			byDir[n.info.Path] = n
			dirs = append(dirs, n.info.Path)
		}

		dirents, failed, err := s.readDirs(ctx, dirs, keep)
		if err != nil {
			return s.fail(ctx, ToolListDirectory, args.Path, err), nil
		}
		for dir, err := range failed {
			s.walkWarning(dir, err)
			byDir[dir].err = err
		}

		results := workerpool.SubmitAll(ctx, s.pool, dirents, s.listEntry)
		for _, r := range results {
			if r.Err != nil {
				if err := interrupted(ctx, r.Err); err != nil {
					return s.fail(ctx, ToolListDirectory, args.Path, err), nil
				}
				s.skipped(filepath.Join(r.Item.dir, r.Item.name), r.Err)
				continue
			}
			if !args.ShowHidden && r.Value.info.Hidden {
				continue
			}
			parent := byDir[r.Item.dir]
			parent.children = append(parent.children, r.Value)
		}

		var next []*listNode
		for _, n := range level {
			sortNodes(n.children)
			for _, c := range n.children {
				if !c.info.IsDir {
					continue
				}
				if _, ok := seen[c.info.Path]; ok {
					continue
				}
				seen[c.info.Path] = struct{}{}
				next = append(next, c)
			}
		}
		level = next
	}

	if root.err != nil {
		return s.fail(ctx, ToolListDirectory, args.Path, root.err), nil
	}
	return fsmcp.TextResult(renderListing(root)), nil
}

func (s *Service) listEntry(ctx context.Context, d dirent) (*listNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := s.guard.Check(filepath.Join(d.dir, d.name))
	if err != nil {
		return nil, err
	}
	info, err := s.fileInfo(resolved)
	if err != nil {
		return nil, err
	}
	return &listNode{name: d.name, info: info}, nil
}

// sortNodes puts directories first, then orders by name.
func sortNodes(nodes []*listNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].info.IsDir != nodes[j].info.IsDir {
			return nodes[i].info.IsDir
		}
		return nodes[i].name < nodes[j].name
	})
}

func renderListing(root *listNode) string {
	var (
		b           strings.Builder
		dirs, files int
	)

	fmt.Fprintf(&b, "%s %s\n", folderIcon, root.name)
	if len(root.children) == 0 {
		b.WriteString("(empty directory)")
		return b.String()
	}

	var write func(nodes []*listNode, depth int)
	write = func(nodes []*listNode, depth int) {
		for _, n := range nodes {
			b.WriteString(indent(depth))
			switch {
			case n.err != nil:
				dirs++
				fmt.Fprintf(&b, "%s %s/ [%s]\n", warningIcon, n.name, listError(n.err))
			case n.info.IsDir:
				dirs++
				fmt.Fprintf(&b, "%s %s/\n", folderIcon, n.name)
				write(n.children, depth+1)
			default:
				files++
				fmt.Fprintf(&b, "%s %s (%s)\n", fileIcon, n.name, fileDetails(n.info))
			}
		}
	}
	write(root.children, 0)

	fmt.Fprintf(&b, "\n%s, %s", plural(dirs, "directory", "directories"), plural(files, "file", "files"))
	return b.String()
}

func fileDetails(info FileInfo) string {
	if info.Extension == "" {
		return info.HumanSize
	}
	return info.HumanSize + ", " + info.Extension
}

func listError(err error) string {
	if errors.Is(err, fs.ErrPermission) {
		return "Permission denied"
	}
	return "Unreadable: " + err.Error()
}

package fileops

import (
	"context"

	"github.com/shaharia-lab/fsmcp"
)

type fileInfoArgs struct {
	Path string `json:"path"`
}

// GetFileInfo handles get_file_info.
func (s *Service) GetFileInfo(ctx context.Context, params fsmcp.CallToolParams) (fsmcp.CallToolResult, error) {
	ctx, span := fsmcp.StartSpan(ctx, "fileops.GetFileInfo")
	defer span.End()

	var args fileInfoArgs
	if err := bind(params, &args); err != nil {
		return fsmcp.CallToolResult{}, err
	}

	resolved, err := s.guard.Check(args.Path)
	if err != nil {
		return s.fail(ctx, ToolGetFileInfo, args.Path, err), nil
	}

	info, err := s.fileInfo(resolved)
	if err != nil {
		return s.fail(ctx, ToolGetFileInfo, args.Path, err), nil
	}
	return fsmcp.TextResult(info.render()), nil
}

package fileops

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/disk"

	"github.com/shaharia-lab/fsmcp"
	"github.com/shaharia-lab/fsmcp/workerpool"
)

// GetDriveInfo handles get_drive_info. Roots are queried in parallel and a
// failing root is reported in place.
func (s *Service) GetDriveInfo(ctx context.Context, _ fsmcp.CallToolParams) (fsmcp.CallToolResult, error) {
	ctx, span := fsmcp.StartSpan(ctx, "fileops.GetDriveInfo")
	defer span.End()

	roots := s.guard.Roots()
	results := workerpool.SubmitAll(ctx, s.pool, roots, func(ctx context.Context, root string) (*disk.UsageStat, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return s.usage(root)
	})
	sort.Slice(results, func(i, j int) bool { return results[i].Item < results[j].Item })

	var b strings.Builder
	fmt.Fprintf(&b, "Drive information for %s:\n", plural(len(roots), "allowed root", "allowed roots"))
	for _, r := range results {
		if errors.Is(r.Err, workerpool.ErrClosed) {
			return s.fail(ctx, ToolGetDriveInfo, r.Item, r.Err), nil
		}
		b.WriteString("\n")
		if r.Err != nil {
			s.logger.WithContext(ctx).WithFields(map[string]interface{}{"root": r.Item}).WithErr(r.Err).Warn("Drive query failed")
			fmt.Fprintf(&b, "%s %s: unavailable (%v)\n", warningIcon, r.Item, r.Err)
			continue
		}
		u := r.Value
		fmt.Fprintf(&b, "%s %s\n", driveIcon, r.Item)
		fmt.Fprintf(&b, "  Total: %s\n", humanSize(int64(u.Total)))
		fmt.Fprintf(&b, "  Used: %s (%.1f%%)\n", humanSize(int64(u.Used)), u.UsedPercent)
		fmt.Fprintf(&b, "  Free: %s\n", humanSize(int64(u.Free)))
		if u.Fstype != "" {
			fmt.Fprintf(&b, "  Filesystem: %s\n", u.Fstype)
		}
	}
	return fsmcp.TextResult(strings.TrimRight(b.String(), "\n")), nil
}

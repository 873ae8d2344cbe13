// Package fileops implements the filesystem tools served over MCP. Every path
// a tool touches, including entries discovered while walking, is admitted by
// a pathguard.Guard first.
package fileops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/disk"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/shaharia-lab/fsmcp"
	"github.com/shaharia-lab/fsmcp/cache"
	"github.com/shaharia-lab/fsmcp/pathguard"
	"github.com/shaharia-lab/fsmcp/workerpool"
)

const (
	// DefaultMaxFileSize is the read_file ceiling.
	DefaultMaxFileSize int64 = 50 << 20
	// DefaultMaxResults caps every search-style tool.
	DefaultMaxResults = 1000

	searchMaxDepth = 10
	largeMaxDepth  = 8
)

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	MaxFileSize int64
	MaxResults  int
	Logger      fsmcp.Logger
	// Usage overrides gopsutil's disk.Usage. Used by tests.
	Usage func(path string) (*disk.UsageStat, error)
}

// Service is the server context shared by all tool handlers. It is created
// once at startup and owns the cache and pool it was given.
type Service struct {
	guard  *pathguard.Guard
	cache  *cache.Cache[FileInfo]
	pool   *workerpool.Pool
	logger fsmcp.Logger

	maxFileSize int64
	maxResults  int
	usage       func(string) (*disk.UsageStat, error)
	stat        func(string) (os.FileInfo, error)

	stats    singleflight.Group
	walkWarn rate.Sometimes
}

// New wires a Service around its collaborators.
func New(guard *pathguard.Guard, c *cache.Cache[FileInfo], pool *workerpool.Pool, opts Options) (*Service, error) {
	if guard == nil {
		return nil, errors.New("fileops: guard is required")
	}
	if c == nil {
		return nil, errors.New("fileops: cache is required")
	}
	if pool == nil {
		return nil, errors.New("fileops: worker pool is required")
	}

	s := &Service{
		guard:       guard,
		cache:       c,
		pool:        pool,
		logger:      opts.Logger,
		maxFileSize: opts.MaxFileSize,
		maxResults:  opts.MaxResults,
		usage:       opts.Usage,
		stat:        os.Stat,
		walkWarn:    rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	if s.logger == nil {
		s.logger = fsmcp.NewNullLogger()
	}
	if s.maxFileSize <= 0 {
		s.maxFileSize = DefaultMaxFileSize
	}
	if s.maxResults <= 0 {
		s.maxResults = DefaultMaxResults
	}
	if s.usage == nil {
		s.usage = disk.Usage
	}
	return s, nil
}

// Close stops the worker pool, giving running items until ctx expires, and
// drops cached metadata. It is meant to be registered as a shutdown hook.
func (s *Service) Close(ctx context.Context) error {
	defer s.cache.Clear()
	if err := s.pool.Close(ctx); err != nil {
		return fmt.Errorf("close worker pool: %w", err)
	}
	return nil
}

// bind decodes validated tool arguments into a struct that already carries
// the defaults.
func bind(params fsmcp.CallToolParams, dst interface{}) error {
	if len(params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(params.Arguments, dst); err != nil {
		return fmt.Errorf("decode arguments for %s: %w", params.Name, err)
	}
	return nil
}

// fail turns an expected tool failure into readable text for the client.
func (s *Service) fail(ctx context.Context, tool, path string, err error) fsmcp.CallToolResult {
	fields := map[string]interface{}{"tool": tool, "path": path}
	if errors.Is(err, pathguard.ErrDenied) {
		s.logger.WithContext(ctx).WithFields(fields).WithErr(err).Warn("Path denied")
	} else {
		s.logger.WithContext(ctx).WithFields(fields).WithErr(err).Debug("Tool call failed")
	}
	return fsmcp.ErrorResult(describe(path, err))
}

// walkWarning logs a skipped entry or subtree. Permission problems are
// common during walks, so the warning is rate limited and the rest go to
// debug.
func (s *Service) walkWarning(path string, err error) {
	l := s.logger.WithFields(map[string]interface{}{"path": path}).WithErr(err)
	warned := false
	s.walkWarn.Do(func() {
		warned = true
		l.Warn("Skipping inaccessible path")
	})
	if !warned {
		l.Debug("Skipping inaccessible path")
	}
}

// Command fsmcp serves read-only filesystem tools to an MCP client over
// stdin and stdout.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/shaharia-lab/fsmcp"
	"github.com/shaharia-lab/fsmcp/cache"
	"github.com/shaharia-lab/fsmcp/config"
	"github.com/shaharia-lab/fsmcp/fileops"
	"github.com/shaharia-lab/fsmcp/metrics"
	"github.com/shaharia-lab/fsmcp/pathguard"
	"github.com/shaharia-lab/fsmcp/workerpool"
)

func main() {
	if err := newRootCommand(os.Stdin, os.Stdout).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fsmcp",
		Short: "Filesystem MCP server over stdio",
		Long: `fsmcp exposes directory listing, file reading, search, file metadata,
large-file discovery and drive usage to an MCP client. Requests arrive as
newline-delimited JSON-RPC on stdin and responses leave on stdout. Access is
limited to the allowed roots minus the exclusion patterns.

Every flag has an FSMCP_* environment equivalent (for example
FSMCP_MAX_RESULTS); a flag given on the command line wins.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// stdout carries protocol traffic only.
	cmd.SetOut(os.Stderr)
	cmd.SetErr(os.Stderr)

	loader := config.NewLoader(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := loader.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "fsmcp: %v\n", err)
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := run(ctx, cfg, in, out); err != nil {
			fmt.Fprintf(os.Stderr, "fsmcp: %v\n", err)
			return err
		}
		return nil
	}
	return cmd
}

func run(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger, closer, err := fsmcp.NewLogger(fsmcp.LogConfig{
		Backend: cfg.LogBackend,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))
	if err != nil {
		logger.WithErr(err).Warn("Failed to set GOMAXPROCS from the CPU quota")
	} else {
		defer undo()
	}

	guard, err := pathguard.New(pathguard.Config{
		Roots:      cfg.AllowedRoots,
		Exclusions: cfg.Exclude,
		MemoTTL:    cfg.CacheTTL,
		OnDeny:     metrics.RecordDenial,
	})
	if err != nil {
		return fmt.Errorf("configure path guard: %w", err)
	}

	workers := cfg.Workers
	if workers == 0 {
		workers = workerpool.DefaultSize()
	}
	pool := workerpool.New(workers)
	metaCache := cache.New[fileops.FileInfo](cfg.CacheSize, cfg.CacheTTL)

	svc, err := fileops.New(guard, metaCache, pool, fileops.Options{
		MaxFileSize: cfg.MaxFileSize(),
		MaxResults:  cfg.MaxResults,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		err := metrics.RegisterSources(prometheus.DefaultRegisterer, metrics.Sources{
			CacheStats:   metaCache.Stats,
			PoolInFlight: pool.InFlight,
		})
		if err != nil {
			logger.WithErr(err).Warn("Failed to register cache and pool metrics")
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.WithErr(err).Error("Metrics server stopped")
			}
		}()
	}

	base, err := fsmcp.NewBaseServer(
		fsmcp.UseLogger(logger),
		fsmcp.UseResponseLimit(cfg.ResponseLimit()),
		fsmcp.UseShutdownTimeout(cfg.ShutdownTimeout),
		fsmcp.UseShutdownHook("fileops", svc.Close),
		fsmcp.UseCallObserver(metrics.RecordToolCall),
	)
	if err != nil {
		return err
	}
	if err := base.AddTools(svc.Tools()...); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"roots":       guard.Roots(),
		"exclusions":  len(guard.Patterns()),
		"platform":    guard.Platform().Name(),
		"workers":     pool.Size(),
		"config_file": cfg.File,
	}).Info("Starting filesystem MCP server")

	return fsmcp.NewStdIOServer(base, in, out).Run(ctx)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T, env map[string]string, args ...string) *Loader {
	t.Helper()
	fs := pflag.NewFlagSet("fsmcp", pflag.ContinueOnError)
	l := NewLoader(fs).WithEnv(func(k string) string { return env[k] })
	l.defaultPath = filepath.Join(t.TempDir(), "absent.yaml")
	require.NoError(t, fs.Parse(args))
	return l
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := newTestLoader(t, nil).Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, int64(50<<20), cfg.MaxFileSize())
	assert.Equal(t, 50<<20, cfg.ResponseLimit())
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Empty(t, cfg.File)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeYAML(t, `
allowed_roots: [/srv/yaml]
max_results: 10
max_file_size_mb: 7
cache_ttl: 90s
log_level: debug
`)

	tests := []struct {
		name string
		env  map[string]string
		args []string
		want func(t *testing.T, cfg Config)
	}{
		{
			name: "yaml over defaults",
			args: []string{"--config", path},
			want: func(t *testing.T, cfg Config) {
				assert.Equal(t, []string{"/srv/yaml"}, cfg.AllowedRoots)
				assert.Equal(t, 10, cfg.MaxResults)
				assert.Equal(t, 90*time.Second, cfg.CacheTTL)
				assert.Equal(t, 2000, cfg.CacheSize, "absent keys keep defaults")
				assert.Equal(t, path, cfg.File)
			},
		},
		{
			name: "env over yaml",
			env: map[string]string{
				"FSMCP_MAX_RESULTS":   "20",
				"FSMCP_CACHE_TTL":     "300",
				"FSMCP_ALLOWED_ROOTS": strings.Join([]string{"/a", "/b"}, string(os.PathListSeparator)),
			},
			args: []string{"--config", path},
			want: func(t *testing.T, cfg Config) {
				assert.Equal(t, 20, cfg.MaxResults)
				assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
				assert.Equal(t, []string{"/a", "/b"}, cfg.AllowedRoots)
				assert.Equal(t, 7, cfg.MaxFileSizeMB)
			},
		},
		{
			name: "flags over env",
			env:  map[string]string{"FSMCP_MAX_RESULTS": "20", "FSMCP_LOG_LEVEL": "warn"},
			args: []string{"--config", path, "--max-results", "30", "--allowed-roots", "/x,/y", "--cache-ttl", "45"},
			want: func(t *testing.T, cfg Config) {
				assert.Equal(t, 30, cfg.MaxResults)
				assert.Equal(t, []string{"/x", "/y"}, cfg.AllowedRoots)
				assert.Equal(t, 45*time.Second, cfg.CacheTTL)
				assert.Equal(t, "warn", cfg.LogLevel, "unset flags do not override")
			},
		},
		{
			name: "config path from env",
			env:  map[string]string{"FSMCP_CONFIG": path},
			want: func(t *testing.T, cfg Config) {
				assert.Equal(t, 10, cfg.MaxResults)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := newTestLoader(t, tt.env, tt.args...).Load()
			require.NoError(t, err)
			tt.want(t, cfg)
		})
	}
}

func TestLoad_DefaultPathUsedWhenPresent(t *testing.T) {
	l := newTestLoader(t, nil)
	l.defaultPath = writeYAML(t, "workers: 3\n")

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, l.defaultPath, cfg.File)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{name: "missing explicit file", args: []string{"--config", "/nonexistent/fsmcp.yaml"}, want: "failed to open config file"},
		{name: "unknown yaml key", args: []string{"--config", writeYAML(t, "max_resluts: 3\n")}, want: "max_resluts"},
		{name: "bad env int", env: map[string]string{"FSMCP_MAX_RESULTS": "many"}, want: "FSMCP_MAX_RESULTS"},
		{name: "bad env duration", env: map[string]string{"FSMCP_SHUTDOWN_TIMEOUT": "soon"}, want: "FSMCP_SHUTDOWN_TIMEOUT"},
		{name: "invalid value", args: []string{"--max-file-size-mb", "0"}, want: "max-file-size-mb must be positive"},
		{name: "unknown backend", args: []string{"--log-backend", "syslog"}, want: "log-backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(t, tt.env, tt.args...).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile_Empty(t *testing.T) {
	cfg := Default()
	require.NoError(t, LoadFile(writeYAML(t, ""), &cfg))
	assert.Equal(t, 1000, cfg.MaxResults)
}

func TestLoadFile_DurationsAcceptBareSeconds(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		ttl      time.Duration
		shutdown time.Duration
	}{
		{name: "integers", body: "cache_ttl: 300\nshutdown_timeout: 2\n", ttl: 5 * time.Minute, shutdown: 2 * time.Second},
		{name: "fraction", body: "shutdown_timeout: 1.5\n", ttl: 5 * time.Minute, shutdown: 1500 * time.Millisecond},
		{name: "duration strings", body: "cache_ttl: 90s\nshutdown_timeout: 1m\n", ttl: 90 * time.Second, shutdown: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, LoadFile(writeYAML(t, tt.body), &cfg))
			assert.Equal(t, tt.ttl, cfg.CacheTTL)
			assert.Equal(t, tt.shutdown, cfg.ShutdownTimeout)
			assert.Equal(t, 1000, cfg.MaxResults)
		})
	}
}

func TestLoadFile_BareSecondsKeepStrictKeys(t *testing.T) {
	cfg := Default()
	err := LoadFile(writeYAML(t, "cache_ttl: 300\ncache_tll: 5\n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache_tll")
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.MaxResults = 0
	cfg.Workers = -1
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"max-results", "workers", "log-level"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSecondsFlag(t *testing.T) {
	var d time.Duration
	s := (*seconds)(&d)

	require.NoError(t, s.Set("120"))
	assert.Equal(t, 2*time.Minute, d)
	require.NoError(t, s.Set("1m30s"))
	assert.Equal(t, "1m30s", s.String())
	assert.Error(t, s.Set("later"))
}

// Package config loads the server's startup configuration. Sources are
// applied in order, each overriding the last: built-in defaults, a YAML
// file, FSMCP_* environment variables, and command-line flags that were set
// explicitly.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	AppName   = "fsmcp"
	EnvPrefix = "FSMCP_"

	configFlag = "config"
)

// Config holds every startup option.
type Config struct {
	AllowedRoots    []string      `yaml:"allowed_roots"`
	Exclude         []string      `yaml:"exclude"`
	MaxFileSizeMB   int           `yaml:"max_file_size_mb"`
	MaxResults      int           `yaml:"max_results"`
	Workers         int           `yaml:"workers"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheSize       int           `yaml:"cache_size"`
	ResponseLimitMB int           `yaml:"response_limit_mb"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFile         string        `yaml:"log_file"`
	LogBackend      string        `yaml:"log_backend"`
	MetricsAddr     string        `yaml:"metrics_addr"`

	// File is the YAML file that was loaded, if any.
	File string `yaml:"-"`
}

// Default returns the built-in defaults. Workers 0 means derive from the CPU
// count.
func Default() Config {
	return Config{
		MaxFileSizeMB:   50,
		MaxResults:      1000,
		CacheTTL:        5 * time.Minute,
		CacheSize:       2000,
		ResponseLimitMB: 50,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
		LogBackend:      "logrus",
	}
}

// MaxFileSize is the read ceiling in bytes.
func (c Config) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) << 20
}

// ResponseLimit is the response ceiling in bytes.
func (c Config) ResponseLimit() int {
	return c.ResponseLimitMB << 20
}

// Validate reports every invalid option at once.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}

	positive("max-file-size-mb", c.MaxFileSizeMB)
	positive("max-results", c.MaxResults)
	positive("cache-size", c.CacheSize)
	positive("response-limit-mb", c.ResponseLimitMB)
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache-ttl must be positive, got %s", c.CacheTTL))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown-timeout must be positive, got %s", c.ShutdownTimeout))
	}
	switch strings.ToLower(c.LogBackend) {
	case "logrus", "zap":
	default:
		errs = append(errs, fmt.Errorf("log-backend must be logrus or zap, got %q", c.LogBackend))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log-level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// DefaultPath is where the config file is looked up when --config is not
// given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// LoadFile decodes a YAML file over cfg, leaving absent keys untouched.
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var doc yaml.Node
	// An empty file decodes to io.EOF and leaves cfg as it was.
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			cfg.File = path
			return nil
		}
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	secondsToDurations(&doc)

	normalized, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(normalized))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.File = path
	return nil
}

// durationKeys are the YAML keys holding a time.Duration.
var durationKeys = map[string]bool{
	"cache_ttl":        true,
	"shutdown_timeout": true,
}

// secondsToDurations rewrites bare numbers under durationKeys to seconds
// ("300" becomes "300s"), matching what the flags and environment accept.
func secondsToDurations(doc *yaml.Node) {
	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if !durationKeys[key.Value] || val.Kind != yaml.ScalarNode {
			continue
		}
		switch val.ShortTag() {
		case "!!int", "!!float":
			val.Value += "s"
			val.Tag = "!!str"
			val.Style = 0
		}
	}
}

// Loader binds the options to a flag set and resolves all sources.
type Loader struct {
	flags  *pflag.FlagSet
	getenv func(string) string

	configPath  string
	defaultPath string
	values      Config
}

// NewLoader registers one flag per option on fs.
func NewLoader(fs *pflag.FlagSet) *Loader {
	l := &Loader{flags: fs, getenv: os.Getenv, defaultPath: DefaultPath()}
	d := Default()

	fs.StringVar(&l.configPath, configFlag, "", "YAML config file (default "+DefaultPath()+" when present)")
	fs.StringSliceVar(&l.values.AllowedRoots, "allowed-roots", nil, "directories the server may access; replaces drive auto-detection")
	fs.StringSliceVar(&l.values.Exclude, "exclude", nil, "extra glob patterns to deny, added to the built-in set")
	fs.IntVar(&l.values.MaxFileSizeMB, "max-file-size-mb", d.MaxFileSizeMB, "largest file read_file will load, in MB")
	fs.IntVar(&l.values.MaxResults, "max-results", d.MaxResults, "upper bound on results from search tools")
	fs.IntVar(&l.values.Workers, "workers", d.Workers, "worker count for parallel filesystem work (0 derives it from the CPU count)")
	l.values.CacheTTL = d.CacheTTL
	fs.Var((*seconds)(&l.values.CacheTTL), "cache-ttl", "how long file metadata stays cached, as seconds or a duration like 5m")
	fs.IntVar(&l.values.CacheSize, "cache-size", d.CacheSize, "maximum cached metadata entries")
	fs.IntVar(&l.values.ResponseLimitMB, "response-limit-mb", d.ResponseLimitMB, "largest response sent to the client, in MB")
	l.values.ShutdownTimeout = d.ShutdownTimeout
	fs.Var((*seconds)(&l.values.ShutdownTimeout), "shutdown-timeout", "grace period for in-flight work at shutdown")
	fs.StringVar(&l.values.LogLevel, "log-level", d.LogLevel, "debug, info, warn or error")
	fs.StringVar(&l.values.LogFile, "log-file", d.LogFile, "write logs to this file instead of stderr")
	fs.StringVar(&l.values.LogBackend, "log-backend", d.LogBackend, "logrus or zap")
	fs.StringVar(&l.values.MetricsAddr, "metrics-addr", d.MetricsAddr, "serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")

	return l
}

// WithEnv replaces the environment lookup. Used by tests.
func (l *Loader) WithEnv(getenv func(string) string) *Loader {
	l.getenv = getenv
	return l
}

// Load resolves the configuration. Call it after the flag set was parsed.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	path, explicit := l.configPath, l.flags.Changed(configFlag)
	if !explicit {
		if env := l.getenv(EnvPrefix + "CONFIG"); env != "" {
			path, explicit = env, true
		}
	}
	if !explicit {
		path = l.defaultPath
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	for _, o := range options {
		raw := l.getenv(envName(o.name))
		if raw == "" {
			continue
		}
		if err := o.parse(&cfg, raw); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envName(o.name), err)
		}
	}

	for _, o := range options {
		if l.flags.Changed(o.name) {
			o.copy(&cfg, &l.values)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

type option struct {
	name  string
	parse func(cfg *Config, raw string) error
	copy  func(dst, src *Config)
}

var options = []option{
	{
		name:  "allowed-roots",
		parse: func(c *Config, raw string) error { c.AllowedRoots = splitList(raw); return nil },
		copy:  func(dst, src *Config) { dst.AllowedRoots = src.AllowedRoots },
	},
	{
		name:  "exclude",
		parse: func(c *Config, raw string) error { c.Exclude = splitList(raw); return nil },
		copy:  func(dst, src *Config) { dst.Exclude = src.Exclude },
	},
	{
		name:  "max-file-size-mb",
		parse: func(c *Config, raw string) error { return parseInt(raw, &c.MaxFileSizeMB) },
		copy:  func(dst, src *Config) { dst.MaxFileSizeMB = src.MaxFileSizeMB },
	},
	{
		name:  "max-results",
		parse: func(c *Config, raw string) error { return parseInt(raw, &c.MaxResults) },
		copy:  func(dst, src *Config) { dst.MaxResults = src.MaxResults },
	},
	{
		name:  "workers",
		parse: func(c *Config, raw string) error { return parseInt(raw, &c.Workers) },
		copy:  func(dst, src *Config) { dst.Workers = src.Workers },
	},
	{
		name:  "cache-ttl",
		parse: func(c *Config, raw string) error { return parseDuration(raw, &c.CacheTTL) },
		copy:  func(dst, src *Config) { dst.CacheTTL = src.CacheTTL },
	},
	{
		name:  "cache-size",
		parse: func(c *Config, raw string) error { return parseInt(raw, &c.CacheSize) },
		copy:  func(dst, src *Config) { dst.CacheSize = src.CacheSize },
	},
	{
		name:  "response-limit-mb",
		parse: func(c *Config, raw string) error { return parseInt(raw, &c.ResponseLimitMB) },
		copy:  func(dst, src *Config) { dst.ResponseLimitMB = src.ResponseLimitMB },
	},
	{
		name:  "shutdown-timeout",
		parse: func(c *Config, raw string) error { return parseDuration(raw, &c.ShutdownTimeout) },
		copy:  func(dst, src *Config) { dst.ShutdownTimeout = src.ShutdownTimeout },
	},
	{
		name:  "log-level",
		parse: func(c *Config, raw string) error { c.LogLevel = raw; return nil },
		copy:  func(dst, src *Config) { dst.LogLevel = src.LogLevel },
	},
	{
		name:  "log-file",
		parse: func(c *Config, raw string) error { c.LogFile = raw; return nil },
		copy:  func(dst, src *Config) { dst.LogFile = src.LogFile },
	},
	{
		name:  "log-backend",
		parse: func(c *Config, raw string) error { c.LogBackend = raw; return nil },
		copy:  func(dst, src *Config) { dst.LogBackend = src.LogBackend },
	},
	{
		name:  "metrics-addr",
		parse: func(c *Config, raw string) error { c.MetricsAddr = raw; return nil },
		copy:  func(dst, src *Config) { dst.MetricsAddr = src.MetricsAddr },
	},
}

// splitList splits on the OS path-list separator, like PATH.
func splitList(raw string) []string {
	var out []string
	for _, p := range filepath.SplitList(raw) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(raw string, dst *int) error {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// seconds is a pflag.Value for durations that also accepts bare seconds.
type seconds time.Duration

func (s *seconds) String() string { return time.Duration(*s).String() }

func (s *seconds) Set(raw string) error {
	return parseDuration(raw, (*time.Duration)(s))
}

func (s *seconds) Type() string { return "duration" }

// parseDuration accepts Go durations ("90s", "5m") and bare seconds ("300").
func parseDuration(raw string, dst *time.Duration) error {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.Atoi(raw); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

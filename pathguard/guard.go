// Package pathguard decides whether a filesystem path may be touched. A path
// is usable only when it resolves under an allowed root and matches none of
// the exclusion patterns; exclusion always wins.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/shaharia-lab/fsmcp/cache"
)

const (
	defaultMemoSize = 4096
	defaultMemoTTL  = 5 * time.Minute
)

// Reason describes why a path was denied.
type Reason string

const (
	ReasonOutsideRoots Reason = "outside_roots"
	ReasonExcluded     Reason = "excluded"
)

var errNoDrives = errors.New("no drives detected")

// ErrDenied matches every *DeniedError via errors.Is.
var ErrDenied = errors.New("path not allowed")

// DeniedError is returned for paths the guard refuses.
type DeniedError struct {
	Path    string
	Reason  Reason
	Pattern string
}

func (e *DeniedError) Error() string {
	if e.Reason == ReasonExcluded {
		return fmt.Sprintf("path not allowed: %s matches exclusion pattern %q", e.Path, e.Pattern)
	}
	return fmt.Sprintf("path not allowed: %s is outside the allowed roots", e.Path)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// Config configures a Guard.
type Config struct {
	// Roots overrides drive detection when non-empty.
	Roots []string
	// Exclusions are appended to the platform's built-in patterns.
	Exclusions []string
	// Platform defaults to HostPlatform().
	Platform Platform
	MemoSize int
	MemoTTL  time.Duration
	// OnDeny, when set, is called for every denial.
	OnDeny func(Reason)
}

// Guard is read-only after New and safe for concurrent use.
type Guard struct {
	roots    []string
	patterns []string
	fold     bool
	platform Platform
	// memo maps a raw argument to its lexical absolute form.
	memo     *cache.Cache[string]
	onDeny   func(Reason)
}

// New resolves the configured roots and validates every exclusion pattern.
func New(cfg Config) (*Guard, error) {
	platform := cfg.Platform
	if platform == nil {
		platform = HostPlatform()
	}

	memoSize := cfg.MemoSize
	if memoSize <= 0 {
		memoSize = defaultMemoSize
	}
	memoTTL := cfg.MemoTTL
	if memoTTL <= 0 {
		memoTTL = defaultMemoTTL
	}

	g := &Guard{
		fold:     platform.CaseInsensitive(),
		platform: platform,
		memo:     cache.New[string](memoSize, memoTTL),
		onDeny:   cfg.OnDeny,
	}

	rawRoots := cfg.Roots
	if len(rawRoots) == 0 {
		detected, err := platform.Drives()
		if len(detected) == 0 {
			if err == nil {
				err = errNoDrives
			}
			return nil, fmt.Errorf("detect drives: %w", err)
		}
		rawRoots = detected
	}

	for _, r := range rawRoots {
		root, err := canonicalRoot(r)
		if err != nil {
			return nil, fmt.Errorf("allowed root %q: %w", r, err)
		}
		g.roots = append(g.roots, root)
	}
	g.roots = uniqueSorted(g.roots)

	for _, p := range append(platform.Exclusions(), cfg.Exclusions...) {
		p = filepath.ToSlash(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclusion pattern %q", p)
		}
		if g.fold {
			p = strings.ToLower(p)
		}
		g.patterns = append(g.patterns, p)
	}

	return g, nil
}

func canonicalRoot(r string) (string, error) {
	expanded, err := expandHome(r)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// Roots returns the canonical allowed roots.
func (g *Guard) Roots() []string {
	out := make([]string, len(g.roots))
	copy(out, g.roots)
	return out
}

// Patterns returns the effective exclusion patterns, slash-separated.
func (g *Guard) Patterns() []string {
	out := make([]string, len(g.patterns))
	copy(out, g.patterns)
	return out
}

// Platform returns the strategy the guard was built with.
func (g *Guard) Platform() Platform {
	return g.platform
}

// Resolve canonicalizes raw (home expansion, absolute, clean, symlinks) and
// checks that it lies under an allowed root. A path that does not exist yet
// is resolved through its deepest existing ancestor so callers can still
// report "not found" separately from "not allowed".
func (g *Guard) Resolve(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("path is required")
	}

	abs, ok := g.memo.Get(raw)
	if !ok {
		expanded, err := expandHome(raw)
		if err != nil {
			return "", err
		}
		abs, err = filepath.Abs(expanded)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", raw, err)
		}
		g.memo.Set(raw, abs)
	}

	// Symlinks are evaluated on every call; the filesystem can change
	// between two checks of the same path.
	resolved, err := evalExisting(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", raw, err)
	}

	if !g.withinRoots(resolved) {
		return "", g.deny(&DeniedError{Path: resolved, Reason: ReasonOutsideRoots})
	}
	return resolved, nil
}

// IsExcluded reports whether resolved, or any of its ancestors, matches an
// exclusion pattern, and which pattern matched first.
func (g *Guard) IsExcluded(resolved string) (string, bool) {
	candidate := filepath.ToSlash(resolved)
	if g.fold {
		candidate = strings.ToLower(candidate)
	}

	for {
		for _, p := range g.patterns {
			if ok, _ := doublestar.Match(p, candidate); ok {
				return p, true
			}
		}

		parent := path.Dir(candidate)
		if parent == candidate || parent == "." {
			return "", false
		}
		candidate = parent
	}
}

// Check is Resolve followed by IsExcluded. It must be applied to every path a
// tool touches, including entries discovered while walking.
func (g *Guard) Check(raw string) (string, error) {
	resolved, err := g.Resolve(raw)
	if err != nil {
		return "", err
	}
	if pattern, excluded := g.IsExcluded(resolved); excluded {
		return "", g.deny(&DeniedError{Path: resolved, Reason: ReasonExcluded, Pattern: pattern})
	}
	return resolved, nil
}

func (g *Guard) deny(err *DeniedError) error {
	if g.onDeny != nil {
		g.onDeny(err.Reason)
	}
	return err
}

func (g *Guard) withinRoots(p string) bool {
	for _, root := range g.roots {
		if g.hasPathPrefix(p, root) {
			return true
		}
	}
	return false
}

// hasPathPrefix compares whole path components, so /data does not admit
// /database.
func (g *Guard) hasPathPrefix(p, root string) bool {
	if g.fold {
		p = strings.ToLower(p)
		root = strings.ToLower(root)
	}
	if p == root {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(p, root)
}

// evalExisting evaluates symlinks on the longest existing prefix of p and
// re-joins the missing tail.
func evalExisting(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	var tail []string
	dir := p
	for {
		parent := filepath.Dir(dir)
		tail = append([]string{filepath.Base(dir)}, tail...)
		if parent == dir {
			return filepath.Clean(p), nil
		}
		dir = parent

		resolved, err = filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand home directory: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

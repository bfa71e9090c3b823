package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dawsonblock/rfsnctl/internal/clock"
)

// githubURLRe matches the narrow public-GitHub shape spec §4.2 requires.
var githubURLRe = regexp.MustCompile(`^https?://github\.com/[A-Za-z0-9_-]+/[A-Za-z0-9_.-]+(\.git)?$`)

// forbiddenURLMarkers reject URLs that point at a web-UI view rather
// than a clonable repository, or that embed credentials.
var forbiddenURLMarkers = []string{"/blob/", "/tree/", "/commit/", "/pull/", "/issues/", "@"}

// ValidateGitHubURL normalizes and validates a repo URL per spec §4.2.
func ValidateGitHubURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	for _, marker := range forbiddenURLMarkers {
		if strings.Contains(trimmed, marker) {
			return "", fmt.Errorf("sandbox: url contains forbidden marker %q: %s", marker, raw)
		}
	}
	if strings.Contains(trimmed, "?") {
		return "", fmt.Errorf("sandbox: url must not contain a query string: %s", raw)
	}
	normalized := trimmed
	if strings.HasPrefix(normalized, "http://") {
		normalized = "https://" + strings.TrimPrefix(normalized, "http://")
	}
	normalized = strings.TrimRight(normalized, "/")
	if !githubURLRe.MatchString(normalized) {
		return "", fmt.Errorf("sandbox: url does not match public github repo pattern: %s", raw)
	}
	return normalized, nil
}

// prunedDirs are excluded from listTree walks (spec §4.2).
var prunedDirs = map[string]bool{
	".git": true, "node_modules": true, ".venv": true, "venv": true,
	"__pycache__": true, "dist": true, "build": true, "target": true,
	".next": true, "out": true,
}

// Sandbox is a disposable workspace exclusively owning repoDir and every
// worktree directory beneath root (spec §3, §4.2).
type Sandbox struct {
	RootDir string
	RepoDir string

	worktreeCounter int64 // atomic

	mu    sync.Mutex
	clk   clock.Clock
	cache *treeCache
}

// New creates a sandbox rooted at tmpdir/rfsn_sb_<runId>.
func New(runID string, clk clock.Clock) (*Sandbox, error) {
	root := filepath.Join(os.TempDir(), "rfsn_sb_"+runID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create root: %w", err)
	}
	repoDir := filepath.Join(root, "repo")
	return &Sandbox{
		RootDir: root,
		RepoDir: repoDir,
		clk:     clk,
		cache:   newTreeCache(),
	}, nil
}

// Destroy deletes the whole sandbox tree. Safe to call more than once.
func (s *Sandbox) Destroy() error {
	return os.RemoveAll(s.RootDir)
}

// CloneGitHub validates url, then clones it into RepoDir.
func (s *Sandbox) CloneGitHub(url string) error {
	normalized, err := ValidateGitHubURL(url)
	if err != nil {
		return err
	}
	if err := gitClone(normalized, s.RepoDir); err != nil {
		return fmt.Errorf("sandbox: clone %s: %w", normalized, err)
	}
	return nil
}

func (s *Sandbox) Checkout(ref string) error {
	if ref == "" {
		return nil
	}
	s.invalidateCache()
	return gitCheckout(s.RepoDir, ref)
}

func (s *Sandbox) ResetHard() error {
	s.invalidateCache()
	return gitResetHard(s.RepoDir, "")
}

func (s *Sandbox) Status() (string, error) {
	return gitStatusPorcelain(s.RepoDir)
}

func (s *Sandbox) HeadSHA() (string, error) {
	return gitHeadSHA(s.RepoDir)
}

func (s *Sandbox) IsRepo() bool {
	return gitIsRepo(s.RepoDir)
}

// invalidateCache bumps the cache epoch, matching "invalidated by tick":
// any structural mutation (checkout/reset/patch apply) also invalidates.
func (s *Sandbox) invalidateCache() {
	s.cache.invalidate()
}

// Tick advances the cache epoch in step with the controller's clock, so
// that a cached listTree/readFile result older than the current epoch is
// refetched (spec §4.2: "cached with a monotone epoch TTL, invalidated
// by tick").
func (s *Sandbox) Tick() {
	s.cache.invalidate()
}

// ListTree walks the repo, pruning the standard ignore-set, and returns
// sorted relative paths, capped at maxFiles.
func (s *Sandbox) ListTree(maxFiles int, useCache bool) ([]string, error) {
	epoch := s.cache.epoch()
	if useCache {
		if cached, ok := s.cache.getTree(epoch); ok {
			return capList(cached, maxFiles), nil
		}
	}
	var paths []string
	err := filepath.WalkDir(s.RepoDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk, skip unreadable entries
		}
		rel, rerr := filepath.Rel(s.RepoDir, path)
		if rerr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		base := filepath.Base(rel)
		if d.IsDir() && prunedDirs[base] {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: list tree: %w", err)
	}
	sort.Strings(paths)
	if useCache {
		s.cache.putTree(epoch, paths)
	}
	return capList(paths, maxFiles), nil
}

func capList(paths []string, maxFiles int) []string {
	if maxFiles <= 0 || len(paths) <= maxFiles {
		out := make([]string, len(paths))
		copy(out, paths)
		return out
	}
	out := make([]string, maxFiles)
	copy(out, paths[:maxFiles])
	return out
}

// ReadFile reads path (relative to RepoDir), truncated to maxBytes.
func (s *Sandbox) ReadFile(path string, maxBytes int, useCache bool) (string, bool, error) {
	epoch := s.cache.epoch()
	cacheKey := path
	if useCache {
		if content, ok := s.cache.getFile(epoch, cacheKey); ok {
			return truncate(content, maxBytes)
		}
	}
	full := filepath.Join(s.RepoDir, filepath.FromSlash(path))
	if !strings.HasPrefix(full, s.RepoDir) {
		return "", false, fmt.Errorf("sandbox: path escapes repo root: %s", path)
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return "", false, fmt.Errorf("sandbox: read file %s: %w", path, err)
	}
	content := string(b)
	if useCache {
		s.cache.putFile(epoch, cacheKey, content)
	}
	return truncate(content, maxBytes)
}

func truncate(content string, maxBytes int) (string, bool, error) {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return content, false, nil
	}
	return content[:maxBytes], true, nil
}

// GrepResult is a single match from Grep.
type GrepResult struct {
	Path string
	Line int
	Text string
}

// Grep recursively searches text files for query, capped at maxMatches.
func (s *Sandbox) Grep(query string, maxMatches int) ([]GrepResult, error) {
	var results []GrepResult
	paths, err := s.ListTree(0, false)
	if err != nil {
		return nil, err
	}
	for _, rel := range paths {
		if maxMatches > 0 && len(results) >= maxMatches {
			break
		}
		full := filepath.Join(s.RepoDir, filepath.FromSlash(rel))
		b, rerr := os.ReadFile(full)
		if rerr != nil {
			continue
		}
		if !looksLikeText(b) {
			continue
		}
		for i, line := range strings.Split(string(b), "\n") {
			if maxMatches > 0 && len(results) >= maxMatches {
				break
			}
			if strings.Contains(line, query) {
				results = append(results, GrepResult{Path: rel, Line: i + 1, Text: line})
			}
		}
	}
	return results, nil
}

func looksLikeText(b []byte) bool {
	limit := len(b)
	if limit > 4096 {
		limit = 4096
	}
	for _, c := range b[:limit] {
		if c == 0 {
			return false
		}
	}
	return true
}

// ApplyPatch applies diff to the main repo (RepoDir).
func (s *Sandbox) ApplyPatch(diffText string) error {
	s.invalidateCache()
	if err := gitApplyPatch(s.RepoDir, diffText); err != nil {
		return fmt.Errorf("sandbox: apply patch to main repo: %w", err)
	}
	return nil
}

// MakeWorktree allocates a fresh worktree directory. worktreeCounter
// increment is atomic so concurrent PatchEvaluator workers never collide
// (spec §4.2, §5).
func (s *Sandbox) MakeWorktree(suffix string) (string, error) {
	n := atomic.AddInt64(&s.worktreeCounter, 1)
	if suffix == "" {
		suffix = fmt.Sprintf("%d", n)
	}
	dir := filepath.Join(s.RootDir, fmt.Sprintf("wt_%d_%s", n, suffix))
	branch := fmt.Sprintf("rfsnctl/wt-%d-%s", n, suffix)
	sha, err := s.HeadSHA()
	if err != nil {
		return "", fmt.Errorf("sandbox: resolve HEAD for worktree: %w", err)
	}
	if err := gitCreateBranchAt(s.RepoDir, branch, sha); err != nil {
		return "", fmt.Errorf("sandbox: create worktree branch: %w", err)
	}
	if err := gitAddWorktree(s.RepoDir, dir, branch); err != nil {
		return "", fmt.Errorf("sandbox: add worktree: %w", err)
	}
	return dir, nil
}

// DropWorktree removes a worktree and deletes its directory tree. Safe
// to call twice (spec §4.2).
func (s *Sandbox) DropWorktree(dir string) error {
	if err := gitRemoveWorktree(s.RepoDir, dir); err != nil {
		return fmt.Errorf("sandbox: remove worktree: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("sandbox: delete worktree dir: %w", err)
	}
	return nil
}

// ApplyPatchInDir applies diff within a worktree directory.
func (s *Sandbox) ApplyPatchInDir(dir, diffText string) error {
	if err := gitApplyPatch(dir, diffText); err != nil {
		return fmt.Errorf("sandbox: apply patch in worktree %s: %w", dir, err)
	}
	return nil
}

// CommitInDir commits all changes in dir with an allow-empty commit,
// returning the resulting SHA. Used by PatchEvaluator after a successful
// apply, so the evaluation's worktree has a concrete commit to diff
// against for files-changed bookkeeping.
func (s *Sandbox) CommitInDir(dir, message string) (string, error) {
	return gitCommitAllowEmpty(dir, message)
}

// DiffNameOnlyInDir returns changed files between baseRef and HEAD in dir.
func (s *Sandbox) DiffNameOnlyInDir(dir, baseRef string) ([]string, error) {
	return gitDiffNameOnly(dir, baseRef)
}

// MatchesAnyGlob reports whether path, or its base name, matches any of
// the doublestar glob patterns. No other package calls it; hygiene does
// its own doublestar matching.
func MatchesAnyGlob(path string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

package mdstore

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kevinmichaelchen/ixchel/internal/gitignore"
)

const gitignoreCacheSize = 128

// entityRoot is the tree the lister scopes to; the cache directory under
// .ixchel/data/ is excluded via .gitignore, the same way the teacher's
// walk honors ignore files rather than hardcoding cache-directory
// exclusions.
const entityRoot = ".ixchel"

// Lister discovers Markdown entity files under {repoRoot}/.ixchel,
// preferring `git ls-files` and falling back to a gitignore-aware
// filesystem walk when git is unavailable (spec §4.3).
type Lister struct {
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
}

// NewLister constructs a Lister with its own gitignore matcher cache.
func NewLister() (*Lister, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, err
	}
	return &Lister{gitignoreCache: cache}, nil
}

// List returns a sorted slice of paths, relative to repoRoot, for every
// tracked-or-discoverable *.md file under .ixchel/.
func (l *Lister) List(ctx context.Context, repoRoot string) ([]string, error) {
	if paths, ok := l.listViaGit(ctx, repoRoot); ok {
		sort.Strings(paths)
		return paths, nil
	}

	paths, err := l.listViaWalk(repoRoot)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// listViaGit shells out to `git ls-files`, matching the teacher's
// preference for real git plumbing over reimplementing gitignore/submodule
// semantics. ok is false if git is unavailable or the directory is not a
// repository, signaling the caller to fall back to listViaWalk.
func (l *Lister) listViaGit(ctx context.Context, repoRoot string) ([]string, bool) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, false
	}

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard", "--", entityRoot+"/**/*.md")
	cmd.Dir = repoRoot
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, false
	}

	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		out = append(out, filepath.FromSlash(line))
	}
	return out, true
}

// listViaWalk recursively walks {repoRoot}/.ixchel, honoring the
// repo-root .gitignore and .ixchel/.gitignore (e.g. the one excluding
// .ixchel/data/ from the repo). .gitignore files in deeper directories
// are not read.
func (l *Lister) listViaWalk(repoRoot string) ([]string, error) {
	root := filepath.Join(repoRoot, entityRoot)
	var out []string

	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return out, nil
	}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relToRepo, rerr := filepath.Rel(repoRoot, path)
		if rerr != nil {
			return rerr
		}

		if d.IsDir() {
			if l.isIgnored(repoRoot, relToRepo, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if filepath.Ext(path) != ".md" {
			return nil
		}
		if l.isIgnored(repoRoot, relToRepo, false) {
			return nil
		}

		out = append(out, relToRepo)
		return nil
	})

	return out, err
}

func (l *Lister) isIgnored(repoRoot, relPath string, isDir bool) bool {
	dir := filepath.Dir(filepath.Join(repoRoot, relPath))
	matcher := l.getGitignoreMatcher(repoRoot, dir)
	if matcher == nil {
		return false
	}
	return matcher.Match(filepath.ToSlash(relPath), isDir)
}

func (l *Lister) getGitignoreMatcher(repoRoot, dir string) *gitignore.Matcher {
	if m, ok := l.gitignoreCache.Get(repoRoot); ok {
		return m
	}

	m := gitignore.New()
	cur := repoRoot
	_ = m.AddFromFile(filepath.Join(cur, ".gitignore"), "")
	_ = m.AddFromFile(filepath.Join(cur, entityRoot, ".gitignore"), entityRoot)

	l.gitignoreCache.Add(repoRoot, m)
	return m
}

// InvalidateCache drops cached gitignore matchers, used after `ixchel
// init` writes a fresh .ixchel/.gitignore.
func (l *Lister) InvalidateCache() {
	l.gitignoreCache.Purge()
}

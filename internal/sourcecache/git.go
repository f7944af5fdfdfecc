package sourcecache

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// gitPoolDir returns the shared bare-repository directory used to
// fetch from remote. Fetches from every remote URL land in the same
// bare repo, so commits shared between remotes (e.g. a fork and its
// upstream) are only ever stored once.
func (c *Cache) gitPoolDir(remote string) string {
	return filepath.Join(c.root, string(SchemeGit), "_pool")
}

// FetchGit fetches ref from remote into the cache's shared git object
// pool and returns a key addressing the resulting
// commit. Repeated fetches of a ref that resolves to a commit already
// present are no-ops.
func (c *Cache) FetchGit(ctx context.Context, remote, ref string) (Key, error) {
	pool := c.gitPoolDir(remote)
	if _, err := runGit(ctx, "", "init", "--bare", pool); err != nil {
		return "", fmt.Errorf("fetch git %s %s: %w", remote, ref, err)
	}
	if _, err := runGit(ctx, pool, "fetch", "--quiet", remote, ref); err != nil {
		return "", fmt.Errorf("fetch git %s %s: %w", remote, ref, err)
	}
	out, err := runGit(ctx, pool, "rev-parse", "FETCH_HEAD")
	if err != nil {
		return "", fmt.Errorf("fetch git %s %s: %w", remote, ref, err)
	}
	sha := strings.TrimSpace(out)
	return NewKey(SchemeGit, sha), nil
}

// UnpackGit checks out the commit addressed by k from the cache's
// shared git pool into targetDir.
func (c *Cache) UnpackGit(ctx context.Context, remote string, k Key, targetDir string) error {
	if k.Scheme() != SchemeGit {
		return fmt.Errorf("unpack git: key %q is not a git key", k)
	}
	pool := c.gitPoolDir(remote)
	if _, err := runGit(ctx, "", "clone", "--quiet", pool, targetDir); err != nil {
		return fmt.Errorf("unpack git %s: %w", k, err)
	}
	if _, err := runGit(ctx, targetDir, "checkout", "--quiet", k.Digest()); err != nil {
		return fmt.Errorf("unpack git %s: %w", k, err)
	}
	return nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// Package vcs syncs recipe indexes kept in git repositories and checks out
// dated snapshots of upstream sources.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/execabs"
)

// VCS defines the version control operations the recipe index needs.
type VCS interface {
	// Sync makes dir a shallow checkout of ref from remote. ref can be a
	// branch, a tag or a commit hash; "" means the remote HEAD. dir is
	// created when missing.
	Sync(ctx context.Context, remote, ref, dir string) error

	// Tags returns all tags of the remote repository.
	Tags(ctx context.Context, remote string) ([]string, error)

	// Latest returns the commit hash of the remote HEAD.
	Latest(ctx context.Context, remote string) (string, error)

	// Head returns the commit hash checked out in dir.
	Head(ctx context.Context, dir string) (string, error)

	// Snapshot checks out into dir the last first-parent commit of the
	// remote HEAD committed on or before date (YYYY-MM-DD, UTC) and returns
	// its hash.
	Snapshot(ctx context.Context, remote, date, dir string) (string, error)
}

// gitVCS implements VCS using git.
type gitVCS struct {
	git string
}

// GitOption configures gitVCS.
type GitOption func(*gitVCS)

// WithGitPath sets a custom git executable path.
func WithGitPath(path string) GitOption {
	return func(g *gitVCS) {
		g.git = path
	}
}

// NewGitVCS creates a new git VCS instance.
func NewGitVCS(opts ...GitOption) VCS {
	g := &gitVCS{git: "git"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *gitVCS) ensureInit(ctx context.Context, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return g.run(ctx, dir, "init", "--quiet")
}

func (g *gitVCS) Sync(ctx context.Context, remote, ref, dir string) error {
	if ref == "" {
		ref = "HEAD"
	}
	if err := g.ensureInit(ctx, dir); err != nil {
		return err
	}
	if err := g.run(ctx, dir, "fetch", "--depth", "1", remote, ref); err != nil {
		return fmt.Errorf("fetch %s %s: %w", remote, ref, err)
	}
	if err := g.run(ctx, dir, "checkout", "--force", "--quiet", "FETCH_HEAD"); err != nil {
		return fmt.Errorf("checkout %s: %w", ref, err)
	}
	return nil
}

func (g *gitVCS) Tags(ctx context.Context, remote string) ([]string, error) {
	output, err := g.output(ctx, "", "ls-remote", "--tags", "--refs", remote)
	if err != nil {
		return nil, fmt.Errorf("list remote tags: %w", err)
	}

	var tags []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		// format: <hash>\trefs/tags/<tag>
		if _, ref, ok := strings.Cut(line, "\t"); ok {
			tags = append(tags, strings.TrimPrefix(ref, "refs/tags/"))
		}
	}
	return tags, nil
}

func (g *gitVCS) Latest(ctx context.Context, remote string) (string, error) {
	output, err := g.output(ctx, "", "ls-remote", remote, "HEAD")
	if err != nil {
		return "", fmt.Errorf("get remote HEAD: %w", err)
	}
	hash, _, _ := strings.Cut(strings.TrimSpace(output), "\t")
	if hash == "" {
		return "", fmt.Errorf("no HEAD found in remote %s", remote)
	}
	return hash, nil
}

func (g *gitVCS) Head(ctx context.Context, dir string) (string, error) {
	output, err := g.output(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("read HEAD of %s: %w", dir, err)
	}
	return strings.TrimSpace(output), nil
}

func (g *gitVCS) Snapshot(ctx context.Context, remote, date, dir string) (string, error) {
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return "", fmt.Errorf("invalid snapshot date %q: %w", date, err)
	}
	if err := g.ensureInit(ctx, dir); err != nil {
		return "", err
	}
	// The full history is needed to walk back to the snapshot day.
	if err := g.run(ctx, dir, "fetch", "--quiet", remote, "HEAD"); err != nil {
		return "", fmt.Errorf("fetch %s: %w", remote, err)
	}
	before := day.Format(time.DateOnly) + " 23:59:59 +0000"
	output, err := g.output(ctx, dir, "rev-list", "-1", "--first-parent", "--before="+before, "FETCH_HEAD")
	if err != nil {
		return "", fmt.Errorf("find snapshot of %s: %w", remote, err)
	}
	hash := strings.TrimSpace(output)
	if hash == "" {
		return "", fmt.Errorf("%s has no commit on or before %s", remote, date)
	}
	if err := g.run(ctx, dir, "checkout", "--force", "--quiet", hash); err != nil {
		return "", fmt.Errorf("checkout %s: %w", hash, err)
	}
	return hash, nil
}

func (g *gitVCS) run(ctx context.Context, dir string, args ...string) error {
	_, err := g.output(ctx, dir, args...)
	return err
}

func (g *gitVCS) output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := execabs.CommandContext(ctx, g.git, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %s", args[0], msg)
		}
		return "", err
	}
	return stdout.String(), nil
}

package build

import (
	"context"
	"errors"
	"os"

	"github.com/im3e/forge/internal/ctxlog"
	"github.com/im3e/forge/internal/env"
	"github.com/im3e/forge/internal/generate"
	"github.com/im3e/forge/internal/resolve"
	"github.com/im3e/forge/recipe"
)

// Local prepares the root of g in dir, outside the cache: it generates the
// build files for the installed dependencies and, when build is set, runs
// the Build step. It returns the step context of the root.
func (b *Builder) Local(ctx context.Context, g *resolve.Graph, inst Installed, dir string, build bool) (*recipe.Context, error) {
	n := g.Root
	src := n.Recipe.Dir
	if n.Recipe.Source != nil {
		s, _, _, err := b.Cache.Folders(n.Ref, "")
		if err != nil {
			return nil, err
		}
		unlock, err := b.Cache.Lock(ctx, n.Ref)
		if err != nil {
			return nil, err
		}
		err = b.fetchSource(ctx, n.Recipe, s)
		unlock()
		if err != nil {
			return nil, err
		}
		src = s
	}

	j, err := b.newJob(g, n, inst, dir, src)
	if err != nil {
		return nil, err
	}
	if err := j.generate(ctx); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("Generated build files.", "ref", n.Ref, "folder", j.rc.Folders.Generators)
	if build {
		if err := j.build(ctx); err != nil {
			return nil, err
		}
	}
	return j.rc, nil
}

// Source downloads the source of r into dir.
func (b *Builder) Source(ctx context.Context, r *recipe.Recipe, dir string) error {
	if r.Source == nil {
		return &StepError{Ref: r.Ref(), Step: StepSource, Err: errors.New("recipe declares no source")}
	}
	if err := b.Fetcher.Get(ctx, *r.Source, dir); err != nil {
		return &StepError{Ref: r.Ref(), Step: StepSource, Err: err}
	}
	return nil
}

// Test builds the test package rooted at g in a temporary folder and runs its
// test command with the run environment of its dependencies. The command is
// skipped when binaries for host cannot run on build. The dependencies of g,
// the tested package among them, must be installed.
func (b *Builder) Test(ctx context.Context, g *resolve.Graph, inst Installed, host, build recipe.Settings) error {
	logger := ctxlog.FromContext(ctx)
	dir, err := os.MkdirTemp("", "forge-test-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	rc, err := b.Local(ctx, g, inst, dir, true)
	if err != nil {
		return err
	}
	r := g.Root.Recipe
	if r.OnTest == nil {
		return nil
	}
	if !host.CanRun(build) {
		logger.Warn("Skipping test: host binaries cannot run on the build machine.", "ref", g.Root.Ref, "host", host, "build", build)
		return nil
	}

	var deps []*recipe.Installed
	for _, d := range g.HostDeps(g.Root) {
		if pkg := inst[d]; pkg != nil {
			deps = append(deps, pkg)
		}
	}
	e := env.New(rc.Env)
	generate.RunEnv(deps, host.Get("os")).Apply(e)
	rc.Env = e.Environ()

	logger.Info("Running test.", "ref", g.Root.Ref)
	if err := r.OnTest(ctx, rc); err != nil {
		return &StepError{Ref: g.Root.Ref, Step: StepTest, Err: err}
	}
	return nil
}

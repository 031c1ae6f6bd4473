// Package build runs the pipeline of the packages of a resolved graph:
// Source, Generate, Build, Package and PackageInfo, dependencies first, each
// package created once per package id in the cache.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/im3e/forge/internal/cache"
	"github.com/im3e/forge/internal/ctxlog"
	"github.com/im3e/forge/internal/env"
	"github.com/im3e/forge/internal/fetch"
	"github.com/im3e/forge/internal/resolve"
	"github.com/im3e/forge/recipe"
)

// Builder creates packages in the cache and prepares local builds.
type Builder struct {
	Cache   *cache.Cache
	Fetcher *fetch.Fetcher

	// Policy is the build policy chosen by the user. Empty defers to the
	// recipe's own policy, then to missing.
	Policy recipe.BuildPolicy

	// Env is the base environment of every step; nil uses os.Environ.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// New returns a Builder over the cache and fetcher.
func New(c *cache.Cache, f *fetch.Fetcher) *Builder {
	return &Builder{Cache: c, Fetcher: f}
}

// Installed maps the nodes of a graph to their packages.
type Installed map[*resolve.Node]*recipe.Installed

// Install makes the packages of g available in the cache, dependencies first.
// The root is created too when withRoot is set; otherwise only its
// requirements are checked against what the dependencies publish.
func (b *Builder) Install(ctx context.Context, g *resolve.Graph, withRoot bool) (Installed, error) {
	order, err := g.Order()
	if err != nil {
		return nil, err
	}
	inst := make(Installed, len(order))
	for _, n := range order {
		if err := checkComponents(n, inst); err != nil {
			return nil, err
		}
		if n == g.Root && !withRoot {
			continue
		}
		pkg, err := b.ensure(ctx, g, n, inst)
		if err != nil {
			return nil, err
		}
		inst[n] = pkg
	}
	return inst, nil
}

func (b *Builder) policy(r *recipe.Recipe) recipe.BuildPolicy {
	if b.Policy != "" {
		return b.Policy
	}
	if r.BuildPolicy != "" {
		return r.BuildPolicy
	}
	return recipe.BuildMissing
}

// ensure returns the package of n, creating it according to the policy.
func (b *Builder) ensure(ctx context.Context, g *resolve.Graph, n *resolve.Node, inst Installed) (*recipe.Installed, error) {
	logger := ctxlog.FromContext(ctx)
	requires := requirements(n, inst)
	id := cache.PackageID(n.Ref, n.Settings, n.Options, requires)
	policy := b.policy(n.Recipe)

	lookup := func() (*recipe.Installed, bool, error) {
		if policy == recipe.BuildAlways {
			return nil, false, nil
		}
		return b.Cache.Lookup(n.Ref, id)
	}
	if pkg, ok, err := lookup(); err != nil || ok {
		if ok {
			logger.Debug("Package found in cache.", "ref", n, "package_id", id)
		}
		return pkg, err
	}
	if policy == recipe.BuildNever {
		return nil, fmt.Errorf("%s with package id %s: %w", n.Ref, id, cache.ErrMissingBinary)
	}

	unlock, err := b.Cache.Lock(ctx, n.Ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another process may have created the package while we waited.
	if pkg, ok, err := lookup(); err != nil || ok {
		return pkg, err
	}

	logger.Info("Creating package.", "ref", n, "package_id", id)
	src, base, pkgDir, err := b.Cache.Folders(n.Ref, id)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{base, pkgDir} {
		if err := os.RemoveAll(dir); err != nil {
			return nil, err
		}
	}
	if n.Recipe.Source != nil {
		if err := b.fetchSource(ctx, n.Recipe, src); err != nil {
			return nil, err
		}
	} else {
		src = n.Recipe.Dir
	}

	j, err := b.newJob(g, n, inst, base, src)
	if err != nil {
		return nil, err
	}
	j.rc.Folders.Package = pkgDir
	if err := j.generate(ctx); err != nil {
		return nil, err
	}
	if err := j.build(ctx); err != nil {
		return nil, err
	}
	if err := j.pack(ctx); err != nil {
		return nil, err
	}
	info, err := j.packageInfo(ctx)
	if err != nil {
		return nil, err
	}
	pkg, err := b.Cache.Save(n.Ref, &cache.Entry{
		PackageID: id,
		Settings:  n.Settings,
		Options:   n.Options,
		Requires:  requires,
		Info:      info,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Package created.", "ref", n, "package_id", id, "folder", pkg.Folder)
	return pkg, nil
}

// requirements lists the host requirements of n as "name/version:id".
func requirements(n *resolve.Node, inst Installed) []string {
	var out []string
	for _, e := range n.Requires {
		if dep := inst[e.Node]; dep != nil {
			out = append(out, fmt.Sprintf("%s:%s", dep.Ref, dep.PackageID))
		}
	}
	slices.Sort(out)
	return out
}

// checkComponents verifies that the installed dependencies of n publish
// every component n links against.
func checkComponents(n *resolve.Node, inst Installed) error {
	for _, e := range n.Requires {
		if len(e.Components) == 0 {
			continue
		}
		dep := inst[e.Node]
		if dep == nil {
			return fmt.Errorf("%s: %w: %s", n.Ref, recipe.ErrNotInstalled, e.Node.Ref)
		}
		var missing []string
		for _, c := range e.Components {
			if _, ok := dep.Info.Components[c]; !ok {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			return &ComponentMismatchError{
				Requirer:   n.Ref,
				Dependency: dep.Ref,
				Missing:    missing,
				Published:  dep.Info.ComponentNames(),
			}
		}
	}
	return nil
}

// fetchSource downloads the recipe source into the layout's source folder
// below base unless it is already there. The caller holds the lock of the
// reference.
func (b *Builder) fetchSource(ctx context.Context, r *recipe.Recipe, base string) error {
	dir := filepath.Join(base, filepath.FromSlash(r.Layout.Source))
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return nil
	}
	if b.Fetcher == nil {
		return &StepError{Ref: r.Ref(), Step: StepSource, Err: errors.New("no fetcher configured")}
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	tmp := dir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := b.Fetcher.Get(ctx, *r.Source, tmp); err != nil {
		os.RemoveAll(tmp)
		return &StepError{Ref: r.Ref(), Step: StepSource, Err: err}
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.Rename(tmp, dir)
}

func (b *Builder) baseEnv() *env.Env {
	if b.Env != nil {
		return env.New(b.Env)
	}
	return env.New(os.Environ())
}

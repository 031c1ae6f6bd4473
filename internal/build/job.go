package build

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/im3e/forge/internal/generate"
	"github.com/im3e/forge/internal/resolve"
	"github.com/im3e/forge/recipe"
	"github.com/im3e/forge/x/autotools"
	"github.com/im3e/forge/x/cmake"
)

// job runs the steps of one package.
type job struct {
	rc   *recipe.Context
	deps []generate.Dep
	gen  *generate.Result
}

// newJob prepares the step context of n with base as base folder and src as
// source base. The dependencies of n must be installed.
func (b *Builder) newJob(g *resolve.Graph, n *resolve.Node, inst Installed, base, src string) (*job, error) {
	rc := &recipe.Context{
		Ref:      n.Ref,
		Recipe:   n.Recipe,
		Settings: n.Settings,
		Options:  n.Options,
		Folders:  n.Recipe.Layout.Folders(base, src, n.Settings),
		Deps:     make(map[string]*recipe.Installed),
		ToolDeps: make(map[string]*recipe.Installed),
		Stdout:   b.Stdout,
		Stderr:   b.Stderr,
	}
	j := &job{rc: rc}

	var hostDeps, tools []*recipe.Installed
	for _, d := range g.HostDeps(n) {
		pkg := inst[d]
		if pkg == nil {
			continue
		}
		rc.Deps[d.Ref.Name] = pkg
		hostDeps = append(hostDeps, pkg)
		var requires []string
		for _, e := range d.Requires {
			requires = append(requires, e.Node.Ref.Name)
		}
		j.deps = append(j.deps, generate.Dep{Installed: pkg, Requires: requires})
	}
	for _, t := range n.ToolRequires {
		if pkg := inst[t]; pkg != nil {
			rc.ToolDeps[t.Ref.Name] = pkg
			tools = append(tools, pkg)
		}
	}

	e := b.baseEnv()
	generate.BuildEnv(tools).Apply(e)
	if n.Recipe.BuildSystem() == recipe.Autotools {
		generate.CompilerEnv(hostDeps).Apply(e)
	}
	rc.Env = e.Environ()
	return j, nil
}

func (j *job) fail(step Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Ref: j.rc.Ref, Step: step, Err: err}
}

func (j *job) generate(ctx context.Context) error {
	res, err := generate.Generate(ctx, generate.Input{RC: j.rc, Deps: j.deps})
	if err != nil {
		return j.fail(StepGenerate, err)
	}
	j.gen = res
	return nil
}

func (j *job) cmake() *cmake.CMake {
	rc := j.rc
	c := cmake.New(rc.Folders.Source, rc.Folders.Build, rc.Folders.Package)
	c.Generator(j.gen.Toolchain.Generator)
	c.BuildType(rc.Settings.BuildType())
	c.Toolchain(j.gen.ToolchainPath)
	for k, v := range j.gen.Toolchain.CacheVariables {
		if on, ok := v.(bool); ok {
			c.DefineBool(k, on)
		} else {
			c.Define(k, recipe.FormatValue(v))
		}
	}
	c.Env, c.Stdout, c.Stderr = rc.Env, rc.Stdout, rc.Stderr
	return c
}

func (j *job) autotools() *autotools.AutoTools {
	rc := j.rc
	a := autotools.New(rc.Folders.Source, rc.Folders.Build, rc.Folders.Package)
	a.Env, a.Stdout, a.Stderr = rc.Env, rc.Stdout, rc.Stderr
	return a
}

func (j *job) build(ctx context.Context) error {
	r := j.rc.Recipe
	if r.OnBuild != nil {
		return j.fail(StepBuild, r.OnBuild(ctx, j.rc))
	}
	switch r.BuildSystem() {
	case recipe.CMake:
		c := j.cmake()
		if err := c.Configure(ctx, r.Build.Args...); err != nil {
			return j.fail(StepBuild, err)
		}
		return j.fail(StepBuild, c.Build(ctx))
	case recipe.Autotools:
		a := j.autotools()
		if err := a.Configure(ctx, r.Build.Args...); err != nil {
			return j.fail(StepBuild, err)
		}
		return j.fail(StepBuild, a.Build(ctx))
	}
	return nil
}

// pack fills the package folder: the hook or the build system install, then
// the declared copies.
func (j *job) pack(ctx context.Context) error {
	rc := j.rc
	r := rc.Recipe
	if err := os.MkdirAll(rc.Folders.Package, 0o755); err != nil {
		return err
	}
	switch {
	case r.OnPackage != nil:
		if err := r.OnPackage(ctx, rc); err != nil {
			return j.fail(StepPackage, err)
		}
	case r.Package.SkipInstall:
	case r.BuildSystem() == recipe.CMake:
		if err := j.cmake().Install(ctx); err != nil {
			return j.fail(StepPackage, err)
		}
	case r.BuildSystem() == recipe.Autotools:
		if err := j.autotools().Install(ctx); err != nil {
			return j.fail(StepPackage, err)
		}
	}
	for _, cp := range r.Package.Copies {
		if err := copyFiles(rc.Folders, cp); err != nil {
			return j.fail(StepPackage, err)
		}
	}
	return nil
}

func (j *job) packageInfo(ctx context.Context) (recipe.PackageInfo, error) {
	r := j.rc.Recipe
	info := r.Info.Clone()
	if r.OnPackageInfo != nil {
		if err := r.OnPackageInfo(ctx, j.rc, &info); err != nil {
			return recipe.PackageInfo{}, j.fail(StepPackageInfo, err)
		}
	}
	return info, nil
}

// copyFiles copies the files matching cp below its source root into the
// package folder, keeping their relative paths.
func copyFiles(f recipe.Folders, cp recipe.Copy) error {
	root := f.Build
	if cp.FromSource {
		root = f.Source
	}
	root = filepath.Join(root, filepath.FromSlash(cp.Src))
	matches, err := doublestar.Glob(os.DirFS(root), cp.Pattern, doublestar.WithFilesOnly())
	if err != nil {
		return err
	}
	dst := filepath.Join(f.Package, filepath.FromSlash(cp.Dst))
	for _, m := range matches {
		if err := copyFile(filepath.Join(root, filepath.FromSlash(m)), filepath.Join(dst, filepath.FromSlash(m))); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	fi, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		os.Remove(dst)
		return os.Symlink(target, dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

package recipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/im3e/forge/internal/env"
	"github.com/im3e/forge/mod/module"
	"golang.org/x/sys/execabs"
)

// ErrNotInstalled is returned when a step refers to a dependency whose
// package folder is not available yet.
var ErrNotInstalled = errors.New("dependency not installed")

// Toolchain is the build-tool configuration the Generate step writes out.
// Variable values are strings, bools or numbers.
type Toolchain struct {
	Generator      string
	PresetsPrefix  string
	Variables      map[string]any
	CacheVariables map[string]any
}

// Clone returns a copy of t whose maps can be changed independently.
func (t Toolchain) Clone() Toolchain {
	out := t
	out.Variables = make(map[string]any, len(t.Variables))
	for k, v := range t.Variables {
		out.Variables[k] = v
	}
	out.CacheVariables = make(map[string]any, len(t.CacheVariables))
	for k, v := range t.CacheVariables {
		out.CacheVariables[k] = v
	}
	return out
}

// FormatValue renders a toolchain variable value the way CMake reads it.
func FormatValue(v any) string {
	switch v := v.(type) {
	case bool:
		if v {
			return "ON"
		}
		return "OFF"
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Context is what a recipe hook sees of the pipeline run it belongs to.
type Context struct {
	Ref      module.Version
	Recipe   *Recipe
	Settings Settings
	Options  Options
	Folders  Folders

	// Deps are the installed host requirements, ToolDeps the installed tool
	// requirements, both by package name.
	Deps     map[string]*Installed
	ToolDeps map[string]*Installed

	// Env is the environment of commands run by the step.
	Env []string

	Stdout io.Writer
	Stderr io.Writer
}

// Dep returns the installed host dependency called name. It fails with
// ErrNotInstalled when name is not a resolved dependency or its package
// folder does not exist.
func (c *Context) Dep(name string) (*Installed, error) {
	dep, ok := c.Deps[name]
	if !ok {
		dep, ok = c.ToolDeps[name]
	}
	if !ok || dep == nil {
		return nil, fmt.Errorf("%s: %w: %s is not a resolved requirement", c.Ref, ErrNotInstalled, name)
	}
	if _, err := os.Stat(dep.Folder); err != nil {
		return nil, fmt.Errorf("%s: %w: package folder of %s: %w", c.Ref, ErrNotInstalled, dep.Ref, err)
	}
	return dep, nil
}

// Run runs name with args in the build folder using the step environment.
func (c *Context) Run(ctx context.Context, name string, args ...string) error {
	return c.RunIn(ctx, c.Folders.Build, name, args...)
}

// RunIn is like Run but runs in dir.
func (c *Context) RunIn(ctx context.Context, dir, name string, args ...string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	exe, err := env.LookPath(name, c.Env)
	if err != nil {
		return err
	}
	cmd := execabs.CommandContext(ctx, exe, args...)
	cmd.Dir = dir
	cmd.Env = c.Env
	cmd.Stdout = c.stdout()
	cmd.Stderr = c.stderr()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (c *Context) stdout() io.Writer {
	if c.Stdout == nil {
		return os.Stdout
	}
	return c.Stdout
}

func (c *Context) stderr() io.Writer {
	if c.Stderr == nil {
		return os.Stderr
	}
	return c.Stderr
}

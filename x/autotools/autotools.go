// Package autotools wraps the classic configure/make/make-install workflow.
package autotools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/im3e/forge/internal/env"
	"golang.org/x/sys/execabs"
)

// AutoTools drives Autotools-style builds.
type AutoTools struct {
	sourceDir  string
	buildDir   string
	installDir string
	overrides  map[string]string

	// Env is the base environment of the spawned commands; nil inherits the
	// current one.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// New returns a ready-to-use AutoTools.
func New(sourceDir, buildDir, installDir string) *AutoTools {
	return &AutoTools{
		sourceDir:  sourceDir,
		buildDir:   buildDir,
		installDir: installDir,
		overrides:  make(map[string]string),
	}
}

// Source overrides the source directory.
func (a *AutoTools) Source(dir string) { a.sourceDir = dir }

// Setenv sets key=value for every command spawned later.
func (a *AutoTools) Setenv(key, value string) {
	a.overrides[key] = value
}

// Configure runs <sourceDir>/configure inside buildDir.
// --prefix is prepended automatically when installDir is set.
// Extra flags are appended after --prefix.
func (a *AutoTools) Configure(ctx context.Context, args ...string) error {
	dir := a.workDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	exe := filepath.Join(a.sourceDir, "configure")
	if dir == "." {
		exe = "./configure"
	}
	flags := make([]string, 0, 1+len(args))
	if a.installDir != "" {
		flags = append(flags, "--prefix="+a.installDir)
	}
	return a.run(ctx, exe, append(flags, args...))
}

// Build runs "make" with optional extra arguments.
func (a *AutoTools) Build(ctx context.Context, args ...string) error {
	return a.run(ctx, "make", args)
}

// Install runs "make install" with optional extra arguments appended.
func (a *AutoTools) Install(ctx context.Context, args ...string) error {
	return a.run(ctx, "make", append([]string{"install"}, args...))
}

// OutputDir returns installDir if set, otherwise buildDir.
func (a *AutoTools) OutputDir() string {
	if a.installDir != "" {
		return a.installDir
	}
	return a.buildDir
}

func (a *AutoTools) workDir() string {
	if a.buildDir == "" {
		return "."
	}
	return a.buildDir
}

func (a *AutoTools) environ() []string {
	base := a.Env
	if base == nil {
		base = os.Environ()
	}
	return mergeEnv(append([]string(nil), base...), a.overrides)
}

func (a *AutoTools) run(ctx context.Context, name string, args []string) error {
	environ := a.environ()
	exe, err := env.LookPath(name, environ)
	if err != nil {
		return err
	}
	cmd := execabs.CommandContext(ctx, exe, args...)
	cmd.Dir = a.workDir()
	cmd.Env = environ
	cmd.Stdout = a.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = a.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return nil
}

// mergeEnv returns base with every key in overrides replaced or appended.
// Appended keys keep a sorted order.
func mergeEnv(base []string, overrides map[string]string) []string {
	idx := make(map[string]int, len(base))
	for i, kv := range base {
		if k, _, ok := strings.Cut(kv, "="); ok {
			idx[k] = i
		}
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := overrides[k]
		if i, ok := idx[k]; ok {
			base[i] = k + "=" + v
		} else {
			base = append(base, k+"="+v)
		}
	}
	return base
}

// Package env locates the forge home and computes process environments.
package env

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sys/execabs"
)

// HomeVar overrides the forge home directory.
const HomeVar = "FORGE_HOME"

// Home returns the directory forge keeps its package cache, downloads and
// recipe index in: $FORGE_HOME, or <UserCacheDir>/.forge.
// It creates the directory with 0700 permissions if it doesn't exist.
func Home() (string, error) {
	home := os.Getenv(HomeVar)
	if home == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		home = filepath.Join(userCacheDir, ".forge")
	}
	home, err := filepath.Abs(home)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return "", err
	}
	return home, nil
}

// ListSeparator is the separator of PATH-style variables.
func ListSeparator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}

// Env is an environment under construction. Variables keep the order in
// which path entries were added so the rendered result is deterministic.
type Env struct {
	vars map[string]string
}

// New returns an Env seeded with base, a list of "key=value" entries such as
// os.Environ().
func New(base []string) *Env {
	e := &Env{vars: make(map[string]string, len(base))}
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			e.vars[k] = v
		}
	}
	return e
}

// Get returns the value of key.
func (e *Env) Get(key string) string {
	return e.vars[key]
}

// Set replaces key.
func (e *Env) Set(key, value string) {
	e.vars[key] = value
}

// PrependPath puts paths in front of the PATH-style variable key.
func (e *Env) PrependPath(key string, paths ...string) {
	if len(paths) == 0 {
		return
	}
	value := strings.Join(paths, ListSeparator())
	if cur := e.vars[key]; cur != "" {
		value += ListSeparator() + cur
	}
	e.vars[key] = value
}

// AppendPath adds paths at the end of the PATH-style variable key.
func (e *Env) AppendPath(key string, paths ...string) {
	if len(paths) == 0 {
		return
	}
	value := strings.Join(paths, ListSeparator())
	if cur := e.vars[key]; cur != "" {
		value = cur + ListSeparator() + value
	}
	e.vars[key] = value
}

// AppendFlag appends a space-separated flag to key.
func (e *Env) AppendFlag(key, flag string) {
	if cur := e.vars[key]; cur != "" {
		flag = cur + " " + flag
	}
	e.vars[key] = flag
}

// Environ returns the environment as sorted "key=value" entries.
func (e *Env) Environ() []string {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+e.vars[k])
	}
	return out
}

// LookPath searches name in the PATH of environ, a list of "key=value"
// entries, then in the PATH of the current process. Names containing a path
// separator are returned as they are.
func LookPath(name string, environ []string) (string, error) {
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return name, nil
	}
	exe := name
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		exe += ".exe"
	}
	path := New(environ).Get("PATH")
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, exe)
		if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() && fi.Mode()&0o111 != 0 {
			return filepath.Abs(candidate)
		}
	}
	return execabs.LookPath(name)
}

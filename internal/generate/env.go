package generate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/im3e/forge/internal/env"
	"github.com/im3e/forge/recipe"
)

// Var is an edit of one environment variable.
type Var struct {
	Name string
	// Prepend and Append are PATH-style entries.
	Prepend []string
	Append  []string
	// Flags are space-separated words appended to the variable.
	Flags []string
}

// Environment is a set of variable edits, sorted by name.
type Environment []Var

func (e Environment) edit(name string) *Var {
	i, found := slices.BinarySearchFunc(e, name, func(v Var, name string) int { return strings.Compare(v.Name, name) })
	if !found {
		panic("generate: variable " + name + " not declared")
	}
	return &e[i]
}

func newEnvironment(names map[string]bool) Environment {
	e := make(Environment, 0, len(names))
	for name := range names {
		e = append(e, Var{Name: name})
	}
	slices.SortFunc(e, func(a, b Var) int { return strings.Compare(a.Name, b.Name) })
	return e
}

// BuildEnv is the environment of the Build step: the bin dirs of the tool
// requirements on PATH and the environment they publish.
func BuildEnv(tools []*recipe.Installed) Environment {
	return runtimeEnv(tools, "")
}

// RunEnv is the environment consumers run host binaries with: the bin and
// lib dirs of the dependencies and the environment they publish. os selects
// the dynamic loader variable.
func RunEnv(deps []*recipe.Installed, os string) Environment {
	loader := "LD_LIBRARY_PATH"
	if os == "Macos" {
		loader = "DYLD_LIBRARY_PATH"
	}
	return runtimeEnv(deps, loader)
}

func runtimeEnv(pkgs []*recipe.Installed, loader string) Environment {
	names := map[string]bool{"PATH": true}
	if loader != "" {
		names[loader] = true
	}
	for _, p := range pkgs {
		for k := range p.Info.Env {
			names[k] = true
		}
	}
	e := newEnvironment(names)
	for _, p := range pkgs {
		info := p.Info.WithDefaults()
		path := e.edit("PATH")
		path.Prepend = append(path.Prepend, p.Paths(info.BinDirs)...)
		if loader != "" {
			ld := e.edit(loader)
			ld.Prepend = append(ld.Prepend, p.Paths(info.LibDirs)...)
		}
		for _, k := range sortedEnvKeys(p.Info.Env) {
			v := e.edit(k)
			v.Append = append(v.Append, p.Paths(p.Info.Env[k])...)
		}
	}
	return e.compact()
}

// CompilerEnv points compilers and pkg-config at the host dependencies, for
// build systems that read no generated files.
func CompilerEnv(deps []*recipe.Installed) Environment {
	e := newEnvironment(map[string]bool{
		"CMAKE_PREFIX_PATH": true,
		"CPPFLAGS":          true,
		"LDFLAGS":           true,
		"PKG_CONFIG_PATH":   true,
	})
	for _, d := range deps {
		info := d.Info.WithDefaults()
		prefix := e.edit("CMAKE_PREFIX_PATH")
		prefix.Prepend = append(prefix.Prepend, d.Folder)
		for _, inc := range d.Paths(info.IncludeDirs) {
			cpp := e.edit("CPPFLAGS")
			cpp.Flags = append(cpp.Flags, "-I"+inc)
		}
		for _, lib := range d.Paths(info.LibDirs) {
			ld := e.edit("LDFLAGS")
			ld.Flags = append(ld.Flags, "-L"+lib)
			pc := e.edit("PKG_CONFIG_PATH")
			pc.Prepend = append(pc.Prepend, lib+"/pkgconfig")
		}
	}
	return e.compact()
}

func (e Environment) compact() Environment {
	return slices.DeleteFunc(e, func(v Var) bool {
		return len(v.Prepend) == 0 && len(v.Append) == 0 && len(v.Flags) == 0
	})
}

// Apply applies e to the process environment under construction.
func (e Environment) Apply(to *env.Env) {
	for _, v := range e {
		to.PrependPath(v.Name, v.Prepend...)
		to.AppendPath(v.Name, v.Append...)
		for _, f := range v.Flags {
			to.AppendFlag(v.Name, f)
		}
	}
}

// Script renders e as a POSIX shell script meant to be sourced.
func (e Environment) Script(header string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", header)
	for _, v := range e {
		n := v.Name
		if len(v.Prepend) > 0 {
			fmt.Fprintf(&b, "export %s=\"%s${%s:+:$%s}\"\n", n, shellEscape(strings.Join(v.Prepend, ":")), n, n)
		}
		if len(v.Append) > 0 {
			fmt.Fprintf(&b, "export %s=\"${%s:+$%s:}%s\"\n", n, n, n, shellEscape(strings.Join(v.Append, ":")))
		}
		if len(v.Flags) > 0 {
			fmt.Fprintf(&b, "export %s=\"${%s:+$%s }%s\"\n", n, n, n, shellEscape(strings.Join(v.Flags, " ")))
		}
	}
	return []byte(b.String())
}

func shellEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`").Replace(s)
}

func sortedEnvKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

package recipe

import (
	"path/filepath"
	"sort"

	"github.com/im3e/forge/mod/module"
)

// Component is one library a package publishes for consumers.
type Component struct {
	Libs []string `json:"libs,omitempty"`
	// CMakeTargetName is the imported target consumers link against,
	// "<package>::<component>" when empty.
	CMakeTargetName string `json:"cmake_target_name,omitempty"`
	// Requires names other components of the same package.
	Requires []string `json:"requires,omitempty"`
}

// PackageInfo is the metadata a package publishes for the packages that
// depend on it.
type PackageInfo struct {
	Components      map[string]*Component `json:"components,omitempty"`
	Libs            []string              `json:"libs,omitempty"`
	CMakeTargetName string                `json:"cmake_target_name,omitempty"`
	IncludeDirs     []string              `json:"include_dirs,omitempty"`
	LibDirs         []string              `json:"lib_dirs,omitempty"`
	BinDirs         []string              `json:"bin_dirs,omitempty"`
	// Env appends package-relative paths to environment variables of
	// consumers at run time, e.g. PATH -> ["bin"], PYTHONPATH -> ["lib/python"].
	Env map[string][]string `json:"env,omitempty"`
}

// Component returns the component called name, creating it if needed.
func (p *PackageInfo) Component(name string) *Component {
	if p.Components == nil {
		p.Components = make(map[string]*Component)
	}
	c, ok := p.Components[name]
	if !ok {
		c = &Component{}
		p.Components[name] = c
	}
	return c
}

// ComponentNames returns the published component names, sorted.
func (p *PackageInfo) ComponentNames() []string {
	names := make([]string, 0, len(p.Components))
	for name := range p.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AppendEnv appends package-relative paths to the environment variable key.
func (p *PackageInfo) AppendEnv(key string, paths ...string) {
	if p.Env == nil {
		p.Env = make(map[string][]string)
	}
	p.Env[key] = append(p.Env[key], paths...)
}

// Clone returns a deep copy of p.
func (p PackageInfo) Clone() PackageInfo {
	out := p
	out.Libs = append([]string(nil), p.Libs...)
	out.IncludeDirs = append([]string(nil), p.IncludeDirs...)
	out.LibDirs = append([]string(nil), p.LibDirs...)
	out.BinDirs = append([]string(nil), p.BinDirs...)
	if p.Components != nil {
		out.Components = make(map[string]*Component, len(p.Components))
		for name, c := range p.Components {
			cc := *c
			cc.Libs = append([]string(nil), c.Libs...)
			cc.Requires = append([]string(nil), c.Requires...)
			out.Components[name] = &cc
		}
	}
	if p.Env != nil {
		out.Env = make(map[string][]string, len(p.Env))
		for k, v := range p.Env {
			out.Env[k] = append([]string(nil), v...)
		}
	}
	return out
}

// WithDefaults returns p with the conventional include, lib and bin dirs
// filled in where none were declared.
func (p PackageInfo) WithDefaults() PackageInfo {
	out := p.Clone()
	if len(out.IncludeDirs) == 0 {
		out.IncludeDirs = []string{"include"}
	}
	if len(out.LibDirs) == 0 {
		out.LibDirs = []string{"lib"}
	}
	if len(out.BinDirs) == 0 {
		out.BinDirs = []string{"bin"}
	}
	return out
}

// Installed is a package present in the cache. Consumers read it, never
// write it.
type Installed struct {
	Ref       module.Version `json:"ref"`
	PackageID string         `json:"package_id"`
	Folder    string         `json:"folder"`
	Info      PackageInfo    `json:"info"`
}

// Paths resolves package-relative dirs against the package folder.
func (i *Installed) Paths(rel []string) []string {
	out := make([]string, len(rel))
	for k, r := range rel {
		out[k] = filepath.Join(i.Folder, filepath.FromSlash(r))
	}
	return out
}

// TargetName returns the CMake target consumers link for component, or for
// the whole package when component is "".
func (i *Installed) TargetName(component string) string {
	if component == "" {
		if i.Info.CMakeTargetName != "" {
			return i.Info.CMakeTargetName
		}
		return i.Ref.Name + "::" + i.Ref.Name
	}
	if c, ok := i.Info.Components[component]; ok && c.CMakeTargetName != "" {
		return c.CMakeTargetName
	}
	return i.Ref.Name + "::" + component
}

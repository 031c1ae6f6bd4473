package recipe

import (
	"path/filepath"
	"sort"
	"strings"
)

// Settings are the profile values (os, arch, compiler, build_type, ...)
// a binary is built for. Sub-settings use dotted keys ("compiler.version").
type Settings map[string]string

// Get returns the value of key, or "" when unset.
func (s Settings) Get(key string) string {
	return s[key]
}

// BuildType returns build_type, defaulting to Release.
func (s Settings) BuildType() string {
	if bt := s["build_type"]; bt != "" {
		return bt
	}
	return "Release"
}

// Keys returns the setting names in sorted order.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the settings as sorted "key=value" pairs.
func (s Settings) String() string {
	parts := make([]string, 0, len(s))
	for _, k := range s.Keys() {
		parts = append(parts, k+"="+s[k])
	}
	return strings.Join(parts, ",")
}

// Select returns the subset of s a recipe declaring keys depends on.
// Declaring "compiler" also selects its sub-settings.
func (s Settings) Select(keys []string) Settings {
	out := make(Settings)
	for k, v := range s {
		top, _, _ := strings.Cut(k, ".")
		for _, want := range keys {
			if k == want || top == want {
				out[k] = v
				break
			}
		}
	}
	return out
}

// Merge returns a copy of s with every key of o set over it.
func (s Settings) Merge(o Settings) Settings {
	out := make(Settings, len(s)+len(o))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range o {
		out[k] = v
	}
	return out
}

// CanRun reports whether binaries built for s run on a machine described by
// build.
func (s Settings) CanRun(build Settings) bool {
	for _, k := range []string{"os", "arch"} {
		if s[k] != "" && build[k] != "" && s[k] != build[k] {
			return false
		}
	}
	return true
}

// Matrix lists candidate values per setting. Its combinations are the
// configurations one invocation builds.
type Matrix map[string][]string

// Combinations returns the cartesian product of the matrix. Keys are
// expanded in sorted order so the result is stable.
func (m Matrix) Combinations() []Settings {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []Settings{{}}
	for _, k := range keys {
		next := make([]Settings, 0, len(result)*len(m[k]))
		for _, prev := range result {
			for _, v := range m[k] {
				s := prev.Merge(nil)
				s[k] = v
				next = append(next, s)
			}
		}
		result = next
	}
	return result
}

// CombinationCount returns the number of combinations without expanding
// them.
func (m Matrix) CombinationCount() int {
	if len(m) == 0 {
		return 0
	}
	count := 1
	for _, v := range m {
		count *= len(v)
	}
	return count
}

// LayoutKind selects how folders are laid out below the base folder.
type LayoutKind string

const (
	// CMakeLayout puts build output in build/<BuildType> and generated
	// files in build/<BuildType>/generators.
	CMakeLayout LayoutKind = "cmake"
	// CustomLayout uses the folders declared in the Layout.
	CustomLayout LayoutKind = "custom"
)

// Layout declares the folder layout of a recipe, relative to its base
// folder. Empty fields take the defaults of Kind.
type Layout struct {
	Kind       LayoutKind
	Source     string
	Build      string
	Generators string
}

// Folders holds the absolute folders one pipeline run works in.
type Folders struct {
	Base       string
	Source     string
	Build      string
	Generators string
	Package    string
}

// Folders resolves the layout against base for settings. The source folder
// is resolved against sourceBase, which differs from base when the source
// was fetched into the cache.
func (l Layout) Folders(base, sourceBase string, settings Settings) Folders {
	src, build, gen := l.Source, l.Build, l.Generators
	switch l.Kind {
	case CMakeLayout:
		bt := settings.BuildType()
		if build == "" {
			build = filepath.Join("build", bt)
		}
		if gen == "" {
			gen = filepath.Join(build, "generators")
		}
	default:
		if build == "" {
			build = "build"
		}
		if gen == "" {
			gen = filepath.Join(build, "generators")
		}
	}
	if src == "" {
		src = "."
	}
	if sourceBase == "" {
		sourceBase = base
	}
	return Folders{
		Base:       base,
		Source:     filepath.Join(sourceBase, src),
		Build:      filepath.Join(base, build),
		Generators: filepath.Join(base, gen),
	}
}

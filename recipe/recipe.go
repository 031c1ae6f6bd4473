// Package recipe defines the declarative description of how one package is
// fetched, configured, built and packaged, together with the hooks a recipe
// may override for each step of the pipeline.
package recipe

import (
	"context"
	"fmt"
	"slices"

	"github.com/im3e/forge/mod/module"
)

// PackageType classifies what a package produces.
type PackageType string

const (
	Application   PackageType = "application"
	StaticLibrary PackageType = "static-library"
	SharedLibrary PackageType = "shared-library"
	HeaderLibrary PackageType = "header-library"
	Library       PackageType = "library"
	Unknown       PackageType = "unknown"
)

// BuildPolicy controls whether a package is built from source when its
// binary is not already in the cache.
type BuildPolicy string

const (
	BuildMissing BuildPolicy = "missing"
	BuildAlways  BuildPolicy = "always"
	BuildNever   BuildPolicy = "never"
)

// BuildSystem names the external tool the Build and Package steps delegate to.
type BuildSystem string

const (
	CMake     BuildSystem = "cmake"
	Autotools BuildSystem = "autotools"
	Command   BuildSystem = "command"
	NoBuild   BuildSystem = "none"
)

// Requirement declares a dependency on another package.
type Requirement struct {
	Ref module.Version
	// Components lists the components of Ref the requirer links against.
	// Each must be published by the dependency's package info.
	Components []string
}

func (r Requirement) String() string {
	return r.Ref.String()
}

// Source locates the upstream sources: an archive at URL, or the default
// branch of the Git repository as it stood at the end of the Snapshot day
// (YYYY-MM-DD, UTC).
type Source struct {
	URL       string
	SHA256    string
	StripRoot bool

	Git      string
	Snapshot string
}

// BuildSpec configures the Build step.
type BuildSpec struct {
	System BuildSystem
	// Args are appended to the configure invocation of the build system.
	Args []string
}

// Copy copies files matching Pattern (doublestar syntax) below Src into Dst
// during the Package step. Src is relative to the build folder, or to the
// source folder when FromSource is set. Dst is relative to the package folder.
type Copy struct {
	Pattern    string
	Src        string
	Dst        string
	FromSource bool
}

// PackageSpec configures the Package step.
type PackageSpec struct {
	// SkipInstall disables the build system install target.
	SkipInstall bool
	Copies      []Copy
}

// Recipe describes one package: its identity, what it requires, which
// options it accepts and how each pipeline step runs.
type Recipe struct {
	Name        string
	Version     string
	PackageType PackageType
	BuildPolicy BuildPolicy

	// Settings lists the profile settings that affect the binary.
	Settings   []string
	Generators []string

	Requires     []Requirement
	ToolRequires []Requirement
	// RequiresTestedReference makes the recipe depend on the reference
	// under test (test packages).
	RequiresTestedReference bool

	Options        map[string]OptionSpec
	DefaultOptions []OptionAssignment

	Source    *Source
	Layout    Layout
	Toolchain Toolchain
	Build     BuildSpec
	Package   PackageSpec
	Info      PackageInfo

	// Dir is the directory the recipe was loaded from; it is the source
	// folder of recipes without a Source.
	Dir string

	// Hooks. A nil hook selects the default behaviour of the step.
	OnGenerate    func(ctx context.Context, rc *Context, tc *Toolchain) error
	OnBuild       func(ctx context.Context, rc *Context) error
	OnPackage     func(ctx context.Context, rc *Context) error
	OnPackageInfo func(ctx context.Context, rc *Context, info *PackageInfo) error
	OnTest        func(ctx context.Context, rc *Context) error
}

// Ref returns the reference this recipe builds.
func (r *Recipe) Ref() module.Version {
	return module.Version{Name: r.Name, Version: r.Version}
}

// HasTest reports whether the recipe defines a Test step.
func (r *Recipe) HasTest() bool {
	return r.OnTest != nil
}

// HasGenerator reports whether name is listed in the recipe generators.
func (r *Recipe) HasGenerator(name string) bool {
	return slices.Contains(r.Generators, name)
}

// BuildSystem returns the effective build system: the declared one, or cmake
// when the recipe configures a toolchain generator, or none.
func (r *Recipe) BuildSystem() BuildSystem {
	switch {
	case r.Build.System != "":
		return r.Build.System
	case r.OnBuild != nil:
		return Command
	case r.Toolchain.Generator != "" || r.Layout.Kind == CMakeLayout:
		return CMake
	}
	return NoBuild
}

// Validate checks the static consistency of the recipe.
func (r *Recipe) Validate() error {
	if err := module.CheckName(r.Name); err != nil {
		return fmt.Errorf("recipe: %w", err)
	}
	if r.Version == "" {
		return fmt.Errorf("recipe %s: missing version", r.Name)
	}
	switch r.PackageType {
	case "", Application, StaticLibrary, SharedLibrary, HeaderLibrary, Library, Unknown:
	default:
		return fmt.Errorf("recipe %s: unknown package_type %q", r.Name, r.PackageType)
	}
	switch r.BuildPolicy {
	case "", BuildMissing, BuildAlways, BuildNever:
	default:
		return fmt.Errorf("recipe %s: unknown build_policy %q", r.Name, r.BuildPolicy)
	}
	switch r.Build.System {
	case "", CMake, Autotools, Command, NoBuild:
	default:
		return fmt.Errorf("recipe %s: unknown build system %q", r.Name, r.Build.System)
	}
	if r.Build.System == Command && r.OnBuild == nil {
		return fmt.Errorf("recipe %s: build system %q without a command", r.Name, Command)
	}
	for name, spec := range r.Options {
		if err := spec.validate(name); err != nil {
			return fmt.Errorf("recipe %s: %w", r.Name, err)
		}
	}
	for _, d := range r.DefaultOptions {
		if d.Pattern != "" {
			continue
		}
		spec, ok := r.Options[d.Name]
		if !ok {
			return fmt.Errorf("recipe %s: default for undeclared option %q", r.Name, d.Name)
		}
		if !spec.Allows(d.Value) {
			return &InvalidOptionError{Ref: r.Ref(), Name: d.Name, Value: d.Value, Allowed: spec.Values}
		}
	}
	seen := make(map[string]bool)
	for _, req := range r.Requires {
		if seen[req.Ref.Name] {
			return fmt.Errorf("recipe %s: %s required twice", r.Name, req.Ref.Name)
		}
		seen[req.Ref.Name] = true
	}
	return nil
}

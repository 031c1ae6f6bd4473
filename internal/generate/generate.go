// Package generate writes the files a build tool reads before the Build
// step: the CMake toolchain and presets, one package config per host
// dependency, and the build and run environment scripts.
//
// Every file is fingerprinted before it is written so a second Generate with
// the same inputs leaves the generators folder untouched.
package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cespare/xxhash"
	"github.com/im3e/forge/internal/ctxlog"
	"github.com/im3e/forge/recipe"
)

// Names of the generated files.
const (
	ToolchainFile = "forge_toolchain.cmake"
	PresetsFile   = "CMakePresets.json"
	BuildScript   = "forgebuild.sh"
	RunScript     = "forgerun.sh"
)

// Dep is an installed host dependency together with the names of the host
// packages it requires directly.
type Dep struct {
	*recipe.Installed
	Requires []string
}

// Input is what one Generate step works from.
type Input struct {
	RC *recipe.Context
	// Deps holds every host dependency, direct or transitive.
	Deps []Dep
}

// Result reports what Generate produced.
type Result struct {
	// Toolchain is the recipe toolchain after its generate hook ran.
	Toolchain recipe.Toolchain
	// ToolchainPath is the written toolchain file, empty for recipes not
	// built with CMake.
	ToolchainPath string
	// Preset is the configure preset name.
	Preset string
	// Written lists the files whose content changed, sorted.
	Written []string
}

// Generate runs the recipe generate hook and writes the generated files into
// the generators folder of in.RC.
func Generate(ctx context.Context, in Input) (*Result, error) {
	rc := in.RC
	r := rc.Recipe
	tc := r.Toolchain.Clone()
	if r.OnGenerate != nil {
		if err := r.OnGenerate(ctx, rc, &tc); err != nil {
			return nil, err
		}
	}

	dir := rc.Folders.Generators
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	deps := slices.Clone(in.Deps)
	slices.SortFunc(deps, func(a, b Dep) int { return strings.Compare(a.Ref.Name, b.Ref.Name) })
	tools := sortedInstalled(rc.ToolDeps)

	res := &Result{Toolchain: tc, Preset: presetName(tc.PresetsPrefix, rc.Settings.BuildType())}
	files := make(map[string][]byte)
	header := fmt.Sprintf("Generated by forge for %s. Do not edit.", rc.Ref)

	if r.BuildSystem() == recipe.CMake || r.HasGenerator("CMakeToolchain") {
		res.ToolchainPath = filepath.Join(dir, ToolchainFile)
		files[ToolchainFile] = toolchainFile(header, dir, tc, tools)
		presets, err := presetsFile(rc, tc, res.Preset, res.ToolchainPath)
		if err != nil {
			return nil, err
		}
		files[PresetsFile] = presets
	}
	if r.BuildSystem() == recipe.CMake || r.HasGenerator("CMakeDeps") {
		for _, d := range deps {
			name := strings.ToLower(d.Ref.Name)
			files[name+"-config.cmake"] = configFile(d)
			files[name+"-config-version.cmake"] = configVersionFile(d)
		}
	}
	files[BuildScript] = BuildEnv(tools).Script(header)
	files[RunScript] = RunEnv(installedOf(deps), rc.Settings.Get("os")).Script(header)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		changed, err := writeFile(path, files[name])
		if err != nil {
			return nil, err
		}
		if changed {
			res.Written = append(res.Written, path)
		}
	}
	ctxlog.FromContext(ctx).Debug("Generated files.", "ref", rc.Ref, "dir", dir, "written", len(res.Written))
	return res, nil
}

// writeFile writes data to path unless the file already holds the same
// content, and reports whether it wrote.
func writeFile(path string, data []byte) (bool, error) {
	if old, err := os.ReadFile(path); err == nil && xxhash.Sum64(old) == xxhash.Sum64(data) {
		return false, nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, err
	}
	return true, nil
}

func presetName(prefix, buildType string) string {
	bt := strings.ToLower(buildType)
	if prefix == "" {
		return bt
	}
	return prefix + "-" + bt
}

func sortedInstalled(m map[string]*recipe.Installed) []*recipe.Installed {
	out := make([]*recipe.Installed, 0, len(m))
	for _, i := range m {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *recipe.Installed) int { return strings.Compare(a.Ref.Name, b.Ref.Name) })
	return out
}

func installedOf(deps []Dep) []*recipe.Installed {
	out := make([]*recipe.Installed, len(deps))
	for i, d := range deps {
		out[i] = d.Installed
	}
	return out
}

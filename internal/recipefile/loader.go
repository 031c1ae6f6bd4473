// Package recipefile loads recipes written in HCL.
//
// A recipe file holds one or more recipe blocks:
//
//	recipe "icy_moon_engine" {
//	  version  = "2.3"
//	  settings = ["os", "compiler", "build_type", "arch"]
//	  requires = ["glm/0.9.9.8", "imgui/1.89.4"]
//
//	  option "coverage" {
//	    values  = [null, "on"]
//	    default = null
//	  }
//
//	  layout { kind = "cmake" }
//	  toolchain {
//	    generator = "Ninja"
//	    cache_variables = {
//	      TEST_COVERAGE = options.coverage == "on" ? true : null
//	    }
//	  }
//	}
//
// Static attributes are decoded when the file is loaded. Expressions that
// depend on the pipeline run (options, settings, folders and the package
// folders of dependencies) are evaluated when the step that uses them runs.
package recipefile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/im3e/forge/internal/ctxlog"
	"github.com/im3e/forge/mod/module"
	"github.com/im3e/forge/recipe"
)

const (
	// Ext is the file extension of recipe files.
	Ext = ".hcl"
	// DefaultPresetsPrefix prefixes the generated CMake preset names unless
	// the toolchain block sets presets_prefix.
	DefaultPresetsPrefix = "forge"
)

// LoadFile parses the recipe file at path and returns every recipe it
// declares.
func LoadFile(ctx context.Context, path string) ([]*recipe.Recipe, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	return Parse(ctx, src, abs)
}

// Load parses the recipe file at path, which must declare exactly one
// recipe. For a directory, the recipe.hcl inside it is loaded.
func Load(ctx context.Context, path string) (*recipe.Recipe, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, "recipe"+Ext)
	}
	rs, err := LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(rs) != 1 {
		return nil, fmt.Errorf("%s: expected one recipe, found %d", path, len(rs))
	}
	return rs[0], nil
}

// Parse decodes the recipes in src. filename is used in diagnostics and its
// directory becomes the Dir of every recipe.
func Parse(ctx context.Context, src []byte, filename string) ([]*recipe.Recipe, error) {
	logger := ctxlog.FromContext(ctx)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse recipe file %s: %w", filename, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode recipe file %s: %w", filename, diags)
	}

	out := make([]*recipe.Recipe, 0, len(root.Recipes))
	for _, b := range root.Recipes {
		r, err := translate(b, filepath.Dir(filename))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		logger.Debug("Loaded recipe.", "ref", r.Ref(), "file", filename)
		out = append(out, r)
	}
	return out, nil
}

func translate(b *recipeBlock, dir string) (*recipe.Recipe, error) {
	r := &recipe.Recipe{
		Name:                    b.Name,
		Version:                 b.Version,
		PackageType:             recipe.PackageType(b.PackageType),
		BuildPolicy:             recipe.BuildPolicy(b.BuildPolicy),
		Settings:                b.Settings,
		Generators:              b.Generators,
		RequiresTestedReference: b.RequiresTestedReference,
		Dir:                     dir,
	}
	if err := module.CheckName(b.Name); err != nil {
		return nil, err
	}
	ref := r.Ref()

	reqs, err := translateRequires(b.Requires, b.Require)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", ref, err)
	}
	r.Requires = reqs
	if r.ToolRequires, err = translateRequires(b.ToolRequires, nil); err != nil {
		return nil, fmt.Errorf("recipe %s: tool_requires: %w", ref, err)
	}

	if r.Options, err = translateOptions(b.Options); err != nil {
		return nil, fmt.Errorf("recipe %s: %w", ref, err)
	}
	if r.DefaultOptions, err = translateDefaultOptions(b.DefaultOptions); err != nil {
		return nil, fmt.Errorf("recipe %s: %w", ref, err)
	}

	if s := b.Source; s != nil {
		if r.Source, err = translateSource(s); err != nil {
			return nil, fmt.Errorf("recipe %s: %w", ref, err)
		}
	}
	if l := b.Layout; l != nil {
		kind := recipe.LayoutKind(l.Kind)
		switch kind {
		case "", recipe.CMakeLayout, recipe.CustomLayout:
		default:
			return nil, fmt.Errorf("recipe %s: unknown layout kind %q", ref, l.Kind)
		}
		r.Layout = recipe.Layout{Kind: kind, Source: l.Source, Build: l.Build, Generators: l.Generators}
	}
	r.Toolchain.PresetsPrefix = DefaultPresetsPrefix
	if t := b.Toolchain; t != nil {
		r.Toolchain.Generator = t.Generator
		if t.PresetsPrefix != nil {
			r.Toolchain.PresetsPrefix = *t.PresetsPrefix
		}
		if isExprDefined(t.Variables) || isExprDefined(t.CacheVariables) {
			r.OnGenerate = generateHook(t.Variables, t.CacheVariables)
		}
	}
	if bb := b.Build; bb != nil {
		r.Build = recipe.BuildSpec{System: recipe.BuildSystem(bb.System), Args: bb.Args}
		if isExprDefined(bb.Command) {
			if r.Build.System == "" {
				r.Build.System = recipe.Command
			}
			r.OnBuild = commandHook(bb.Command)
		}
	}
	if p := b.Package; p != nil {
		r.Package.SkipInstall = p.Install != nil && !*p.Install
		for _, c := range p.Copies {
			r.Package.Copies = append(r.Package.Copies, recipe.Copy{
				Pattern:    c.Pattern,
				Src:        c.Src,
				Dst:        c.Dst,
				FromSource: c.FromSource,
			})
		}
	}
	if pi := b.PackageInfo; pi != nil {
		r.Info = recipe.PackageInfo{
			Libs:            pi.Libs,
			CMakeTargetName: pi.CMakeTargetName,
			IncludeDirs:     pi.IncludeDirs,
			LibDirs:         pi.LibDirs,
			BinDirs:         pi.BinDirs,
			Env:             pi.Env,
		}
		for _, c := range pi.Components {
			if _, dup := r.Info.Components[c.Name]; dup {
				return nil, fmt.Errorf("recipe %s: component %q declared twice", ref, c.Name)
			}
			comp := r.Info.Component(c.Name)
			comp.Libs = c.Libs
			comp.CMakeTargetName = c.CMakeTargetName
			comp.Requires = c.Requires
		}
	}
	if t := b.Test; t != nil {
		r.OnTest = commandHook(t.Command)
	}
	return r, nil
}

// translateSource rejects sources whose content can change under the same
// recipe version: archives of a branch head without a checksum.
func translateSource(s *sourceBlock) (*recipe.Source, error) {
	switch {
	case (s.URL == "") == (s.Git == ""):
		return nil, errors.New("source: set exactly one of url and git")
	case s.Git != "":
		if _, err := time.Parse(time.DateOnly, s.Snapshot); err != nil {
			return nil, fmt.Errorf("source: git %s needs a snapshot date (YYYY-MM-DD): %w", s.Git, err)
		}
	case s.SHA256 == "" && strings.Contains(s.URL, "/refs/heads/"):
		return nil, fmt.Errorf("source: %s follows a branch; pin a tag with sha256 or use git with a snapshot date", s.URL)
	}
	return &recipe.Source{
		URL:       s.URL,
		SHA256:    s.SHA256,
		StripRoot: s.StripRoot,
		Git:       s.Git,
		Snapshot:  s.Snapshot,
	}, nil
}

func translateRequires(short []string, long []*requireBlock) ([]recipe.Requirement, error) {
	var out []recipe.Requirement
	for _, s := range short {
		ref, err := module.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, recipe.Requirement{Ref: ref})
	}
	for _, b := range long {
		ref, err := module.Parse(b.Ref)
		if err != nil {
			return nil, err
		}
		out = append(out, recipe.Requirement{Ref: ref, Components: b.Components})
	}
	return out, nil
}

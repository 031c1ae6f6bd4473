package generate

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/im3e/forge/recipe"
)

func toolchainFile(header, dir string, tc recipe.Toolchain, tools []*recipe.Installed) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", header)
	b.WriteString("include_guard()\n")
	b.WriteString("message(STATUS \"Using forge toolchain: ${CMAKE_CURRENT_LIST_FILE}\")\n\n")
	fmt.Fprintf(&b, "list(PREPEND CMAKE_PREFIX_PATH %s)\n", cmakeQuote(dir))
	b.WriteString("set(CMAKE_FIND_PACKAGE_PREFER_CONFIG ON)\n")

	var programs []string
	for _, t := range tools {
		programs = append(programs, t.Paths(t.Info.WithDefaults().BinDirs)...)
	}
	if len(programs) > 0 {
		fmt.Fprintf(&b, "list(PREPEND CMAKE_PROGRAM_PATH %s)\n", cmakeList(programs))
	}

	if len(tc.Variables) > 0 {
		b.WriteString("\n")
	}
	for _, k := range sortedKeys(tc.Variables) {
		v := tc.Variables[k]
		typ := "STRING"
		if _, ok := v.(bool); ok {
			typ = "BOOL"
		}
		fmt.Fprintf(&b, "set(%s %s CACHE %s \"Variable %s defined by the forge toolchain\")\n",
			k, cmakeQuote(recipe.FormatValue(v)), typ, k)
	}
	return []byte(b.String())
}

type presets struct {
	Version              int               `json:"version"`
	Vendor               map[string]any    `json:"vendor"`
	CMakeMinimumRequired cmakeVersion      `json:"cmakeMinimumRequired"`
	ConfigurePresets     []configurePreset `json:"configurePresets"`
	BuildPresets         []stepPreset      `json:"buildPresets"`
	TestPresets          []stepPreset      `json:"testPresets"`
}

type cmakeVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

type configurePreset struct {
	Name           string            `json:"name"`
	DisplayName    string            `json:"displayName"`
	Description    string            `json:"description"`
	Generator      string            `json:"generator,omitempty"`
	CacheVariables map[string]string `json:"cacheVariables"`
	ToolchainFile  string            `json:"toolchainFile"`
	BinaryDir      string            `json:"binaryDir"`
}

type stepPreset struct {
	Name            string `json:"name"`
	ConfigurePreset string `json:"configurePreset"`
}

func presetsFile(rc *recipe.Context, tc recipe.Toolchain, name, toolchain string) ([]byte, error) {
	cache := map[string]string{
		"CMAKE_BUILD_TYPE":             rc.Settings.BuildType(),
		"CMAKE_POLICY_DEFAULT_CMP0091": "NEW",
	}
	for k, v := range tc.CacheVariables {
		cache[k] = recipe.FormatValue(v)
	}
	p := presets{
		Version:              3,
		Vendor:               map[string]any{"forge": map[string]any{}},
		CMakeMinimumRequired: cmakeVersion{Major: 3, Minor: 15},
		ConfigurePresets: []configurePreset{{
			Name:           name,
			DisplayName:    fmt.Sprintf("'%s' config", name),
			Description:    fmt.Sprintf("'%s' configure using '%s' generator", name, tc.Generator),
			Generator:      tc.Generator,
			CacheVariables: cache,
			ToolchainFile:  filepath.ToSlash(toolchain),
			BinaryDir:      filepath.ToSlash(rc.Folders.Build),
		}},
		BuildPresets: []stepPreset{{Name: name, ConfigurePreset: name}},
		TestPresets:  []stepPreset{{Name: name, ConfigurePreset: name}},
	}
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// configFile renders the package config consumers load with find_package.
// Each component becomes an interface imported target; the package target
// links every component and the package targets of its own requirements.
func configFile(d Dep) []byte {
	info := d.Info.WithDefaults()
	name := d.Ref.Name
	includes := d.Paths(info.IncludeDirs)
	libDirs := d.Paths(info.LibDirs)

	var b strings.Builder
	fmt.Fprintf(&b, "# Generated by forge for %s. Do not edit.\n", d.Ref)
	b.WriteString("include_guard(GLOBAL)\n")
	b.WriteString("include(CMakeFindDependencyMacro)\n\n")
	fmt.Fprintf(&b, "set(%s_FOUND TRUE)\n", name)
	fmt.Fprintf(&b, "set(%s_VERSION %s)\n", name, cmakeQuote(d.Ref.Version))
	fmt.Fprintf(&b, "set(%s_PACKAGE_FOLDER %s)\n", name, cmakeQuote(d.Folder))
	fmt.Fprintf(&b, "set(%s_INCLUDE_DIRS %s)\n", name, cmakeList(includes))
	fmt.Fprintf(&b, "set(%s_LIB_DIRS %s)\n", name, cmakeList(libDirs))

	requires := slices.Clone(d.Requires)
	slices.Sort(requires)
	if len(requires) > 0 {
		b.WriteString("\n")
	}
	for _, req := range requires {
		fmt.Fprintf(&b, "find_dependency(%s CONFIG)\n", req)
	}

	pkgTarget := d.TargetName("")
	var links []string
	for _, comp := range info.ComponentNames() {
		c := info.Components[comp]
		target := d.TargetName(comp)
		compLinks := slices.Clone(c.Libs)
		for _, r := range c.Requires {
			compLinks = append(compLinks, d.TargetName(r))
		}
		if target == pkgTarget {
			// The component stands for the whole package.
			links = append(links, compLinks...)
			continue
		}
		writeTarget(&b, target, includes, libDirs, compLinks)
		links = append(links, target)
	}
	links = append(links, info.Libs...)
	for _, req := range requires {
		links = append(links, req+"::"+req)
	}
	writeTarget(&b, pkgTarget, includes, libDirs, links)
	return []byte(b.String())
}

func writeTarget(b *strings.Builder, target string, includes, libDirs, links []string) {
	fmt.Fprintf(b, "\nif(NOT TARGET %s)\n", target)
	fmt.Fprintf(b, "  add_library(%s INTERFACE IMPORTED)\n", target)
	fmt.Fprintf(b, "  set_target_properties(%s PROPERTIES\n", target)
	fmt.Fprintf(b, "    INTERFACE_INCLUDE_DIRECTORIES %s\n", cmakeList(includes))
	fmt.Fprintf(b, "    INTERFACE_LINK_DIRECTORIES %s", cmakeList(libDirs))
	if len(links) > 0 {
		fmt.Fprintf(b, "\n    INTERFACE_LINK_LIBRARIES %s", cmakeList(links))
	}
	b.WriteString(")\nendif()\n")
}

func configVersionFile(d Dep) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Generated by forge for %s. Do not edit.\n", d.Ref)
	fmt.Fprintf(&b, "set(PACKAGE_VERSION %s)\n\n", cmakeQuote(d.Ref.Version))
	b.WriteString(`if(PACKAGE_VERSION VERSION_LESS PACKAGE_FIND_VERSION)
  set(PACKAGE_VERSION_COMPATIBLE FALSE)
else()
  set(PACKAGE_VERSION_COMPATIBLE TRUE)
  if(PACKAGE_FIND_VERSION STREQUAL PACKAGE_VERSION)
    set(PACKAGE_VERSION_EXACT TRUE)
  endif()
endif()
`)
	return []byte(b.String())
}

// cmakeQuote returns s as a quoted CMake argument.
func cmakeQuote(s string) string {
	r := strings.NewReplacer(`\`, `/`, `"`, `\"`, `$`, `\$`)
	return `"` + r.Replace(s) + `"`
}

func cmakeList(items []string) string {
	return cmakeQuote(strings.Join(items, ";"))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

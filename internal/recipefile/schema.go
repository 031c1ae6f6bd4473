package recipefile

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes every top-level block of a recipe file. Anything but
// recipe blocks is rejected.
type fileRoot struct {
	Recipes []*recipeBlock `hcl:"recipe,block"`
}

type recipeBlock struct {
	Name        string   `hcl:"name,label"`
	Version     string   `hcl:"version"`
	PackageType string   `hcl:"package_type,optional"`
	BuildPolicy string   `hcl:"build_policy,optional"`
	Settings    []string `hcl:"settings,optional"`
	Generators  []string `hcl:"generators,optional"`

	Requires                []string        `hcl:"requires,optional"`
	ToolRequires            []string        `hcl:"tool_requires,optional"`
	RequiresTestedReference bool            `hcl:"requires_tested_reference,optional"`
	Require                 []*requireBlock `hcl:"require,block"`

	Options        []*optionBlock `hcl:"option,block"`
	DefaultOptions hcl.Expression `hcl:"default_options,optional"`

	Source      *sourceBlock      `hcl:"source,block"`
	Layout      *layoutBlock      `hcl:"layout,block"`
	Toolchain   *toolchainBlock   `hcl:"toolchain,block"`
	Build       *buildBlock       `hcl:"build,block"`
	Package     *packageBlock     `hcl:"package,block"`
	PackageInfo *packageInfoBlock `hcl:"package_info,block"`
	Test        *testBlock        `hcl:"test,block"`
}

// requireBlock is the long form of a requirement, used when the requirer
// names the components it links against.
type requireBlock struct {
	Ref        string   `hcl:"ref,label"`
	Components []string `hcl:"components,optional"`
}

type optionBlock struct {
	Name    string         `hcl:"name,label"`
	Values  hcl.Expression `hcl:"values"`
	Default hcl.Expression `hcl:"default,optional"`
}

type sourceBlock struct {
	URL       string `hcl:"url,optional"`
	SHA256    string `hcl:"sha256,optional"`
	StripRoot bool   `hcl:"strip_root,optional"`
	Git       string `hcl:"git,optional"`
	Snapshot  string `hcl:"snapshot,optional"`
}

type layoutBlock struct {
	Kind       string `hcl:"kind,optional"`
	Source     string `hcl:"source,optional"`
	Build      string `hcl:"build,optional"`
	Generators string `hcl:"generators,optional"`
}

type toolchainBlock struct {
	Generator      string         `hcl:"generator,optional"`
	PresetsPrefix  *string        `hcl:"presets_prefix,optional"`
	Variables      hcl.Expression `hcl:"variables,optional"`
	CacheVariables hcl.Expression `hcl:"cache_variables,optional"`
}

type buildBlock struct {
	System  string         `hcl:"system,optional"`
	Args    []string       `hcl:"args,optional"`
	Command hcl.Expression `hcl:"command,optional"`
}

type packageBlock struct {
	Install *bool        `hcl:"install,optional"`
	Copies  []*copyBlock `hcl:"copy,block"`
}

type copyBlock struct {
	Pattern    string `hcl:"pattern"`
	Src        string `hcl:"src,optional"`
	Dst        string `hcl:"dst,optional"`
	FromSource bool   `hcl:"from_source,optional"`
}

type packageInfoBlock struct {
	Libs            []string            `hcl:"libs,optional"`
	CMakeTargetName string              `hcl:"cmake_target_name,optional"`
	IncludeDirs     []string            `hcl:"include_dirs,optional"`
	LibDirs         []string            `hcl:"lib_dirs,optional"`
	BinDirs         []string            `hcl:"bin_dirs,optional"`
	Env             map[string][]string `hcl:"env,optional"`
	Components      []*componentBlock   `hcl:"component,block"`
}

type componentBlock struct {
	Name            string   `hcl:"name,label"`
	Libs            []string `hcl:"libs,optional"`
	CMakeTargetName string   `hcl:"cmake_target_name,optional"`
	Requires        []string `hcl:"requires,optional"`
}

type testBlock struct {
	Command hcl.Expression `hcl:"command"`
}

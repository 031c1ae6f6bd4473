// Package profile loads the YAML profiles that fix the settings, option
// overrides and build environment of an invocation.
//
// A profile looks like:
//
//	settings:
//	  os: Linux
//	  arch: armv8
//	  build_type: Release
//	options:
//	  cimg/*:enable_png: true
//	  coverage: "on"
//	buildenv:
//	  CC: gcc-13
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"

	"github.com/im3e/forge/internal/env"
	"github.com/im3e/forge/recipe"
	"gopkg.in/yaml.v3"
)

// Profile is a set of settings, option overrides and build environment
// variables.
type Profile struct {
	Settings recipe.Settings `yaml:"settings,omitempty"`
	// Options maps "[pattern:]name" to a value. Booleans map to True and
	// False, null to None.
	Options  map[string]any    `yaml:"options,omitempty"`
	BuildEnv map[string]string `yaml:"buildenv,omitempty"`
}

// Default returns the profile of the running machine.
func Default() *Profile {
	return &Profile{Settings: recipe.Settings{
		"os":         goosSetting(runtime.GOOS),
		"arch":       goarchSetting(runtime.GOARCH),
		"build_type": "Release",
	}}
}

func goosSetting(goos string) string {
	switch goos {
	case "linux":
		return "Linux"
	case "darwin":
		return "Macos"
	case "windows":
		return "Windows"
	case "freebsd":
		return "FreeBSD"
	}
	return goos
}

func goarchSetting(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "armv8"
	case "386":
		return "x86"
	case "arm":
		return "armv7"
	}
	return goarch
}

// Load reads the profile at path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML profile. Unknown top-level keys are rejected.
func Parse(data []byte) (*Profile, error) {
	p := &Profile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if _, err := p.OptionAssignments(); err != nil {
		return nil, err
	}
	return p, nil
}

// Merge returns p overridden by o.
func (p *Profile) Merge(o *Profile) *Profile {
	out := &Profile{
		Settings: p.Settings.Merge(o.Settings),
		Options:  make(map[string]any, len(p.Options)+len(o.Options)),
		BuildEnv: make(map[string]string, len(p.BuildEnv)+len(o.BuildEnv)),
	}
	for _, m := range []map[string]any{p.Options, o.Options} {
		for k, v := range m {
			out.Options[k] = v
		}
	}
	for _, m := range []map[string]string{p.BuildEnv, o.BuildEnv} {
		for k, v := range m {
			out.BuildEnv[k] = v
		}
	}
	return out
}

// OptionAssignments returns the option overrides sorted by key.
func (p *Profile) OptionAssignments() ([]recipe.OptionAssignment, error) {
	keys := make([]string, 0, len(p.Options))
	for k := range p.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]recipe.OptionAssignment, 0, len(keys))
	for _, k := range keys {
		v, err := optionValue(p.Options[k])
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", k, err)
		}
		a, err := recipe.ParseOptionKey(k, v)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func optionValue(v any) (recipe.Value, error) {
	switch v := v.(type) {
	case nil:
		return recipe.None, nil
	case bool:
		return recipe.BoolValue(v), nil
	case int:
		return recipe.Value(strconv.Itoa(v)), nil
	case float64:
		return recipe.Value(strconv.FormatFloat(v, 'f', -1, 64)), nil
	case string:
		return recipe.ParseValue(v), nil
	}
	return recipe.None, fmt.Errorf("unsupported value %v", v)
}

// ApplyBuildEnv sets the build environment variables of p on e.
func (p *Profile) ApplyBuildEnv(e *env.Env) {
	for k, v := range p.BuildEnv {
		e.Set(k, v)
	}
}

package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/im3e/forge/internal/build"
	"github.com/im3e/forge/internal/cache"
	"github.com/im3e/forge/internal/ctxlog"
	"github.com/im3e/forge/internal/env"
	"github.com/im3e/forge/internal/fetch"
	"github.com/im3e/forge/internal/index"
	"github.com/im3e/forge/internal/profile"
	"github.com/im3e/forge/internal/recipefile"
	"github.com/im3e/forge/internal/resolve"
	"github.com/im3e/forge/mod/module"
	"github.com/im3e/forge/recipe"
	"github.com/spf13/cobra"
)

// indexDir is the directory below the forge home a remote recipe index is
// synced into.
const indexDir = "index"

// graphFlags configure how a recipe graph is resolved and built.
type graphFlags struct {
	settings []string
	options  []string
	profiles []string
	build    string
}

func addGraphFlags(cmd *cobra.Command, f *graphFlags) {
	flags := cmd.Flags()
	flags.StringArrayVarP(&f.settings, "settings", "s", nil, "host setting as key=value, repeatable; create builds every combination of repeated keys")
	flags.StringArrayVarP(&f.options, "options", "o", nil, "option as [pattern:]name=value, repeatable")
	flags.StringArrayVar(&f.profiles, "profile", nil, "YAML profile applied over the machine defaults, repeatable")
	flags.StringVar(&f.build, "build", "", "build policy: missing, always or never (default: the recipe's, then missing)")
}

// app holds what the commands share after flag parsing.
type app struct {
	home    string
	index   *index.Index
	cache   *cache.Cache
	builder *build.Builder

	// hosts are the host configurations to build, host the current one.
	hosts       []recipe.Settings
	host        recipe.Settings
	buildConfig recipe.Settings
	options     []recipe.OptionAssignment
}

func newApp(cmd *cobra.Command, gf *globalFlags) (*app, error) {
	home := gf.home
	if home == "" {
		var err error
		if home, err = env.Home(); err != nil {
			return nil, err
		}
	} else {
		abs, err := filepath.Abs(home)
		if err != nil {
			return nil, err
		}
		home = abs
	}

	paths := append([]string(nil), gf.recipes...)
	if fi, err := os.Stat(filepath.Join(home, indexDir)); err == nil && fi.IsDir() {
		paths = append(paths, filepath.Join(home, indexDir))
	}

	logger := ctxlog.FromContext(cmd.Context())
	c := cache.New(home)
	b := build.New(c, fetch.New(filepath.Join(home, "dl"), logger))
	b.Stdout, b.Stderr = io.Discard, io.Discard
	if gf.verbose {
		b.Stdout, b.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
	}
	return &app{
		home:    home,
		index:   index.New(paths...),
		cache:   c,
		builder: b,
	}, nil
}

// configure applies the profiles, settings, options and build policy of f.
// A setting given several values expands to one host configuration per
// combination, which only commands building a matrix accept.
func (a *app) configure(f *graphFlags, matrix bool) error {
	p := profile.Default()
	a.buildConfig = p.Settings
	for _, path := range f.profiles {
		loaded, err := profile.Load(path)
		if err != nil {
			return err
		}
		p = p.Merge(loaded)
	}
	m, err := parseSettings(f.settings)
	if err != nil {
		return err
	}
	a.hosts = nil
	for _, s := range m.Combinations() {
		a.hosts = append(a.hosts, p.Settings.Merge(s))
	}
	if len(a.hosts) == 0 {
		a.hosts = []recipe.Settings{p.Settings}
	}
	if len(a.hosts) > 1 && !matrix {
		return fmt.Errorf("settings expand to %d configurations: give each setting one value", len(a.hosts))
	}
	a.host = a.hosts[0]

	opts, err := p.OptionAssignments()
	if err != nil {
		return err
	}
	for _, s := range f.options {
		o, err := recipe.ParseOptionAssignment(s)
		if err != nil {
			return err
		}
		opts = append(opts, o)
	}
	a.options = opts

	switch policy := recipe.BuildPolicy(f.build); policy {
	case "", recipe.BuildMissing, recipe.BuildAlways, recipe.BuildNever:
		a.builder.Policy = policy
	default:
		return fmt.Errorf("invalid build policy %q: want missing, always or never", f.build)
	}

	e := env.New(os.Environ())
	p.ApplyBuildEnv(e)
	a.builder.Env = e.Environ()
	return nil
}

// parseSettings parses key=value settings. Repeating a key with another
// value adds a candidate value.
func parseSettings(kvs []string) (recipe.Matrix, error) {
	m := make(recipe.Matrix, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid setting %q: want key=value", kv)
		}
		if !slices.Contains(m[k], v) {
			m[k] = append(m[k], v)
		}
	}
	return m, nil
}

// loadRecipe loads the recipe arg names: a recipe file or a directory with a
// recipe.hcl, or else a reference looked up in the index. Recipes loaded from
// disk are added to the index so they take part in resolution.
func (a *app) loadRecipe(ctx context.Context, arg string) (*recipe.Recipe, error) {
	if _, err := os.Stat(arg); err == nil {
		r, err := recipefile.Load(ctx, arg)
		if err != nil {
			return nil, err
		}
		a.index.Add(r)
		return r, nil
	}
	return a.index.Lookup(ctx, arg)
}

// resolve resolves the graph of root. For a test recipe, tested is the
// reference under test and the options given without pattern target it
// rather than the test recipe.
func (a *app) resolve(ctx context.Context, root *recipe.Recipe, tested *module.Version) (*resolve.Graph, error) {
	opts := a.options
	if tested != nil {
		opts = make([]recipe.OptionAssignment, len(a.options))
		for i, o := range a.options {
			if o.Pattern == "" {
				o.Pattern = tested.Name + "/*"
			}
			opts[i] = o
		}
	}
	return resolve.Resolve(ctx, root, a.index, resolve.Options{
		Settings:      a.host,
		BuildSettings: a.buildConfig,
		UserOptions:   opts,
		Tested:        tested,
	})
}

// parsePackageRef parses "name/version" or "name/version:package_id".
func parsePackageRef(s string) (module.Version, string, error) {
	ref, id, _ := strings.Cut(s, ":")
	v, err := module.Parse(ref)
	if err != nil {
		return module.Version{}, "", err
	}
	return v, id, nil
}

package build

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/im3e/forge/internal/cache"
	"github.com/im3e/forge/internal/fetch"
	"github.com/im3e/forge/internal/generate"
	"github.com/im3e/forge/internal/resolve"
	"github.com/im3e/forge/mod/module"
	"github.com/im3e/forge/recipe"
)

type recipes map[module.Version]*recipe.Recipe

func (s recipes) Recipe(_ context.Context, ref module.Version) (*recipe.Recipe, error) {
	r, ok := s[ref]
	if !ok {
		return nil, fmt.Errorf("no recipe for %s", ref)
	}
	return r, nil
}

func source(rs ...*recipe.Recipe) recipes {
	s := make(recipes, len(rs))
	for _, r := range rs {
		s[r.Ref()] = r
	}
	return s
}

// log records the packages built, in order.
type log struct {
	built []string
}

// library returns a recipe whose build writes lib<name>.a and whose package
// publishes it as the <name>_static component.
func (l *log) library(ref string, requires ...string) *recipe.Recipe {
	v := module.MustParse(ref)
	r := &recipe.Recipe{Name: v.Name, Version: v.Version}
	for _, req := range requires {
		r.Requires = append(r.Requires, recipe.Requirement{Ref: module.MustParse(req)})
	}
	r.OnBuild = func(_ context.Context, rc *recipe.Context) error {
		for _, req := range r.Requires {
			if _, err := rc.Dep(req.Ref.Name); err != nil {
				return err
			}
		}
		l.built = append(l.built, rc.Ref.String())
		if err := os.MkdirAll(rc.Folders.Build, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(rc.Folders.Build, "lib"+v.Name+".a"), []byte(rc.Options.String()), 0o644)
	}
	r.Package.Copies = []recipe.Copy{{Pattern: "*.a", Dst: "lib"}}
	r.Info.Component(v.Name + "_static").Libs = []string{v.Name}
	return r
}

func app(requires ...string) *recipe.Recipe {
	r := &recipe.Recipe{Name: "icy_moon_engine", Version: "0.4"}
	for _, req := range requires {
		r.Requires = append(r.Requires, recipe.Requirement{Ref: module.MustParse(req)})
	}
	return r
}

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	home := t.TempDir()
	b := New(cache.New(home), fetch.New(filepath.Join(home, "dl"), nil))
	b.Env = []string{"PATH=" + os.Getenv("PATH")}
	b.Stdout, b.Stderr = io.Discard, io.Discard
	return b
}

func resolveGraph(t *testing.T, root *recipe.Recipe, src resolve.Source, opts resolve.Options) *resolve.Graph {
	t.Helper()
	g, err := resolve.Resolve(context.Background(), root, src, opts)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestInstallDependenciesFirst(t *testing.T) {
	var l log
	src := source(l.library("imgui/1.91.0", "glm/0.9.9.8"), l.library("glm/0.9.9.8"))
	g := resolveGraph(t, app("imgui/1.91.0"), src, resolve.Options{})

	inst, err := newBuilder(t).Install(context.Background(), g, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"glm/0.9.9.8", "imgui/1.91.0"}, l.built); diff != "" {
		t.Errorf("build order mismatch (-want +got):\n%s", diff)
	}
	if len(inst) != 2 || inst[g.Root] != nil {
		t.Errorf("installed %d packages, root %v", len(inst), inst[g.Root])
	}
	glm := inst[g.Node(resolve.Host, "glm")]
	if _, err := os.Stat(filepath.Join(glm.Folder, "lib", "libglm.a")); err != nil {
		t.Errorf("package content: %v", err)
	}
	if diff := cmp.Diff([]string{"glm_static"}, glm.Info.ComponentNames()); diff != "" {
		t.Errorf("components mismatch (-want +got):\n%s", diff)
	}
}

func TestInstallReusesCache(t *testing.T) {
	var l log
	src := source(l.library("imgui/1.91.0", "glm/0.9.9.8"), l.library("glm/0.9.9.8"))
	b := newBuilder(t)

	first, err := b.Install(context.Background(), resolveGraph(t, app("imgui/1.91.0"), src, resolve.Options{}), false)
	if err != nil {
		t.Fatal(err)
	}
	g := resolveGraph(t, app("imgui/1.91.0"), src, resolve.Options{})
	second, err := b.Install(context.Background(), g, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(l.built) != 2 {
		t.Errorf("built %v, want each package once", l.built)
	}
	var ids []string
	for _, pkg := range first {
		ids = append(ids, pkg.PackageID)
	}
	for _, pkg := range second {
		if !strings.Contains(strings.Join(ids, " "), pkg.PackageID) {
			t.Errorf("package id %s of %s changed", pkg.PackageID, pkg.Ref)
		}
	}
}

func TestBuildPolicy(t *testing.T) {
	for _, tc := range []struct {
		name    string
		user    recipe.BuildPolicy
		recipe  recipe.BuildPolicy
		cached  bool
		builds  int
		missing bool
	}{
		{name: "missing builds absent", builds: 1},
		{name: "missing reuses", cached: true, builds: 1},
		{name: "always rebuilds", user: recipe.BuildAlways, cached: true, builds: 2},
		{name: "never fails when absent", user: recipe.BuildNever, missing: true},
		{name: "never reuses", user: recipe.BuildNever, cached: true, builds: 1},
		{name: "recipe never", recipe: recipe.BuildNever, missing: true},
		{name: "user overrides recipe", user: recipe.BuildMissing, recipe: recipe.BuildNever, builds: 1},
		{name: "recipe always", recipe: recipe.BuildAlways, cached: true, builds: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var l log
			glm := l.library("glm/0.9.9.8")
			src := source(glm)
			b := newBuilder(t)
			if tc.cached {
				if _, err := b.Install(context.Background(), resolveGraph(t, app("glm/0.9.9.8"), src, resolve.Options{}), false); err != nil {
					t.Fatal(err)
				}
			}
			glm.BuildPolicy = tc.recipe
			b.Policy = tc.user
			_, err := b.Install(context.Background(), resolveGraph(t, app("glm/0.9.9.8"), src, resolve.Options{}), false)
			if tc.missing {
				if !errors.Is(err, cache.ErrMissingBinary) {
					t.Fatalf("err = %v, want ErrMissingBinary", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(l.built) != tc.builds {
				t.Errorf("built %d times, want %d", len(l.built), tc.builds)
			}
		})
	}
}

func TestPackageIDFollowsDependencies(t *testing.T) {
	var l log
	glm := l.library("glm/0.9.9.8")
	glm.Options = map[string]recipe.OptionSpec{"shared": recipe.BoolOption(false)}
	src := source(l.library("imgui/1.91.0", "glm/0.9.9.8"), glm)
	b := newBuilder(t)

	ids := func(user ...string) (string, string) {
		t.Helper()
		var opts []recipe.OptionAssignment
		for _, s := range user {
			a, err := recipe.ParseOptionAssignment(s)
			if err != nil {
				t.Fatal(err)
			}
			opts = append(opts, a)
		}
		g := resolveGraph(t, app("imgui/1.91.0"), src, resolve.Options{UserOptions: opts})
		inst, err := b.Install(context.Background(), g, false)
		if err != nil {
			t.Fatal(err)
		}
		return inst[g.Node(resolve.Host, "glm")].PackageID, inst[g.Node(resolve.Host, "imgui")].PackageID
	}
	glmStatic, imguiStatic := ids()
	glmShared, imguiShared := ids("glm/*:shared=True")
	if glmStatic == glmShared {
		t.Error("glm package id ignores its options")
	}
	if imguiStatic == imguiShared {
		t.Error("imgui package id ignores the package id of glm")
	}
	if len(l.built) != 4 {
		t.Errorf("built %v, want both configurations of both packages", l.built)
	}
}

func TestStepError(t *testing.T) {
	var l log
	glm := l.library("glm/0.9.9.8")
	failure := errors.New("compiler exploded")
	glm.OnBuild = func(context.Context, *recipe.Context) error { return failure }
	b := newBuilder(t)
	g := resolveGraph(t, app("glm/0.9.9.8"), source(glm), resolve.Options{})

	_, err := b.Install(context.Background(), g, false)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want StepError", err)
	}
	if stepErr.Step != StepBuild || stepErr.Ref != glm.Ref() {
		t.Errorf("StepError = %v", stepErr)
	}
	if !errors.Is(err, failure) {
		t.Errorf("err = %v does not wrap the build failure", err)
	}
	items, err := b.Cache.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("failed build left cache entries %v", items)
	}
}

func TestComponentMismatch(t *testing.T) {
	var l log
	root := app()
	root.Requires = []recipe.Requirement{{Ref: module.MustParse("anari/0.14.1"), Components: []string{"anari_shared"}}}
	g := resolveGraph(t, root, source(l.library("anari/0.14.1")), resolve.Options{})

	_, err := newBuilder(t).Install(context.Background(), g, false)
	var mismatch *ComponentMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want ComponentMismatchError", err)
	}
	if diff := cmp.Diff([]string{"anari_shared"}, mismatch.Missing); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"anari_static"}, mismatch.Published); diff != "" {
		t.Errorf("Published mismatch (-want +got):\n%s", diff)
	}

	root.Requires[0].Components = []string{"anari_static"}
	g = resolveGraph(t, root, source(l.library("anari/0.14.1")), resolve.Options{})
	if _, err := newBuilder(t).Install(context.Background(), g, false); err != nil {
		t.Errorf("matching components: %v", err)
	}
}

// consumer is an application recipe generating a CMake toolchain that points
// at the imgui resources.
func consumer() *recipe.Recipe {
	r := app("imgui/1.91.0")
	r.Layout = recipe.Layout{Kind: recipe.CMakeLayout}
	r.Toolchain = recipe.Toolchain{Generator: "Ninja", PresetsPrefix: "forge"}
	r.OnGenerate = func(_ context.Context, rc *recipe.Context, tc *recipe.Toolchain) error {
		imgui, err := rc.Dep("imgui")
		if err != nil {
			return err
		}
		tc.Variables["IMGUI_RES_DIR"] = imgui.Folder + "/res"
		return nil
	}
	return r
}

func TestLocalGeneratesForConsumer(t *testing.T) {
	var l log
	src := source(l.library("imgui/1.91.0", "glm/0.9.9.8"), l.library("glm/0.9.9.8"))
	b := newBuilder(t)
	g := resolveGraph(t, consumer(), src, resolve.Options{})
	inst, err := b.Install(context.Background(), g, false)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	rc, err := b.Local(context.Background(), g, inst, dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "build", "Release", "generators"); rc.Folders.Generators != want {
		t.Errorf("generators folder = %s, want %s", rc.Folders.Generators, want)
	}
	data, err := os.ReadFile(filepath.Join(rc.Folders.Generators, generate.ToolchainFile))
	if err != nil {
		t.Fatal(err)
	}
	imgui := inst[g.Node(resolve.Host, "imgui")]
	if !strings.Contains(string(data), filepath.ToSlash(imgui.Folder)+"/res") {
		t.Errorf("toolchain does not point at the imgui package:\n%s", data)
	}
	for _, name := range []string{"imgui-config.cmake", "glm-config.cmake", generate.PresetsFile} {
		if _, err := os.Stat(filepath.Join(rc.Folders.Generators, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestLocalDependencyNotInstalled(t *testing.T) {
	var l log
	src := source(l.library("imgui/1.91.0", "glm/0.9.9.8"), l.library("glm/0.9.9.8"))
	g := resolveGraph(t, consumer(), src, resolve.Options{})

	_, err := newBuilder(t).Local(context.Background(), g, Installed{}, t.TempDir(), false)
	if !errors.Is(err, recipe.ErrNotInstalled) {
		t.Fatalf("err = %v, want ErrNotInstalled", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepGenerate {
		t.Errorf("err = %v, want a generate StepError", err)
	}
	if !strings.Contains(err.Error(), "imgui") {
		t.Errorf("err = %v does not name the dependency", err)
	}
}

func TestTestPackage(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build recipe.Settings
		runs  bool
	}{
		{"native", recipe.Settings{"os": "Linux", "arch": "x86_64"}, true},
		{"cross", recipe.Settings{"os": "Linux", "arch": "armv8"}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var l log
			anari := l.library("anari/0.14.1")
			src := source(anari)
			b := newBuilder(t)
			host := recipe.Settings{"os": "Linux", "arch": "x86_64"}

			marker := filepath.Join(t.TempDir(), "ran")
			test := &recipe.Recipe{Name: "anari_test", Version: "0.0.0", RequiresTestedReference: true, Dir: t.TempDir()}
			test.OnBuild = func(context.Context, *recipe.Context) error {
				l.built = append(l.built, "anari_test")
				return nil
			}
			test.OnTest = func(_ context.Context, rc *recipe.Context) error {
				var ld string
				for _, kv := range rc.Env {
					if v, ok := strings.CutPrefix(kv, "LD_LIBRARY_PATH="); ok {
						ld = v
					}
				}
				return os.WriteFile(marker, []byte(ld), 0o644)
			}

			tested := anari.Ref()
			g := resolveGraph(t, test, src, resolve.Options{Settings: host, BuildSettings: tc.build, Tested: &tested})
			inst, err := b.Install(context.Background(), g, false)
			if err != nil {
				t.Fatal(err)
			}
			if err := b.Test(context.Background(), g, inst, host, tc.build); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]string{"anari/0.14.1", "anari_test"}, l.built); diff != "" {
				t.Errorf("built mismatch (-want +got):\n%s", diff)
			}
			data, err := os.ReadFile(marker)
			if ran := err == nil; ran != tc.runs {
				t.Fatalf("test ran = %v, want %v", ran, tc.runs)
			}
			if tc.runs && !strings.HasPrefix(string(data), filepath.Join(inst[g.Node(resolve.Host, "anari")].Folder, "lib")) {
				t.Errorf("LD_LIBRARY_PATH = %q lacks the tested package", data)
			}
		})
	}
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, content); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSourceFetchedOncePerReference(t *testing.T) {
	body := zipArchive(t, map[string]string{
		"ANARI-SDK-0.14.1/CMakeLists.txt":         "project(anari)\n",
		"ANARI-SDK-0.14.1/include/anari/anari.h":  "#pragma once\n",
		"ANARI-SDK-0.14.1/include/anari/detail.h": "#pragma once\n",
	})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(body)
	}))
	defer srv.Close()

	anari := &recipe.Recipe{
		Name:    "anari",
		Version: "0.14.1",
		Options: map[string]recipe.OptionSpec{"shared": recipe.BoolOption(false)},
		Source:  &recipe.Source{URL: srv.URL + "/v0.14.1.zip", StripRoot: true},
		Package: recipe.PackageSpec{Copies: []recipe.Copy{
			{Pattern: "**/*.h", Src: "include", Dst: "include", FromSource: true},
		}},
	}
	b := newBuilder(t)
	for _, opt := range []string{"anari/*:shared=False", "anari/*:shared=True"} {
		a, err := recipe.ParseOptionAssignment(opt)
		if err != nil {
			t.Fatal(err)
		}
		g := resolveGraph(t, app("anari/0.14.1"), source(anari), resolve.Options{UserOptions: []recipe.OptionAssignment{a}})
		inst, err := b.Install(context.Background(), g, false)
		if err != nil {
			t.Fatal(err)
		}
		pkg := inst[g.Node(resolve.Host, "anari")]
		for _, h := range []string{"anari.h", "detail.h"} {
			if _, err := os.Stat(filepath.Join(pkg.Folder, "include", "anari", h)); err != nil {
				t.Errorf("%s not packaged: %v", h, err)
			}
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("source downloaded %d times, want 1", got)
	}
}

func TestSourceFetchedIntoLayoutSourceFolder(t *testing.T) {
	body := zipArchive(t, map[string]string{
		"OpenUSD-24.11/build_scripts/build_usd.py": "print('usd')\n",
		"OpenUSD-24.11/pxr/CMakeLists.txt":         "project(pxr)\n",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	var script string
	usd := &recipe.Recipe{
		Name:    "open_usd",
		Version: "24.11",
		Source:  &recipe.Source{URL: srv.URL + "/v24.11.zip", StripRoot: true},
		Layout:  recipe.Layout{Source: "src", Build: "build", Generators: "build/generators"},
	}
	usd.OnBuild = func(_ context.Context, rc *recipe.Context) error {
		script = filepath.Join(rc.Folders.Source, "build_scripts", "build_usd.py")
		_, err := os.Stat(script)
		return err
	}
	b := newBuilder(t)
	g := resolveGraph(t, usd, source(usd), resolve.Options{})
	if _, err := b.Install(context.Background(), g, true); err != nil {
		t.Fatal(err)
	}
	s, _, _, err := b.Cache.Folders(usd.Ref(), "")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(s, "src", "build_scripts", "build_usd.py"); script != want {
		t.Errorf("build script = %s, want %s", script, want)
	}
}

func TestCopyFiles(t *testing.T) {
	root := t.TempDir()
	f := recipe.Folders{
		Source:  filepath.Join(root, "src"),
		Build:   filepath.Join(root, "build"),
		Package: filepath.Join(root, "pkg"),
	}
	for _, p := range []string{
		"build/lib/libimgui.a", "build/lib/libimgui.so", "build/obj/imgui.o",
		"src/misc/fonts/Roboto.ttf", "src/imgui.h",
	} {
		path := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(p), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, cp := range []recipe.Copy{
		{Pattern: "lib/*.{a,so}"},
		{Pattern: "*.h", Dst: "include", FromSource: true},
		{Pattern: "**/*.ttf", Src: "misc", Dst: "res", FromSource: true},
	} {
		if err := copyFiles(f, cp); err != nil {
			t.Fatal(err)
		}
	}
	var got []string
	filepath.WalkDir(f.Package, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			rel, _ := filepath.Rel(f.Package, path)
			got = append(got, filepath.ToSlash(rel))
		}
		return err
	})
	want := []string{"include/imgui.h", "lib/libimgui.a", "lib/libimgui.so", "res/fonts/Roboto.ttf"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("package tree mismatch (-want +got):\n%s", diff)
	}
}

package cmake

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOutputDir(t *testing.T) {
	if got := New("", "build", "").OutputDir(); got != "build" {
		t.Errorf("OutputDir = %q, want %q", got, "build")
	}
	if got := New("", "build", "inst").OutputDir(); got != "inst" {
		t.Errorf("OutputDir = %q, want %q", got, "inst")
	}
}

func TestDefinesArgs(t *testing.T) {
	c := New("", "", "")
	c.Define("FOO", "BAR")
	c.DefineBool("ENABLE", true)
	c.DefineBool("DISABLE", false)

	want := []string{"-DDISABLE:BOOL=OFF", "-DENABLE:BOOL=ON", "-DFOO:STRING=BAR"}
	if diff := cmp.Diff(want, c.definesArgs()); diff != "" {
		t.Errorf("definesArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestDefinesArgsEmpty(t *testing.T) {
	c := New("", "", "")
	if args := c.definesArgs(); args != nil {
		t.Errorf("definesArgs on empty = %v, want nil", args)
	}
}

func TestConfigureArgs(t *testing.T) {
	c := New("/src/anari", "/b/anari", "/p/anari")
	c.Generator("Ninja")
	c.BuildType("Release")
	c.Toolchain("/b/anari/generators/forge_toolchain.cmake")
	c.DefineBool("BUILD_TESTING", false)

	want := []string{
		"-S", "/src/anari", "-B", "/b/anari", "-G", "Ninja",
		"-DBUILD_TESTING:BOOL=OFF",
		"-DCMAKE_BUILD_TYPE:STRING=Release",
		"-DCMAKE_INSTALL_PREFIX:STRING=/p/anari",
		"-DCMAKE_TOOLCHAIN_FILE:STRING=/b/anari/generators/forge_toolchain.cmake",
		"--fresh",
	}
	if diff := cmp.Diff(want, c.ConfigureArgs("--fresh")); diff != "" {
		t.Errorf("ConfigureArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestSource(t *testing.T) {
	c := New("orig", "", "")
	c.Source("/new")
	if c.sourceDir != "/new" {
		t.Errorf("sourceDir = %q, want %q", c.sourceDir, "/new")
	}
}

func TestRunUsesEnvironmentTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script tools")
	}
	bin := t.TempDir()
	fake := "#!/bin/sh\necho \"fake cmake $*\"\n"
	if err := os.WriteFile(filepath.Join(bin, "cmake"), []byte(fake), 0o755); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	c := New("src", filepath.Join(t.TempDir(), "build"), "")
	c.Env = []string{"PATH=" + bin + string(os.PathListSeparator) + os.Getenv("PATH")}
	c.Stdout = &out
	if err := c.Build(context.Background(), "--parallel"); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); !strings.HasPrefix(got, "fake cmake --build ") || !strings.Contains(got, "--parallel") {
		t.Errorf("output = %q", got)
	}
}

func TestConfigureBuildInstallE2E(t *testing.T) {
	if _, err := exec.LookPath("cmake"); err != nil {
		t.Skip("cmake not found in PATH")
	}
	for _, bin := range []string{"make", "cc"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH", bin)
		}
	}

	tmp := t.TempDir()
	installDir := filepath.Join(tmp, "install")
	buildDir := filepath.Join(tmp, "build")

	c := New(filepath.Join("testdata", "project"), buildDir, installDir)
	c.BuildType("Release")
	c.Generator("Unix Makefiles")

	toolchain := filepath.Join(tmp, "toolchain.cmake")
	if err := os.WriteFile(toolchain, []byte("# toolchain\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c.Toolchain(toolchain)

	c.Define("FOO", "BAR")
	c.DefineBool("ENABLE", true)
	c.DefineBool("DISABLE", false)

	ctx := context.Background()
	if err := c.Configure(ctx); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := c.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := c.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}

	for _, path := range []string{
		filepath.Join(installDir, "lib", "libdummy.a"),
		filepath.Join(installDir, "include", "dummy.h"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s", path)
		}
	}

	data, err := os.ReadFile(filepath.Join(buildDir, "CMakeCache.txt"))
	if err != nil {
		t.Fatalf("read CMakeCache.txt: %v", err)
	}
	cache := string(data)
	for _, want := range []string{
		"FOO:STRING=BAR",
		"ENABLE:BOOL=ON",
		"DISABLE:BOOL=OFF",
		"CMAKE_BUILD_TYPE:STRING=Release",
		"CMAKE_INSTALL_PREFIX",
		"CMAKE_TOOLCHAIN_FILE",
	} {
		if !strings.Contains(cache, want) {
			t.Errorf("cache missing %q", want)
		}
	}
}

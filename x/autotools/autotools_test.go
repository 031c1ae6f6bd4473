package autotools

import (
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

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2", "C=3"}, map[string]string{"B": "X", "E": "5", "D": "4"})
	want := []string{"A=1", "B=X", "C=3", "D=4", "E=5"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mergeEnv mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvironDoesNotAlias(t *testing.T) {
	base := []string{"PATH=/usr/bin", "CPPFLAGS=-O2"}
	a := New("", "", "")
	a.Env = base
	a.Setenv("CPPFLAGS", "-O2 -I/p/cimg/include")
	got := a.environ()
	if base[1] != "CPPFLAGS=-O2" {
		t.Errorf("base environment modified: %v", base)
	}
	if got[1] != "CPPFLAGS=-O2 -I/p/cimg/include" {
		t.Errorf("environ = %v", got)
	}
}

func TestConfigureBuildInstallE2E(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("configure scripts need a POSIX shell")
	}
	for _, bin := range []string{"make", "cc", "ar"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH", bin)
		}
	}

	tmp := t.TempDir()
	installDir := filepath.Join(tmp, "install")
	buildDir := filepath.Join(tmp, "build")

	absSource, err := filepath.Abs(filepath.Join("testdata", "project"))
	if err != nil {
		t.Fatal(err)
	}

	a := New(absSource, buildDir, installDir)
	a.Setenv("CUSTOM", "VAL")

	ctx := context.Background()
	if err := a.Configure(ctx, "--enable-foo"); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := a.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := a.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(buildDir, "config.log"))
	if err != nil {
		t.Fatalf("read config.log: %v", err)
	}
	log := string(data)
	for _, want := range []string{"CUSTOM=VAL", "PREFIX=" + installDir, "ARGS=--enable-foo"} {
		if !strings.Contains(log, want) {
			t.Errorf("config.log missing %q", want)
		}
	}

	for _, path := range []string{
		filepath.Join(installDir, "lib", "libdummy.a"),
		filepath.Join(installDir, "include", "dummy.h"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s", path)
		}
	}
}

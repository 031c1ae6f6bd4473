package recipe

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/im3e/forge/mod/module"
)

func TestContextDep(t *testing.T) {
	installed := &Installed{Ref: module.MustParse("open_usd/24.11"), Folder: t.TempDir()}
	missing := &Installed{Ref: module.MustParse("anari/0.14.1"), Folder: filepath.Join(t.TempDir(), "absent")}

	rc := &Context{
		Ref:  module.MustParse("icy_moon_engine/0.1"),
		Deps: map[string]*Installed{"open_usd": installed, "anari": missing},
	}

	got, err := rc.Dep("open_usd")
	if err != nil {
		t.Fatalf("Dep(open_usd) error = %v", err)
	}
	if got != installed {
		t.Errorf("Dep(open_usd) = %v, want %v", got, installed)
	}

	if _, err := rc.Dep("anari"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("Dep(anari) error = %v, want ErrNotInstalled", err)
	}
	if _, err := rc.Dep("gdal"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("Dep(gdal) error = %v, want ErrNotInstalled", err)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{true, "ON"},
		{false, "OFF"},
		{"Ninja", "Ninja"},
		{3, "3"},
		{int64(42), "42"},
		{1.5, "1.5"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInstalledTargetName(t *testing.T) {
	inst := &Installed{Ref: module.MustParse("anari/0.14.1")}
	inst.Info.Component("anari_static").CMakeTargetName = "anari::anari_static"
	inst.Info.Component("helide")

	if got := inst.TargetName(""); got != "anari::anari" {
		t.Errorf("TargetName(\"\") = %q", got)
	}
	if got := inst.TargetName("anari_static"); got != "anari::anari_static" {
		t.Errorf("TargetName(anari_static) = %q", got)
	}
	if got := inst.TargetName("helide"); got != "anari::helide" {
		t.Errorf("TargetName(helide) = %q", got)
	}
	if got := inst.Info.ComponentNames(); len(got) != 2 || got[0] != "anari_static" {
		t.Errorf("ComponentNames() = %v", got)
	}
}

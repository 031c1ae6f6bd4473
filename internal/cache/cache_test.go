package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/im3e/forge/mod/module"
	"github.com/im3e/forge/recipe"
)

var anari = module.MustParse("anari/0.14.1")

func install(t *testing.T, c *Cache, ref module.Version, id string, files map[string]string) *recipe.Installed {
	t.Helper()
	_, _, pkg, err := c.Folders(ref, id)
	if err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		path := filepath.Join(pkg, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	info := recipe.PackageInfo{}
	info.Component("anari_static").Libs = []string{"anari_static"}
	inst, err := c.Save(ref, &Entry{PackageID: id, Info: info})
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func TestFolders(t *testing.T) {
	home := t.TempDir()
	src, build, pkg, err := New(home).Folders(anari, "abc")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(home, "p", "anari", "0.14.1", "s"),
		filepath.Join(home, "p", "anari", "0.14.1", "b", "abc"),
		filepath.Join(home, "p", "anari", "0.14.1", "p", "abc"),
	}
	if diff := cmp.Diff(want, []string{src, build, pkg}); diff != "" {
		t.Errorf("Folders mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveLookup(t *testing.T) {
	c := New(t.TempDir())
	if _, ok, err := c.Lookup(anari, "abc"); err != nil || ok {
		t.Fatalf("Lookup on empty cache = %v, %v", ok, err)
	}

	saved := install(t, c, anari, "abc", map[string]string{"lib/libanari_static.a": "ar"})
	got, ok, err := c.Lookup(anari, "abc")
	if err != nil || !ok {
		t.Fatalf("Lookup = %v, %v", ok, err)
	}
	if diff := cmp.Diff(saved, got); diff != "" {
		t.Errorf("Lookup mismatch (-want +got):\n%s", diff)
	}
	if got.Info.Components["anari_static"] == nil {
		t.Error("package info not persisted")
	}

	if err := os.RemoveAll(got.Folder); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Lookup(anari, "abc"); ok {
		t.Error("Lookup found a package whose folder is gone")
	}
}

func TestCheck(t *testing.T) {
	c := New(t.TempDir())
	inst := install(t, c, anari, "abc", map[string]string{"include/anari/anari.h": "#pragma once\n"})

	if err := c.Check(anari, "abc"); err != nil {
		t.Fatalf("Check of untouched package: %v", err)
	}
	if err := os.WriteFile(filepath.Join(inst.Folder, "include", "anari", "anari.h"), []byte("//\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.Check(anari, "abc"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Check of modified package = %v, want ErrCorrupt", err)
	}
	if err := c.Check(anari, "def"); !errors.Is(err, ErrMissingBinary) {
		t.Errorf("Check of unknown package = %v, want ErrMissingBinary", err)
	}
}

func TestListRemove(t *testing.T) {
	c := New(t.TempDir())
	fmt9 := module.MustParse("fmt/9.1.0")
	fmt11 := module.MustParse("fmt/11.0.2")
	install(t, c, fmt11, "b2", nil)
	install(t, c, fmt11, "a1", nil)
	install(t, c, fmt9, "c3", nil)
	install(t, c, anari, "d4", nil)

	list := func() []string {
		t.Helper()
		items, err := c.List()
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for _, it := range items {
			out = append(out, it.Ref.String()+":"+it.Entry.PackageID)
		}
		return out
	}
	want := []string{"anari/0.14.1:d4", "fmt/9.1.0:c3", "fmt/11.0.2:a1", "fmt/11.0.2:b2"}
	if diff := cmp.Diff(want, list()); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	if err := c.Remove(fmt11, "a1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove(anari, ""); err != nil {
		t.Fatal(err)
	}
	want = []string{"fmt/9.1.0:c3", "fmt/11.0.2:b2"}
	if diff := cmp.Diff(want, list()); diff != "" {
		t.Errorf("List after Remove mismatch (-want +got):\n%s", diff)
	}
}

func TestLockExcludes(t *testing.T) {
	c := New(t.TempDir())
	unlock, err := c.Lock(context.Background(), anari)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := c.Lock(ctx, anari); err == nil {
		t.Fatal("second Lock succeeded while the first is held")
	}

	unlock()
	unlock2, err := c.Lock(context.Background(), anari)
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	unlock2()
}

func TestPackageID(t *testing.T) {
	settings := recipe.Settings{"os": "Linux", "arch": "x86_64", "build_type": "Release"}
	opts := recipe.Options{"coverage": recipe.None}
	base := PackageID(anari, settings, opts, []string{"glm/0.9.9.8:1", "fmt/11.0.2:2"})

	if got := PackageID(anari, settings.Merge(nil), recipe.Options{"coverage": recipe.None}, []string{"fmt/11.0.2:2", "glm/0.9.9.8:1"}); got != base {
		t.Errorf("PackageID depends on input order: %s != %s", got, base)
	}
	for name, id := range map[string]string{
		"settings": PackageID(anari, settings.Merge(recipe.Settings{"build_type": "Debug"}), opts, []string{"glm/0.9.9.8:1", "fmt/11.0.2:2"}),
		"options":  PackageID(anari, settings, recipe.Options{"coverage": "on"}, []string{"glm/0.9.9.8:1", "fmt/11.0.2:2"}),
		"requires": PackageID(anari, settings, opts, []string{"glm/0.9.9.8:1", "fmt/11.0.2:3"}),
		"ref":      PackageID(module.MustParse("anari/0.15.0"), settings, opts, []string{"glm/0.9.9.8:1", "fmt/11.0.2:2"}),
	} {
		if id == base {
			t.Errorf("PackageID ignores %s", name)
		}
	}
	if len(base) != 16 {
		t.Errorf("len(PackageID) = %d, want 16", len(base))
	}
}

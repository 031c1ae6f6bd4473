// Package cache stores sources, builds and packages below the forge home.
//
// Layout:
//
//	<home>/p/<name>/<version>/
//	  .cache.json   # package metadata by package id
//	  .lock         # held while the reference is being created
//	  s/            # source folder
//	  b/<id>/       # build folder
//	  p/<id>/       # package folder
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/im3e/forge/mod/module"
	"github.com/im3e/forge/recipe"
	"github.com/im3e/forge/x/gnu"
	"golang.org/x/mod/sumdb/dirhash"
)

const (
	metadataFile = ".cache.json"
	lockFile     = ".lock"
	lockRetry    = 100 * time.Millisecond
)

var (
	// ErrMissingBinary is returned when a package must not be built and is
	// not in the cache.
	ErrMissingBinary = errors.New("missing prebuilt package")
	// ErrCorrupt is returned when a package folder no longer matches the
	// hash recorded when it was created.
	ErrCorrupt = errors.New("package folder modified")
)

// Entry is the metadata of one package of a reference.
type Entry struct {
	PackageID string             `json:"package_id"`
	Settings  recipe.Settings    `json:"settings,omitempty"`
	Options   recipe.Options     `json:"options,omitempty"`
	Requires  []string           `json:"requires,omitempty"`
	Info      recipe.PackageInfo `json:"info"`
	Hash      string             `json:"hash"`
	BuildTime time.Time          `json:"build_time"`
}

type metadata struct {
	Packages map[string]*Entry `json:"packages"`
}

// Cache is the package cache rooted at a forge home.
type Cache struct {
	root string
}

// New returns the cache of the forge home dir.
func New(home string) *Cache {
	return &Cache{root: filepath.Join(home, "p")}
}

// RefDir returns the directory of all data of ref.
func (c *Cache) RefDir(ref module.Version) (string, error) {
	escaped, err := module.EscapePath(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.root, escaped), nil
}

// Folders returns the source, build and package folders of a package.
func (c *Cache) Folders(ref module.Version, id string) (source, build, pkg string, err error) {
	dir, err := c.RefDir(ref)
	if err != nil {
		return "", "", "", err
	}
	return filepath.Join(dir, "s"), filepath.Join(dir, "b", id), filepath.Join(dir, "p", id), nil
}

func (c *Cache) load(ref module.Version) (*metadata, error) {
	dir, err := c.RefDir(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &metadata{Packages: make(map[string]*Entry)}, nil
	}
	if err != nil {
		return nil, err
	}
	var md metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	if md.Packages == nil {
		md.Packages = make(map[string]*Entry)
	}
	return &md, nil
}

func (c *Cache) save(ref module.Version, md *metadata) error {
	dir, err := c.RefDir(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, metadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, metadataFile))
}

// Lookup returns the installed package id of ref, if its metadata and
// package folder are both present.
func (c *Cache) Lookup(ref module.Version, id string) (*recipe.Installed, bool, error) {
	md, err := c.load(ref)
	if err != nil {
		return nil, false, err
	}
	e, ok := md.Packages[id]
	if !ok {
		return nil, false, nil
	}
	_, _, pkg, err := c.Folders(ref, id)
	if err != nil {
		return nil, false, err
	}
	if _, err := os.Stat(pkg); err != nil {
		return nil, false, nil
	}
	return &recipe.Installed{Ref: ref, PackageID: id, Folder: pkg, Info: e.Info}, true, nil
}

// Save records the package e.PackageID of ref. The package folder must be
// complete: its hash is recorded for Check.
func (c *Cache) Save(ref module.Version, e *Entry) (*recipe.Installed, error) {
	_, _, pkg, err := c.Folders(ref, e.PackageID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(pkg, 0o755); err != nil {
		return nil, err
	}
	hash, err := dirhash.HashDir(pkg, ref.String(), dirhash.Hash1)
	if err != nil {
		return nil, fmt.Errorf("hash package folder of %s: %w", ref, err)
	}
	e.Hash = hash
	if e.BuildTime.IsZero() {
		e.BuildTime = time.Now().UTC()
	}

	md, err := c.load(ref)
	if err != nil {
		return nil, err
	}
	md.Packages[e.PackageID] = e
	if err := c.save(ref, md); err != nil {
		return nil, err
	}
	return &recipe.Installed{Ref: ref, PackageID: e.PackageID, Folder: pkg, Info: e.Info}, nil
}

// Lock takes the cross-process lock of ref. Callers look the package up
// again once locked, since another process may have created it meanwhile.
func (c *Cache) Lock(ctx context.Context, ref module.Version) (unlock func(), err error) {
	dir, err := c.RefDir(ref)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(dir, lockFile))
	locked, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", ref, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: not acquired", ref)
	}
	return func() { fl.Unlock() }, nil
}

// Item is one cached package.
type Item struct {
	Ref    module.Version
	Folder string
	Entry  *Entry
}

// List returns every cached package, sorted by reference then package id.
func (c *Cache) List() ([]Item, error) {
	matches, err := filepath.Glob(filepath.Join(c.root, "*", "*", metadataFile))
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, m := range matches {
		versionDir := filepath.Dir(m)
		ref := module.Version{Name: filepath.Base(filepath.Dir(versionDir)), Version: filepath.Base(versionDir)}
		md, err := c.load(ref)
		if err != nil {
			return nil, err
		}
		for id, e := range md.Packages {
			items = append(items, Item{Ref: ref, Folder: filepath.Join(versionDir, "p", id), Entry: e})
		}
	}
	slices.SortFunc(items, func(a, b Item) int {
		if c := strings.Compare(a.Ref.Name, b.Ref.Name); c != 0 {
			return c
		}
		if c := gnu.Compare(a.Ref.Version, b.Ref.Version); c != 0 {
			return c
		}
		return strings.Compare(a.Entry.PackageID, b.Entry.PackageID)
	})
	return items, nil
}

// Check verifies the package folder of a package against its recorded hash.
func (c *Cache) Check(ref module.Version, id string) error {
	md, err := c.load(ref)
	if err != nil {
		return err
	}
	e, ok := md.Packages[id]
	if !ok {
		return fmt.Errorf("%s:%s: %w", ref, id, ErrMissingBinary)
	}
	_, _, pkg, err := c.Folders(ref, id)
	if err != nil {
		return err
	}
	got, err := dirhash.HashDir(pkg, ref.String(), dirhash.Hash1)
	if err != nil {
		return fmt.Errorf("%s:%s: %w", ref, id, err)
	}
	if got != e.Hash {
		return fmt.Errorf("%s:%s: %w: recorded %s, found %s", ref, id, ErrCorrupt, e.Hash, got)
	}
	return nil
}

// Remove deletes the package id of ref, or everything cached for ref when
// id is empty.
func (c *Cache) Remove(ref module.Version, id string) error {
	dir, err := c.RefDir(ref)
	if err != nil {
		return err
	}
	if id == "" {
		return os.RemoveAll(dir)
	}
	md, err := c.load(ref)
	if err != nil {
		return err
	}
	delete(md.Packages, id)
	for _, sub := range []string{"b", "p"} {
		if err := os.RemoveAll(filepath.Join(dir, sub, id)); err != nil {
			return err
		}
	}
	return c.save(ref, md)
}

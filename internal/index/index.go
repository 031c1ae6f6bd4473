// Package index finds recipes by reference in recipe search paths and in
// git repositories mirrored below the forge home.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/im3e/forge/internal/ctxlog"
	"github.com/im3e/forge/internal/recipefile"
	"github.com/im3e/forge/internal/vcs"
	"github.com/im3e/forge/mod/module"
	"github.com/im3e/forge/recipe"
	"github.com/im3e/forge/x/gnu"
)

// ErrRecipeNotFound is returned when no search path provides a recipe.
var ErrRecipeNotFound = errors.New("recipe not found")

// testPackageDir holds the test recipe of a package; it is not indexed.
const testPackageDir = "test_package"

// Index is a lazily loaded set of recipes. Earlier search paths take
// precedence over later ones when both provide the same reference.
type Index struct {
	paths []string

	mu      sync.Mutex
	loaded  bool
	recipes map[module.Version]*recipe.Recipe
	extra   map[module.Version]*recipe.Recipe
}

// New returns an index over the given search paths. Paths that do not exist
// are ignored.
func New(paths ...string) *Index {
	return &Index{paths: paths, extra: make(map[module.Version]*recipe.Recipe)}
}

// Add makes r available regardless of the search paths, taking precedence
// over them. It is used for recipes loaded from an explicit file.
func (ix *Index) Add(r *recipe.Recipe) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.extra[r.Ref()] = r
}

// Recipe returns the recipe of ref.
func (ix *Index) Recipe(ctx context.Context, ref module.Version) (*recipe.Recipe, error) {
	if err := ix.load(ctx); err != nil {
		return nil, err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if r, ok := ix.extra[ref]; ok {
		return r, nil
	}
	if r, ok := ix.recipes[ref]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRecipeNotFound, ref)
}

// Versions returns the indexed versions of name in ascending GNU order.
func (ix *Index) Versions(ctx context.Context, name string) ([]string, error) {
	if err := ix.load(ctx); err != nil {
		return nil, err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var versions []string
	for _, m := range []map[module.Version]*recipe.Recipe{ix.extra, ix.recipes} {
		for ref := range m {
			if ref.Name == name && !slices.Contains(versions, ref.Version) {
				versions = append(versions, ref.Version)
			}
		}
	}
	gnu.Sort(versions)
	return versions, nil
}

// Latest returns the recipe of the highest version of name.
func (ix *Index) Latest(ctx context.Context, name string) (*recipe.Recipe, error) {
	versions, err := ix.Versions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRecipeNotFound, name)
	}
	return ix.Recipe(ctx, module.Version{Name: name, Version: gnu.Max(versions...)})
}

// Lookup resolves "name/version" or a bare "name", which selects the latest
// version.
func (ix *Index) Lookup(ctx context.Context, s string) (*recipe.Recipe, error) {
	if !strings.Contains(s, "/") {
		if err := module.CheckName(s); err != nil {
			return nil, err
		}
		return ix.Latest(ctx, s)
	}
	ref, err := module.Parse(s)
	if err != nil {
		return nil, err
	}
	return ix.Recipe(ctx, ref)
}

// All returns every indexed reference, sorted by name then version.
func (ix *Index) All(ctx context.Context) ([]module.Version, error) {
	if err := ix.load(ctx); err != nil {
		return nil, err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	seen := make(map[module.Version]bool)
	var refs []module.Version
	for _, m := range []map[module.Version]*recipe.Recipe{ix.extra, ix.recipes} {
		for ref := range m {
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
	}
	slices.SortFunc(refs, func(a, b module.Version) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return gnu.Compare(a.Version, b.Version)
	})
	return refs, nil
}

func (ix *Index) load(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.loaded {
		return nil
	}
	logger := ctxlog.FromContext(ctx)
	recipes := make(map[module.Version]*recipe.Recipe)
	for _, root := range ix.paths {
		files, err := recipeFiles(root)
		if err != nil {
			return err
		}
		for _, file := range files {
			rs, err := recipefile.LoadFile(ctx, file)
			if err != nil {
				return err
			}
			for _, r := range rs {
				if prev, dup := recipes[r.Ref()]; dup {
					logger.Debug("Recipe shadowed by an earlier search path.", "ref", r.Ref(), "file", file, "kept", prev.Dir)
					continue
				}
				recipes[r.Ref()] = r
			}
		}
		logger.Debug("Indexed recipe path.", "path", root, "files", len(files))
	}
	ix.recipes = recipes
	ix.loaded = true
	return nil
}

// recipeFiles returns the recipe files below root in lexical order,
// leaving out test packages. root may also be a single file.
func recipeFiles(root string) ([]string, error) {
	fi, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("error accessing path %s: %w", root, err)
	}
	if !fi.IsDir() {
		return []string{root}, nil
	}
	matches, err := doublestar.Glob(os.DirFS(root), "**/*"+recipefile.Ext)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, m := range matches {
		if slices.Contains(strings.Split(m, "/"), testPackageDir) || strings.HasPrefix(m, ".") {
			continue
		}
		files = append(files, filepath.Join(root, filepath.FromSlash(m)))
	}
	slices.Sort(files)
	return files, nil
}

// Remote is a git repository of recipes mirrored into Dir.
type Remote struct {
	URL string
	Ref string
	Dir string
}

// Sync updates the mirror and returns the commit it is at.
func (r Remote) Sync(ctx context.Context, v vcs.VCS) (string, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Syncing recipe remote.", "url", r.URL, "ref", r.Ref, "dir", r.Dir)
	if err := v.Sync(ctx, r.URL, r.Ref, r.Dir); err != nil {
		return "", fmt.Errorf("sync %s: %w", r.URL, err)
	}
	return v.Head(ctx, r.Dir)
}

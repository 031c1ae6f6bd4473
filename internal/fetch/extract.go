package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mholt/archives"
)

// format picks the extractor for an archive by its file name.
func format(name string) (archives.Extractor, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return archives.Zip{}, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return archives.CompressedArchive{Compression: archives.Gz{}, Extraction: archives.Tar{}}, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return archives.CompressedArchive{Compression: archives.Xz{}, Extraction: archives.Tar{}}, nil
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return archives.CompressedArchive{Compression: archives.Bz2{}, Extraction: archives.Tar{}}, nil
	case strings.HasSuffix(lower, ".tar"):
		return archives.Tar{}, nil
	}
	return nil, fmt.Errorf("%s: unsupported archive format", name)
}

// Extract unpacks archive into dest. With stripRoot the first path
// component of every entry is dropped, so the content of the archive's
// single top-level folder lands directly in dest.
func Extract(ctx context.Context, archive, dest string, stripRoot bool) error {
	ex, err := format(archive)
	if err != nil {
		return err
	}
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	err = ex.Extract(ctx, f, func(_ context.Context, file archives.FileInfo) error {
		rel, ok := entryPath(file.NameInArchive, stripRoot)
		if !ok {
			return nil
		}
		target, err := within(dest, rel)
		if err != nil {
			return err
		}

		if file.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if file.LinkTarget != "" {
			if file.Mode()&os.ModeSymlink != 0 {
				return writeSymlink(target, file.LinkTarget)
			}
			linkRel, ok := entryPath(file.LinkTarget, stripRoot)
			if !ok {
				return fmt.Errorf("%s: hard link to archive root", file.NameInArchive)
			}
			linkTarget, err := within(dest, linkRel)
			if err != nil {
				return err
			}
			return writeHardLink(target, linkTarget)
		}

		in, err := file.Open()
		if err != nil {
			return err
		}
		defer in.Close()
		return writeFile(target, in, file.Mode())
	})
	if err != nil {
		return fmt.Errorf("extract %s: %w", filepath.Base(archive), err)
	}
	return nil
}

// entryPath returns the slash-separated path of an archive entry below the
// destination, and false for entries that vanish when stripping the root.
func entryPath(name string, stripRoot bool) (string, bool) {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	name = strings.Trim(name, "/")
	if stripRoot {
		_, rest, _ := strings.Cut(name, "/")
		name = rest
	}
	return name, name != ""
}

func within(dest, rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%s: entry escapes the destination", rel)
	}
	return filepath.Join(dest, local), nil
}

func writeFile(path string, in io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%s: making directory for file: %w", path, err)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%s: creating new file: %w", path, err)
	}
	defer out.Close()
	if perm := mode.Perm(); perm != 0 {
		if err := out.Chmod(perm); err != nil && runtime.GOOS != "windows" {
			return fmt.Errorf("%s: changing file mode: %w", path, err)
		}
	}
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("%s: writing file: %w", path, err)
	}
	return out.Close()
}

func writeSymlink(path, target string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%s: making directory for file: %w", path, err)
	}
	_ = os.Remove(path)
	if err := os.Symlink(target, path); err != nil {
		return fmt.Errorf("%s: making symbolic link: %w", path, err)
	}
	return nil
}

func writeHardLink(path, target string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%s: making directory for file: %w", path, err)
	}
	// Entries are unordered, so the target may not exist yet; writing it
	// later overwrites the placeholder in place.
	if _, err := os.Stat(target); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.Create(target)
		if err != nil {
			return fmt.Errorf("%s: creating link target: %w", target, err)
		}
		f.Close()
	}
	_ = os.Remove(path)
	if err := os.Link(target, path); err != nil {
		return fmt.Errorf("%s: making hard link: %w", path, err)
	}
	return nil
}

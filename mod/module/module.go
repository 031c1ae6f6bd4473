// Package module defines the module.Version type along with support code.
package module

import (
	"fmt"
	"path/filepath"
	"strings"
)

// A Version (for clients, a module.Version) is a reference to one release of
// a package, written "name/version" in recipes.
type Version struct {
	Name    string // Package name, e.g. "vulkan-headers"
	Version string // Opaque version string, e.g. "1.3.243.0" or "cci.20231120"
}

// String returns the "name/version" form of v, or just the name when v has
// no version.
func (v Version) String() string {
	if v.Version == "" {
		return v.Name
	}
	return v.Name + "/" + v.Version
}

// Parse parses a reference in the form "name/version" or "name".
func Parse(ref string) (Version, error) {
	ref = strings.TrimSpace(ref)
	name, version, _ := strings.Cut(ref, "/")
	if err := CheckName(name); err != nil {
		return Version{}, fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	if strings.ContainsAny(version, "/@ \t") {
		return Version{}, fmt.Errorf("invalid reference %q: malformed version", ref)
	}
	return Version{Name: name, Version: version}, nil
}

// MustParse is like Parse but panics on malformed references.
// It is meant for package-level tables in tests and built-in recipes.
func MustParse(ref string) Version {
	v, err := Parse(ref)
	if err != nil {
		panic(err)
	}
	return v
}

// CheckName reports whether name is usable as a package name.
func CheckName(name string) error {
	if name == "" {
		return fmt.Errorf("empty package name")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '+':
		default:
			return fmt.Errorf("package name %q contains %q", name, r)
		}
	}
	return nil
}

// EscapePath returns the escaped form of the given reference as a valid,
// relative file system path ("name/version"). It fails if the reference is
// invalid.
func EscapePath(v Version) (escaped string, err error) {
	if err := CheckName(v.Name); err != nil {
		return "", err
	}
	return filepath.Localize(v.String())
}

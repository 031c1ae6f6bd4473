package module

import (
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		ref     string
		want    Version
		wantErr bool
	}{
		{"cimg/3.3.2", Version{"cimg", "3.3.2"}, false},
		{"vulkan-memory-allocator/cci.20231120", Version{"vulkan-memory-allocator", "cci.20231120"}, false},
		{" open_usd/24.11 ", Version{"open_usd", "24.11"}, false},
		{"fmt", Version{"fmt", ""}, false},
		{"", Version{}, true},
		{"/1.0", Version{}, true},
		{"bad name/1.0", Version{}, true},
		{"fmt/1.0/extra", Version{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := Parse(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}
}

func TestVersionString(t *testing.T) {
	if got := (Version{"glfw", "3.4"}).String(); got != "glfw/3.4" {
		t.Errorf("String() = %q, want %q", got, "glfw/3.4")
	}
	if got := (Version{Name: "glfw"}).String(); got != "glfw" {
		t.Errorf("String() = %q, want %q", got, "glfw")
	}
}

func TestEscapePath(t *testing.T) {
	tests := []struct {
		name        string
		mod         Version
		wantEscaped string
		wantErr     bool
	}{
		{
			name:        "name and version",
			mod:         Version{"anari", "0.14.1"},
			wantEscaped: filepath.Join("anari", "0.14.1"),
		},
		{
			name:    "empty name",
			mod:     Version{"", "1.0"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped, err := EscapePath(tt.mod)
			if (err != nil) != tt.wantErr {
				t.Errorf("EscapePath() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if escaped != tt.wantEscaped {
				t.Errorf("EscapePath() = %v, want %v", escaped, tt.wantEscaped)
			}
		})
	}
}

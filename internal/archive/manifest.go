// Package archive implements the Archive Model (XPA, §4.4): a two-entry
// outer tar carrying a YAML manifest and a gzip-compressed inner tar of the
// package's files, plus the offset-table structure recorded by the
// Path-Offset Finder and consumed by the Relocator.
//
// Grounded on the teacher's internal/squashfs reader/writer (the analogous
// "read manifest eagerly, stream the payload" split), re-expressed for the
// spec's tar+gzip wire format with github.com/klauspost/compress/gzip in
// place of squashfs compression.
package archive

import (
	"gopkg.in/yaml.v3"
)

// OffsetTable is the structure recorded per-archive and per-installed
// package (§3): every byte offset of the build prefix within every built
// file, classified as text, null-terminated binary, or a group sharing one
// null terminator.
type OffsetTable struct {
	// InstallDir is the absolute prefix the archive was built against.
	InstallDir string `yaml:"install_dir" json:"install_dir"`

	// TextFiles maps relpath to every occurrence offset in a text file.
	TextFiles map[string][]int64 `yaml:"text_files,omitempty" json:"text_files,omitempty"`

	// BinaryFiles maps relpath to every occurrence offset that is exactly
	// null-terminated at offset+len(InstallDir).
	BinaryFiles map[string][]int64 `yaml:"binary_files,omitempty" json:"binary_files,omitempty"`

	// SubBinaryFiles maps relpath to groups of occurrences sharing one null
	// terminator; the terminator offset is the last element of each group.
	SubBinaryFiles map[string][][]int64 `yaml:"sub_binary_files,omitempty" json:"sub_binary_files,omitempty"`
}

// Empty reports whether t has no recorded offsets at all.
func (t OffsetTable) Empty() bool {
	return len(t.TextFiles) == 0 && len(t.BinaryFiles) == 0 && len(t.SubBinaryFiles) == 0
}

// Manifest is the XPA manifest schema (§3), serialized as xpkg.yml.
type Manifest struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`

	Dependencies []string `yaml:"dependencies,omitempty"`

	// Dirs are directories the package owns (§3 invariant 1).
	Dirs []string `yaml:"dirs,omitempty"`
	// Files are ordinary files the package owns.
	Files []string `yaml:"files,omitempty"`

	InstallPathOffsets OffsetTable `yaml:"install_path_offsets,omitempty"`

	// RecompileOnInstall lists files removed from the offset tables because
	// they carry a special extension handled by rewriting via recompilation
	// rather than byte patching (§4.9, §4.11).
	RecompileOnInstall []string `yaml:"recompile_on_install,omitempty"`
}

// MarshalYAML and UnmarshalYAML are the default struct-tag-driven behavior;
// no custom hooks are needed, matching the spec's flat manifest schema.

func marshalManifest(m Manifest) ([]byte, error) {
	return yaml.Marshal(m)
}

func unmarshalManifest(b []byte) (Manifest, error) {
	var m Manifest
	err := yaml.Unmarshal(b, &m)
	return m, err
}

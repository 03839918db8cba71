// Package recipe implements the Recipe Model (XPD, §4.3): a declarative
// build recipe parsed from YAML, including multi-output recipes whose
// sub-outputs partition the build result and carry their own dependencies.
//
// Grounded on the teacher's pb.ReadBuildFile/pb.ReadMetaFile (textproto
// recipe parsing) re-expressed for the YAML schema this spec specifies, in
// the structural idiom of immutos-debco's internal/recipe (FromYAML over a
// typed struct tree).
package recipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// FileSource is one entry of an XPD's "files" mapping: the content hash
// ("<algo>-<hex>") maps to where and how to fetch it.
type FileSource struct {
	URL string `yaml:"url"`
	// Location relocates the unpacked root within the working directory
	// (§4.10 step 3).
	Location string `yaml:"location,omitempty"`
}

// SubOutput describes one entry of an XPD's "packages" mapping (§3).
type SubOutput struct {
	Name         string   `yaml:"name,omitempty"`
	Version      string   `yaml:"version,omitempty"`
	Description  string   `yaml:"description,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	Dirs         []string `yaml:"dirs,omitempty"`
	// Files holds full-match regular expressions selecting which built file
	// paths belong to this sub-output. A sub-output that omits Files is the
	// catch-all (§3, §4.3).
	Files []string `yaml:"files,omitempty"`
}

// IsCatchAll reports whether s is the catch-all sub-output: it omits Files.
func (s SubOutput) IsCatchAll() bool {
	return len(s.Files) == 0
}

// XPD is the parsed form of a package description (recipe, §3).
type XPD struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`

	Dependencies      []string `yaml:"dependencies,omitempty"`
	BuildDependencies []string `yaml:"build-dependencies,omitempty"`

	// Files maps a content hash ("<algo>-<hex>") to its fetch source.
	Files map[string]FileSource `yaml:"files,omitempty"`

	Configure []string `yaml:"configure,omitempty"`
	Build     []string `yaml:"build,omitempty"`
	Install   []string `yaml:"install,omitempty"`
	BuildDir  string   `yaml:"build-dir,omitempty"`

	// Packages, when present, defines the recipe's sub-outputs (§3, §4.3).
	// An XPD without this key behaves as a single-output recipe.
	Packages map[string]SubOutput `yaml:"packages,omitempty"`

	// Path is the absolute path the recipe was loaded from. Not part of the
	// YAML schema; set by Load.
	Path string `yaml:"-"`
}

// Load parses the YAML recipe at path.
func Load(path string) (*XPD, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &xpkgerr.Io{Msg: "reading recipe " + path, Err: err}
	}
	var xpd XPD
	if err := yaml.Unmarshal(b, &xpd); err != nil {
		return nil, &xpkgerr.BadRecipe{Msg: "parsing " + path, Err: err}
	}
	if xpd.Name == "" {
		return nil, &xpkgerr.BadRecipe{Msg: path + ": missing name"}
	}
	xpd.Path = path
	if err := validatePackages(&xpd); err != nil {
		return nil, err
	}
	return &xpd, nil
}

func validatePackages(xpd *XPD) error {
	catchAlls := 0
	for name, sub := range xpd.Packages {
		if sub.IsCatchAll() {
			catchAlls++
		}
		if catchAlls > 1 {
			return &xpkgerr.BadRecipe{Msg: fmt.Sprintf("%s: more than one catch-all sub-output (at %q)", xpd.Path, name)}
		}
	}
	return nil
}

// DepSpec is a parsed dependency entry: either "NAME" or "NAME==VERSION",
// or (for build-dependencies only) the toolset-indirect form "tl:ROLE".
type DepSpec struct {
	Name    string
	Version string // empty means "unpinned"
	Toolset string // non-empty for "tl:ROLE" entries
}

// ParseDepSpec parses a single dependency entry.
func ParseDepSpec(s string) DepSpec {
	const toolsetPrefix = "tl:"
	if len(s) > len(toolsetPrefix) && s[:len(toolsetPrefix)] == toolsetPrefix {
		return DepSpec{Toolset: s[len(toolsetPrefix):]}
	}
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '=' && s[i+1] == '=' {
			return DepSpec{Name: s[:i], Version: s[i+2:]}
		}
	}
	return DepSpec{Name: s}
}

// IsToolsetIndirect reports whether d came from a "tl:ROLE" entry.
func (d DepSpec) IsToolsetIndirect() bool {
	return d.Toolset != ""
}

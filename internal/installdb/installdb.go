// Package installdb implements the Install Database (§4.6): per-prefix
// bookkeeping of installed packages, split into a single YAML base-record
// file and one JSON file-info record per package, plus an in-memory
// directory reference count recomputed on load.
//
// Grounded on the teacher's internal/install package for the "atomic
// rename-into-place write, recompute derived state on load" discipline
// (internal/install/install.go's use of github.com/google/renameio around
// its package-set file), re-expressed around two YAML/JSON record kinds
// instead of distri's single textproto pkgset file.
package installdb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// BaseRecord is the per-package record stored in data.yml (§3, §6).
type BaseRecord struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Description  string   `yaml:"description,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	Dirs         []string `yaml:"dirs,omitempty"`
}

// FileInfo is the per-package record stored at db/file_info/<name>.json
// (§4.6): the parts of a package's manifest that are bulky and change only
// when the package's contents change, kept out of the base record so that
// marking many packages installed stays cheap.
type FileInfo struct {
	Files              []string            `json:"files,omitempty"`
	InstallPathOffsets json.RawMessage      `json:"install_path_offsets,omitempty"`
	RecompileOnInstall []string            `json:"recompile_on_install,omitempty"`
}

// Record is the caller-facing view combining a package's base record and
// file info, as returned by GetWithFiles.
type Record struct {
	BaseRecord
	FileInfo
}

// DB is the Install Database rooted at a prefix's var/xpkg/db directory.
type DB struct {
	root string // var/xpkg/db

	mu    sync.Mutex
	bases map[string]BaseRecord
	// dirRefs counts, for each directory relpath, how many installed
	// packages list it in their own Dirs (P6).
	dirRefs map[string]int
}

func dataPath(root string) string       { return filepath.Join(root, "data.yml") }
func fileInfoDir(root string) string    { return filepath.Join(root, "file_info") }
func fileInfoPath(root, name string) string {
	return filepath.Join(fileInfoDir(root), name+".json")
}

// Open loads (or initializes) the database rooted at root, computing the
// directory reference-count table from the loaded base records' dirs.
func Open(root string) (*DB, error) {
	db := &DB{root: root, bases: make(map[string]BaseRecord)}
	if err := os.MkdirAll(fileInfoDir(root), 0755); err != nil {
		return nil, &xpkgerr.Io{Msg: "creating install db at " + root, Err: err}
	}
	if b, err := os.ReadFile(dataPath(root)); err == nil {
		var all map[string]BaseRecord
		if err := yaml.Unmarshal(b, &all); err != nil {
			return nil, &xpkgerr.BadRecipe{Msg: "parsing " + dataPath(root), Err: err}
		}
		db.bases = all
	} else if !os.IsNotExist(err) {
		return nil, &xpkgerr.Io{Msg: "reading " + dataPath(root), Err: err}
	}
	if db.bases == nil {
		db.bases = make(map[string]BaseRecord)
	}
	if err := db.recomputeDirRefs(); err != nil {
		return nil, err
	}
	return db, nil
}

// recomputeDirRefs rebuilds dir_refcount from each installed package's own
// declared dirs only (P6): ancestor directories of owned files are not
// counted unless a package explicitly lists them in dirs.
func (db *DB) recomputeDirRefs() error {
	refs := make(map[string]int)
	for _, base := range db.bases {
		for _, d := range base.Dirs {
			refs[d]++
		}
	}
	db.dirRefs = refs
	return nil
}

func (db *DB) readFileInfo(name string) (FileInfo, error) {
	b, err := os.ReadFile(fileInfoPath(db.root, name))
	if os.IsNotExist(err) {
		return FileInfo{}, nil
	}
	if err != nil {
		return FileInfo{}, &xpkgerr.Io{Msg: "reading file info for " + name, Err: err}
	}
	var fi FileInfo
	if err := json.Unmarshal(b, &fi); err != nil {
		return FileInfo{}, &xpkgerr.BadRecipe{Msg: "parsing file info for " + name, Err: err}
	}
	return fi, nil
}

func (db *DB) writeBases() error {
	b, err := yaml.Marshal(db.bases)
	if err != nil {
		return &xpkgerr.BadRecipe{Msg: "marshaling install db", Err: err}
	}
	f, err := renameio.TempFile("", dataPath(db.root))
	if err != nil {
		return &xpkgerr.Io{Msg: "opening temp file for install db", Err: err}
	}
	defer f.Cleanup()
	if _, err := f.Write(b); err != nil {
		return &xpkgerr.Io{Msg: "writing install db", Err: err}
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return &xpkgerr.Io{Msg: "committing install db", Err: err}
	}
	return nil
}

// MarkInstalled atomically records name as installed with rec, partitioning
// it into the base YAML record and a per-package JSON file-info record
// (§4.6).
func (db *DB) MarkInstalled(name string, rec Record) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	offsets, err := json.Marshal(rec.InstallPathOffsets)
	if err != nil {
		return &xpkgerr.BadRecipe{Msg: "marshaling offsets for " + name, Err: err}
	}
	fi := FileInfo{
		Files:              rec.Files,
		InstallPathOffsets: offsets,
		RecompileOnInstall: rec.RecompileOnInstall,
	}
	b, err := json.Marshal(fi)
	if err != nil {
		return &xpkgerr.BadRecipe{Msg: "marshaling file info for " + name, Err: err}
	}
	f, err := renameio.TempFile("", fileInfoPath(db.root, name))
	if err != nil {
		return &xpkgerr.Io{Msg: "opening temp file for file info of " + name, Err: err}
	}
	defer f.Cleanup()
	if _, err := f.Write(b); err != nil {
		return &xpkgerr.Io{Msg: "writing file info for " + name, Err: err}
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return &xpkgerr.Io{Msg: "committing file info for " + name, Err: err}
	}

	db.bases[name] = rec.BaseRecord
	if err := db.writeBases(); err != nil {
		return err
	}
	return db.recomputeDirRefs()
}

// MarkRemoved deletes both records for name (§4.6).
func (db *DB) MarkRemoved(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.bases[name]; !ok {
		return &xpkgerr.NotFound{What: "installed package", Name: name}
	}
	delete(db.bases, name)
	if err := db.writeBases(); err != nil {
		return err
	}
	if err := os.Remove(fileInfoPath(db.root, name)); err != nil && !os.IsNotExist(err) {
		return &xpkgerr.Io{Msg: "removing file info for " + name, Err: err}
	}
	return db.recomputeDirRefs()
}

// Get returns the base record for name.
func (db *DB) Get(name string) (BaseRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	base, ok := db.bases[name]
	if !ok {
		return BaseRecord{}, &xpkgerr.NotFound{What: "installed package", Name: name}
	}
	return base, nil
}

// GetWithFiles returns the combined base and file-info record for name.
func (db *DB) GetWithFiles(name string) (Record, error) {
	db.mu.Lock()
	base, ok := db.bases[name]
	db.mu.Unlock()
	if !ok {
		return Record{}, &xpkgerr.NotFound{What: "installed package", Name: name}
	}
	fi, err := db.readFileInfo(name)
	if err != nil {
		return Record{}, err
	}
	return Record{BaseRecord: base, FileInfo: fi}, nil
}

// IterPackages returns every installed package name, sorted.
func (db *DB) IterPackages() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.bases))
	for n := range db.bases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetRdepends returns the set of installed packages whose dependencies name
// name (§4.6).
func (db *DB) GetRdepends(name string) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var rdeps []string
	for pkg, base := range db.bases {
		for _, dep := range base.Dependencies {
			if depName(dep) == name {
				rdeps = append(rdeps, pkg)
				break
			}
		}
	}
	sort.Strings(rdeps)
	return rdeps
}

func depName(spec string) string {
	for i := 0; i+1 < len(spec); i++ {
		if spec[i] == '=' && spec[i+1] == '=' {
			return spec[:i]
		}
	}
	return spec
}

// OwnerOfPath returns the package that lists relpath in its files or dirs,
// if any (§4.6).
func (db *DB) OwnerOfPath(relpath string) (string, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for name, base := range db.bases {
		for _, d := range base.Dirs {
			if d == relpath {
				return name, true
			}
		}
		fi, err := db.readFileInfo(name)
		if err != nil {
			continue
		}
		for _, f := range fi.Files {
			if f == relpath {
				return name, true
			}
		}
	}
	return "", false
}

// DirRefcount returns the number of installed packages owning directory d,
// read-only access to the table recomputed on load (§4.6).
func (db *DB) DirRefcount(d string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.dirRefs[d]
}

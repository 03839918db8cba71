// Package environment implements the Environment (§4.12): the prefix owner
// that composes the Install Database, Package Index, Toolset, Resolver,
// Builder and Relocator into the init/install/remove/info/build/
// get_env_vars/apply_env operations.
//
// Grounded on the teacher's cmd/distri subcommands (build.go/run.go), which
// compose the same components (build.Ctx, env package, fuse mount) behind
// one-shot CLI operations; here that composition is a reusable type instead
// of package-level command functions, so cmd/xpkg can drive it directly.
package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/xpkg/xpkg/internal/archive"
	"github.com/xpkg/xpkg/internal/builder"
	"github.com/xpkg/xpkg/internal/index"
	"github.com/xpkg/xpkg/internal/installdb"
	"github.com/xpkg/xpkg/internal/recipe"
	"github.com/xpkg/xpkg/internal/relocator"
	"github.com/xpkg/xpkg/internal/resolver"
	"github.com/xpkg/xpkg/internal/sourcecache"
	"github.com/xpkg/xpkg/internal/toolset"
	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// Environment owns one prefix: its Install Database, Package Index, active
// Toolset and local archive cache (§4.12, §6).
type Environment struct {
	prefix string

	Settings Settings
	DB       *installdb.DB
	Index    *index.Index
	Toolset  toolset.Toolset

	Arch       string
	KernelArch string
	Jobs       int

	Log *log.Logger

	cache *sourcecache.Cache
}

func settingsPath(prefix string) string { return filepath.Join(prefix, "var", "xpkg", "env.yml") }
func dbRoot(prefix string) string       { return filepath.Join(prefix, "var", "xpkg", "db") }
func archiveCache(prefix string) string { return filepath.Join(prefix, "var", "xpkg", "cache") }
func buildLogDir(prefix string) string  { return filepath.Join(prefix, "var", "xpkg", "log") }

// Init creates a fresh Environment at prefix: fails if a settings file
// already exists there, else creates the install database and settings
// file (§4.12).
func Init(prefix, name, toolsetName string) (*Environment, error) {
	sp := settingsPath(prefix)
	if _, err := os.Stat(sp); err == nil {
		return nil, &xpkgerr.Conflict{Msg: prefix + ": already initialized"}
	} else if !os.IsNotExist(err) {
		return nil, &xpkgerr.Io{Msg: "checking settings at " + sp, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(sp), 0755); err != nil {
		return nil, &xpkgerr.Io{Msg: "creating " + filepath.Dir(sp), Err: err}
	}
	ts := toolset.Default()
	ts.Name = toolsetName
	settings := Settings{Name: name, Toolset: fromToolset(ts)}
	if err := writeSettings(sp, settings); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(archiveCache(prefix), 0755); err != nil {
		return nil, &xpkgerr.Io{Msg: "creating archive cache", Err: err}
	}
	if err := os.MkdirAll(buildLogDir(prefix), 0755); err != nil {
		return nil, &xpkgerr.Io{Msg: "creating build log dir", Err: err}
	}
	db, err := installdb.Open(dbRoot(prefix))
	if err != nil {
		return nil, err
	}
	return &Environment{
		prefix:     prefix,
		Settings:   settings,
		DB:         db,
		Toolset:    ts,
		Arch:       runtime.GOARCH,
		KernelArch: "linux",
		Jobs:       runtime.NumCPU(),
	}, nil
}

// Open loads an Environment previously created by Init, building its
// Package Index over sources.
func Open(prefix string, sources []index.Source) (*Environment, error) {
	settings, err := loadSettings(settingsPath(prefix))
	if err != nil {
		return nil, err
	}
	db, err := installdb.Open(dbRoot(prefix))
	if err != nil {
		return nil, err
	}
	idx, err := index.New(sources)
	if err != nil {
		return nil, err
	}
	return &Environment{
		prefix:     prefix,
		Settings:   settings,
		DB:         db,
		Index:      idx,
		Toolset:    settings.Toolset.toToolset(),
		Arch:       runtime.GOARCH,
		KernelArch: "linux",
		Jobs:       runtime.NumCPU(),
	}, nil
}

// Root implements builder.EnvAttachment: the prefix path.
func (e *Environment) Root() string { return e.prefix }

// EnvVars implements builder.EnvAttachment and is get_env_vars() (§4.12):
// PATH, LD_LIBRARY_PATH, CFLAGS/CCFLAGS/CPPFLAGS and LDFLAGS derived from
// the prefix's bin, architecture-aware lib dirs, and include.
func (e *Environment) EnvVars() []string {
	bin := filepath.Join(e.prefix, "bin")
	sbin := filepath.Join(e.prefix, "sbin")
	lib := filepath.Join(e.prefix, "lib")
	lib64 := filepath.Join(e.prefix, "lib64")
	include := filepath.Join(e.prefix, "include")
	return []string{
		"PATH=" + bin + ":" + sbin,
		"LD_LIBRARY_PATH=" + lib + ":" + lib64,
		"LIBRARY_PATH=" + lib + ":" + lib64,
		"CFLAGS=-I" + include,
		"CCFLAGS=-I" + include,
		"CPPFLAGS=-I" + include,
		"LDFLAGS=-L" + lib + " -Wl,-rpath," + lib,
	}
}

// ApplyEnv implements builder.EnvAttachment: overlays get_env_vars() onto
// base, then the active toolset's overlay with subs substituted in.
func (e *Environment) ApplyEnv(base []string, subs map[string]string) []string {
	combined := mergeEnv(base, e.EnvVars())
	return e.Toolset.ApplyEnv(combined, subs)
}

func mergeEnv(base, overlay []string) []string {
	m := make(map[string]string, len(base)+len(overlay))
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	for _, kv := range overlay {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// guiWhitelist is preserved in apply_env(isolate=true, gui=true) for
// graphical I/O (§4.12).
var guiWhitelist = []string{"DISPLAY", "WAYLAND_DISPLAY", "XAUTHORITY", "XDG_RUNTIME_DIR", "HOME", "TERM"}

// ApplyEnvToProcess is apply_env(isolate?, gui?) (§4.12): writes the
// composed environment into the current process, optionally clearing
// every variable not explicitly set (with a graphical-I/O whitelist).
func (e *Environment) ApplyEnvToProcess(isolate, gui bool) error {
	base := os.Environ()
	if isolate {
		base = nil
	}
	vars := e.ApplyEnv(base, nil)

	if isolate {
		var whitelist []string
		if gui {
			whitelist = guiWhitelist
		}
		preserved := map[string]string{}
		for _, k := range whitelist {
			if v, ok := os.LookupEnv(k); ok {
				preserved[k] = v
			}
		}
		os.Clearenv()
		for k, v := range preserved {
			if err := os.Setenv(k, v); err != nil {
				return &xpkgerr.Io{Msg: "preserving " + k, Err: err}
			}
		}
	}
	for _, kv := range vars {
		i := strings.IndexByte(kv, '=')
		if i < 0 {
			continue
		}
		if err := os.Setenv(kv[:i], kv[i+1:]); err != nil {
			return &xpkgerr.Io{Msg: "setting " + kv[:i], Err: err}
		}
	}
	return nil
}

func (e *Environment) logger() *log.Logger {
	if e.Log != nil {
		return e.Log
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

func (e *Environment) sourceCache() *sourcecache.Cache {
	if e.cache == nil {
		e.cache = sourcecache.New(DefaultSourceCacheRoot())
	}
	return e.cache
}

func (e *Environment) builderCtx() *builder.Ctx {
	return &builder.Ctx{
		Arch:       e.Arch,
		KernelArch: e.KernelArch,
		Jobs:       e.Jobs,
		Toolset:    e.Toolset,
		Cache:      e.sourceCache(),
		Env:        e,
		Log:        e.logger(),
		LogDir:     buildLogDir(e.prefix),
	}
}

func splitSpec(spec string) (name, version string) {
	if i := strings.Index(spec, "=="); i >= 0 {
		return spec[:i], spec[i+2:]
	}
	return spec, ""
}

// resolveSpec turns a caller-supplied spec (a bare name, "name==version", or
// a path to a .xpd/.xpa file) into the root locator and its declared
// dependencies, for feeding into the Resolver (§4.12's install(spec)).
func (e *Environment) resolveSpec(spec string) (index.Locator, []string, []string, error) {
	if strings.HasSuffix(spec, ".xpd") {
		if _, err := os.Stat(spec); err == nil {
			xpd, err := recipe.Load(spec)
			if err != nil {
				return index.Locator{}, nil, nil, err
			}
			loc := index.Locator{Name: xpd.Name, Version: xpd.Version, Kind: index.Tree, Path: spec}
			return loc, xpd.Dependencies, xpd.BuildDependencies, nil
		}
	}
	if strings.HasSuffix(spec, ".xpa") {
		if _, err := os.Stat(spec); err == nil {
			xpa, err := archive.Open(spec)
			if err != nil {
				return index.Locator{}, nil, nil, err
			}
			loc := index.Locator{Name: xpa.Manifest.Name, Version: xpa.Manifest.Version, Kind: index.Repo, Path: spec}
			return loc, xpa.Manifest.Dependencies, nil, nil
		}
	}
	if e.Index == nil {
		return index.Locator{}, nil, nil, &xpkgerr.NotFound{What: "package", Name: spec}
	}
	name, version := splitSpec(spec)
	loc, err := e.Index.Lookup(name, version)
	if err != nil {
		return index.Locator{}, nil, nil, err
	}
	if loc.Kind == index.Tree {
		xpd, err := recipe.Load(loc.Path)
		if err != nil {
			return index.Locator{}, nil, nil, err
		}
		return loc, xpd.Dependencies, xpd.BuildDependencies, nil
	}
	xpa, err := archive.Open(loc.Path)
	if err != nil {
		return index.Locator{}, nil, nil, err
	}
	return loc, xpa.Manifest.Dependencies, nil, nil
}

// Install is install(spec) (§4.12): resolves spec's dependency closure,
// installing every not-yet-installed dependency before spec itself,
// dispatching each to the Relocator directly (for a repo locator) or to the
// Builder then the Relocator (for a tree locator).
func (e *Environment) Install(ctx context.Context, spec string) error {
	loc, deps, buildDeps, err := e.resolveSpec(spec)
	if err != nil {
		return err
	}
	order, err := resolver.New(e.Index, e.DB, e.Toolset).Resolve(loc, deps, buildDeps)
	if err != nil {
		return err
	}
	for _, pkg := range order {
		if base, err := e.DB.Get(pkg.Name); err == nil && base.Version == pkg.Version {
			continue // already installed at the resolved version
		}
		if err := e.installLocator(ctx, pkg.Locator); err != nil {
			return err
		}
	}
	if base, err := e.DB.Get(loc.Name); err == nil && base.Version == loc.Version {
		return nil
	}
	return e.installLocator(ctx, loc)
}

// installLocator builds (if loc is a tree recipe) or opens (if loc is a
// prebuilt archive) the package at loc and relocates it into the prefix.
func (e *Environment) installLocator(ctx context.Context, loc index.Locator) error {
	if loc.Kind == index.Repo {
		xpa, err := archive.Open(loc.Path)
		if err != nil {
			return err
		}
		return e.relocateAndRecord(xpa)
	}

	xpd, err := recipe.Load(loc.Path)
	if err != nil {
		return err
	}
	results, err := e.builderCtx().Build(ctx, xpd, archiveCache(e.prefix))
	if err != nil {
		return err
	}
	for _, r := range results {
		xpa, err := archive.Open(r.Path)
		if err != nil {
			return err
		}
		if err := e.relocateAndRecord(xpa); err != nil {
			return err
		}
	}
	return nil
}

func (e *Environment) relocateAndRecord(xpa *archive.XPA) error {
	if err := relocator.Install(xpa, e.prefix); err != nil {
		return err
	}
	m := xpa.Manifest
	offsetsJSON, err := json.Marshal(m.InstallPathOffsets)
	if err != nil {
		return &xpkgerr.BadRecipe{Msg: "marshaling offsets for " + m.Name, Err: err}
	}
	rec := installdb.Record{
		BaseRecord: installdb.BaseRecord{
			Name:         m.Name,
			Version:      m.Version,
			Description:  m.Description,
			Dependencies: m.Dependencies,
			Dirs:         m.Dirs,
		},
		FileInfo: installdb.FileInfo{
			Files:              m.Files,
			InstallPathOffsets: offsetsJSON,
			RecompileOnInstall: m.RecompileOnInstall,
		},
	}
	return e.DB.MarkInstalled(m.Name, rec)
}

// Remove is remove(name) (§4.12): fails if any installed package rdepends
// on name, else deletes files (missing files are warnings), then
// directories deepest-first when empty, then the database record.
func (e *Environment) Remove(name string) error {
	if rdeps := e.DB.GetRdepends(name); len(rdeps) > 0 {
		return &xpkgerr.Conflict{Msg: fmt.Sprintf("%s: still required by %v", name, rdeps)}
	}
	rec, err := e.DB.GetWithFiles(name)
	if err != nil {
		return err
	}

	for _, f := range rec.Files {
		p := filepath.Join(e.prefix, f)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			e.logger().Printf("warning: removing %s: %v", p, err)
		}
	}

	dirs := append([]string(nil), rec.Dirs...)
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		p := filepath.Join(e.prefix, d)
		if empty, err := dirIsEmpty(p); err == nil && empty {
			if err := os.Remove(p); err != nil {
				e.logger().Printf("warning: removing directory %s: %v", p, err)
			}
		}
	}

	return e.DB.MarkRemoved(name)
}

func dirIsEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// Info is info(spec, verbose) (§4.12): a package record, or a
// file-to-package lookup when spec names a path inside the prefix.
func (e *Environment) Info(spec string, verbose bool) (installdb.Record, error) {
	if abs, err := filepath.Abs(spec); err == nil {
		if rel, err := filepath.Rel(e.prefix, abs); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			if _, statErr := os.Stat(abs); statErr == nil {
				owner, ok := e.DB.OwnerOfPath(rel)
				if !ok {
					return installdb.Record{}, &xpkgerr.NotFound{What: "file", Name: spec}
				}
				return e.DB.GetWithFiles(owner)
			}
		}
	}

	name, version := splitSpec(spec)
	rec, err := e.DB.GetWithFiles(name)
	if err != nil {
		return installdb.Record{}, err
	}
	if version != "" && rec.Version != version {
		return installdb.Record{}, &xpkgerr.NotFound{What: "package", Name: spec}
	}
	return rec, nil
}

// Build is build(xpd, dest, verbose) (§4.12): a Builder invocation with the
// recipe's dependencies installed first.
func (e *Environment) Build(ctx context.Context, xpdPath, dest string, verbose bool) ([]builder.Result, error) {
	xpd, err := recipe.Load(xpdPath)
	if err != nil {
		return nil, err
	}
	loc := index.Locator{Name: xpd.Name, Version: xpd.Version, Kind: index.Tree, Path: xpdPath}
	order, err := resolver.New(e.Index, e.DB, e.Toolset).Resolve(loc, xpd.Dependencies, xpd.BuildDependencies)
	if err != nil {
		return nil, err
	}
	for _, pkg := range order {
		if base, err := e.DB.Get(pkg.Name); err == nil && base.Version == pkg.Version {
			continue
		}
		if err := e.installLocator(ctx, pkg.Locator); err != nil {
			return nil, err
		}
	}
	return e.builderCtx().Build(ctx, xpd, dest)
}

// Package builder implements the Package Builder (§4.10): takes an XPD and
// a destination directory and produces one or more XPA archives.
//
// Grounded on the teacher's internal/build.Ctx.Build (the equivalent
// "create working dir, set up env, run configure/build/install steps,
// package the result" procedure), generalized from distri's chroot/squashfs
// pipeline to the spec's plain-directory prefix and tar-based archive
// output, and on internal/batch's use of a *log.Logger field for
// operational narration.
package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/xpkg/xpkg"
	"github.com/xpkg/xpkg/internal/archive"
	"github.com/xpkg/xpkg/internal/offsets"
	"github.com/xpkg/xpkg/internal/recipe"
	"github.com/xpkg/xpkg/internal/sourcecache"
	"github.com/xpkg/xpkg/internal/toolset"
	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// EnvAttachment is the subset of internal/environment.Environment the
// builder needs when a recipe's commands reference %(env_root)s or rely on
// the Environment's variable overlay (§4.10 step 2, step 5; §13's
// EnvVars/ApplyEnv helpers).
type EnvAttachment interface {
	Root() string
	EnvVars() []string
	ApplyEnv(base []string, subs map[string]string) []string
}

// Ctx is a build context: configuration shared across one or more builds.
type Ctx struct {
	Arch       string
	KernelArch string
	Jobs       int
	Toolset    toolset.Toolset
	Cache      *sourcecache.Cache
	Env        EnvAttachment // nil if no Environment is attached
	Log        *log.Logger
	LogDir     string // where per-build logs are written (var/xpkg/log)
}

func (c *Ctx) logger() *log.Logger {
	if c.Log != nil {
		return c.Log
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

// Result is one sub-output's finished archive.
type Result struct {
	Name    string
	Version string
	Path    string
}

// Build executes §4.10's procedure for xpd, writing the resulting XPAs
// into destDir and returning one Result per sub-output.
func (c *Ctx) Build(ctx context.Context, xpd *recipe.XPD, destDir string) (results []Result, err error) {
	logger := c.logger()

	// Step 1: unique working dir with an opaque, long prefix basename.
	workDir, err := os.MkdirTemp("", "xpkg-build-")
	if err != nil {
		return nil, &xpkgerr.Io{Msg: "creating working directory", Err: err}
	}
	// Registered rather than deferred: an Install resolving several
	// dependencies runs Build once per package, and each workDir is left in
	// place until the whole command's normal exit sweeps them all up at
	// once, matching §5's "cleanup on next normal exit via the temp-dir
	// owner" rather than per-build teardown.
	xpkg.RegisterAtExit(func() error { return os.RemoveAll(workDir) })

	prefixBasename := longOpaqueName(xpd.Name)
	prefix := filepath.Join(workDir, "prefix", prefixBasename)
	if err := os.MkdirAll(prefix, 0755); err != nil {
		return nil, &xpkgerr.Io{Msg: "creating prefix " + prefix, Err: err}
	}

	logger.Printf("building %s-%s in %s (prefix %s)", xpd.Name, xpd.Version, workDir, prefix)

	// Step 2: environment snapshot + overlay.
	env := os.Environ()
	envRoot := ""
	if c.Env != nil {
		envRoot = c.Env.Root()
		env = append(append([]string{}, c.Env.EnvVars()...), env...)
	}
	vars := Vars{
		Jobs:       c.Jobs,
		Prefix:     prefix,
		Arch:       c.Arch,
		KernelArch: c.KernelArch,
		EnvRoot:    envRoot,
		PkgVersion: xpd.Version,
	}
	env = c.Toolset.ApplyEnv(env, map[string]string{
		"prefix": prefix, "arch": c.Arch, "pkg_version": xpd.Version,
	})

	// Step 3: fetch and unpack sources.
	sourceRoot, err := c.fetchSources(ctx, xpd, workDir)
	if err != nil {
		return nil, err
	}

	// Step 4: choose the build directory.
	buildDir, err := chooseBuildDir(xpd, sourceRoot)
	if err != nil {
		return nil, err
	}

	// Step 5: run configure/build/install.
	logPath := ""
	if c.LogDir != "" {
		if err := os.MkdirAll(c.LogDir, 0755); err != nil {
			return nil, &xpkgerr.Io{Msg: "creating log dir " + c.LogDir, Err: err}
		}
		logPath = filepath.Join(c.LogDir, fmt.Sprintf("%s-%s_build.log", xpd.Name, xpd.Version))
	}
	var buildLog io.Writer = io.Discard
	if logPath != "" {
		f, err := os.Create(logPath)
		if err != nil {
			return nil, &xpkgerr.Io{Msg: "creating build log " + logPath, Err: err}
		}
		defer f.Close()
		buildLog = f
	}

	before, err := walk(prefix)
	if err != nil {
		return nil, &xpkgerr.Io{Msg: "scanning prefix before install", Err: err}
	}

	for _, phase := range [][]string{xpd.Configure, xpd.Build, xpd.Install} {
		if err := c.runCommands(ctx, phase, buildDir, env, vars, buildLog, logger); err != nil {
			return nil, err
		}
	}

	// Step 6: diff the prefix.
	after, err := walk(prefix)
	if err != nil {
		return nil, &xpkgerr.Io{Msg: "scanning prefix after install", Err: err}
	}
	newFiles, newDirs := diff(before, after)
	sort.Strings(newFiles)
	sort.Strings(newDirs)

	deduped, err := offsets.DedupByInode(prefix, newFiles)
	if err != nil {
		return nil, err
	}

	// Step 7: offset finder.
	table, recompile, err := offsets.Find(prefix, prefix, deduped)
	if err != nil {
		return nil, err
	}

	// Step 8: sub-output assignment.
	records, err := recipe.Packages(xpd)
	if err != nil {
		return nil, err
	}
	assignments, err := assignOutputs(records, newFiles, newDirs)
	if err != nil {
		return nil, err
	}

	for _, a := range assignments {
		manifest := archive.Manifest{
			Name:               a.Record.Name,
			Version:            a.Record.Version,
			Description:        a.Record.Description,
			Dependencies:       a.Record.Dependencies,
			Dirs:               a.Dirs,
			Files:              a.Files,
			InstallPathOffsets: subsetOffsets(table, a.Files),
			RecompileOnInstall: intersect(recompile, a.Files),
		}

		var entries []archive.FileEntry
		for _, d := range a.Dirs {
			entries = append(entries, archive.FileEntry{RelPath: d, AbsPath: filepath.Join(prefix, d)})
		}
		for _, f := range a.Files {
			entry := archive.FileEntry{RelPath: f, AbsPath: filepath.Join(prefix, f)}
			if link, err := os.Readlink(entry.AbsPath); err == nil {
				entry.LinkTarget = link
				entry.AbsPath = ""
			}
			entries = append(entries, entry)
		}

		// Step 9: name and move into destDir.
		filename := xpkg.ArchiveFilename(a.Record.Name, a.Record.Version, c.Arch, "dynamic", c.KernelArch)
		tmpPath := filepath.Join(workDir, filename)
		if err := archive.Write(tmpPath, manifest, entries); err != nil {
			return nil, err
		}
		finalPath := filepath.Join(destDir, filename)
		if err := os.MkdirAll(destDir, 0755); err != nil {
			return nil, &xpkgerr.Io{Msg: "creating destination " + destDir, Err: err}
		}
		if err := os.Rename(tmpPath, finalPath); err != nil {
			return nil, &xpkgerr.Io{Msg: "moving archive to " + finalPath, Err: err}
		}
		results = append(results, Result{Name: a.Record.Name, Version: a.Record.Version, Path: finalPath})
	}

	return results, nil
}

func longOpaqueName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

func intersect(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var out []string
	for _, s := range a {
		if inB[s] {
			out = append(out, s)
		}
	}
	return out
}

func chooseBuildDir(xpd *recipe.XPD, sourceRoot string) (string, error) {
	if xpd.BuildDir != "" {
		return filepath.Join(sourceRoot, xpd.BuildDir), nil
	}
	entries, err := os.ReadDir(sourceRoot)
	if err != nil {
		return "", &xpkgerr.Io{Msg: "listing " + sourceRoot, Err: err}
	}
	var subdirs []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e)
		}
	}
	if len(subdirs) == 1 {
		return filepath.Join(sourceRoot, subdirs[0].Name()), nil
	}
	return sourceRoot, nil
}

func (c *Ctx) fetchSources(ctx context.Context, xpd *recipe.XPD, workDir string) (string, error) {
	sourceRoot := filepath.Join(workDir, "src")
	if err := os.MkdirAll(sourceRoot, 0755); err != nil {
		return "", &xpkgerr.Io{Msg: "creating source dir", Err: err}
	}

	type fetchJob struct {
		hashSpec string
		src      recipe.FileSource
	}
	var jobs []fetchJob
	for hashSpec, src := range xpd.Files {
		jobs = append(jobs, fetchJob{hashSpec: hashSpec, src: src})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].hashSpec < jobs[j].hashSpec })

	paths := make([]string, len(jobs))
	eg, _ := errgroup.WithContext(ctx)
	for i, job := range jobs {
		i, job := i, job
		eg.Go(func() error {
			var path string
			var err error
			if strings.HasPrefix(job.src.URL, "./") || !strings.Contains(job.src.URL, "://") {
				path = filepath.Join(filepath.Dir(xpd.Path), job.src.URL)
				if _, statErr := os.Stat(path); statErr != nil {
					return &xpkgerr.Io{Msg: "recipe-relative source " + path, Err: statErr}
				}
			} else {
				path, err = c.Cache.Fetch(job.hashSpec, job.src.URL)
				if err != nil {
					return err
				}
			}
			paths[i] = path
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	for i, job := range jobs {
		dest := sourceRoot
		if job.src.Location != "" {
			dest = filepath.Join(sourceRoot, job.src.Location)
		}
		if err := os.MkdirAll(dest, 0755); err != nil {
			return "", &xpkgerr.Io{Msg: "creating " + dest, Err: err}
		}
		if err := unpackOrCopy(ctx, paths[i], dest); err != nil {
			return "", err
		}
	}
	return sourceRoot, nil
}

func unpackOrCopy(ctx context.Context, path, dest string) error {
	if looksLikeTarball(path) {
		cmd := exec.CommandContext(ctx, "tar", "xf", path, "--strip-components=1", "--no-same-owner", "-C", dest)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return &xpkgerr.BuildFailed{Step: "unpack", Argv: cmd.Args, Err: &outputError{out: out, err: err}}
		}
		return nil
	}
	in, err := os.Open(path)
	if err != nil {
		return &xpkgerr.Io{Msg: "opening " + path, Err: err}
	}
	defer in.Close()
	out, err := os.Create(filepath.Join(dest, filepath.Base(path)))
	if err != nil {
		return &xpkgerr.Io{Msg: "creating destination copy of " + path, Err: err}
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return &xpkgerr.Io{Msg: "copying " + path, Err: err}
	}
	return nil
}

func looksLikeTarball(path string) bool {
	for _, suffix := range []string{".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tar.xz", ".tar.zst"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

func (c *Ctx) runCommands(ctx context.Context, commands []string, cwd string, env []string, vars Vars, buildLog io.Writer, logger *log.Logger) error {
	for _, raw := range commands {
		if op, ok := parseOpCommand(raw); ok {
			if err := runOp(ctx, env, vars, op); err != nil {
				return &xpkgerr.BuildFailed{Step: op.Name, Argv: op.Args, Err: err}
			}
			continue
		}

		if referencesEnvRoot(raw) && vars.EnvRoot == "" {
			return &xpkgerr.BadRecipe{Msg: "command references %(env_root)s but no Environment is attached: " + raw}
		}

		substituted := vars.substitute(raw)
		logger.Printf("build step: %s", substituted)
		cmd := exec.CommandContext(ctx, "sh", "-c", substituted)
		cmd.Dir = cwd
		cmd.Env = env
		cmd.Stdout = io.MultiWriter(os.Stdout, buildLog)
		cmd.Stderr = io.MultiWriter(os.Stderr, buildLog)
		if err := cmd.Run(); err != nil {
			return &xpkgerr.BuildFailed{Step: substituted, Argv: cmd.Args, Err: err}
		}
	}
	return nil
}

// parseOpCommand recognizes the "op:arg1,arg2,..." convention a recipe
// uses to invoke a built-in instead of a shell string (§4.10 step 5, §13).
func parseOpCommand(raw string) (Op, bool) {
	for name := range builtinOps {
		prefix := name + ":"
		if strings.HasPrefix(raw, prefix) {
			args := strings.Split(strings.TrimPrefix(raw, prefix), ",")
			return Op{Name: name, Args: args}, true
		}
	}
	return Op{}, false
}

// Built-in command ops (§4.10 step 5, §13): symlink, patchelf, and
// full_binary_str_replace, invoked from a recipe's configure/build/install
// list as "name:arg1,arg2,..." strings (see parseOpCommand) instead of a
// shell command. Structured YAML mapping entries are not accepted: the
// command lists are plain string lists.
//
// Grounded on the teacher's per-builder step generation functions
// (internal/build/buildc.go, buildcmake.go, buildmeson.go each emit a fixed
// sequence of os/exec invocations for their language), generalized here
// into one small named-operation registry since the spec's builder is
// language-agnostic and only needs these three primitives.
package builder

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// Op is a built-in invocation parsed from a "name:arg1,arg2,..." command
// list entry, as opposed to a plain shell string. parseOpCommand never sets
// WorkingDir, so recipe-invoked ops run with it empty.
type Op struct {
	Name       string
	Args       []string
	WorkingDir string
}

type buildOp func(ctx context.Context, env []string, op Op) error

var builtinOps = map[string]buildOp{
	"symlink":                 opSymlink,
	"patchelf":                opPatchelf,
	"full_binary_str_replace": opFullBinaryStrReplace,
}

// runOp substitutes variables into op's args and dispatches to the named
// built-in.
func runOp(ctx context.Context, env []string, vars Vars, op Op) error {
	fn, ok := builtinOps[op.Name]
	if !ok {
		return &xpkgerr.BadRecipe{Msg: "unknown built-in op " + op.Name}
	}
	substituted := Op{
		Name:       op.Name,
		Args:       vars.substituteAll(op.Args),
		WorkingDir: vars.substitute(op.WorkingDir),
	}
	return fn(ctx, env, substituted)
}

// opSymlink implements symlink(src, link): create link -> src, replacing
// any existing entry at link.
func opSymlink(_ context.Context, _ []string, op Op) error {
	if len(op.Args) != 2 {
		return &xpkgerr.BadRecipe{Msg: "symlink requires exactly 2 args (src, link)"}
	}
	src, link := op.Args[0], op.Args[1]
	if op.WorkingDir != "" {
		link = filepath.Join(op.WorkingDir, link)
	}
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return &xpkgerr.Io{Msg: "creating parent of " + link, Err: err}
	}
	os.Remove(link)
	if err := os.Symlink(src, link); err != nil {
		return &xpkgerr.Io{Msg: "symlink " + link + " -> " + src, Err: err}
	}
	return nil
}

// opPatchelf implements patchelf(interp[, path]): shells out to the
// patchelf binary to set a file's ELF interpreter. Patching the interpreter
// bytes directly (rather than via the patchelf tool) is out of scope (§1,
// §13): this is a thin wrapper, not a reimplementation of ELF rewriting.
func opPatchelf(ctx context.Context, env []string, op Op) error {
	if len(op.Args) < 1 {
		return &xpkgerr.BadRecipe{Msg: "patchelf requires at least 1 arg (interp)"}
	}
	interp := op.Args[0]
	path := "."
	if len(op.Args) > 1 {
		path = op.Args[1]
	}
	if op.WorkingDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(op.WorkingDir, path)
	}
	cmd := exec.CommandContext(ctx, "patchelf", "--set-interpreter", interp, path)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &xpkgerr.BuildFailed{Step: "patchelf", Argv: cmd.Args, Err: &outputError{out: out, err: err}}
	}
	return nil
}

// opFullBinaryStrReplace implements full_binary_str_replace(file, old,
// new): rewrite every occurrence of old with new in file, requiring
// len(new) <= len(old) so the file length is preserved, matching the
// Relocator's length-preserving rewrite invariant (§4.11).
func opFullBinaryStrReplace(_ context.Context, _ []string, op Op) error {
	if len(op.Args) != 3 {
		return &xpkgerr.BadRecipe{Msg: "full_binary_str_replace requires exactly 3 args (file, old, new)"}
	}
	file, old, new := op.Args[0], op.Args[1], op.Args[2]
	if op.WorkingDir != "" && !filepath.IsAbs(file) {
		file = filepath.Join(op.WorkingDir, file)
	}
	if len(new) > len(old) {
		return &xpkgerr.Relocation{Msg: "full_binary_str_replace: replacement longer than original in " + file}
	}
	fi, err := os.Stat(file)
	if err != nil {
		return &xpkgerr.Io{Msg: "stat " + file, Err: err}
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return &xpkgerr.Io{Msg: "reading " + file, Err: err}
	}
	padded := new + string(make([]byte, len(old)-len(new)))
	replaced := replaceAllPadded(content, []byte(old), []byte(padded))
	if err := os.WriteFile(file, replaced, fi.Mode()); err != nil {
		return &xpkgerr.Io{Msg: "writing " + file, Err: err}
	}
	return nil
}

func replaceAllPadded(content, old, new []byte) []byte {
	out := make([]byte, 0, len(content))
	for i := 0; i < len(content); {
		if i+len(old) <= len(content) && string(content[i:i+len(old)]) == string(old) {
			out = append(out, new...)
			i += len(old)
			continue
		}
		out = append(out, content[i])
		i++
	}
	return out
}

type outputError struct {
	out []byte
	err error
}

func (e *outputError) Error() string { return e.err.Error() + ": " + string(e.out) }
func (e *outputError) Unwrap() error  { return e.err }

// Package toolset implements the Toolset (§4.7): a named role-to-package
// map plus an environment-variable overlay applied with REPLACE/APPEND/
// PREPEND semantics.
//
// Grounded on the teacher's internal/env (package-level settings resolved
// from a handful of environment lookups) for the settings-file shape, and
// internal/build's variable-substitution idiom (buildc.go/buildcmake.go
// generate argv by substituting named placeholders) for ApplyEnv's template
// expansion.
package toolset

import (
	"fmt"
	"os"
	"strings"

	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// Action is how an environment overlay entry combines with the current
// value of its variable.
type Action int

const (
	Replace Action = iota
	Append
	Prepend
)

// EnvEntry is one overlay entry: VAR -> (template, action), per §4.7.
type EnvEntry struct {
	Template string
	Action   Action
}

// Toolset is a named role->package map with an environment overlay (§4.7).
type Toolset struct {
	Name string
	// Roles maps a role name (shell, base, linker, c-compiler, c++-compiler,
	// libc, ...) to the concrete package name providing it.
	Roles map[string]string
	// EnvVars is the overlay applied by ApplyEnv.
	EnvVars map[string]EnvEntry

	// Isolate and NoBuildDeps are mutually exclusive per §4.7.
	Isolate     bool
	NoBuildDeps bool
}

// Validate enforces the Isolate/NoBuildDeps mutual exclusivity invariant.
func (t Toolset) Validate() error {
	if t.Isolate && t.NoBuildDeps {
		return &xpkgerr.BadRecipe{Msg: fmt.Sprintf("toolset %q: isolate and no_build_deps are mutually exclusive", t.Name)}
	}
	return nil
}

const toolsetIndirectPrefix = "tl:"

// Resolve implements §4.7's resolve(dep): a "tl:ROLE" dependency resolves
// to the toolset's concrete package for that role (possibly the empty
// string, meaning "use whatever the host provides"); any other dependency
// passes through unchanged.
func (t Toolset) Resolve(dep string) string {
	if !strings.HasPrefix(dep, toolsetIndirectPrefix) {
		return dep
	}
	role := strings.TrimPrefix(dep, toolsetIndirectPrefix)
	return t.Roles[role]
}

// ApplyEnv writes the toolset's environment overlay onto base, substituting
// subs into each entry's template and combining with base per the entry's
// Action (§4.7). base is not mutated; the combined environment is returned
// in "VAR=value" form suitable for exec.Cmd.Env.
func (t Toolset) ApplyEnv(base []string, subs map[string]string) []string {
	current := envToMap(base)
	for name, entry := range t.EnvVars {
		value := substitute(entry.Template, subs)
		switch entry.Action {
		case Append:
			if existing, ok := current[name]; ok && existing != "" {
				current[name] = existing + ":" + value
			} else {
				current[name] = value
			}
		case Prepend:
			if existing, ok := current[name]; ok && existing != "" {
				current[name] = value + ":" + existing
			} else {
				current[name] = value
			}
		default: // Replace
			current[name] = value
		}
	}
	return mapToEnv(current)
}

func envToMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func mapToEnv(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+v)
	}
	return env
}

func substitute(template string, subs map[string]string) string {
	out := template
	for k, v := range subs {
		out = strings.ReplaceAll(out, "%("+k+")s", v)
	}
	return out
}

// Default returns a minimal host toolset used when no recipe declares one:
// every role resolves to the empty string ("use the host"), no overlay.
func Default() Toolset {
	return Toolset{Name: "host", Roles: map[string]string{}, EnvVars: map[string]EnvEntry{}}
}

// CurrentEnv is a small convenience wrapper over os.Environ.
func CurrentEnv() []string { return os.Environ() }

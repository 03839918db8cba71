package builder

import (
	"strconv"
	"strings"
)

// Vars holds the named placeholders substituted into command strings
// (§4.10 step 5): jobs, prefix, arch, kernel_arch, env_root, pkg_version.
type Vars struct {
	Jobs       int
	Prefix     string
	Arch       string
	KernelArch string
	EnvRoot    string // empty when no Environment is attached
	PkgVersion string
}

// substitute replaces every "%(name)s" placeholder in s with its value,
// mirroring the teacher's ${DISTRI_...} string-replacement substitution
// (internal/build/build.go's Ctx.substitute) generalized to the spec's
// %(name)s placeholder syntax.
func (v Vars) substitute(s string) string {
	s = strings.ReplaceAll(s, "%(jobs)s", strconv.Itoa(v.Jobs))
	s = strings.ReplaceAll(s, "%(prefix)s", v.Prefix)
	s = strings.ReplaceAll(s, "%(arch)s", v.Arch)
	s = strings.ReplaceAll(s, "%(kernel_arch)s", v.KernelArch)
	s = strings.ReplaceAll(s, "%(env_root)s", v.EnvRoot)
	s = strings.ReplaceAll(s, "%(pkg_version)s", v.PkgVersion)
	return s
}

// substituteAll substitutes every string in ss.
func (v Vars) substituteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = v.substitute(s)
	}
	return out
}

// referencesEnvRoot reports whether s mentions %(env_root)s, used to
// enforce that such commands require an attached Environment (§4.10 step
// 5).
func referencesEnvRoot(s string) bool {
	return strings.Contains(s, "%(env_root)s")
}

package environment

import (
	"os"
	"strings"

	"github.com/xpkg/xpkg/internal/index"
	"github.com/xpkg/xpkg/internal/sourcecache"
)

// Environment variables recognised by the core (§6). Names match the
// literal keys sourcecache.DefaultRoot already reads ("local-cache").
const (
	EnvPrefix     = "prefix-root"
	EnvTreePath   = "tree-path"
	EnvRepoPath   = "repo-path"
	EnvLocalCache = "local-cache"
)

// SourcesFromEnv builds the Package Index source list from tree-path and
// repo-path, each a colon-separated list of directories, tree entries
// taking priority in the order listed followed by repo entries (§4.5, §6).
func SourcesFromEnv() []index.Source {
	var sources []index.Source
	for _, p := range splitPath(os.Getenv(EnvTreePath)) {
		sources = append(sources, index.Source{Kind: index.Tree, Path: p})
	}
	for _, p := range splitPath(os.Getenv(EnvRepoPath)) {
		sources = append(sources, index.Source{Kind: index.Repo, Path: p})
	}
	return sources
}

func splitPath(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ":") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultSourceCacheRoot returns the local user cache root (§6),
// delegating to sourcecache.DefaultRoot so both sides of the core agree on
// the same override variable.
func DefaultSourceCacheRoot() string {
	return sourcecache.DefaultRoot()
}

// PrefixFromEnv returns the prefix-root override, or fallback if unset, for
// operations that accept no explicit prefix (§6).
func PrefixFromEnv(fallback string) string {
	if v := os.Getenv(EnvPrefix); v != "" {
		return v
	}
	return fallback
}

package environment

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xpkg/xpkg/internal/toolset"
	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// Settings is the persisted form of var/xpkg/env.yml (§6): the prefix's
// name and active toolset, in the wire shape distinct from toolset.Toolset
// so the env-var action enum round-trips as readable YAML.
type Settings struct {
	Name    string          `yaml:"name"`
	Toolset ToolsetSettings `yaml:"toolset"`
}

// ToolsetSettings is the YAML form of a toolset.Toolset.
type ToolsetSettings struct {
	Name        string                     `yaml:"name"`
	Roles       map[string]string          `yaml:"build-deps,omitempty"`
	EnvVars     map[string]EnvVarSettings  `yaml:"env-vars,omitempty"`
	Isolate     bool                       `yaml:"isolate,omitempty"`
	NoBuildDeps bool                       `yaml:"no_build_deps,omitempty"`
}

// EnvVarSettings is the YAML form of a toolset.EnvEntry.
type EnvVarSettings struct {
	Template string `yaml:"template"`
	Action   string `yaml:"action"` // "replace", "append", or "prepend"
}

func actionToString(a toolset.Action) string {
	switch a {
	case toolset.Append:
		return "append"
	case toolset.Prepend:
		return "prepend"
	default:
		return "replace"
	}
}

func stringToAction(s string) toolset.Action {
	switch s {
	case "append":
		return toolset.Append
	case "prepend":
		return toolset.Prepend
	default:
		return toolset.Replace
	}
}

// toToolset converts the wire settings into a toolset.Toolset.
func (s ToolsetSettings) toToolset() toolset.Toolset {
	envVars := make(map[string]toolset.EnvEntry, len(s.EnvVars))
	for k, v := range s.EnvVars {
		envVars[k] = toolset.EnvEntry{Template: v.Template, Action: stringToAction(v.Action)}
	}
	roles := s.Roles
	if roles == nil {
		roles = map[string]string{}
	}
	return toolset.Toolset{
		Name:        s.Name,
		Roles:       roles,
		EnvVars:     envVars,
		Isolate:     s.Isolate,
		NoBuildDeps: s.NoBuildDeps,
	}
}

// fromToolset converts a toolset.Toolset into its wire settings form.
func fromToolset(t toolset.Toolset) ToolsetSettings {
	envVars := make(map[string]EnvVarSettings, len(t.EnvVars))
	for k, v := range t.EnvVars {
		envVars[k] = EnvVarSettings{Template: v.Template, Action: actionToString(v.Action)}
	}
	return ToolsetSettings{
		Name:        t.Name,
		Roles:       t.Roles,
		EnvVars:     envVars,
		Isolate:     t.Isolate,
		NoBuildDeps: t.NoBuildDeps,
	}
}

func loadSettings(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, &xpkgerr.Io{Msg: "reading settings " + path, Err: err}
	}
	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, &xpkgerr.BadRecipe{Msg: "parsing settings " + path, Err: err}
	}
	return s, nil
}

func writeSettings(path string, s Settings) error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return &xpkgerr.BadRecipe{Msg: "marshaling settings", Err: err}
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return &xpkgerr.Io{Msg: "writing settings " + path, Err: err}
	}
	return nil
}

package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// RuntimeManifestVersion is the current supported runtimes.toml schema version.
const RuntimeManifestVersion = 1

// RuntimeAdapter is the duck-typed capability record for one assistant
// variant (spec.md §9): the core never reflects on these fields, it just
// supplies them into the adapter's command template.
type RuntimeAdapter struct {
	Name             string `toml:"name"`
	Skills           bool   `toml:"skills"`
	Commands         bool   `toml:"commands"`
	MultiModel       bool   `toml:"multi_model"`
	BackgroundAgents bool   `toml:"background_agents"`
	PlanMode         bool   `toml:"plan_mode"`
	CommandTemplate  string `toml:"command_template"`
	ResumeFlag       string `toml:"resume_flag"`
}

// RuntimeManifest is the parsed contents of runtimes.toml.
type RuntimeManifest struct {
	Version  int                        `toml:"version"`
	Runtimes map[string]RuntimeAdapter `toml:"runtimes"`
}

// DefaultRuntimeManifest returns the four built-in variants named in
// spec.md §9, used when no runtimes.toml is present.
func DefaultRuntimeManifest() RuntimeManifest {
	return RuntimeManifest{
		Version: RuntimeManifestVersion,
		Runtimes: map[string]RuntimeAdapter{
			"claude": {
				Name: "claude", Skills: true, Commands: true, MultiModel: true,
				BackgroundAgents: true, PlanMode: true,
				CommandTemplate: `claude --model {{.Model}} {{.Prompt}}`,
				ResumeFlag:      "--resume",
			},
			"codex": {
				Name: "codex", Skills: false, Commands: true, MultiModel: true,
				BackgroundAgents: false, PlanMode: false,
				CommandTemplate: `codex --model {{.Model}} {{.Prompt}}`,
				ResumeFlag:      "--resume",
			},
			"cursor": {
				Name: "cursor", Skills: false, Commands: false, MultiModel: true,
				BackgroundAgents: false, PlanMode: false,
				CommandTemplate: `cursor-agent --model {{.Model}} {{.Prompt}}`,
			},
			"gemini": {
				Name: "gemini", Skills: false, Commands: true, MultiModel: true,
				BackgroundAgents: false, PlanMode: true,
				CommandTemplate: `gemini --model {{.Model}} {{.Prompt}}`,
			},
		},
	}
}

// LoadRuntimeManifest reads runtimes.toml from path, falling back to
// DefaultRuntimeManifest if the file does not exist.
func LoadRuntimeManifest(path string) (RuntimeManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRuntimeManifest(), nil
		}
		return RuntimeManifest{}, fmt.Errorf("config: reading runtimes manifest: %w", err)
	}
	var manifest RuntimeManifest
	if _, err := toml.Decode(string(data), &manifest); err != nil {
		return RuntimeManifest{}, fmt.Errorf("config: parsing runtimes manifest: %w", err)
	}
	if manifest.Version != RuntimeManifestVersion {
		return RuntimeManifest{}, fmt.Errorf("config: unsupported runtimes manifest version %d (expected %d)", manifest.Version, RuntimeManifestVersion)
	}
	return manifest, nil
}

// Adapter looks up a named runtime variant, falling back to the claude
// adapter if the name is unrecognized (matching the teacher's
// default-to-first-party-assistant behavior when an agent override is absent).
func (m RuntimeManifest) Adapter(name string) RuntimeAdapter {
	if a, ok := m.Runtimes[name]; ok {
		return a
	}
	return m.Runtimes["claude"]
}

package engine

import (
	"fmt"
	"maps"
	"slices"
)

type EnvVars []string

// ConstructEnvs converts an environment map into an exec-friendly
// []string{"KEY=value", ...} slice. Keys are sorted so synthesized
// commands stay deterministic.
func ConstructEnvs(envs map[string]string) EnvVars {
	var vars EnvVars
	for _, key := range slices.Sorted(maps.Keys(envs)) {
		vars.AddEnv(key, envs[key])
	}
	return vars
}

// Slice returns the EnvVar as a []string slice.
func (ev EnvVars) Slice() []string {
	return ev
}

// AddEnv adds a key=value string to the EnvVar.
func (ev *EnvVars) AddEnv(key, value string) {
	*ev = append(*ev, fmt.Sprintf("%s=%s", key, value))
}

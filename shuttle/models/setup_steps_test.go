package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shuttleci.dev/core/workflow"
)

func pushTo(ref string) workflow.Trigger {
	return workflow.Trigger{
		Kind: workflow.TriggerKindPush,
		Repo: workflow.Repo{
			Name:          "acme/app",
			CloneURL:      "https://forge.example/acme/app",
			DefaultBranch: "main",
		},
		Push: &workflow.PushEvent{Ref: ref},
	}
}

func TestSetupStepsClonesTriggerBranch(t *testing.T) {
	// a shallow clone of the default branch alone cannot check out
	// a feature branch, so the clone must pin the pushed branch
	steps := SetupSteps(workflow.CompiledWorkflow{Name: "ci.yml"}, pushTo("refs/heads/feature"))

	require.Len(t, steps, 2)
	assert.Equal(t, StepKindSystem, steps[0].Kind)
	assert.Contains(t, steps[0].Command, "git clone https://forge.example/acme/app .")
	assert.Contains(t, steps[0].Command, "--depth 1")
	assert.Contains(t, steps[0].Command, "--branch feature")
	assert.Contains(t, steps[1].Command, "git checkout --progress --force refs/heads/feature")
}

func TestSetupStepsDefaultBranch(t *testing.T) {
	steps := SetupSteps(workflow.CompiledWorkflow{Name: "ci.yml"}, pushTo("refs/heads/main"))

	require.Len(t, steps, 2)
	assert.Contains(t, steps[0].Command, "--branch main")
}

func TestSetupStepsCloneOptions(t *testing.T) {
	cw := workflow.CompiledWorkflow{
		Name: "ci.yml",
		Clone: workflow.CloneOpts{
			Depth:             50,
			IncludeSubmodules: true,
		},
	}

	steps := SetupSteps(cw, pushTo("refs/heads/main"))

	require.Len(t, steps, 2)
	assert.Contains(t, steps[0].Command, "--depth 50")
	assert.Contains(t, steps[0].Command, "--recursive")
}

func TestSetupStepsSkipped(t *testing.T) {
	skip := workflow.CompiledWorkflow{
		Name:  "ci.yml",
		Clone: workflow.CloneOpts{Skip: true},
	}
	assert.Empty(t, SetupSteps(skip, pushTo("refs/heads/main")))

	noURL := pushTo("refs/heads/main")
	noURL.Repo.CloneURL = ""
	assert.Empty(t, SetupSteps(workflow.CompiledWorkflow{Name: "ci.yml"}, noURL))
}

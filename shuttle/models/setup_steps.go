package models

import (
	"fmt"
	"strings"

	"shuttleci.dev/core/workflow"
)

// SetupSteps synthesizes the system steps that put a fresh workspace
// in place before user steps run. Engines prepend these to the
// compiled step list.
func SetupSteps(cw workflow.CompiledWorkflow, trigger workflow.Trigger) []Step {
	if cw.Clone.Skip || trigger.Repo.CloneURL == "" {
		return nil
	}

	return []Step{
		cloneStep(cw, trigger),
		checkoutStep(trigger),
	}
}

// cloneStep clones the repository into the workspace.
func cloneStep(cw workflow.CompiledWorkflow, trigger workflow.Trigger) Step {
	cloneCmd := []string{"git", "clone", trigger.Repo.CloneURL, "."}

	// default clone depth is 1
	cloneDepth := 1
	if cw.Clone.Depth > 1 {
		cloneDepth = cw.Clone.Depth
	}
	cloneCmd = append(cloneCmd, "--depth", fmt.Sprintf("%d", cloneDepth))

	// a shallow clone only fetches one branch; pin it to the
	// trigger's so pushes off the default branch can check out
	if branch := trigger.Branch(); branch != "" {
		cloneCmd = append(cloneCmd, "--branch", branch)
	}

	if cw.Clone.IncludeSubmodules {
		cloneCmd = append(cloneCmd, "--recursive")
	}

	return Step{
		Command: strings.Join(cloneCmd, " "),
		Name:    "Clone repository into workspace",
		Kind:    StepKindSystem,
	}
}

// checkoutStep checks out the ref the trigger points at in the cloned
// repository.
func checkoutStep(trigger workflow.Trigger) Step {
	ref := trigger.Ref()

	checkoutCmd := fmt.Sprintf("git config advice.detachedHead false; git checkout --progress --force %s", ref)

	return Step{
		Command: checkoutCmd,
		Name:    "Checkout ref " + ref,
		Kind:    StepKindSystem,
	}
}

package models

import (
	"context"
	"time"

	"shuttleci.dev/core/shuttle/secrets"
	"shuttleci.dev/core/workflow"
)

// Engine executes compiled workflows. Implementations own their
// workspace (container volumes, temp dirs) and must honor the
// fail-fast contract: RunStep reports the first failure and the
// runner never calls it for later steps.
type Engine interface {
	InitWorkflow(cw workflow.CompiledWorkflow, trigger workflow.Trigger) (*Workflow, error)
	SetupWorkflow(ctx context.Context, wid WorkflowId, wf *Workflow) error
	WorkflowTimeout() time.Duration
	DestroyWorkflow(ctx context.Context, wid WorkflowId) error
	RunStep(ctx context.Context, wid WorkflowId, wf *Workflow, idx int, secrets []secrets.UnlockedSecret, wfLogger *WorkflowLogger) error
}

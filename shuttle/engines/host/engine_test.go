package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shuttleci.dev/core/shuttle/config"
	"shuttleci.dev/core/shuttle/engine"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/shuttle/secrets"
	"shuttleci.dev/core/workflow"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := &config.Config{}
	cfg.Pipelines.WorkflowTimeout = "1m"
	cfg.Pipelines.WorkspaceDir = t.TempDir()

	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return e
}

func compiled(steps ...workflow.CompiledStep) workflow.CompiledWorkflow {
	return workflow.CompiledWorkflow{
		Name:  "ci.yml",
		Image: "unused",
		Clone: workflow.CloneOpts{Skip: true},
		Steps: steps,
	}
}

func TestRunStepSucceeds(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	wf, err := e.InitWorkflow(compiled(
		workflow.CompiledStep{Name: "hello", Command: "echo hello"},
	), workflow.Trigger{Kind: workflow.TriggerKindManual, Manual: &workflow.ManualEvent{}})
	require.NoError(t, err)

	wid := models.WorkflowId{PipelineId: models.NewPipelineId(), Name: wf.Name}
	require.NoError(t, e.SetupWorkflow(ctx, wid, wf))
	defer e.DestroyWorkflow(ctx, wid)

	logger, err := models.NewWorkflowLogger(t.TempDir(), wid)
	require.NoError(t, err)
	defer logger.Close()

	assert.NoError(t, e.RunStep(ctx, wid, wf, 0, nil, logger))
}

func TestRunStepCapturesOutput(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	wf, err := e.InitWorkflow(compiled(
		workflow.CompiledStep{Name: "shout", Command: "echo out; echo err >&2"},
	), workflow.Trigger{})
	require.NoError(t, err)

	wid := models.WorkflowId{PipelineId: models.NewPipelineId(), Name: wf.Name}
	require.NoError(t, e.SetupWorkflow(ctx, wid, wf))
	defer e.DestroyWorkflow(ctx, wid)

	logDir := t.TempDir()
	logger, err := models.NewWorkflowLogger(logDir, wid)
	require.NoError(t, err)

	require.NoError(t, e.RunStep(ctx, wid, wf, 0, nil, logger))
	require.NoError(t, logger.Close())

	f, err := os.Open(models.LogFilePath(logDir, wid))
	require.NoError(t, err)
	defer f.Close()

	streams := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line models.LogLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		streams[line.Stream] = line.Data
	}

	assert.Equal(t, "out", streams["stdout"])
	assert.Equal(t, "err", streams["stderr"])
}

func TestRunStepNonZeroExit(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	wf, err := e.InitWorkflow(compiled(
		workflow.CompiledStep{Name: "boom", Command: "exit 3"},
	), workflow.Trigger{})
	require.NoError(t, err)

	wid := models.WorkflowId{PipelineId: models.NewPipelineId(), Name: wf.Name}
	require.NoError(t, e.SetupWorkflow(ctx, wid, wf))
	defer e.DestroyWorkflow(ctx, wid)

	err = e.RunStep(ctx, wid, wf, 0, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrWorkflowFailed)

	var exitErr *engine.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
}

func TestRunStepSecretsInEnv(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	wf, err := e.InitWorkflow(compiled(
		workflow.CompiledStep{Name: "check", Command: `[ "$DEPLOY_TOKEN" = "hunter2" ]`},
	), workflow.Trigger{})
	require.NoError(t, err)

	wid := models.WorkflowId{PipelineId: models.NewPipelineId(), Name: wf.Name}
	require.NoError(t, e.SetupWorkflow(ctx, wid, wf))
	defer e.DestroyWorkflow(ctx, wid)

	unlocked := []secrets.UnlockedSecret{{Key: "DEPLOY_TOKEN", Value: "hunter2"}}
	assert.NoError(t, e.RunStep(ctx, wid, wf, 0, unlocked, nil))
}

func TestInitWorkflowInjectsClone(t *testing.T) {
	e := testEngine(t)

	cw := workflow.CompiledWorkflow{
		Name:  "ci.yml",
		Image: "python:3.12",
		Steps: []workflow.CompiledStep{{Name: "test", Command: "pytest"}},
	}
	trigger := workflow.Trigger{
		Kind: workflow.TriggerKindPush,
		Repo: workflow.Repo{Name: "acme/app", CloneURL: "https://forge.example/acme/app"},
		Push: &workflow.PushEvent{Ref: "refs/heads/main"},
	}

	wf, err := e.InitWorkflow(cw, trigger)
	require.NoError(t, err)

	require.Len(t, wf.Steps, 3)
	assert.Equal(t, models.StepKindSystem, wf.Steps[0].Kind)
	assert.Contains(t, wf.Steps[0].Command, "git clone")
	assert.Equal(t, models.StepKindSystem, wf.Steps[1].Kind)
	assert.Contains(t, wf.Steps[1].Command, "git checkout")
	assert.Equal(t, models.StepKindUser, wf.Steps[2].Kind)
}

package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/db"
	"shuttleci.dev/core/shuttle/engine"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/shuttle/secrets"
	"shuttleci.dev/core/workflow"
)

// fakeEngine records the order of executed steps and fails at a
// chosen index.
type fakeEngine struct {
	executed []int
	failAt   int // -1 never fails
	failWith error
}

var _ models.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) InitWorkflow(cw workflow.CompiledWorkflow, _ workflow.Trigger) (*models.Workflow, error) {
	wf := &models.Workflow{Name: cw.Name, Image: cw.Image}
	for _, s := range cw.Steps {
		wf.Steps = append(wf.Steps, models.Step{Name: s.Name, Command: s.Command, Kind: models.StepKindUser})
	}
	return wf, nil
}

func (f *fakeEngine) SetupWorkflow(context.Context, models.WorkflowId, *models.Workflow) error {
	return nil
}

func (f *fakeEngine) WorkflowTimeout() time.Duration { return time.Minute }

func (f *fakeEngine) DestroyWorkflow(context.Context, models.WorkflowId) error { return nil }

func (f *fakeEngine) RunStep(_ context.Context, _ models.WorkflowId, _ *models.Workflow, idx int, _ []secrets.UnlockedSecret, _ *models.WorkflowLogger) error {
	f.executed = append(f.executed, idx)
	if f.failAt >= 0 && idx == f.failAt {
		if f.failWith != nil {
			return f.failWith
		}
		return &engine.ExitError{Code: 1}
	}
	return nil
}

func testPipeline(steps ...string) workflow.Compiled {
	cw := workflow.CompiledWorkflow{Name: "ci.yml", Image: "python:3.12"}
	for _, s := range steps {
		cw.Steps = append(cw.Steps, workflow.CompiledStep{Name: s, Command: s})
	}
	return workflow.Compiled{
		Trigger:   workflow.Trigger{Kind: workflow.TriggerKindPush},
		Workflows: []workflow.CompiledWorkflow{cw},
	}
}

func testRunner(t *testing.T, eng models.Engine) (*Runner, *db.DB) {
	t.Helper()

	d, err := db.Make(filepath.Join(t.TempDir(), "shuttle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	n := notifier.New()
	return New(context.Background(), eng, d, &n, t.TempDir()), d
}

func TestRunAllStepsSucceed(t *testing.T) {
	eng := &fakeEngine{failAt: -1}
	r, d := testRunner(t, eng)

	pid := models.NewPipelineId()
	n := notifier.New()
	require.NoError(t, d.CreatePipeline(pid, "acme/app", &n))

	err := r.Run(context.Background(), testPipeline("install", "lint", "format", "test", "build"), pid, nil)
	require.NoError(t, err)

	// every step executed exactly once, in declared order
	assert.Equal(t, []int{0, 1, 2, 3, 4}, eng.executed)

	p, err := d.GetPipeline(pid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindSuccess, p.Status)

	ev, err := d.GetWorkflowStatus(models.WorkflowId{PipelineId: pid, Name: "ci.yml"})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, models.StatusKindSuccess, ev.Status)
}

func TestRunFailFast(t *testing.T) {
	// lint (index 1) fails: format, test and build must never run
	eng := &fakeEngine{failAt: 1}
	r, d := testRunner(t, eng)

	pid := models.NewPipelineId()
	n := notifier.New()
	require.NoError(t, d.CreatePipeline(pid, "acme/app", &n))

	err := r.Run(context.Background(), testPipeline("install", "lint", "format", "test", "build"), pid, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrWorkflowFailed)

	assert.Equal(t, []int{0, 1}, eng.executed)

	p, dberr := d.GetPipeline(pid)
	require.NoError(t, dberr)
	assert.Equal(t, models.StatusKindFailed, p.Status)
	assert.Equal(t, 1, p.ExitCode)
	assert.Contains(t, p.Error, "lint")
}

func TestRunFirstStepFails(t *testing.T) {
	eng := &fakeEngine{failAt: 0}
	r, d := testRunner(t, eng)

	pid := models.NewPipelineId()
	n := notifier.New()
	require.NoError(t, d.CreatePipeline(pid, "acme/app", &n))

	err := r.Run(context.Background(), testPipeline("install", "test"), pid, nil)
	require.Error(t, err)

	assert.Equal(t, []int{0}, eng.executed)

	p, dberr := d.GetPipeline(pid)
	require.NoError(t, dberr)
	assert.Equal(t, models.StatusKindFailed, p.Status)
}

func TestRunTimeout(t *testing.T) {
	eng := &fakeEngine{failAt: 0, failWith: engine.ErrTimedOut}
	r, d := testRunner(t, eng)

	pid := models.NewPipelineId()
	n := notifier.New()
	require.NoError(t, d.CreatePipeline(pid, "acme/app", &n))

	err := r.Run(context.Background(), testPipeline("sleepy"), pid, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrTimedOut)

	p, dberr := d.GetPipeline(pid)
	require.NoError(t, dberr)
	assert.Equal(t, models.StatusKindTimeout, p.Status)

	ev, dberr := d.GetWorkflowStatus(models.WorkflowId{PipelineId: pid, Name: "ci.yml"})
	require.NoError(t, dberr)
	require.NotNil(t, ev)
	assert.Equal(t, models.StatusKindTimeout, ev.Status)
}

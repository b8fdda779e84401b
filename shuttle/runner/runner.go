// Package runner drives compiled pipelines through an engine. The
// workflows of a pipeline run in parallel; the steps of a workflow
// run strictly in order and stop at the first failure.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"shuttleci.dev/core/log"
	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/db"
	"shuttleci.dev/core/shuttle/engine"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/shuttle/secrets"
	"shuttleci.dev/core/workflow"
)

type Runner struct {
	eng    models.Engine
	db     *db.DB
	n      *notifier.Notifier
	l      *slog.Logger
	logDir string
}

func New(ctx context.Context, eng models.Engine, d *db.DB, n *notifier.Notifier, logDir string) *Runner {
	return &Runner{
		eng:    eng,
		db:     d,
		n:      n,
		l:      log.FromContext(ctx).With("component", "runner"),
		logDir: logDir,
	}
}

// Run executes every workflow of a compiled pipeline and records the
// pipeline's terminal status. The returned error is the first
// workflow failure, if any.
func (r *Runner) Run(ctx context.Context, compiled workflow.Compiled, pid models.PipelineId, unlocked []secrets.UnlockedSecret) error {
	if err := r.db.MarkPipelineRunning(pid, r.n); err != nil {
		return err
	}

	g := errgroup.Group{}
	for _, cw := range compiled.Workflows {
		g.Go(func() error {
			return r.runWorkflow(ctx, compiled, cw, pid, unlocked)
		})
	}

	err := g.Wait()
	switch {
	case err == nil:
		r.l.Info("pipeline success!", "id", pid)
		return r.db.MarkPipelineSuccess(pid, r.n)

	case errors.Is(err, engine.ErrTimedOut):
		r.l.Error("pipeline timed out", "id", pid)
		return errors.Join(err, r.db.MarkPipelineTimeout(pid, r.n))

	default:
		r.l.Error("pipeline failed!", "id", pid, "error", err.Error())
		var exitErr *engine.ExitError
		exitCode := -1
		if errors.As(err, &exitErr) {
			exitCode = exitErr.Code
		}
		return errors.Join(err, r.db.MarkPipelineFailed(pid, exitCode, err.Error(), r.n))
	}
}

func (r *Runner) runWorkflow(ctx context.Context, compiled workflow.Compiled, cw workflow.CompiledWorkflow, pid models.PipelineId, unlocked []secrets.UnlockedSecret) error {
	wid := models.WorkflowId{PipelineId: pid, Name: cw.Name}

	wf, err := r.eng.InitWorkflow(cw, compiled.Trigger)
	if err != nil {
		return r.failWorkflow(wid, fmt.Errorf("initializing workflow: %w", err))
	}

	wfLogger, err := models.NewWorkflowLogger(r.logDir, wid)
	if err != nil {
		return r.failWorkflow(wid, err)
	}
	defer wfLogger.Close()

	if err := r.db.StatusRunning(wid, r.n); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.eng.WorkflowTimeout())
	defer cancel()

	// teardown must proceed even when the workflow context is dead
	defer func() {
		if err := r.eng.DestroyWorkflow(context.WithoutCancel(ctx), wid); err != nil {
			r.l.Error("failed to destroy workflow", "workflow", wid, "error", err)
		}
	}()

	if err := r.eng.SetupWorkflow(ctx, wid, wf); err != nil {
		return r.failWorkflow(wid, fmt.Errorf("setting up workflow: %w", err))
	}

	for idx, step := range wf.Steps {
		wfLogger.LogControl(idx, step, models.StatusKindRunning)

		err := r.eng.RunStep(ctx, wid, wf, idx, unlocked, wfLogger)
		if err == nil {
			wfLogger.LogControl(idx, step, models.StatusKindSuccess)
			continue
		}

		// fail fast: later steps never run
		wfLogger.LogControl(idx, step, models.StatusKindFailed)

		if errors.Is(err, engine.ErrTimedOut) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.l.Error("workflow timed out", "workflow", wid, "step", step.Name)
			if dberr := r.db.StatusTimeout(wid, r.n); dberr != nil {
				r.l.Error("failed to record timeout", "workflow", wid, "error", dberr)
			}
			return engine.ErrTimedOut
		}

		stepErr := fmt.Errorf("step %q failed: %w", step.Name, err)
		return r.failWorkflow(wid, stepErr)
	}

	return r.db.StatusSuccess(wid, r.n)
}

func (r *Runner) failWorkflow(wid models.WorkflowId, err error) error {
	var exitErr *engine.ExitError
	exitCode := int64(-1)
	if errors.As(err, &exitErr) {
		exitCode = int64(exitErr.Code)
	}

	if dberr := r.db.StatusFailed(wid, err.Error(), exitCode, r.n); dberr != nil {
		r.l.Error("failed to record failure", "workflow", wid, "error", dberr)
	}

	return err
}

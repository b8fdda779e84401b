// Package host executes workflow steps directly on the machine with
// no container isolation. It backs `shuttle run` for local one-shot
// runs; the server defaults to the docker engine.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"shuttleci.dev/core/log"
	"shuttleci.dev/core/shuttle/config"
	"shuttleci.dev/core/shuttle/engine"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/shuttle/secrets"
	"shuttleci.dev/core/workflow"
)

type Engine struct {
	l   *slog.Logger
	cfg *config.Config

	mu         sync.Mutex
	workspaces map[string]string
}

func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	l := log.FromContext(ctx).With("component", "engine", "engine", "host")

	return &Engine{
		l:          l,
		cfg:        cfg,
		workspaces: make(map[string]string),
	}, nil
}

func (e *Engine) InitWorkflow(cw workflow.CompiledWorkflow, trigger workflow.Trigger) (*models.Workflow, error) {
	wf := &models.Workflow{
		Name:        cw.Name,
		Image:       cw.Image,
		Environment: cw.Environment,
	}

	wf.Steps = models.SetupSteps(cw, trigger)
	for _, s := range cw.Steps {
		wf.Steps = append(wf.Steps, models.Step{
			Name:        s.Name,
			Command:     s.Command,
			Kind:        models.StepKindUser,
			Environment: s.Environment,
		})
	}

	return wf, nil
}

func (e *Engine) WorkflowTimeout() time.Duration {
	timeout, err := time.ParseDuration(e.cfg.Pipelines.WorkflowTimeout)
	if err != nil {
		timeout = 5 * time.Minute
	}
	return timeout
}

// SetupWorkflow prepares a workspace directory. With WorkspaceDir set
// (local runs against a checked-out tree) the workflow runs in place;
// otherwise a temp dir is created and removed on teardown.
func (e *Engine) SetupWorkflow(ctx context.Context, wid models.WorkflowId, wf *models.Workflow) error {
	workspace := e.cfg.Pipelines.WorkspaceDir

	if workspace == "" {
		dir, err := os.MkdirTemp("", "shuttle-"+wid.String())
		if err != nil {
			return fmt.Errorf("creating workspace: %w", err)
		}
		workspace = dir
	}

	if err := os.MkdirAll(filepath.Join(workspace, ".shuttle-cache"), 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	e.mu.Lock()
	e.workspaces[wid.String()] = workspace
	e.mu.Unlock()

	e.l.Info("set up workspace", "workflow", wid, "dir", workspace)
	return nil
}

func (e *Engine) RunStep(ctx context.Context, wid models.WorkflowId, wf *models.Workflow, idx int, secrets []secrets.UnlockedSecret, wfLogger *models.WorkflowLogger) error {
	step := wf.Steps[idx]

	e.mu.Lock()
	workspace := e.workspaces[wid.String()]
	e.mu.Unlock()
	if workspace == "" {
		return fmt.Errorf("no workspace for workflow %s", wid)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	envs := engine.EnvVars(os.Environ())
	for _, kv := range engine.ConstructEnvs(wf.Environment) {
		envs = append(envs, kv)
	}
	for _, s := range secrets {
		envs.AddEnv(s.Key, s.Value)
	}
	for _, kv := range engine.ConstructEnvs(step.Environment) {
		envs = append(envs, kv)
	}
	envs.AddEnv("SHUTTLE_CACHE_DIR", filepath.Join(workspace, ".shuttle-cache"))

	cmd := exec.CommandContext(ctx, "sh", "-c", step.Command)
	cmd.Dir = workspace
	cmd.Env = envs.Slice()
	if wfLogger != nil {
		cmd.Stdout = wfLogger.DataWriter(idx, "stdout")
		cmd.Stderr = wfLogger.DataWriter(idx, "stderr")
	}

	e.l.Info("running step", "step", step.Name, "workflow", wid)

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		e.l.Warn("step timed out", "step", step.Name, "workflow", wid)
		return engine.ErrTimedOut
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e.l.Error("workflow failed!", "workflow_id", wid.String(), "step", step.Name, "exit_code", exitErr.ExitCode())
		return &engine.ExitError{Code: exitErr.ExitCode()}
	}

	return fmt.Errorf("running step: %w", err)
}

func (e *Engine) DestroyWorkflow(ctx context.Context, wid models.WorkflowId) error {
	e.mu.Lock()
	workspace := e.workspaces[wid.String()]
	delete(e.workspaces, wid.String())
	e.mu.Unlock()

	// workspaces supplied by the user are left alone
	if workspace == "" || e.cfg.Pipelines.WorkspaceDir != "" {
		return nil
	}

	return os.RemoveAll(workspace)
}

package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"shuttleci.dev/core/log"
	"shuttleci.dev/core/shuttle/config"
	"shuttleci.dev/core/shuttle/engine"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/shuttle/secrets"
	"shuttleci.dev/core/workflow"
)

const (
	workspaceDir = "/shuttle/workspace"
	cacheDir     = "/shuttle/cache"
)

type cleanupFunc func(context.Context) error

type Engine struct {
	docker client.APIClient
	l      *slog.Logger
	cfg    *config.Config

	cleanupMu sync.Mutex
	cleanup   map[string][]cleanupFunc
}

func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	dcli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	l := log.FromContext(ctx).With("component", "engine", "engine", "docker")

	e := &Engine{
		docker: dcli,
		l:      l,
		cfg:    cfg,
	}

	e.cleanup = make(map[string][]cleanupFunc)

	return e, nil
}

type privateData struct {
	repo string
}

func (e *Engine) InitWorkflow(cw workflow.CompiledWorkflow, trigger workflow.Trigger) (*models.Workflow, error) {
	wf := &models.Workflow{
		Name:        cw.Name,
		Image:       cw.Image,
		Environment: cw.Environment,
		Data:        privateData{repo: trigger.Repo.Name},
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
	workflowTimeoutStr := e.cfg.Pipelines.WorkflowTimeout
	workflowTimeout, err := time.ParseDuration(workflowTimeoutStr)
	if err != nil {
		e.l.Error("failed to parse workflow timeout", "error", err, "timeout", workflowTimeoutStr)
		workflowTimeout = 5 * time.Minute
	}

	return workflowTimeout
}

// SetupWorkflow sets up a network for the workflow and volumes for
// the workspace and dependency cache. Workspace and network are
// destroyed at the end of the workflow; the cache volume is scoped to
// the repository and survives across runs.
func (e *Engine) SetupWorkflow(ctx context.Context, wid models.WorkflowId, wf *models.Workflow) error {
	e.l.Info("setting up workflow", "workflow", wid)

	_, err := e.docker.VolumeCreate(ctx, volume.CreateOptions{
		Name:   workspaceVolume(wid),
		Driver: "local",
	})
	if err != nil {
		return err
	}
	e.registerCleanup(wid, func(ctx context.Context) error {
		return e.docker.VolumeRemove(ctx, workspaceVolume(wid), true)
	})

	_, err = e.docker.VolumeCreate(ctx, volume.CreateOptions{
		Name:   cacheVolume(wf),
		Driver: "local",
	})
	if err != nil {
		return err
	}

	_, err = e.docker.NetworkCreate(ctx, networkName(wid), network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return err
	}
	e.registerCleanup(wid, func(ctx context.Context) error {
		return e.docker.NetworkRemove(ctx, networkName(wid))
	})

	// transient registry failures should not fail a workflow outright
	err = retry.Do(
		func() error {
			reader, err := e.docker.ImagePull(ctx, wf.Image, image.PullOptions{})
			if err != nil {
				return err
			}
			defer reader.Close()
			_, err = io.Copy(io.Discard, reader)
			return err
		},
		retry.Attempts(3),
		retry.Context(ctx),
	)
	if err != nil {
		e.l.Error("workflow image pull failed!", "image", wf.Image, "workflowId", wid, "error", err.Error())
		return fmt.Errorf("pulling image: %w", err)
	}

	return nil
}

func (e *Engine) RunStep(ctx context.Context, wid models.WorkflowId, wf *models.Workflow, idx int, secrets []secrets.UnlockedSecret, wfLogger *models.WorkflowLogger) error {
	step := wf.Steps[idx]

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	envs := engine.ConstructEnvs(wf.Environment)
	for _, s := range secrets {
		envs.AddEnv(s.Key, s.Value)
	}
	for _, kv := range engine.ConstructEnvs(step.Environment) {
		envs = append(envs, kv)
	}
	envs.AddEnv("HOME", workspaceDir)
	envs.AddEnv("SHUTTLE_CACHE_DIR", cacheDir)
	e.l.Debug("envs for step", "step", step.Name, "envs", len(envs))

	hostConfig := hostConfig(wid, wf)
	resp, err := e.docker.ContainerCreate(ctx, &container.Config{
		Image:      wf.Image,
		Cmd:        []string{"sh", "-c", step.Command},
		WorkingDir: workspaceDir,
		Tty:        false,
		Hostname:   "shuttle",
		Env:        envs.Slice(),
	}, hostConfig, nil, nil, "")
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	defer e.DestroyStep(context.WithoutCancel(ctx), resp.ID)

	err = e.docker.NetworkConnect(ctx, networkName(wid), resp.ID, nil)
	if err != nil {
		return fmt.Errorf("connecting network: %w", err)
	}

	err = e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{})
	if err != nil {
		return err
	}
	e.l.Info("started container", "name", resp.ID, "step", step.Name)

	// start tailing logs in background
	tailDone := make(chan error, 1)
	go func() {
		tailDone <- e.tailStep(ctx, wfLogger, resp.ID, idx)
	}()

	// wait for container completion or timeout
	waitDone := make(chan struct{})
	var state *container.State
	var waitErr error

	go func() {
		defer close(waitDone)
		state, waitErr = e.WaitStep(ctx, resp.ID)
	}()

	select {
	case <-waitDone:

		// wait for tailing to complete
		<-tailDone

	case <-ctx.Done():
		e.l.Warn("step timed out; killing container", "container", resp.ID, "step", step.Name)
		err = e.DestroyStep(context.Background(), resp.ID)
		if err != nil {
			e.l.Error("failed to destroy step", "container", resp.ID, "error", err)
		}

		// wait for both goroutines to finish
		<-waitDone
		<-tailDone

		return engine.ErrTimedOut
	}

	if waitErr != nil {
		return waitErr
	}

	if state.ExitCode != 0 {
		e.l.Error("workflow failed!", "workflow_id", wid.String(), "error", state.Error, "exit_code", state.ExitCode, "oom_killed", state.OOMKilled)
		if state.OOMKilled {
			return engine.ErrOOMKilled
		}
		return &engine.ExitError{Code: state.ExitCode}
	}

	return nil
}

func (e *Engine) WaitStep(ctx context.Context, containerID string) (*container.State, error) {
	wait, errCh := e.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-wait:
	}

	e.l.Info("waited for container", "name", containerID)

	info, err := e.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, err
	}

	return info.State, nil
}

func (e *Engine) tailStep(ctx context.Context, wfLogger *models.WorkflowLogger, containerID string, stepIdx int) error {
	if wfLogger == nil {
		return nil
	}

	logs, err := e.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		Follow:     true,
		ShowStdout: true,
		ShowStderr: true,
		Details:    false,
		Timestamps: false,
	})
	if err != nil {
		return err
	}

	_, err = stdcopy.StdCopy(
		stripAnsi(wfLogger.DataWriter(stepIdx, "stdout")),
		stripAnsi(wfLogger.DataWriter(stepIdx, "stderr")),
		logs,
	)
	if err != nil && err != io.EOF && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to copy logs: %w", err)
	}

	return nil
}

func (e *Engine) DestroyStep(ctx context.Context, containerID string) error {
	err := e.docker.ContainerKill(ctx, containerID, "9") // SIGKILL
	if err != nil && !isErrContainerNotFoundOrNotRunning(err) {
		return err
	}

	if err := e.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		RemoveVolumes: true,
		RemoveLinks:   false,
		Force:         false,
	}); err != nil && !isErrContainerNotFoundOrNotRunning(err) {
		return err
	}

	return nil
}

func (e *Engine) DestroyWorkflow(ctx context.Context, wid models.WorkflowId) error {
	e.cleanupMu.Lock()
	key := wid.String()

	fns := e.cleanup[key]
	delete(e.cleanup, key)
	e.cleanupMu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (e *Engine) registerCleanup(wid models.WorkflowId, fn cleanupFunc) {
	e.cleanupMu.Lock()
	defer e.cleanupMu.Unlock()
	key := wid.String()
	e.cleanup[key] = append(e.cleanup[key], fn)
}

func workspaceVolume(wid models.WorkflowId) string {
	return "workspace-" + wid.String()
}

var cacheVolumeRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

func cacheVolume(wf *models.Workflow) string {
	repo := "default"
	if data, ok := wf.Data.(privateData); ok && data.repo != "" {
		repo = cacheVolumeRe.ReplaceAllString(data.repo, "-")
	}
	return "cache-" + repo
}

func networkName(wid models.WorkflowId) string {
	return "workflow-" + wid.String()
}

func hostConfig(wid models.WorkflowId, wf *models.Workflow) *container.HostConfig {
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: workspaceVolume(wid),
				Target: workspaceDir,
			},
			{
				Type:   mount.TypeVolume,
				Source: cacheVolume(wf),
				Target: cacheDir,
			},
		},
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
	}

	return hostConfig
}

func isErrContainerNotFoundOrNotRunning(err error) bool {
	return err != nil && (client.IsErrNotFound(err) ||
		os.IsNotExist(err) ||
		containsNotRunning(err))
}

func containsNotRunning(err error) bool {
	return err != nil &&
		(regexp.MustCompile(`is not running`).MatchString(err.Error()) ||
			regexp.MustCompile(`is already in progress`).MatchString(err.Error()))
}

// Package local runs pipelines one-shot on the current machine. It
// backs `shuttle run` (compile local workflow files and execute them
// with the host engine) and `shuttle target` (Makefile-style named
// shortcuts from shuttle.yml).
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"shuttleci.dev/core/shuttle/config"
	"shuttleci.dev/core/shuttle/engine"
	"shuttleci.dev/core/shuttle/engines/host"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/workflow"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run workflows locally with the host engine",
		ArgsUsage: "[files...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "event",
				Usage: "trigger event to simulate (push, pull_request, manual)",
				Value: workflow.TriggerKindPush,
			},
			&cli.StringFlag{
				Name:  "branch",
				Usage: "branch the trigger refers to",
				Value: "main",
			},
			&cli.StringSliceFlag{
				Name:  "changed",
				Usage: "changed paths carried by the trigger",
			},
			&cli.StringFlag{
				Name:  "image",
				Usage: "default image for workflows that declare none (ignored by the host engine)",
				Value: "local",
			},
			&cli.StringFlag{
				Name:  "timeout",
				Usage: "per-workflow timeout",
				Value: "5m",
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		var err error
		files, err = defaultWorkflowFiles()
		if err != nil {
			return err
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no workflow files found; pass them as arguments or create .shuttle/*.yml")
	}

	var raw workflow.RawPipeline
	for _, f := range files {
		contents, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("reading %s: %w", f, err)
		}
		raw = append(raw, workflow.RawWorkflow{
			Name:     filepath.Base(f),
			Contents: string(contents),
		})
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	trigger, err := buildTrigger(cmd, filepath.Base(cwd))
	if err != nil {
		return err
	}

	compiler := workflow.Compiler{
		Trigger:      trigger,
		DefaultImage: cmd.String("image"),
	}
	compiled := compiler.Compile(compiler.Parse(raw))

	for _, warning := range compiler.Diagnostics.Warnings {
		fmt.Println(warning.String())
	}
	if compiler.Diagnostics.IsErr() {
		for _, e := range compiler.Diagnostics.Errors {
			fmt.Println(e.String())
		}
		return cli.Exit("pipeline has errors", 1)
	}

	if len(compiled.Workflows) == 0 {
		fmt.Println("nothing to run")
		return nil
	}

	logDir, err := os.MkdirTemp("", "shuttle-logs")
	if err != nil {
		return err
	}

	cfg := &config.Config{
		Pipelines: config.Pipelines{
			WorkflowTimeout: cmd.String("timeout"),
			LogDir:          logDir,
			// run in place against the working tree
			WorkspaceDir: cwd,
		},
	}

	eng, err := host.New(ctx, cfg)
	if err != nil {
		return err
	}

	pid := models.NewPipelineId()
	start := time.Now()

	var runErr error
	for _, cw := range compiled.Workflows {
		if err := runWorkflow(ctx, eng, cw, trigger, pid, logDir); err != nil {
			runErr = err
			break
		}
	}

	elapsed := strings.TrimSpace(humanize.RelTime(start, time.Now(), "", ""))
	fmt.Printf("\nlogs: %s\n", logDir)

	if runErr != nil {
		fmt.Printf("failed after %s\n", elapsed)
		exitCode := 1
		var exitErr *engine.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.Code
		}
		return cli.Exit(runErr.Error(), exitCode)
	}

	fmt.Printf("finished in %s\n", elapsed)
	return nil
}

func runWorkflow(ctx context.Context, eng *host.Engine, cw workflow.CompiledWorkflow, trigger workflow.Trigger, pid models.PipelineId, logDir string) error {
	wid := models.WorkflowId{PipelineId: pid, Name: cw.Name}

	wf, err := eng.InitWorkflow(cw, trigger)
	if err != nil {
		return err
	}

	wfLogger, err := models.NewWorkflowLogger(logDir, wid)
	if err != nil {
		return err
	}
	defer wfLogger.Close()

	ctx, cancel := context.WithTimeout(ctx, eng.WorkflowTimeout())
	defer cancel()

	defer func() {
		if err := eng.DestroyWorkflow(context.WithoutCancel(ctx), wid); err != nil {
			fmt.Printf("failed to clean up workflow %s: %v\n", cw.Name, err)
		}
	}()

	if err := eng.SetupWorkflow(ctx, wid, wf); err != nil {
		return err
	}

	fmt.Printf("%s:\n", cw.Name)
	for idx, step := range wf.Steps {
		stepStart := time.Now()
		err := eng.RunStep(ctx, wid, wf, idx, nil, wfLogger)
		elapsed := time.Since(stepStart).Round(time.Millisecond)

		if err != nil {
			fmt.Printf("  ✗ %s (%s)\n", step.Name, elapsed)
			return fmt.Errorf("step %q failed: %w", step.Name, err)
		}
		fmt.Printf("  ✓ %s (%s)\n", step.Name, elapsed)
	}

	return nil
}

func buildTrigger(cmd *cli.Command, repoName string) (workflow.Trigger, error) {
	branch := cmd.String("branch")
	changed := cmd.StringSlice("changed")

	t := workflow.Trigger{
		Kind: cmd.String("event"),
		Repo: workflow.Repo{
			Name:          repoName,
			DefaultBranch: branch,
		},
	}

	switch t.Kind {
	case workflow.TriggerKindPush:
		t.Push = &workflow.PushEvent{
			Ref:          "refs/heads/" + branch,
			ChangedFiles: changed,
		}
	case workflow.TriggerKindPullRequest:
		t.PullRequest = &workflow.PullRequestEvent{
			SourceBranch: branch,
			TargetBranch: branch,
			ChangedFiles: changed,
		}
	case workflow.TriggerKindManual:
		t.Manual = &workflow.ManualEvent{}
	default:
		return t, fmt.Errorf("unknown event %q", t.Kind)
	}

	return t, nil
}

func defaultWorkflowFiles() ([]string, error) {
	var files []string
	for _, pattern := range []string{".shuttle/*.yml", ".shuttle/*.yaml"} {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return files, nil
}

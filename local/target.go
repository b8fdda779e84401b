package local

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// projectConfig is the shuttle.yml a repository keeps at its root.
// Targets are named command shortcuts, conventionally install, lint,
// format, test, build, run and deploy.
type projectConfig struct {
	Targets map[string]string `yaml:"targets"`
}

func TargetCommand() *cli.Command {
	return &cli.Command{
		Name:      "target",
		Usage:     "run a named command shortcut from shuttle.yml",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "project config file",
				Value: "shuttle.yml",
			},
		},
		Action: target,
	}
}

func target(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: shuttle target <name>")
	}

	file := cmd.String("file")
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	var pc projectConfig
	if err := yaml.Unmarshal(data, &pc); err != nil {
		return fmt.Errorf("parsing %s: %w", file, err)
	}

	command, ok := pc.Targets[name]
	if !ok {
		known := slices.Sorted(maps.Keys(pc.Targets))
		if len(known) == 0 {
			return fmt.Errorf("unknown target %q: %s defines no targets", name, file)
		}
		return fmt.Errorf("unknown target %q, have: %s", name, strings.Join(known, ", "))
	}

	c := exec.CommandContext(ctx, "sh", "-c", command)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr

	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return cli.Exit("", exitErr.ExitCode())
		}
		return err
	}

	return nil
}

package main

import (
	"context"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v3"

	"shuttleci.dev/core/local"
	"shuttleci.dev/core/log"
	"shuttleci.dev/core/shuttle"
	"shuttleci.dev/core/shuttle/secrets"
)

func main() {
	cmd := &cli.Command{
		Name:    "shuttle",
		Usage:   "continuous integration pipeline runner",
		Version: versioninfo.Short(),
		Commands: []*cli.Command{
			shuttle.Command(),
			local.RunCommand(),
			local.TargetCommand(),
			secrets.Command(),
		},
	}

	ctx := context.Background()
	logger := log.New("shuttle")
	ctx = log.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

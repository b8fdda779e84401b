package shuttle

import (
	"context"

	"github.com/urfave/cli/v3"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run a shuttle server",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return Run(ctx)
		},
		Description: `
Environment variables:
	SHUTTLE_SERVER_LISTEN_ADDR          (default: 0.0.0.0:6555)
	SHUTTLE_SERVER_DB_PATH              (default: shuttle.db)
	SHUTTLE_SERVER_DEV                  (default: false)
	SHUTTLE_PIPELINES_ENGINE            (default: docker)
	SHUTTLE_PIPELINES_DEFAULT_IMAGE     (no default)
	SHUTTLE_PIPELINES_WORKFLOW_TIMEOUT  (default: 5m)
	SHUTTLE_PIPELINES_LOG_DIR           (default: /var/log/shuttle)
	SHUTTLE_PIPELINES_WORKSPACE_DIR     (no default)
	SHUTTLE_PIPELINES_QUEUE_SIZE        (default: 100)
	SHUTTLE_PIPELINES_WORKERS           (default: 2)
	SHUTTLE_SECRETS_DB_PATH             (default: the server db path)
`,
	}
}

package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr string `env:"LISTEN_ADDR, default=0.0.0.0:6555"`
	DBPath     string `env:"DB_PATH, default=shuttle.db"`
	Dev        bool   `env:"DEV, default=false"`
}

type Pipelines struct {
	Engine          string `env:"ENGINE, default=docker"`
	DefaultImage    string `env:"DEFAULT_IMAGE"`
	WorkflowTimeout string `env:"WORKFLOW_TIMEOUT, default=5m"`
	LogDir          string `env:"LOG_DIR, default=/var/log/shuttle"`
	WorkspaceDir    string `env:"WORKSPACE_DIR"`
	QueueSize       int    `env:"QUEUE_SIZE, default=100"`
	Workers         int    `env:"WORKERS, default=2"`
}

type Secrets struct {
	DBPath string `env:"DB_PATH"`
}

type Config struct {
	Server    Server    `env:",prefix=SHUTTLE_SERVER_"`
	Pipelines Pipelines `env:",prefix=SHUTTLE_PIPELINES_"`
	Secrets   Secrets   `env:",prefix=SHUTTLE_SECRETS_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	// secrets live next to the rest of the state unless told otherwise
	if cfg.Secrets.DBPath == "" {
		cfg.Secrets.DBPath = cfg.Server.DBPath
	}

	return &cfg, nil
}

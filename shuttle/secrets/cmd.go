package secrets

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"shuttleci.dev/core/shuttle/config"
)

func Command() *cli.Command {
	repoFlag := &cli.StringFlag{
		Name:     "repo",
		Usage:    "repository the secret belongs to",
		Required: true,
	}

	return &cli.Command{
		Name:  "secret",
		Usage: "manage pipeline secrets",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add a secret",
				ArgsUsage: "<key> <value>",
				Flags:     []cli.Flag{repoFlag},
				Action:    addSecret,
			},
			{
				Name:      "rm",
				Usage:     "remove a secret",
				ArgsUsage: "<key>",
				Flags:     []cli.Flag{repoFlag},
				Action:    removeSecret,
			},
			{
				Name:   "ls",
				Usage:  "list secrets of a repository",
				Flags:  []cli.Flag{repoFlag},
				Action: listSecrets,
			},
		},
	}
}

func openManager(ctx context.Context) (*SqliteManager, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewSQLiteManager(cfg.Secrets.DBPath)
}

func addSecret(ctx context.Context, cmd *cli.Command) error {
	key := cmd.Args().Get(0)
	value := cmd.Args().Get(1)
	if key == "" || value == "" {
		return fmt.Errorf("usage: shuttle secret add --repo <repo> <key> <value>")
	}

	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	createdBy := "shuttle"
	if u, err := user.Current(); err == nil {
		createdBy = u.Username
	}

	err = m.AddSecret(ctx, UnlockedSecret{
		Key:       key,
		Value:     value,
		Repo:      cmd.String("repo"),
		CreatedBy: createdBy,
	})
	if err != nil {
		return err
	}

	fmt.Printf("added %s\n", key)
	return nil
}

func removeSecret(ctx context.Context, cmd *cli.Command) error {
	key := cmd.Args().First()
	if key == "" {
		return fmt.Errorf("usage: shuttle secret rm --repo <repo> <key>")
	}

	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	err = m.RemoveSecret(ctx, Secret[any]{
		Key:  key,
		Repo: cmd.String("repo"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("removed %s\n", key)
	return nil
}

func listSecrets(ctx context.Context, cmd *cli.Command) error {
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	locked, err := m.GetSecretsLocked(ctx, cmd.String("repo"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tCREATED\tBY")
	for _, l := range locked {
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.Key, humanize.Time(l.CreatedAt), l.CreatedBy)
	}
	return w.Flush()
}

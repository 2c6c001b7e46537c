package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/kairin/gitg/internal/core/git"
	"github.com/kairin/gitg/internal/core/logging"
	"github.com/kairin/gitg/internal/runner"
	"github.com/kairin/gitg/pkg/executil"
)

type LogCmd struct {
	flags *Flags

	// Command-specific flags
	limit  int64
	format string
}

// NewLogCmd creates a new log command.
func NewLogCmd(flags *Flags) *LogCmd {
	return &LogCmd{flags: flags}
}

// Register adds the log command to the application.
func (cmd *LogCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "log",
		Usage:     "Stream the commit log of a repository",
		UsageText: "gitg-run log [options] [dir]",
		Description: `Stream 'git log' output for the repository in dir (default: current
directory). Lines are printed as git produces them, so large histories
start rendering immediately.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "number of commits to show (0 = all)",
				Destination: &cmd.limit,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "git log format string",
				Value:       "%h %s",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *LogCmd) run(ctx context.Context, c *cli.Command) error {
	dir := c.Args().First()
	if dir == "" {
		dir = "."
	}

	cfg := cmd.flags.Config
	e := git.NewExecutor(cfg.GitPath, &executil.RealExecutor{},
		runner.WithChunkSize(cfg.ChunkSize),
		runner.WithDebug(cfg.Debug),
		runner.WithLogger(logging.Component("git")),
	)

	args := []string{"--format=" + cmd.format}
	if cmd.limit > 0 {
		args = append(args, "-n", strconv.FormatInt(cmd.limit, 10))
	}

	return e.Log(ctx, dir, func(line string) { fmt.Println(line) }, args...)
}

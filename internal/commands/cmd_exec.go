package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kairin/gitg/internal/core/config"
	"github.com/kairin/gitg/internal/core/logging"
	"github.com/kairin/gitg/internal/runner"
)

type ExecCmd struct {
	flags *Flags

	// Command-specific flags
	workdir   string
	readStdin bool
	preserve  bool
	async     bool
}

// NewExecCmd creates a new exec command.
func NewExecCmd(flags *Flags) *ExecCmd {
	return &ExecCmd{flags: flags}
}

// Register adds the exec command to the application.
func (cmd *ExecCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "exec",
		Usage:     "Run a command and stream its output line by line",
		UsageText: "gitg-run exec [options] -- command [args...]",
		Description: `Spawn a command, capture its standard output, and print it one line at a
time as it arrives. Output in a non-UTF-8 encoding is transcoded on the fly.

With --stdin the payload is read from standard input, written to the child,
and the child's input pipe closed. The exit status of the child becomes the
exit status of gitg-run.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "workdir",
				Aliases:     []string{"w"},
				Usage:       "working directory for the command",
				Destination: &cmd.workdir,
			},
			&cli.BoolFlag{
				Name:        "stdin",
				Usage:       "feed standard input to the command as its payload",
				Destination: &cmd.readStdin,
			},
			&cli.BoolFlag{
				Name:        "preserve",
				Aliases:     []string{"p"},
				Usage:       "keep original line terminators on output",
				Destination: &cmd.preserve,
			},
			&cli.BoolFlag{
				Name:        "async",
				Usage:       "run event-driven instead of blocking",
				Destination: &cmd.async,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ExecCmd) run(ctx context.Context, c *cli.Command) error {
	argv := c.Args().Slice()
	if len(argv) == 0 {
		return cli.Exit("no command given", 1)
	}

	cfg := cmd.flags.Config
	preserve := cmd.preserve || cfg.PreserveLineEndings
	async := cmd.async || cfg.Mode == config.ModeAsync

	opts := []runner.Option{
		runner.WithChunkSize(cfg.ChunkSize),
		runner.WithPreserveLineEndings(preserve),
		runner.WithDebug(cfg.Debug),
		runner.WithLogger(logging.Component("runner")),
	}
	if async {
		opts = append(opts, runner.WithPolicy(runner.Asynchronous))
	}

	var payload []byte
	if cmd.readStdin {
		var err error
		payload, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	r := runner.New(opts...)
	done := make(chan bool, 1)
	r.Subscribe(func(ev runner.Event) {
		switch ev := ev.(type) {
		case runner.Update:
			for _, line := range ev.Lines {
				if preserve {
					fmt.Print(line)
				} else {
					fmt.Println(line)
				}
			}
		case runner.EndLoading:
			done <- ev.Failed
		}
	})

	if err := r.Run(ctx, cmd.workdir, argv, payload); err != nil {
		var runErr *runner.RunError
		if errors.As(err, &runErr) && runErr.Kind == runner.ExitFailure {
			return cli.Exit("", runErr.Status)
		}
		return err
	}

	if async {
		select {
		case failed := <-done:
			if failed {
				return cli.Exit("command failed", 1)
			}
			if status := r.ExitStatus(); status != 0 {
				return cli.Exit("", status)
			}
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}

	return nil
}

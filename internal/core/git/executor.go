package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kairin/gitg/internal/runner"
	"github.com/kairin/gitg/pkg/executil"
)

// Executor implements Git by shelling out to the git command-line tool.
// Streaming queries go through a runner so lines arrive as git produces
// them; small one-shot queries use an executil.Executor.
type Executor struct {
	gitPath    string
	exec       executil.Executor
	runnerOpts []runner.Option
}

// NewExecutor creates a git executor for the given git binary path.
// The runner options apply to every streaming query.
func NewExecutor(gitPath string, exec executil.Executor, opts ...runner.Option) *Executor {
	return &Executor{gitPath: gitPath, exec: exec, runnerOpts: opts}
}

func (e *Executor) Log(ctx context.Context, dir string, fn LineFunc, args ...string) error {
	if err := e.stream(ctx, dir, fn, nil, append([]string{"log"}, args...)...); err != nil {
		return fmt.Errorf("git log: %w", err)
	}
	return nil
}

func (e *Executor) Diff(ctx context.Context, dir string, fn LineFunc, args ...string) error {
	if err := e.stream(ctx, dir, fn, nil, append([]string{"diff"}, args...)...); err != nil {
		return fmt.Errorf("git diff: %w", err)
	}
	return nil
}

func (e *Executor) RevParse(ctx context.Context, dir string, args ...string) ([]string, error) {
	out, err := e.exec.RunDir(ctx, dir, e.gitPath, append([]string{"rev-parse"}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("git rev-parse: %w", err)
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (e *Executor) HashObject(ctx context.Context, dir string, payload []byte) (string, error) {
	var hash string
	err := e.stream(ctx, dir, func(line string) {
		if hash == "" {
			hash = line
		}
	}, payload, "hash-object", "--stdin")
	if err != nil {
		return "", fmt.Errorf("git hash-object: %w", err)
	}
	if hash == "" {
		return "", errors.New("git hash-object: no output")
	}
	return hash, nil
}

// stream runs one git command through a fresh synchronous runner and feeds
// every emitted line to fn.
func (e *Executor) stream(ctx context.Context, dir string, fn LineFunc, stdin []byte, args ...string) error {
	opts := make([]runner.Option, 0, len(e.runnerOpts)+1)
	opts = append(opts, e.runnerOpts...)
	// Streaming queries block until git is done regardless of how the
	// caller configured its runners.
	opts = append(opts, runner.WithPolicy(runner.Synchronous))

	r := runner.New(opts...)
	r.Subscribe(func(ev runner.Event) {
		if u, ok := ev.(runner.Update); ok {
			for _, line := range u.Lines {
				fn(line)
			}
		}
	})

	return r.Run(ctx, dir, append([]string{e.gitPath}, args...), stdin)
}

package executil

import (
	"context"
	"sync"
)

// RecordedCommand captures a command that was executed.
type RecordedCommand struct {
	Dir  string
	Cmd  string
	Args []string
}

// RecordingExecutor captures commands for testing.
// Configure Outputs and Errors maps to control return values by command name.
type RecordingExecutor struct {
	mu       sync.Mutex
	Commands []RecordedCommand

	Outputs map[string][]byte
	Errors  map[string]error
}

// Run records the command and returns the configured output and error.
func (e *RecordingExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return e.record("", cmd, args...)
}

// RunDir records the command with its directory.
func (e *RecordingExecutor) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	return e.record(dir, cmd, args...)
}

func (e *RecordingExecutor) record(dir, cmd string, args ...string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Commands = append(e.Commands, RecordedCommand{Dir: dir, Cmd: cmd, Args: args})

	var out []byte
	if e.Outputs != nil {
		out = e.Outputs[cmd]
	}
	var err error
	if e.Errors != nil {
		err = e.Errors[cmd]
	}
	return out, err
}

// Reset clears recorded commands.
func (e *RecordingExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands = nil
}

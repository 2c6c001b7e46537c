// Package git provides streaming access to git command output.
package git

import "context"

// LineFunc receives one line of command output at a time, in stream order.
type LineFunc func(line string)

// Git defines the repository queries built on streamed git output.
type Git interface {
	// Log streams `git log` output line by line. Extra args are passed
	// through to git.
	Log(ctx context.Context, dir string, fn LineFunc, args ...string) error
	// Diff streams `git diff` output line by line.
	Diff(ctx context.Context, dir string, fn LineFunc, args ...string) error
	// RevParse runs `git rev-parse` and returns its output lines.
	RevParse(ctx context.Context, dir string, args ...string) ([]string, error)
	// HashObject computes the object hash of payload via `git hash-object
	// --stdin` without writing to the object database.
	HashObject(ctx context.Context, dir string, payload []byte) (string, error)
}

// Package runner spawns an external command and streams its standard output
// as discrete text lines.
//
// A Runner captures the child's stdout incrementally, transcodes it to UTF-8
// (the output encoding of a command-line tool depends on the user's locale
// and the data it prints), splits it into lines across read boundaries, and
// delivers line batches to subscribers. It has no knowledge of what the
// output means; it only transports bytes-turned-lines.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kairin/gitg/internal/core/charset"
)

// Policy selects how a run is scheduled.
type Policy int

const (
	// Synchronous blocks the calling goroutine for the whole run.
	Synchronous Policy = iota
	// Asynchronous returns from Run immediately and delivers all further
	// progress through events, dispatched from a single goroutine.
	Asynchronous
)

// DefaultChunkSize is the read capacity used when none is configured.
const DefaultChunkSize = 4096

// ErrCancelled is returned by a synchronous Run torn down by Cancel before
// it completed. Cancel itself already emitted the terminal EndLoading, so
// this error carries no event.
var ErrCancelled = errors.New("run cancelled")

// ErrorKind classifies a RunError.
type ErrorKind int

const (
	// SpawnFailure means the child process could not be created.
	SpawnFailure ErrorKind = iota
	// IOFailure means a read or write on the child's pipes failed.
	IOFailure
	// ExitFailure means the child exited with a nonzero status even though
	// its output was fully captured and delivered.
	ExitFailure
)

func (k ErrorKind) String() string {
	switch k {
	case SpawnFailure:
		return "spawn"
	case IOFailure:
		return "io"
	case ExitFailure:
		return "exit"
	default:
		return "unknown"
	}
}

// RunError is the structured error surface of a synchronous run.
// Asynchronous runs report failures only through EndLoading and the
// ExitStatus accessor.
type RunError struct {
	Kind   ErrorKind
	Status int // exit status, set for ExitFailure
	Err    error
}

func (e *RunError) Error() string {
	switch e.Kind {
	case ExitFailure:
		return fmt.Sprintf("child exited with status %d", e.Status)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *RunError) Unwrap() error { return e.Err }

// Runner runs one external command at a time and streams its output.
// Starting a new run implicitly cancels any run still active. All methods
// are safe for concurrent use; event subscribers are invoked sequentially
// on the goroutine driving the run.
type Runner struct {
	chunkSize int
	policy    Policy
	debug     bool
	log       zerolog.Logger
	events    events

	// dispatchMu serializes event dispatch with cancellation, so that no
	// Update can be observed after Cancel has returned. dispatchOwner holds
	// the id of the goroutine currently dispatching, letting Cancel detect
	// being called from inside a subscriber callback.
	dispatchMu    sync.Mutex
	dispatchOwner atomic.Uint64

	mu         sync.Mutex
	gen        uint64 // cancellation token of the current run
	preserve   bool
	env        envBuilder
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stdin      io.WriteCloser
	exitStatus int
	running    bool
}

// Option configures a Runner at construction.
type Option func(*Runner)

// WithChunkSize sets the read capacity per chunk. It must be positive.
func WithChunkSize(n int) Option {
	if n <= 0 {
		panic("runner: chunk size must be positive")
	}
	return func(r *Runner) { r.chunkSize = n }
}

// WithPolicy selects synchronous or asynchronous scheduling.
func WithPolicy(p Policy) Option {
	return func(r *Runner) { r.policy = p }
}

// WithPreserveLineEndings keeps the exact terminator on each emitted line
// instead of stripping it.
func WithPreserveLineEndings(preserve bool) Option {
	return func(r *Runner) { r.preserve = preserve }
}

// WithEnvironSource overrides where AddEnvironment snapshots the process
// environment from. The default is os.Environ.
func WithEnvironSource(source func() []string) Option {
	return func(r *Runner) { r.env.source = source }
}

// WithDebug lets the child inherit stderr for diagnostics instead of
// discarding it.
func WithDebug(debug bool) Option {
	return func(r *Runner) { r.debug = debug }
}

// WithLogger sets the logger used for run tracing.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// New creates a Runner. Chunk capacity and policy are fixed for its lifetime.
func New(opts ...Option) *Runner {
	r := &Runner{
		chunkSize:  DefaultChunkSize,
		policy:     Synchronous,
		log:        zerolog.Nop(),
		exitStatus: 1,
	}
	r.env.source = os.Environ
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers a callback invoked for every event of every run.
// Callbacks run on the goroutine driving the run. A callback may call
// Cancel, in which case the terminal EndLoading is delivered before Cancel
// returns; callbacks must not call Run or RunStream.
func (r *Runner) Subscribe(fn Subscriber) {
	r.events.subscribe(fn)
}

// ChunkSize returns the configured read capacity.
func (r *Runner) ChunkSize() int { return r.chunkSize }

// Running reports whether a run is currently active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ExitStatus returns the child's exit status. It is meaningful only after
// an EndLoading with Failed false has fired.
func (r *Runner) ExitStatus() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitStatus
}

// PreserveLineEndings reports whether emitted lines keep their terminators.
func (r *Runner) PreserveLineEndings() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preserve
}

// SetPreserveLineEndings changes the terminator policy for subsequent runs.
func (r *Runner) SetPreserveLineEndings(preserve bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preserve = preserve
}

// SetEnvironment replaces the environment override list wholesale.
// A nil list means the child inherits the caller's environment unmodified.
func (r *Runner) SetEnvironment(vars []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env.set(vars)
}

// AddEnvironment appends key=value to the child environment. The first call
// without an override list in place snapshots the current environment first.
func (r *Runner) AddEnvironment(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env.add(key, value)
}

// Environ returns a copy of the environment override list, or nil when the
// child inherits the caller's environment.
func (r *Runner) Environ() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.env.environ()
}

// Run spawns argv with an optional working directory and streams its stdout.
// A non-nil stdin payload is written to the child's standard input, which is
// then closed; with a nil payload the child inherits the caller's stdin.
//
// Under the Synchronous policy Run blocks until the run completes and
// returns nil only for a zero exit status; failures are *RunError values.
// Under the Asynchronous policy Run returns once the child is started and
// all further progress is reported through events. Cancelling ctx cancels
// the run.
func (r *Runner) Run(ctx context.Context, workdir string, argv []string, stdin []byte) error {
	if len(argv) == 0 {
		return &RunError{Kind: SpawnFailure, Err: errors.New("empty argv")}
	}

	// One active process per Runner.
	r.Cancel()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workdir
	cmd.Env = r.Environ()
	if r.debug {
		cmd.Stderr = os.Stderr
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return &RunError{Kind: SpawnFailure, Err: err}
	}

	var stdinPipe io.WriteCloser
	if stdin != nil {
		stdinPipe, err = cmd.StdinPipe()
		if err != nil {
			return &RunError{Kind: SpawnFailure, Err: err}
		}
	} else {
		cmd.Stdin = os.Stdin
	}

	if err := cmd.Start(); err != nil {
		return &RunError{Kind: SpawnFailure, Err: fmt.Errorf("spawn %s: %w", argv[0], err)}
	}

	return r.start(ctx, cmd, stdoutPipe, stdinPipe, stdin)
}

// RunStream feeds an arbitrary reader through the same decode, split, and
// notification pipeline without spawning a process.
func (r *Runner) RunStream(ctx context.Context, src io.Reader) error {
	r.Cancel()

	rc, ok := src.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(src)
	}
	return r.start(ctx, nil, rc, nil, nil)
}

// activeRun bundles the per-run state the schedulers operate on.
type activeRun struct {
	id      string
	token   uint64
	cmd     *exec.Cmd // nil for stream runs
	stdout  io.ReadCloser
	stdin   io.WriteCloser
	payload []byte
	conv    *charset.Converter
	split   *splitter
	buf     []byte
	stop    func() bool
}

func (r *Runner) start(ctx context.Context, cmd *exec.Cmd, stdout io.ReadCloser, stdin io.WriteCloser, payload []byte) error {
	r.mu.Lock()
	r.cmd = cmd
	r.stdout = stdout
	r.stdin = stdin
	r.running = true
	token := r.gen
	preserve := r.preserve
	r.mu.Unlock()

	run := &activeRun{
		id:      uuid.New().String(),
		token:   token,
		cmd:     cmd,
		stdout:  stdout,
		stdin:   stdin,
		payload: payload,
		conv:    charset.NewConverter(charset.Candidates()...),
		split:   &splitter{preserve: preserve},
		buf:     make([]byte, r.chunkSize),
	}
	run.stop = context.AfterFunc(ctx, func() { r.cancelRun(token) })

	ev := r.log.Debug().Str("run_id", run.id)
	if cmd != nil && cmd.Process != nil {
		ev = ev.Str("cmd", cmd.Path).Int("pid", cmd.Process.Pid)
	}
	ev.Msg("run started")

	r.emit(token, BeginLoading{})

	if r.policy == Synchronous {
		return r.runSync(run)
	}
	go r.runAsync(run)
	return nil
}

// runSync drives the whole run on the calling goroutine.
func (r *Runner) runSync(run *activeRun) error {
	defer run.stop()

	if run.payload != nil {
		if _, err := run.stdin.Write(run.payload); err != nil {
			if _, ok := r.complete(run, true); !ok {
				return ErrCancelled
			}
			return &RunError{Kind: IOFailure, Err: fmt.Errorf("write stdin: %w", err)}
		}
		run.stdin.Close()
	}

	for {
		n, err := io.ReadFull(run.stdout, run.buf)
		if n > 0 {
			if !r.emitChunk(run, run.buf[:n]) {
				return ErrCancelled
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			if _, ok := r.complete(run, true); !ok {
				return ErrCancelled
			}
			return &RunError{Kind: IOFailure, Err: fmt.Errorf("read stdout: %w", err)}
		}
	}

	if !r.emitTail(run) {
		return ErrCancelled
	}

	status, ok := r.complete(run, false)
	if !ok {
		return ErrCancelled
	}
	if status != 0 {
		return &RunError{Kind: ExitFailure, Status: status}
	}
	return nil
}

// runAsync drives the run on its own goroutine; events are the only surface.
// At most one read is in flight at any instant and all callbacks are
// dispatched sequentially from here.
func (r *Runner) runAsync(run *activeRun) {
	defer run.stop()

	if run.payload != nil {
		if _, err := run.stdin.Write(run.payload); err != nil {
			r.complete(run, true)
			return
		}
		run.stdin.Close()
	}

	for {
		n, err := run.stdout.Read(run.buf)
		if n > 0 {
			if !r.emitChunk(run, run.buf[:n]) {
				// Cancelled; Cancel owns the teardown.
				return
			}
		}
		if err == io.EOF {
			if !r.emitTail(run) {
				return
			}
			r.complete(run, false)
			return
		}
		if err != nil {
			r.complete(run, true)
			return
		}
	}
}

// emitChunk decodes one raw chunk, extracts its lines, and publishes the
// batch. It returns false when the run's token has gone stale.
func (r *Runner) emitChunk(run *activeRun, p []byte) bool {
	lines := run.split.split(run.conv.Decode(p))
	return r.emit(run.token, Update{Lines: lines})
}

// emitTail flushes the decoder and the carried remainder at end of stream.
// Whatever comes out is the last content delivered before EndLoading.
func (r *Runner) emitTail(run *activeRun) bool {
	var lines []string
	if tail := run.conv.Flush(); tail != "" {
		lines = run.split.split(tail)
	}
	if line, ok := run.split.flush(); ok {
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return r.tokenValid(run.token)
	}
	return r.emit(run.token, Update{Lines: lines})
}

// emit dispatches ev unless the token has gone stale. Holding dispatchMu
// across check and dispatch guarantees that once Cancel has returned, no
// further event from the cancelled run is observed.
func (r *Runner) emit(token uint64, ev Event) bool {
	r.dispatchMu.Lock()
	r.dispatchOwner.Store(goroutineID())
	defer func() {
		r.dispatchOwner.Store(0)
		r.dispatchMu.Unlock()
	}()
	if !r.tokenValid(token) {
		return false
	}
	r.events.dispatch(ev)
	return true
}

// dispatch delivers ev under the dispatch lock, without a token check.
// Used for terminal events whose run state has already been torn down.
func (r *Runner) dispatch(ev Event) {
	r.dispatchMu.Lock()
	r.dispatchOwner.Store(goroutineID())
	r.events.dispatch(ev)
	r.dispatchOwner.Store(0)
	r.dispatchMu.Unlock()
}

// goroutineID returns the runtime id of the calling goroutine, taken from
// the first line of its stack trace.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

func (r *Runner) tokenValid(token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == token
}

// complete finishes the run identified by run.token: it invalidates the
// token, releases the streams, reaps the child, records the exit status,
// and emits the terminal EndLoading. It reports false when the run was
// already torn down by Cancel or superseded by a newer run.
func (r *Runner) complete(run *activeRun, failed bool) (int, bool) {
	r.mu.Lock()
	if r.gen != run.token {
		r.mu.Unlock()
		return 0, false
	}
	r.gen++
	r.cmd = nil
	r.stdout = nil
	r.stdin = nil
	r.running = false
	r.mu.Unlock()

	run.stdout.Close()
	if run.stdin != nil {
		run.stdin.Close()
	}

	status := 0
	if failed {
		status = 1
		if run.cmd != nil {
			// Reap without blocking; the child is expected to exit once
			// its pipes are gone.
			go func(cmd *exec.Cmd) { _ = cmd.Wait() }(run.cmd)
		}
	} else if run.cmd != nil {
		status = waitStatus(run.cmd.Wait())
	}

	r.mu.Lock()
	r.exitStatus = status
	r.mu.Unlock()

	r.dispatch(EndLoading{Failed: failed})

	r.log.Debug().Str("run_id", run.id).Int("status", status).Bool("failed", failed).Msg("run finished")
	return status, true
}

// Cancel aborts the active run: the child receives SIGTERM and is reaped in
// the background, pending I/O results are discarded, and a single EndLoading
// with Failed true is emitted. Cancelling an idle Runner is a no-op, so
// Cancel is idempotent.
func (r *Runner) Cancel() {
	r.mu.Lock()
	token := r.gen
	r.mu.Unlock()
	r.cancelRun(token)
}

// Close cancels any active run and releases the Runner's resources.
func (r *Runner) Close() error {
	r.Cancel()
	return nil
}

func (r *Runner) cancelRun(token uint64) {
	r.mu.Lock()
	if !r.running || r.gen != token {
		r.mu.Unlock()
		return
	}
	r.gen++
	cmd := r.cmd
	stdout := r.stdout
	stdin := r.stdin
	r.cmd = nil
	r.stdout = nil
	r.stdin = nil
	r.running = false
	r.exitStatus = 1
	r.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		// The watch must never block the caller.
		go func() { _ = cmd.Wait() }()
	}
	if stdout != nil {
		stdout.Close()
	}
	if stdin != nil {
		stdin.Close()
	}

	if r.dispatchOwner.Load() == goroutineID() {
		// Cancelled from inside a subscriber callback; this goroutine
		// already holds the dispatch lock.
		r.events.dispatch(EndLoading{Failed: true})
	} else {
		r.dispatch(EndLoading{Failed: true})
	}

	r.log.Debug().Msg("run cancelled")
}

func waitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return 1
}

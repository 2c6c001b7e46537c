package runner

import "sync"

// Event is a notification emitted by a Runner during a run.
type Event interface {
	event()
}

// BeginLoading fires once per run, after the child process has been spawned
// and before any output byte is processed.
type BeginLoading struct{}

// Update carries the complete lines produced by one decoded chunk, in stream
// order. A chunk that ends mid-line may produce an empty batch.
type Update struct {
	Lines []string
}

// EndLoading fires exactly once per run and is always the last event.
// Failed is true when the run ended through cancellation or an I/O error;
// a clean end of stream reports false regardless of the child's exit code.
type EndLoading struct {
	Failed bool
}

func (BeginLoading) event() {}
func (Update) event()       {}
func (EndLoading) event()   {}

// Subscriber is a callback invoked for every event a Runner emits.
type Subscriber func(Event)

// events dispatches runner events to subscribers inline, on the goroutine
// driving the run. Subscribers therefore never run concurrently with one
// another, but they must not call back into the owning Runner.
type events struct {
	mu   sync.Mutex
	subs []Subscriber
}

func (e *events) subscribe(fn Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

func (e *events) dispatch(ev Event) {
	e.mu.Lock()
	subs := make([]Subscriber, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

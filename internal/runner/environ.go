package runner

// envBuilder assembles the environment handed to spawned children.
//
// A nil override list means the child inherits the caller's environment
// unmodified. The first incremental Add snapshots the full environment from
// the configured source before appending, matching what a caller would see if
// it had listed the environment itself at that moment.
type envBuilder struct {
	// source lists the current process environment as "key=value" pairs.
	// Injected so tests can run against a scripted environment.
	source func() []string

	vars []string
}

func (b *envBuilder) set(vars []string) {
	if vars == nil {
		b.vars = nil
		return
	}
	// An empty non-nil list is meaningful: it gives the child an empty
	// environment rather than the inherited one.
	b.vars = make([]string, len(vars))
	copy(b.vars, vars)
}

// add appends key=value to the override list, snapshotting the source
// environment first if no override list exists yet. Duplicate keys are kept
// in append order; the OS resolves them with the last occurrence winning.
func (b *envBuilder) add(key, value string) {
	if b.vars == nil {
		b.vars = append([]string(nil), b.source()...)
	}
	b.vars = append(b.vars, key+"="+value)
}

func (b *envBuilder) environ() []string {
	if b.vars == nil {
		return nil
	}
	out := make([]string, len(b.vars))
	copy(out, b.vars)
	return out
}

package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvents_dispatches_to_all_subscribers_in_order(t *testing.T) {
	var e events

	var first, second []Event
	e.subscribe(func(ev Event) { first = append(first, ev) })
	e.subscribe(func(ev Event) { second = append(second, ev) })

	e.dispatch(BeginLoading{})
	e.dispatch(Update{Lines: []string{"a"}})
	e.dispatch(EndLoading{Failed: true})

	want := []Event{BeginLoading{}, Update{Lines: []string{"a"}}, EndLoading{Failed: true}}
	assert.Equal(t, want, first)
	assert.Equal(t, want, second)
}

func TestEvents_dispatch_without_subscribers(t *testing.T) {
	var e events
	assert.NotPanics(t, func() { e.dispatch(Update{}) })
}

func TestEvents_subscribe_during_run_sees_later_events(t *testing.T) {
	var e events

	var late []Event
	e.dispatch(BeginLoading{})
	e.subscribe(func(ev Event) { late = append(late, ev) })
	e.dispatch(EndLoading{})

	assert.Equal(t, []Event{EndLoading{}}, late)
}

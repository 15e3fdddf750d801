package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(Event) {}

func TestMatcherMatches(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		event    string
		want     bool
	}{
		{name: "exact", patterns: []string{"a::b"}, event: "a::b", want: true},
		{name: "no handlers", patterns: nil, event: "a::b", want: false},
		{name: "leading wildcard", patterns: []string{"*::hello"}, event: "server::hello", want: true},
		{name: "trailing wildcard", patterns: []string{"user::*"}, event: "user::created", want: true},
		{name: "wildcard is one segment", patterns: []string{"user::*"}, event: "user::a::b", want: false},
		{name: "prefix only", patterns: []string{"a::b::c"}, event: "a::b", want: false},
		{name: "longer event", patterns: []string{"a::b"}, event: "a::b::c", want: false},
		{name: "wildcard when concrete branch dead ends", patterns: []string{"*::b", "a::c"}, event: "a::b", want: true},
		{name: "wildcard in event", patterns: []string{"x::hello"}, event: "*::hello", want: true},
		{name: "reserved namespace matches like any other", patterns: []string{"hook::ready"}, event: "hook::ready", want: true},
		{name: "single segment", patterns: []string{"ping"}, event: "ping", want: true},
		{name: "different single segment", patterns: []string{"ping"}, event: "pong", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher()
			for _, p := range tt.patterns {
				m.On(p, noop)
			}
			assert.Equal(t, tt.want, m.Matches(tt.event))
		})
	}
}

func TestMatcherMatchesRemote(t *testing.T) {
	m := NewMatcher()
	m.On("*::hello", noop)
	m.On("server::only", noop)

	assert.True(t, m.MatchesRemote("client-1::hello"))
	assert.True(t, m.MatchesRemote("anything::only"))
	assert.False(t, m.MatchesRemote("client-1::bye"))
	assert.False(t, m.MatchesRemote("hello"))
}

func TestMatcherDispatchOrder(t *testing.T) {
	m := NewMatcher()
	var order []string

	m.On("a::*", func(Event) { order = append(order, "first") })
	m.On("*::b", func(Event) { order = append(order, "second") })
	m.On("a::b", func(Event) { order = append(order, "third") })
	m.On("a::b", func(Event) { order = append(order, "fourth") })
	m.On("a::c", func(Event) { order = append(order, "never") })

	ran := m.Dispatch(Event{Name: "a::b"})

	assert.Equal(t, 4, ran)
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, order)
}

func TestMatcherDispatchPassesPayloadAndReply(t *testing.T) {
	m := NewMatcher()
	m.On("*::hello", func(e Event) {
		e.Reply(nil, e.Payload)
	})

	var got any
	calls := 0
	m.Dispatch(Event{
		Name:    "server::hello",
		Payload: "data1",
		Reply: OnceReply(func(err error, result any) {
			calls++
			got = result
		}),
	})

	assert.Equal(t, "data1", got)
	assert.Equal(t, 1, calls)
}

func TestMatcherDispatchWithoutReply(t *testing.T) {
	m := NewMatcher()
	sawReply := true
	m.On("x", func(e Event) {
		sawReply = e.Reply != nil
	})
	assert.Equal(t, 1, m.Dispatch(Event{Name: "x"}))
	assert.False(t, sawReply)
}

func TestOnceReply(t *testing.T) {
	assert.Nil(t, OnceReply(nil))

	var errs []error
	r := OnceReply(func(err error, result any) { errs = append(errs, err) })
	r(errors.New("first"), nil)
	r(errors.New("second"), nil)
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "first")
}

func TestMatcherOff(t *testing.T) {
	m := NewMatcher()
	count := 0
	off := m.On("a::b", func(Event) { count++ })

	m.Dispatch(Event{Name: "a::b"})
	off()
	off()
	m.Dispatch(Event{Name: "a::b"})

	assert.Equal(t, 1, count)
	assert.False(t, m.Matches("a::b"))
	assert.Equal(t, 0, m.Len())
}

func TestMatcherOffKeepsSiblings(t *testing.T) {
	m := NewMatcher()
	off := m.On("a::b", noop)
	m.On("a::b", noop)
	m.On("a::c", noop)

	off()

	assert.True(t, m.Matches("a::b"))
	assert.True(t, m.Matches("a::c"))
	assert.Equal(t, 2, m.Len())
}

func TestMatcherOnce(t *testing.T) {
	m := NewMatcher()
	count := 0
	m.Once("hook::ready", func(Event) { count++ })

	m.Dispatch(Event{Name: "hook::ready"})
	m.Dispatch(Event{Name: "hook::ready"})

	assert.Equal(t, 1, count)
	assert.False(t, m.Matches("hook::ready"))
}

func TestMatcherHandlerMayUnregisterItself(t *testing.T) {
	m := NewMatcher()
	count := 0
	var off func()
	off = m.On("client::connected", func(Event) {
		count++
		if count == 2 {
			off()
		}
	})

	for i := 0; i < 4; i++ {
		m.Dispatch(Event{Name: "client::connected"})
	}
	assert.Equal(t, 2, count)
}

func TestMatcherPatterns(t *testing.T) {
	m := NewMatcher()
	m.On("*::getEvents", noop)
	m.On("hookDetails", noop)
	m.On("hookDetails", noop)
	m.On("a::b::c", noop)

	assert.Equal(t, []string{"*::getEvents", "a::b::c", "hookDetails"}, m.Patterns())
	assert.Equal(t, 4, m.Len())
}

func TestEventDecode(t *testing.T) {
	e := Event{Name: "x", Payload: map[string]any{"name": "server", "port": float64(5000)}}

	var out struct {
		Name string `json:"name"`
		Port int    `json:"port"`
	}
	require.NoError(t, e.Decode(&out))
	assert.Equal(t, "server", out.Name)
	assert.Equal(t, 5000, out.Port)

	assert.Error(t, Event{Name: "empty"}.Decode(&out))
}

func TestNameHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Split("a::b"))
	assert.Equal(t, "a::b::c", Join("a", "b", "c"))
	assert.Equal(t, "server", Head("server::hello"))
	assert.Equal(t, "ping", Head("ping"))

	for _, name := range []string{"hook::ready", "connection::end", "children::ready", "error::bind", "client::connected"} {
		assert.True(t, IsReserved(name), name)
	}
	assert.False(t, IsReserved("child::start"))
	assert.False(t, IsReserved("server::hook"))
}

func TestMatch(t *testing.T) {
	assert.True(t, Match("a::*", "a::b"))
	assert.True(t, Match("*::*", "a::b"))
	assert.True(t, Match("a::b", "*::b"))
	assert.False(t, Match("a::*", "a::b::c"))
	assert.False(t, Match("a::c", "a::b"))
}

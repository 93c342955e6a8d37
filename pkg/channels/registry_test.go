package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinLeaveRoundTrip(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Join(`^sensor\.`, func(event string, msg any) {}))
	assert.Equal(t, 1, r.Len())

	r.Leave(`^sensor\.`)
	assert.Equal(t, 0, r.Len())

	// Leaving again is a no-op.
	r.Leave(`^sensor\.`)
	assert.Equal(t, 0, r.Len())
}

func TestJoinReplacesSamePattern(t *testing.T) {
	r := NewRegistry()
	first, second := 0, 0
	require.NoError(t, r.Join("sensor", func(event string, msg any) { first++ }))
	require.NoError(t, r.Join("sensor", func(event string, msg any) { second++ }))
	assert.Equal(t, 1, r.Len())

	r.Dispatch("sensor.temp", nil)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestJoinInvalidPattern(t *testing.T) {
	r := NewRegistry()
	err := r.Join("(", func(event string, msg any) {})
	require.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestDispatchMatchesAnywhere(t *testing.T) {
	r := NewRegistry()
	var got []string
	require.NoError(t, r.Join(`^sensor\.`, func(event string, msg any) {
		got = append(got, event)
	}))

	r.Dispatch("sensor.temp", nil)
	r.Dispatch("log.info", nil)
	// Anchoring is the subscriber's choice; unanchored patterns match inside
	// the event string.
	require.NoError(t, r.Join("temp", func(event string, msg any) {
		got = append(got, "sub:"+event)
	}))
	r.Dispatch("room.temp.low", nil)

	assert.Equal(t, []string{"sensor.temp", "sub:room.temp.low"}, got)
}

func TestDispatchDeliversMessage(t *testing.T) {
	r := NewRegistry()
	payload := map[string]int{"x": 1}
	var seen any
	require.NoError(t, r.Join("evt", func(event string, msg any) { seen = msg }))
	r.Dispatch("evt", payload)
	assert.Equal(t, payload, seen)
}

func TestDispatchMultipleBindings(t *testing.T) {
	r := NewRegistry()
	count := 0
	require.NoError(t, r.Join("^sensor", func(event string, msg any) { count++ }))
	require.NoError(t, r.Join(`\.temp$`, func(event string, msg any) { count++ }))
	r.Dispatch("sensor.temp", nil)
	assert.Equal(t, 2, count)
}

package discover

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	defer d.Release()

	for name, want := range map[string]any{
		"helloInterval":   1000,
		"checkInterval":   2000,
		"nodeTimeout":     2000,
		"masterTimeout":   2000,
		"address":         "0.0.0.0",
		"port":            uint16(12345),
		"broadcast":       "255.255.255.255",
		"multicast":       "",
		"multicastTTL":    uint8(1),
		"unicast":         "",
		"key":             "",
		"mastersRequired": 1,
		"client":          false,
		"reuseAddr":       true,
		"ignoreProcess":   true,
		"ignoreInstance":  true,
	} {
		got, ok := d.Option(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	assert.NotEqual(t, d.PID(), d.IID())
	assert.True(t, d.IsMasterEligible())
	assert.False(t, d.IsMaster())
}

func TestDefaultWeightRange(t *testing.T) {
	for _, sec := range []int64{1, 999, 1700000000, 9999999999} {
		w := defaultWeight(time.Unix(sec, 0))
		assert.Greater(t, w, -1.0, "seconds=%d", sec)
		assert.Less(t, w, 0.0, "seconds=%d", sec)
	}
}

func TestSetOptionRoundTrip(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	defer d.Release()

	writes := map[string]any{
		"helloInterval":   500,
		"address":         "127.0.0.1",
		"port":            23456,
		"broadcast":       "192.168.1.255",
		"multicast":       "239.1.2.3",
		"multicastTTL":    4,
		"unicast":         "10.0.0.1,10.0.0.2",
		"key":             "secret",
		"mastersRequired": 2,
		"weight":          3.5,
		"client":          true,
		"reuseAddr":       false,
		"ignoreProcess":   false,
		"ignoreInstance":  false,
		"hostname":        "override",
	}
	for name, value := range writes {
		require.NoError(t, d.SetOption(name, value), name)
	}

	reads := map[string]any{
		"helloInterval":   500,
		"address":         "127.0.0.1",
		"port":            uint16(23456),
		"broadcast":       "192.168.1.255",
		"multicast":       "239.1.2.3",
		"multicastTTL":    uint8(4),
		"unicast":         "10.0.0.1,10.0.0.2",
		"key":             "secret",
		"mastersRequired": 2,
		"weight":          3.5,
		"client":          true,
		"reuseAddr":       false,
		"ignoreProcess":   false,
		"ignoreInstance":  false,
		"hostname":        "override",
	}
	for name, want := range reads {
		got, ok := d.Option(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
}

func TestSetOptionIntervalOrdering(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	defer d.Release()

	// Defaults are check=2000, node=2000, master=2000.
	assert.Error(t, d.SetOption("checkInterval", 3000))
	assert.Error(t, d.SetOption("nodeTimeout", 1000))  // below checkInterval
	assert.Error(t, d.SetOption("nodeTimeout", 3000))  // above masterTimeout
	assert.Error(t, d.SetOption("masterTimeout", 500)) // below nodeTimeout

	// Raising from the top down is valid.
	require.NoError(t, d.SetOption("masterTimeout", 10000))
	require.NoError(t, d.SetOption("nodeTimeout", 5000))
	require.NoError(t, d.SetOption("checkInterval", 4000))

	// A rejected write leaves state unchanged.
	require.Error(t, d.SetOption("checkInterval", 6000))
	got, _ := d.Option("checkInterval")
	assert.Equal(t, 4000, got)
}

func TestSetOptionRejectsUnknownAndMistyped(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	defer d.Release()

	err = d.SetOption("nope", 1)
	assert.ErrorIs(t, err, ErrInvalidOption)

	assert.ErrorIs(t, d.SetOption("helloInterval", "fast"), ErrInvalidOption)
	assert.ErrorIs(t, d.SetOption("address", 42), ErrInvalidOption)
	assert.ErrorIs(t, d.SetOption("client", "yes"), ErrInvalidOption)
	assert.ErrorIs(t, d.SetOption("port", 70000), ErrInvalidOption)
	assert.ErrorIs(t, d.SetOption("multicastTTL", 300), ErrInvalidOption)
}

func TestAdvertisementOption(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	defer d.Release()

	adv := json.RawMessage(`{"name":"cache","port":8080}`)
	require.NoError(t, d.SetOption("advertisement", adv))
	got, ok := d.Option("advertisement")
	require.True(t, ok)
	assert.JSONEq(t, string(adv), string(got.(json.RawMessage)))

	require.NoError(t, d.SetOption("advertisement", nil))
	got, _ = d.Option("advertisement")
	assert.Nil(t, got.(json.RawMessage))
}

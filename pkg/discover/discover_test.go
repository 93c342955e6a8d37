package discover

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"godiscover/pkg/peers"
)

func newTestInstance(t *testing.T) *Instance {
	t.Helper()
	d, err := New()
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

func helloDatagram(t *testing.T, pid, iid, host string, data map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	buf, err := json.Marshal(Message{
		Event:    "hello",
		PID:      pid,
		IID:      iid,
		HostName: host,
		Data:     raw,
	})
	require.NoError(t, err)
	return buf
}

func baseHelloData() map[string]any {
	return map[string]any{
		"isMaster":         false,
		"isMasterEligible": true,
		"weight":           1.5,
		"address":          "10.1.1.1",
	}
}

func TestHandleHelloAddsPeer(t *testing.T) {
	d := newTestInstance(t)

	var order []string
	require.NoError(t, d.On("added", func(d *Instance, node *peers.Record) {
		order = append(order, "added")
	}))
	require.NoError(t, d.On("master", func(d *Instance, node *peers.Record) {
		order = append(order, "master")
	}))
	require.NoError(t, d.On("helloReceived", func(d *Instance, node *peers.Record) {
		order = append(order, "helloReceived")
	}))

	data := baseHelloData()
	data["isMaster"] = true
	data["advertisement"] = map[string]any{"svc": "cache"}
	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "peer-pid", "peer-iid", "peerhost", data))

	assert.Equal(t, []string{"added", "master", "helloReceived"}, order)

	rec, ok := d.table.Get("peer-pid", "peer-iid")
	require.True(t, ok)
	assert.Equal(t, "peerhost", rec.Hostname)
	assert.Equal(t, "192.0.2.7", rec.Address)
	assert.Equal(t, uint16(4444), rec.Port)
	assert.Equal(t, "10.1.1.1", rec.Data.Address)
	assert.True(t, rec.Data.IsMaster)
	assert.Equal(t, 1.5, rec.Data.Weight)
	assert.JSONEq(t, `{"svc":"cache"}`, string(rec.Data.Advertisement))
}

func TestHandleHelloMasterTransition(t *testing.T) {
	d := newTestInstance(t)

	masters := 0
	added := 0
	require.NoError(t, d.On("master", func(d *Instance, node *peers.Record) { masters++ }))
	require.NoError(t, d.On("added", func(d *Instance, node *peers.Record) { added++ }))

	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", baseHelloData()))
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, masters)

	// Same peer turns master: the master callback fires once.
	data := baseHelloData()
	data["isMaster"] = true
	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", data))
	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", data))
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, masters)
}

func TestHandleHelloRefreshesLastSeen(t *testing.T) {
	d := newTestInstance(t)

	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", baseHelloData()))
	rec1, ok := d.table.Get("p", "i")
	require.True(t, ok)

	time.Sleep(10 * time.Millisecond)
	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", baseHelloData()))
	rec2, _ := d.table.Get("p", "i")
	assert.False(t, rec2.LastSeen.Before(rec1.LastSeen))
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	d := newTestInstance(t)

	fired := 0
	require.NoError(t, d.On("added", func(d *Instance, node *peers.Record) { fired++ }))
	require.NoError(t, d.On("helloReceived", func(d *Instance, node *peers.Record) { fired++ }))

	send := func(raw string) { d.handleMessage("192.0.2.7", 4444, []byte(raw)) }

	send(`not json`)
	send(`{"event":"hello"}`)                                         // no pid/iid
	send(`{"event":"hello","pid":42,"iid":"i"}`)                      // pid not a string
	send(`{"pid":"p","iid":"i"}`)                                     // no event
	send(`{"event":"hello","pid":"p","iid":"i","hostName":"h"}`)      // no data
	send(`{"event":"hello","pid":"p","iid":"i","hostName":"h","data":[1]}`) // data not an object
	send(`{"event":"hello","pid":"p","iid":"i","data":{"isMaster":false,"isMasterEligible":true,"weight":1,"address":"a"}}`) // no hostName

	// Every required data field must be present.
	for _, missing := range []string{"isMaster", "isMasterEligible", "weight", "address"} {
		data := baseHelloData()
		delete(data, missing)
		d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", data))
	}

	assert.Equal(t, 0, fired)
	assert.Equal(t, 0, d.table.Len())

	// The next well-formed hello is still processed.
	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", baseHelloData()))
	assert.Equal(t, 2, fired)
	assert.Equal(t, 1, d.table.Len())
}

func TestHandleMessageIgnoresSelf(t *testing.T) {
	d := newTestInstance(t)

	added := 0
	require.NoError(t, d.On("added", func(d *Instance, node *peers.Record) { added++ }))

	// Same process UUID is dropped by default.
	d.handleMessage("127.0.0.1", 4444, helloDatagram(t, d.PID(), "other-iid", "h", baseHelloData()))
	// Same instance UUID is dropped by default.
	d.handleMessage("127.0.0.1", 4444, helloDatagram(t, "other-pid", d.IID(), "h", baseHelloData()))
	assert.Equal(t, 0, added)

	// With ignoreProcess disabled, a sibling instance in this process is
	// discovered like any other peer.
	require.NoError(t, d.SetOption("ignoreProcess", false))
	d.handleMessage("127.0.0.1", 4444, helloDatagram(t, d.PID(), "other-iid", "h", baseHelloData()))
	assert.Equal(t, 1, added)
}

func TestChannelDispatch(t *testing.T) {
	d := newTestInstance(t)

	var events []string
	var last *Message
	require.NoError(t, d.Join(`^sensor\.`, func(d *Instance, event string, msg *Message) {
		events = append(events, event)
		last = msg
	}))

	emit := func(event string, data string) {
		buf, err := json.Marshal(map[string]any{
			"event":    event,
			"pid":      "p",
			"iid":      "i",
			"hostName": "h",
			"data":     json.RawMessage(data),
		})
		require.NoError(t, err)
		d.handleMessage("192.0.2.7", 4444, buf)
	}

	emit("sensor.temp", `{"celsius":21}`)
	emit("log.info", `{"msg":"ignored"}`)

	require.Equal(t, []string{"sensor.temp"}, events)
	require.NotNil(t, last)
	assert.Equal(t, "sensor.temp", last.Event)
	assert.Equal(t, "p", last.PID)
	assert.Equal(t, "i", last.IID)
	assert.JSONEq(t, `{"celsius":21}`, string(last.Data))

	// Leave makes the registry indistinguishable from before the join.
	require.NoError(t, d.Leave(`^sensor\.`))
	emit("sensor.temp", `{}`)
	assert.Equal(t, []string{"sensor.temp"}, events)
}

func TestReservedHelloNeverReachesChannels(t *testing.T) {
	d := newTestInstance(t)

	channel := 0
	added := 0
	require.NoError(t, d.Join("hello", func(d *Instance, event string, msg *Message) { channel++ }))
	require.NoError(t, d.On("added", func(d *Instance, node *peers.Record) { added++ }))

	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", baseHelloData()))
	assert.Equal(t, 0, channel)
	assert.Equal(t, 1, added)
}

func TestAdvertisementRoundTrip(t *testing.T) {
	d := newTestInstance(t)

	adv := json.RawMessage(`{"name":"cache","tags":["a","b"],"n":1.25,"ok":true,"nul":null}`)
	payload := helloPayload{
		IsMaster:         false,
		IsMasterEligible: true,
		Weight:           2,
		Address:          "0.0.0.0",
		Advertisement:    adv,
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	buf, err := json.Marshal(Message{Event: "hello", PID: "p", IID: "i", HostName: "h", Data: raw})
	require.NoError(t, err)

	d.handleMessage("192.0.2.7", 4444, buf)
	rec, ok := d.table.Get("p", "i")
	require.True(t, ok)
	assert.JSONEq(t, string(adv), string(rec.Data.Advertisement))
}

func TestElectionPromotion(t *testing.T) {
	d := newTestInstance(t)

	promotions := 0
	checks := 0
	require.NoError(t, d.On("promotion", func(d *Instance) { promotions++ }))
	require.NoError(t, d.On("check", func(d *Instance) { checks++ }))

	// Alone, eligible, mastersRequired=1: promote on the first pass.
	d.runCheck(time.Now())
	assert.True(t, d.IsMaster())
	assert.Equal(t, 1, promotions)
	assert.Equal(t, 1, checks)

	// Already master: no second promotion.
	d.runCheck(time.Now())
	assert.Equal(t, 1, promotions)
	assert.Equal(t, 2, checks)
}

func TestElectionBlockedByEligibleHigherWeight(t *testing.T) {
	d := newTestInstance(t)
	require.NoError(t, d.SetOption("weight", 1.0))

	data := baseHelloData()
	data["weight"] = 5.0
	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", data))

	d.runCheck(time.Now())
	assert.False(t, d.IsMaster())
}

func TestElectionDemotion(t *testing.T) {
	d := newTestInstance(t)
	require.NoError(t, d.SetOption("weight", 1.0))
	require.NoError(t, d.Promote())

	demotions := 0
	require.NoError(t, d.On("demotion", func(d *Instance) { demotions++ }))

	// An equal-weight master is not dominant: stay master.
	data := baseHelloData()
	data["isMaster"] = true
	data["weight"] = 1.0
	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", data))
	d.runCheck(time.Now())
	assert.True(t, d.IsMaster())
	assert.Equal(t, 0, demotions)

	// A strictly heavier master forces a demotion.
	data["weight"] = 2.0
	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", data))
	d.runCheck(time.Now())
	assert.False(t, d.IsMaster())
	assert.Equal(t, 1, demotions)

	// A freshly demoted instance does not promote on the same pass; with the
	// heavier master still present it stays demoted on the next one too.
	d.runCheck(time.Now())
	assert.False(t, d.IsMaster())
}

func TestElectionMastersRequired(t *testing.T) {
	d := newTestInstance(t)
	require.NoError(t, d.SetOption("weight", 1.0))
	require.NoError(t, d.SetOption("mastersRequired", 2))
	require.NoError(t, d.Promote())

	// One heavier master is not enough to demote when two are required.
	data := baseHelloData()
	data["isMaster"] = true
	data["weight"] = 2.0
	data["isMasterEligible"] = true
	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", data))
	d.runCheck(time.Now())
	assert.True(t, d.IsMaster())
}

func TestElectionMastersRequiredZeroNeverPromotes(t *testing.T) {
	d := newTestInstance(t)
	require.NoError(t, d.SetOption("mastersRequired", 0))

	d.runCheck(time.Now())
	d.runCheck(time.Now())
	assert.False(t, d.IsMaster())
}

func TestDemotePermanent(t *testing.T) {
	d := newTestInstance(t)

	require.NoError(t, d.Demote(true))
	assert.False(t, d.IsMasterEligible())

	for i := 0; i < 3; i++ {
		d.runCheck(time.Now())
	}
	assert.False(t, d.IsMaster())

	// An explicit promote restores both flags.
	require.NoError(t, d.Promote())
	assert.True(t, d.IsMaster())
	assert.True(t, d.IsMasterEligible())

	// A non-permanent demote keeps eligibility; the check loop may promote
	// again.
	require.NoError(t, d.Demote(false))
	assert.True(t, d.IsMasterEligible())
	d.runCheck(time.Now())
	assert.True(t, d.IsMaster())
}

func TestRemovedCallback(t *testing.T) {
	d := newTestInstance(t)

	var removed []string
	require.NoError(t, d.On("removed", func(d *Instance, node *peers.Record) {
		removed = append(removed, node.IID)
	}))

	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", baseHelloData()))
	require.Equal(t, 1, d.table.Len())

	// Far enough in the future, the peer ages out.
	d.runCheck(time.Now().Add(time.Minute))
	assert.Equal(t, []string{"i"}, removed)
	assert.Equal(t, 0, d.table.Len())
}

func TestReleasedOperations(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	d.Release()
	d.Release() // idempotent

	assert.ErrorIs(t, d.SetOption("helloInterval", 100), ErrReleased)
	assert.ErrorIs(t, d.Start(), ErrReleased)
	assert.ErrorIs(t, d.On("check", func(d *Instance) {}), ErrReleased)
	assert.ErrorIs(t, d.Advertise(json.RawMessage(`{}`)), ErrReleased)
	assert.ErrorIs(t, d.Promote(), ErrReleased)
	assert.ErrorIs(t, d.Demote(false), ErrReleased)
	assert.ErrorIs(t, d.Join("x", func(d *Instance, event string, msg *Message) {}), ErrReleased)
	assert.ErrorIs(t, d.Leave("x"), ErrReleased)
	assert.ErrorIs(t, d.Send("x", nil), ErrReleased)
}

func TestOnRejectsUnknownTopicAndBadSignature(t *testing.T) {
	d := newTestInstance(t)

	assert.ErrorIs(t, d.On("nope", func(d *Instance) {}), ErrUnknownTopic)
	assert.ErrorIs(t, d.On("added", func(d *Instance) {}), ErrInvalidCallback)
	assert.ErrorIs(t, d.On("promotion", func(d *Instance, node *peers.Record) {}), ErrInvalidCallback)
	assert.ErrorIs(t, d.On("error", 42), ErrInvalidCallback)
}

// TestStartLoopback exercises the full stack against a real socket: the
// instance hears its own hellos on loopback and must ignore every one of
// them, while the check loop still promotes it.
func TestStartLoopback(t *testing.T) {
	d := newTestInstance(t)

	port := freePort(t)
	require.NoError(t, d.SetOption("address", "127.0.0.1"))
	require.NoError(t, d.SetOption("port", port))
	require.NoError(t, d.SetOption("unicast", "127.0.0.1"))
	require.NoError(t, d.SetOption("helloInterval", 50))
	require.NoError(t, d.SetOption("checkInterval", 100))

	added := make(chan struct{}, 1)
	received := make(chan struct{}, 1)
	promoted := make(chan struct{}, 1)
	emitted := make(chan struct{}, 1)
	require.NoError(t, d.On("added", func(d *Instance, node *peers.Record) {
		select {
		case added <- struct{}{}:
		default:
		}
	}))
	require.NoError(t, d.On("helloReceived", func(d *Instance, node *peers.Record) {
		select {
		case received <- struct{}{}:
		default:
		}
	}))
	require.NoError(t, d.On("promotion", func(d *Instance) {
		select {
		case promoted <- struct{}{}:
		default:
		}
	}))
	require.NoError(t, d.On("helloEmitted", func(d *Instance) {
		select {
		case emitted <- struct{}{}:
		default:
		}
	}))

	require.NoError(t, d.Start())
	assert.ErrorIs(t, d.Start(), ErrAlreadyStarted)

	select {
	case <-promoted:
	case <-time.After(3 * time.Second):
		t.Fatal("promotion did not fire")
	}
	select {
	case <-emitted:
	case <-time.After(3 * time.Second):
		t.Fatal("hello loop did not emit")
	}

	// Our own hellos must never surface as peer activity.
	select {
	case <-added:
		t.Fatal("added fired for the local instance")
	case <-received:
		t.Fatal("helloReceived fired for the local instance")
	case <-time.After(300 * time.Millisecond):
	}
	assert.True(t, d.IsMaster())
}

func freePort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, pc.Close())
	return port
}

func TestClientModeDoesNotAnnounce(t *testing.T) {
	d := newTestInstance(t)

	port := freePort(t)
	require.NoError(t, d.SetOption("address", "127.0.0.1"))
	require.NoError(t, d.SetOption("port", port))
	require.NoError(t, d.SetOption("unicast", "127.0.0.1"))
	require.NoError(t, d.SetOption("helloInterval", 50))
	require.NoError(t, d.SetOption("client", true))

	emitted := 0
	require.NoError(t, d.On("helloEmitted", func(d *Instance) { emitted++ }))
	require.NoError(t, d.Start())

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, emitted)

	// Inbound peers are still discovered in client mode.
	addedCh := make(chan string, 1)
	require.NoError(t, d.On("added", func(d *Instance, node *peers.Record) {
		select {
		case addedCh <- node.IID:
		default:
		}
	}))
	d.handleMessage("192.0.2.7", 4444, helloDatagram(t, "p", "i", "h", baseHelloData()))
	select {
	case iid := <-addedCh:
		assert.Equal(t, "i", iid)
	case <-time.After(time.Second):
		t.Fatal("added did not fire in client mode")
	}
}

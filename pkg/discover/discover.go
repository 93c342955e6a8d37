// Package discover implements decentralized peer discovery and weighted
// master election over UDP. Instances periodically announce themselves with
// "hello" datagrams, track the peers they hear, elect masters purely from
// observed state, and exchange named application events through regex-keyed
// channel subscriptions. The wire format is one JSON object per datagram and
// interoperates with the pre-existing node-discover implementations.
package discover

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"godiscover/pkg/channels"
	"godiscover/pkg/peers"
	"godiscover/pkg/transport"
)

var (
	// ErrReleased is returned by every operation issued after Release.
	ErrReleased = errors.New("discover: instance released")
	// ErrInvalidOption is returned when an option write names an unknown
	// option, carries the wrong type, or violates the interval ordering.
	ErrInvalidOption = errors.New("discover: invalid option")
	// ErrUnknownTopic is returned by On for a topic outside the nine
	// callback kinds.
	ErrUnknownTopic = errors.New("discover: unknown topic")
	// ErrInvalidCallback is returned by On when the callback signature does
	// not match the topic.
	ErrInvalidCallback = errors.New("discover: invalid callback")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("discover: already started")
)

// NodeFunc is invoked with the peer record concerned by a helloReceived,
// added, master or removed event. The record is only valid for the duration
// of the call.
type NodeFunc func(d *Instance, node *peers.Record)

// InstanceFunc is invoked for helloEmitted, promotion, demotion and check.
type InstanceFunc func(d *Instance)

// ErrorFunc is invoked for asynchronous transport failures.
type ErrorFunc func(d *Instance, err error)

// ChannelFunc handles one event received on a joined channel. msg is the
// full parsed datagram, including the sender identity.
type ChannelFunc func(d *Instance, event string, msg *Message)

// processID identifies the host process; every instance created in it
// shares this value.
var processID = uuid.New().String()

type callbacks struct {
	mu            sync.Mutex
	helloReceived NodeFunc
	helloEmitted  InstanceFunc
	promotion     InstanceFunc
	demotion      InstanceFunc
	check         InstanceFunc
	added         NodeFunc
	master        NodeFunc
	removed       NodeFunc
	err           ErrorFunc
}

// Instance is one discovery participant. It owns its transport, peer table
// and channel registry; all exported methods are safe for concurrent use.
type Instance struct {
	mu   sync.Mutex
	opts options

	pid              string
	iid              string
	isMaster         bool
	isMasterEligible bool

	sock     *transport.Sock
	table    *peers.Table
	registry *channels.Registry
	cb       callbacks

	done     chan struct{}
	wg       sync.WaitGroup
	started  bool
	released bool
}

// New creates an instance with default options, fresh v4 process and
// instance UUIDs and the OS hostname. The default election weight lies in
// (-1, 0) so explicit weights dominate.
func New() (*Instance, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("discover: unable to get hostname: %w", err)
	}
	d := &Instance{
		opts:             defaultOptions(hostname, time.Now()),
		pid:              processID,
		iid:              uuid.New().String(),
		isMasterEligible: true,
		sock:             transport.New(),
		table:            peers.NewTable(),
		registry:         channels.NewRegistry(),
		done:             make(chan struct{}),
	}
	d.sock.OnMessage(d.handleMessage)
	d.sock.OnError(func(err error) { d.fireError(err) })
	return d, nil
}

// PID returns the process UUID shared by instances of this process.
func (d *Instance) PID() string { return d.pid }

// IID returns the UUID unique to this instance.
func (d *Instance) IID() string { return d.iid }

// IsMaster reports whether the instance currently considers itself master.
func (d *Instance) IsMaster() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isMaster
}

// IsMasterEligible reports whether the instance may promote itself.
func (d *Instance) IsMasterEligible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isMasterEligible
}

// Peers returns a snapshot of the tracked peer records.
func (d *Instance) Peers() []peers.Record {
	return d.table.List()
}

// Start binds the transport and launches the periodic loops. The routing
// mode follows the configured options: a unicast list beats a multicast
// group, which beats broadcast. In client mode the hello loop is skipped and
// the instance only listens.
func (d *Instance) Start() error {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return ErrReleased
	}
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	opts := d.opts
	d.started = true
	d.mu.Unlock()

	var err error
	switch {
	case opts.hasUnicast:
		err = d.sock.BindUnicast(opts.address, opts.port, opts.reuseAddr, opts.unicast)
	case opts.multicast != "":
		err = d.sock.BindMulticast(opts.address, opts.port, opts.reuseAddr, opts.multicast, opts.multicastTTL)
	default:
		err = d.sock.BindBroadcast(opts.address, opts.port, opts.reuseAddr, opts.broadcast)
	}
	if err != nil {
		d.mu.Lock()
		d.started = false
		d.mu.Unlock()
		return err
	}

	d.wg.Add(1)
	go d.checkLoop()
	if !opts.client {
		d.wg.Add(1)
		go d.helloLoop()
	}
	return nil
}

// On registers the callback for one of the nine topics: helloReceived,
// helloEmitted, promotion, demotion, check, added, master, removed, error.
// Registering a topic again replaces the previous callback.
func (d *Instance) On(topic string, fn any) error {
	d.mu.Lock()
	released := d.released
	d.mu.Unlock()
	if released {
		return ErrReleased
	}

	d.cb.mu.Lock()
	defer d.cb.mu.Unlock()
	switch topic {
	case "helloReceived":
		cb, ok := asNodeFunc(fn)
		if !ok {
			return callbackErr(topic)
		}
		d.cb.helloReceived = cb
	case "helloEmitted":
		cb, ok := asInstanceFunc(fn)
		if !ok {
			return callbackErr(topic)
		}
		d.cb.helloEmitted = cb
	case "promotion":
		cb, ok := asInstanceFunc(fn)
		if !ok {
			return callbackErr(topic)
		}
		d.cb.promotion = cb
	case "demotion":
		cb, ok := asInstanceFunc(fn)
		if !ok {
			return callbackErr(topic)
		}
		d.cb.demotion = cb
	case "check":
		cb, ok := asInstanceFunc(fn)
		if !ok {
			return callbackErr(topic)
		}
		d.cb.check = cb
	case "added":
		cb, ok := asNodeFunc(fn)
		if !ok {
			return callbackErr(topic)
		}
		d.cb.added = cb
	case "master":
		cb, ok := asNodeFunc(fn)
		if !ok {
			return callbackErr(topic)
		}
		d.cb.master = cb
	case "removed":
		cb, ok := asNodeFunc(fn)
		if !ok {
			return callbackErr(topic)
		}
		d.cb.removed = cb
	case "error":
		cb, ok := asErrorFunc(fn)
		if !ok {
			return callbackErr(topic)
		}
		d.cb.err = cb
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	return nil
}

func asNodeFunc(fn any) (NodeFunc, bool) {
	switch f := fn.(type) {
	case NodeFunc:
		return f, true
	case func(*Instance, *peers.Record):
		return f, true
	}
	return nil, false
}

func asInstanceFunc(fn any) (InstanceFunc, bool) {
	switch f := fn.(type) {
	case InstanceFunc:
		return f, true
	case func(*Instance):
		return f, true
	}
	return nil, false
}

func asErrorFunc(fn any) (ErrorFunc, bool) {
	switch f := fn.(type) {
	case ErrorFunc:
		return f, true
	case func(*Instance, error):
		return f, true
	}
	return nil, false
}

// Advertise replaces the advertisement attached to each hello. A nil value
// clears it.
func (d *Instance) Advertise(raw json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}
	if raw == nil {
		d.opts.advertisement = nil
		return nil
	}
	d.opts.advertisement = append(json.RawMessage(nil), raw...)
	return nil
}

// Promote marks the instance master and restores eligibility.
func (d *Instance) Promote() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}
	d.isMaster = true
	d.isMasterEligible = true
	return nil
}

// Demote clears the master flag. With permanent set, eligibility is cleared
// too and the check loop will not promote again until an explicit Promote.
func (d *Instance) Demote(permanent bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}
	d.isMaster = false
	if permanent {
		d.isMasterEligible = false
	}
	return nil
}

// Join subscribes fn to every inbound event matching the pattern. The
// pattern is an (RE2) regular expression matched anywhere in the literal
// event string of each datagram.
func (d *Instance) Join(event string, fn ChannelFunc) error {
	d.mu.Lock()
	released := d.released
	d.mu.Unlock()
	if released {
		return ErrReleased
	}
	return d.registry.Join(event, func(ev string, msg any) {
		m, _ := msg.(*Message)
		fn(d, ev, m)
	})
}

// Leave removes the subscription with this exact pattern string.
func (d *Instance) Leave(event string) error {
	d.mu.Lock()
	released := d.released
	d.mu.Unlock()
	if released {
		return ErrReleased
	}
	d.registry.Leave(event)
	return nil
}

// Send broadcasts one named event datagram carrying data, which may be any
// JSON-marshalable value or a pre-encoded json.RawMessage. Delivery is
// best-effort and at most once.
func (d *Instance) Send(event string, data any) error {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return ErrReleased
	}
	hostname := d.opts.hostname
	d.mu.Unlock()

	raw, err := marshalData(data)
	if err != nil {
		return fmt.Errorf("discover: unable to encode event data: %w", err)
	}
	buf, err := json.Marshal(Message{
		Event:    event,
		PID:      d.pid,
		IID:      d.iid,
		HostName: hostname,
		Data:     raw,
	})
	if err != nil {
		return fmt.Errorf("discover: unable to encode message: %w", err)
	}
	d.sock.Send(buf)
	return nil
}

// Release stops both loops, closes the transport and frees all peers and
// subscriptions. It is idempotent; every later operation returns
// ErrReleased.
func (d *Instance) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	close(d.done)
	d.mu.Unlock()

	d.sock.Release()
	d.wg.Wait()

	d.table = peers.NewTable()
	d.registry = channels.NewRegistry()
}

func (d *Instance) fireError(err error) {
	d.cb.mu.Lock()
	fn := d.cb.err
	d.cb.mu.Unlock()
	if fn != nil {
		fn(d, err)
	}
}

func callbackErr(topic string) error {
	return fmt.Errorf("%w for topic %q", ErrInvalidCallback, topic)
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

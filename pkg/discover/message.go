package discover

import (
	"encoding/json"
	"time"

	"godiscover/internal/telemetry"
	"godiscover/pkg/peers"
)

// Message is the wire envelope: one JSON object per UDP datagram, UTF-8
// text, no framing.
type Message struct {
	Event    string          `json:"event"`
	PID      string          `json:"pid"`
	IID      string          `json:"iid"`
	HostName string          `json:"hostName"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// wireMessage mirrors Message with pointer fields so missing and mistyped
// fields are told apart during validation.
type wireMessage struct {
	Event    *string         `json:"event"`
	PID      *string         `json:"pid"`
	IID      *string         `json:"iid"`
	HostName *string         `json:"hostName"`
	Data     json.RawMessage `json:"data"`
}

// helloData is the data block of an inbound hello. Advertisement is the only
// optional field.
type helloData struct {
	IsMaster         *bool           `json:"isMaster"`
	IsMasterEligible *bool           `json:"isMasterEligible"`
	Weight           *float64        `json:"weight"`
	Address          *string         `json:"address"`
	Advertisement    json.RawMessage `json:"advertisement"`
}

// helloPayload is the data block the hello loop emits.
type helloPayload struct {
	IsMaster         bool            `json:"isMaster"`
	IsMasterEligible bool            `json:"isMasterEligible"`
	Weight           float64         `json:"weight"`
	Address          string          `json:"address"`
	Advertisement    json.RawMessage `json:"advertisement,omitempty"`
}

// handleMessage parses one inbound datagram and routes it: hellos update the
// peer table and fire lifecycle callbacks, anything else goes through the
// channel registry. Malformed datagrams are dropped without any callback so
// a flood of garbage cannot amplify into a log flood.
func (d *Instance) handleMessage(ip string, port uint16, buf []byte) {
	var w wireMessage
	if err := json.Unmarshal(buf, &w); err != nil {
		return
	}
	if w.PID == nil || w.IID == nil {
		return
	}

	d.mu.Lock()
	ignoreProcess := d.opts.ignoreProcess
	ignoreInstance := d.opts.ignoreInstance
	d.mu.Unlock()
	if ignoreProcess && *w.PID == d.pid {
		return
	}
	if ignoreInstance && *w.IID == d.iid {
		return
	}
	if w.Event == nil {
		return
	}

	if *w.Event == "hello" {
		d.handleHello(ip, port, &w)
		return
	}

	hostname := ""
	if w.HostName != nil {
		hostname = *w.HostName
	}
	d.registry.Dispatch(*w.Event, &Message{
		Event:    *w.Event,
		PID:      *w.PID,
		IID:      *w.IID,
		HostName: hostname,
		Data:     w.Data,
	})
}

// handleHello validates the hello data block, upserts the peer record and
// fires added, master and helloReceived in that order. The table lock is
// released before any callback runs.
func (d *Instance) handleHello(ip string, port uint16, w *wireMessage) {
	if w.HostName == nil || w.Data == nil {
		return
	}
	var h helloData
	if err := json.Unmarshal(w.Data, &h); err != nil {
		return
	}
	if h.IsMaster == nil || h.IsMasterEligible == nil || h.Weight == nil || h.Address == nil {
		return
	}

	rec, wasNew, wasMaster := d.table.Upsert(*w.PID, *w.IID, *w.HostName, ip, port, peers.Data{
		IsMaster:         *h.IsMaster,
		IsMasterEligible: *h.IsMasterEligible,
		Weight:           *h.Weight,
		Address:          *h.Address,
		Advertisement:    h.Advertisement,
	}, time.Now())

	telemetry.HellosReceived.Inc()
	if wasNew {
		telemetry.PeersAdded.Inc()
	}
	telemetry.Peers.Set(float64(d.table.Len()))

	d.cb.mu.Lock()
	added, master, received := d.cb.added, d.cb.master, d.cb.helloReceived
	d.cb.mu.Unlock()

	if wasNew && added != nil {
		added(d, rec)
	}
	if rec.Data.IsMaster && (wasNew || !wasMaster) && master != nil {
		master(d, rec)
	}
	if received != nil {
		received(d, rec)
	}
}

package discover

import (
	"time"

	"godiscover/internal/telemetry"
)

// helloLoop periodically announces the local instance. Interval changes take
// effect on the following iteration; the loop never runs in client mode.
func (d *Instance) helloLoop() {
	defer d.wg.Done()
	for {
		d.emitHello()

		d.mu.Lock()
		interval := d.opts.helloInterval
		d.mu.Unlock()

		select {
		case <-d.done:
			return
		case <-time.After(time.Duration(interval) * time.Millisecond):
		}
	}
}

// emitHello builds the hello data block from the current role flags and
// options and broadcasts it.
func (d *Instance) emitHello() {
	d.mu.Lock()
	payload := helloPayload{
		IsMaster:         d.isMaster,
		IsMasterEligible: d.isMasterEligible,
		Weight:           d.opts.weight,
		Address:          d.opts.address,
		Advertisement:    d.opts.advertisement,
	}
	d.mu.Unlock()

	if err := d.Send("hello", payload); err != nil {
		return
	}
	telemetry.HellosSent.Inc()

	d.cb.mu.Lock()
	emitted := d.cb.helloEmitted
	d.cb.mu.Unlock()
	if emitted != nil {
		emitted(d)
	}
}

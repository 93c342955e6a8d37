package discover

import (
	"time"

	"godiscover/internal/telemetry"
)

// checkLoop periodically ages out peers and re-evaluates the election rule.
// Promotion and demotion decisions are serialized here; no election messages
// are exchanged, every node runs the same rule against what it observed.
func (d *Instance) checkLoop() {
	defer d.wg.Done()
	for {
		d.runCheck(time.Now())

		d.mu.Lock()
		interval := d.opts.checkInterval
		d.mu.Unlock()

		select {
		case <-d.done:
			return
		case <-time.After(time.Duration(interval) * time.Millisecond):
		}
	}
}

// runCheck performs one check pass: sweep expired peers, summarize the
// survivors, then apply the election rule to the local role flags.
func (d *Instance) runCheck(now time.Time) {
	d.mu.Lock()
	nodeTimeout := time.Duration(d.opts.nodeTimeout) * time.Millisecond
	masterTimeout := time.Duration(d.opts.masterTimeout) * time.Millisecond
	mastersRequired := d.opts.mastersRequired
	localWeight := d.opts.weight
	d.mu.Unlock()

	removed, sum := d.table.Check(now, nodeTimeout, masterTimeout, localWeight)

	telemetry.Peers.Set(float64(d.table.Len()))
	telemetry.MastersObserved.Set(float64(sum.Masters))
	if len(removed) > 0 {
		telemetry.PeersRemoved.Add(float64(len(removed)))
	}

	d.cb.mu.Lock()
	removedFn, promotionFn, demotionFn, checkFn := d.cb.removed, d.cb.promotion, d.cb.demotion, d.cb.check
	d.cb.mu.Unlock()

	if removedFn != nil {
		for _, rec := range removed {
			removedFn(d, rec)
		}
	}

	// The weight comparison is strict: a peer with the same weight is not
	// dominant, so equal-weight eligible peers may both promote.
	promoted, demoted := false, false
	d.mu.Lock()
	wasMaster := d.isMaster
	if wasMaster && sum.MastersHigherWeight >= mastersRequired {
		d.isMaster = false
		demoted = true
	}
	if !wasMaster && d.isMasterEligible && sum.MastersHigherWeight < mastersRequired && !sum.AnyEligibleHigherWeight {
		d.isMaster = true
		promoted = true
	}
	d.mu.Unlock()

	if demoted {
		telemetry.Demotions.Inc()
		if demotionFn != nil {
			demotionFn(d)
		}
	}
	if promoted {
		telemetry.Promotions.Inc()
		if promotionFn != nil {
			promotionFn(d)
		}
	}
	if checkFn != nil {
		checkFn(d)
	}
}

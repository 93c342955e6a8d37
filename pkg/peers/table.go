package peers

import (
	"encoding/json"
	"sync"
	"time"
)

// Data is the self-reported state a peer attaches to each hello.
type Data struct {
	IsMaster         bool
	IsMasterEligible bool
	Weight           float64
	Address          string
	Advertisement    json.RawMessage
}

// Record is one discovered peer, identified by (PID, IID). Address and Port
// are observed from the sender of the last hello; Data.Address is the bind
// address the peer reported about itself.
type Record struct {
	PID      string
	IID      string
	Hostname string
	Address  string
	Port     uint16
	LastSeen time.Time
	Data     Data
}

// Summary is the result of one election pass over the table.
type Summary struct {
	Masters                 int
	MastersHigherWeight     int
	AnyEligibleHigherWeight bool
}

type key struct{ pid, iid string }

// Table holds peer records in insertion order. All operations are atomic
// under one mutex; expiry ages are compared at second granularity, matching
// the wire-compatible implementation.
type Table struct {
	mu    sync.Mutex
	order []*Record
	index map[key]*Record
}

func NewTable() *Table {
	return &Table{index: make(map[key]*Record)}
}

// Upsert creates or refreshes the record for (pid, iid) and reports whether
// the record is new and whether it was a master before this update.
func (t *Table) Upsert(pid, iid, hostname, address string, port uint16, data Data, now time.Time) (rec *Record, wasNew, wasMaster bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{pid, iid}
	rec, ok := t.index[k]
	if !ok {
		rec = &Record{PID: pid, IID: iid}
		t.index[k] = rec
		t.order = append(t.order, rec)
		wasNew = true
	} else {
		wasMaster = rec.Data.IsMaster
	}
	rec.Hostname = hostname
	rec.Address = address
	rec.Port = port
	rec.LastSeen = now
	rec.Data = data
	if data.Advertisement != nil {
		rec.Data.Advertisement = append(json.RawMessage(nil), data.Advertisement...)
	}
	return rec, wasNew, wasMaster
}

// Sweep removes expired records and returns them in insertion order. A
// record expires when its clock is ahead of now or its age exceeds the
// master or node timeout, depending on its last-known role.
func (t *Table) Sweep(now time.Time, nodeTimeout, masterTimeout time.Duration) []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked(now, nodeTimeout, masterTimeout)
}

// Summary runs one linear election pass against the surviving records.
func (t *Table) Summary(localWeight float64) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summaryLocked(localWeight)
}

// Check combines Sweep and Summary under one lock acquisition so the check
// loop decides the election against a consistent snapshot.
func (t *Table) Check(now time.Time, nodeTimeout, masterTimeout time.Duration, localWeight float64) ([]*Record, Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := t.sweepLocked(now, nodeTimeout, masterTimeout)
	return removed, t.summaryLocked(localWeight)
}

func (t *Table) sweepLocked(now time.Time, nodeTimeout, masterTimeout time.Duration) []*Record {
	var removed []*Record
	kept := t.order[:0]
	for _, rec := range t.order {
		if expired(rec, now, nodeTimeout, masterTimeout) {
			delete(t.index, key{rec.PID, rec.IID})
			removed = append(removed, rec)
			continue
		}
		kept = append(kept, rec)
	}
	t.order = kept
	return removed
}

func (t *Table) summaryLocked(localWeight float64) Summary {
	var sum Summary
	for _, rec := range t.order {
		if rec.Data.IsMaster {
			sum.Masters++
			if rec.Data.Weight > localWeight {
				sum.MastersHigherWeight++
			}
			continue
		}
		if rec.Data.IsMasterEligible && rec.Data.Weight > localWeight {
			sum.AnyEligibleHigherWeight = true
		}
	}
	return sum
}

// expired compares ages in whole seconds against the millisecond timeouts,
// so sub-second timeouts round down to zero.
func expired(rec *Record, now time.Time, nodeTimeout, masterTimeout time.Duration) bool {
	timeout := nodeTimeout
	if rec.Data.IsMaster {
		timeout = masterTimeout
	}
	age := now.Unix() - rec.LastSeen.Unix()
	return age < 0 || age > timeout.Milliseconds()/1000
}

// Len returns the number of tracked peers.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// List returns a snapshot copy of every record in insertion order.
func (t *Table) List() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, 0, len(t.order))
	for _, rec := range t.order {
		out = append(out, *rec)
	}
	return out
}

// Get returns a snapshot copy of the record for (pid, iid), if present.
func (t *Table) Get(pid, iid string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.index[key{pid, iid}]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

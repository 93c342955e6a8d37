package discover

import (
	"encoding/json"
	"fmt"
	"time"
)

// options is the typed form of the string-keyed option surface. Intervals
// and timeouts are milliseconds, as on the compatible implementations.
type options struct {
	helloInterval   int
	checkInterval   int
	nodeTimeout     int
	masterTimeout   int
	address         string
	port            uint16
	broadcast       string
	multicast       string
	multicastTTL    uint8
	unicast         string
	hasUnicast      bool
	key             string
	mastersRequired int
	weight          float64
	client          bool
	reuseAddr       bool
	ignoreProcess   bool
	ignoreInstance  bool
	advertisement   json.RawMessage
	hostname        string
}

func defaultOptions(hostname string, now time.Time) options {
	return options{
		helloInterval:   1000,
		checkInterval:   2000,
		nodeTimeout:     2000,
		masterTimeout:   2000,
		address:         "0.0.0.0",
		port:            12345,
		broadcast:       "255.255.255.255",
		multicastTTL:    1,
		mastersRequired: 1,
		weight:          defaultWeight(now),
		reuseAddr:       true,
		ignoreProcess:   true,
		ignoreInstance:  true,
		hostname:        hostname,
	}
}

// defaultWeight derives the startup weight from wall-clock seconds, scaled
// into (-1, 0) so any user-supplied positive weight dominates while two
// defaults still compare deterministically.
func defaultWeight(now time.Time) float64 {
	w := float64(now.Unix())
	for w >= 1 {
		w /= 10
	}
	return -w
}

// SetOption routes a string-keyed option write to its typed field. Writes
// violating checkInterval <= nodeTimeout <= masterTimeout are rejected with
// the state unchanged.
func (d *Instance) SetOption(name string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}

	switch name {
	case "helloInterval":
		v, ok := asInt(value)
		if !ok {
			return optErr(name, value)
		}
		d.opts.helloInterval = v
	case "checkInterval":
		v, ok := asInt(value)
		if !ok || v > d.opts.nodeTimeout {
			return optErr(name, value)
		}
		d.opts.checkInterval = v
	case "nodeTimeout":
		v, ok := asInt(value)
		if !ok || v < d.opts.checkInterval || v > d.opts.masterTimeout {
			return optErr(name, value)
		}
		d.opts.nodeTimeout = v
	case "masterTimeout":
		v, ok := asInt(value)
		if !ok || v < d.opts.nodeTimeout {
			return optErr(name, value)
		}
		d.opts.masterTimeout = v
	case "address":
		v, ok := value.(string)
		if !ok {
			return optErr(name, value)
		}
		d.opts.address = v
	case "port":
		v, ok := asInt(value)
		if !ok || v < 0 || v > 65535 {
			return optErr(name, value)
		}
		d.opts.port = uint16(v)
	case "broadcast":
		v, ok := value.(string)
		if !ok {
			return optErr(name, value)
		}
		d.opts.broadcast = v
	case "multicast":
		v, ok := value.(string)
		if !ok {
			return optErr(name, value)
		}
		d.opts.multicast = v
	case "multicastTTL":
		v, ok := asInt(value)
		if !ok || v < 0 || v > 255 {
			return optErr(name, value)
		}
		d.opts.multicastTTL = uint8(v)
	case "unicast":
		v, ok := value.(string)
		if !ok {
			return optErr(name, value)
		}
		d.opts.unicast = v
		d.opts.hasUnicast = true
	case "key":
		// Accepted and stored for interface compatibility; this core
		// performs no encryption.
		v, ok := value.(string)
		if !ok {
			return optErr(name, value)
		}
		d.opts.key = v
	case "mastersRequired":
		v, ok := asInt(value)
		if !ok {
			return optErr(name, value)
		}
		d.opts.mastersRequired = v
	case "weight":
		v, ok := asFloat(value)
		if !ok {
			return optErr(name, value)
		}
		d.opts.weight = v
	case "client":
		v, ok := value.(bool)
		if !ok {
			return optErr(name, value)
		}
		d.opts.client = v
	case "reuseAddr":
		v, ok := value.(bool)
		if !ok {
			return optErr(name, value)
		}
		d.opts.reuseAddr = v
	case "ignoreProcess":
		v, ok := value.(bool)
		if !ok {
			return optErr(name, value)
		}
		d.opts.ignoreProcess = v
	case "ignoreInstance":
		v, ok := value.(bool)
		if !ok {
			return optErr(name, value)
		}
		d.opts.ignoreInstance = v
	case "advertisement":
		switch v := value.(type) {
		case nil:
			d.opts.advertisement = nil
		case json.RawMessage:
			d.opts.advertisement = append(json.RawMessage(nil), v...)
		case []byte:
			d.opts.advertisement = append(json.RawMessage(nil), v...)
		default:
			return optErr(name, value)
		}
	case "hostname":
		v, ok := value.(string)
		if !ok {
			return optErr(name, value)
		}
		d.opts.hostname = v
	default:
		return fmt.Errorf("%w: unknown option %q", ErrInvalidOption, name)
	}
	return nil
}

// Option reads back the current value of a scalar option by name.
func (d *Instance) Option(name string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch name {
	case "helloInterval":
		return d.opts.helloInterval, true
	case "checkInterval":
		return d.opts.checkInterval, true
	case "nodeTimeout":
		return d.opts.nodeTimeout, true
	case "masterTimeout":
		return d.opts.masterTimeout, true
	case "address":
		return d.opts.address, true
	case "port":
		return d.opts.port, true
	case "broadcast":
		return d.opts.broadcast, true
	case "multicast":
		return d.opts.multicast, true
	case "multicastTTL":
		return d.opts.multicastTTL, true
	case "unicast":
		return d.opts.unicast, true
	case "key":
		return d.opts.key, true
	case "mastersRequired":
		return d.opts.mastersRequired, true
	case "weight":
		return d.opts.weight, true
	case "client":
		return d.opts.client, true
	case "reuseAddr":
		return d.opts.reuseAddr, true
	case "ignoreProcess":
		return d.opts.ignoreProcess, true
	case "ignoreInstance":
		return d.opts.ignoreInstance, true
	case "advertisement":
		return d.opts.advertisement, true
	case "hostname":
		return d.opts.hostname, true
	}
	return nil, false
}

func optErr(name string, value any) error {
	return fmt.Errorf("%w: %s=%v", ErrInvalidOption, name, value)
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint16:
		return int(n), true
	case uint8:
		return int(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

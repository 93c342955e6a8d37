package channels

import (
	"fmt"
	"regexp"
	"sync"
)

// Func handles one dispatched event. msg is the full parsed datagram the
// subscriber matched, not just its data block.
type Func func(event string, msg any)

type binding struct {
	event string
	re    *regexp.Regexp
	fn    Func
}

// Registry holds regex-keyed subscriptions. Bindings are stored in join
// order and keyed by the exact pattern string: re-joining the same pattern
// replaces the callback instead of adding a second binding.
type Registry struct {
	mu       sync.Mutex
	bindings []*binding
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Join subscribes fn to every event matching the pattern. The pattern is
// compiled immediately; an invalid pattern is rejected here rather than
// silently never matching.
func (r *Registry) Join(event string, fn Func) error {
	re, err := regexp.Compile(event)
	if err != nil {
		return fmt.Errorf("channels: invalid pattern %q: %w", event, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bindings {
		if b.event == event {
			b.re = re
			b.fn = fn
			return nil
		}
	}
	r.bindings = append(r.bindings, &binding{event: event, re: re, fn: fn})
	return nil
}

// Leave removes the binding with this exact pattern string, if any.
func (r *Registry) Leave(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.bindings {
		if b.event == event {
			r.bindings = append(r.bindings[:i], r.bindings[i+1:]...)
			return
		}
	}
}

// Dispatch invokes every binding whose pattern matches anywhere in the
// literal event string.
func (r *Registry) Dispatch(event string, msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bindings {
		if b.fn != nil && b.re.MatchString(event) {
			b.fn(event, msg)
		}
	}
}

// Len returns the number of live bindings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

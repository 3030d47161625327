package authflow

import (
	"fmt"
	"net/url"
	"sync"
)

// Callback carries the query parameters of one redirect delivery.
type Callback struct {
	Code             string
	State            string
	ErrorCode        string
	ErrorDescription string
}

// IsError reports whether the authorization server redirected with an error.
func (c Callback) IsError() bool {
	return c.ErrorCode != ""
}

// ParseCallback extracts the callback parameters from a redirect URI.
func ParseCallback(raw string) (Callback, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Callback{}, fmt.Errorf("parsing redirect URI: %w", err)
	}
	q := u.Query()
	return Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		ErrorCode:        q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}, nil
}

// Dispatcher routes inbound redirect deliveries to the single pending
// registration. At most one registration is live at a time; registering a new
// one supersedes and disposes the previous.
type Dispatcher struct {
	mu      sync.Mutex
	current *Registration
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register creates a single-use registration bound to the given nonce.
func (d *Dispatcher) Register(nonce string) *Registration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != nil {
		d.current.Dispose()
	}
	d.current = &Registration{
		nonce: nonce,
		ch:    make(chan Callback, 1),
	}
	return d.current
}

// Deliver hands one redirect delivery to the pending registration. Returns
// false when nothing is pending or the pending registration has already fired
// or been disposed; such deliveries are dropped, never queued.
func (d *Dispatcher) Deliver(cb Callback) bool {
	d.mu.Lock()
	reg := d.current
	d.current = nil
	d.mu.Unlock()

	if reg == nil {
		return false
	}
	return reg.fire(cb)
}

// Registration is a single-use wait handle for one redirect delivery.
// Exactly the first of fire/Dispose wins; everything after is a no-op.
type Registration struct {
	nonce string
	ch    chan Callback
	once  sync.Once
}

// C receives at most one callback.
func (r *Registration) C() <-chan Callback {
	return r.ch
}

// Nonce returns the state value this registration is bound to.
func (r *Registration) Nonce() string {
	return r.nonce
}

// Dispose makes any later delivery a no-op. Safe to call multiple times and
// after a delivery has fired.
func (r *Registration) Dispose() {
	r.once.Do(func() {})
}

func (r *Registration) fire(cb Callback) bool {
	fired := false
	r.once.Do(func() {
		r.ch <- cb
		fired = true
	})
	return fired
}

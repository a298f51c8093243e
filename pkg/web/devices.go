package web

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/autohub/pkg/kvstore"
	"github.com/platinummonkey/autohub/pkg/login"
	"github.com/platinummonkey/autohub/pkg/popup"
)

// device is one browser: its sign-in screen, its popup window and its slice
// of the key-value store
type device struct {
	id     string
	screen *login.Screen
	window *popup.Window
	store  kvstore.Store

	// held while a request waits for the consent URL of a GitHub attempt
	handoff sync.Mutex

	signedIn atomic.Bool

	attemptMu sync.Mutex
	attempt   *githubAttempt
}

// githubAttempt is a GitHub sign-in whose consent page has been handed to
// the browser
type githubAttempt struct {
	cancel   context.CancelFunc
	done     chan struct{}
	finished bool
}

func newGitHubAttempt(cancel context.CancelFunc) *githubAttempt {
	return &githubAttempt{cancel: cancel, done: make(chan struct{})}
}

// trackAttempt records a as the attempt abortAttempt cancels
func (d *device) trackAttempt(a *githubAttempt) {
	d.attemptMu.Lock()
	defer d.attemptMu.Unlock()
	if !a.finished {
		d.attempt = a
	}
}

// finishAttempt marks a as over and stops tracking it
func (d *device) finishAttempt(a *githubAttempt) {
	d.attemptMu.Lock()
	defer d.attemptMu.Unlock()
	if a.finished {
		return
	}
	a.finished = true
	close(a.done)
	if d.attempt == a {
		d.attempt = nil
	}
}

// abortAttempt cancels the tracked GitHub attempt and returns it, or nil
// when none is waiting on the consent page
func (d *device) abortAttempt() *githubAttempt {
	d.attemptMu.Lock()
	a := d.attempt
	d.attempt = nil
	d.attemptMu.Unlock()

	if a != nil {
		a.cancel()
	}
	return a
}

// DeviceNamespace is the key prefix of a device's slice of the store
func DeviceNamespace(deviceID string) string {
	return "device:" + deviceID + ":"
}

type deviceRegistry struct {
	mu      sync.Mutex
	devices *lru.LRU[string, *device]
	create  func(id string) *device
}

// onEvict runs under the cache lock and must not call back into the registry
func newDeviceRegistry(size int, ttl time.Duration, create func(id string) *device, onEvict func(*device)) *deviceRegistry {
	var evict lru.EvictCallback[string, *device]
	if onEvict != nil {
		evict = func(_ string, d *device) { onEvict(d) }
	}
	return &deviceRegistry{
		devices: lru.NewLRU[string, *device](size, evict, ttl),
		create:  create,
	}
}

// get returns the device for id, creating it when unknown or expired
func (r *deviceRegistry) get(id string) (*device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices.Get(id); ok {
		return d, false
	}
	d := r.create(id)
	r.devices.Add(id, d)
	return d, true
}

// lookup returns the device for id without creating it
func (r *deviceRegistry) lookup(id string) (*device, bool) {
	return r.devices.Get(id)
}

func (r *deviceRegistry) len() int {
	return r.devices.Len()
}

package popup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result is what the provider callback delivers to a waiting flow
type Result struct {
	Code string
	Err  error
}

type flow struct {
	created   time.Time
	result    chan Result
	completed bool
}

// Broker pairs popup callbacks with the sign-in attempts waiting on them
type Broker struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	flows map[string]*flow
}

// NewBroker creates a broker whose flows expire after ttl
func NewBroker(ttl time.Duration) *Broker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Broker{
		ttl:   ttl,
		now:   time.Now,
		flows: make(map[string]*flow),
	}
}

// Begin registers a new flow and returns its state token
func (b *Broker) Begin() string {
	state := uuid.NewString()

	b.mu.Lock()
	b.flows[state] = &flow{
		created: b.now(),
		result:  make(chan Result, 1),
	}
	b.mu.Unlock()

	return state
}

// Await waits for the callback of the flow identified by state and returns
// the authorization code
func (b *Broker) Await(ctx context.Context, state string) (string, error) {
	b.mu.Lock()
	f, ok := b.flows[state]
	b.mu.Unlock()
	if !ok {
		return "", ErrUnknownState
	}
	defer b.Cancel(state)

	remaining := b.ttl - b.now().Sub(f.created)
	if remaining <= 0 {
		return "", ErrExpired
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case res := <-f.result:
		return res.Code, res.Err
	case <-timer.C:
		return "", ErrExpired
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Complete delivers the provider callback. errParam and errDescription are
// the OAuth2 error parameters; a non-empty errParam fails the flow.
// A flow accepts one callback; the result is held until Await collects it.
func (b *Broker) Complete(state, code, errParam, errDescription string) error {
	b.mu.Lock()
	f, ok := b.flows[state]
	if !ok || f.completed {
		b.mu.Unlock()
		return ErrUnknownState
	}
	f.completed = true
	b.mu.Unlock()

	var res Result
	switch {
	case errParam == "access_denied":
		res.Err = ErrDenied
	case errParam != "":
		res.Err = fmt.Errorf("provider returned %s: %s", errParam, errDescription)
	case code == "":
		res.Err = fmt.Errorf("missing authorization code")
	default:
		res.Code = code
	}

	f.result <- res
	return nil
}

// Cancel forgets a flow without delivering a result
func (b *Broker) Cancel(state string) {
	b.mu.Lock()
	delete(b.flows, state)
	b.mu.Unlock()
}

// Pending returns the number of flows waiting for a callback
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := 0
	for _, f := range b.flows {
		if !f.completed {
			pending++
		}
	}
	return pending
}

// Sweep fails and removes flows older than the TTL. It returns how many
// flows were removed.
func (b *Broker) Sweep() int {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for state, f := range b.flows {
		if now.Sub(f.created) < b.ttl {
			continue
		}
		delete(b.flows, state)
		select {
		case f.result <- Result{Err: ErrExpired}:
		default:
		}
		removed++
	}
	return removed
}

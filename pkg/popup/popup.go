// Package popup tracks provider sign-in popups.
//
// A popup flow starts when the identity client asks an Opener to show the
// provider's consent URL, and ends when the provider redirects back to the
// callback route with the matching state token. The Broker pairs the two
// ends; the Window hands consent URLs to the HTTP request that opened the
// flow.
package popup

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownState is returned when a callback carries a state token no flow is waiting for
	ErrUnknownState = errors.New("unknown or expired popup state")

	// ErrExpired is delivered to flows that outlived the broker TTL
	ErrExpired = errors.New("popup flow expired")

	// ErrDenied is delivered when the user declined consent at the provider
	ErrDenied = errors.New("popup closed by user")

	// ErrNoViewer is returned when nothing picked up the consent URL in time
	ErrNoViewer = errors.New("no viewer for popup")
)

// Opener shows a provider consent URL to the user
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(ctx context.Context, url string) error

// Open calls f(ctx, url)
func (f OpenerFunc) Open(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Window is an Opener that passes consent URLs to whichever request is
// currently serving the browser
type Window struct {
	urls    chan string
	handoff time.Duration
}

// NewWindow creates a window. handoff bounds how long Open waits for a reader.
func NewWindow(handoff time.Duration) *Window {
	if handoff <= 0 {
		handoff = 5 * time.Second
	}
	return &Window{
		urls:    make(chan string),
		handoff: handoff,
	}
}

// Open blocks until a reader takes url, the handoff elapses, or ctx is done
func (w *Window) Open(ctx context.Context, url string) error {
	timer := time.NewTimer(w.handoff)
	defer timer.Stop()

	select {
	case w.urls <- url:
		return nil
	case <-timer.C:
		return ErrNoViewer
	case <-ctx.Done():
		return ctx.Err()
	}
}

// URLs returns the channel consent URLs are delivered on
func (w *Window) URLs() <-chan string {
	return w.urls
}

package login

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/autohub/pkg/kvstore"
	"github.com/platinummonkey/autohub/pkg/popup"
)

// Screen is the sign-in screen for a single browser
type Screen struct {
	auth      Authenticator
	store     kvstore.Store
	opener    popup.Opener
	callbacks Callbacks

	mu    sync.Mutex
	state State
	done  chan struct{} // closed when the running attempt ends, nil when idle
}

// NewScreen creates a screen. store is the browser's key-value store and
// opener shows provider consent pages for GitHub sign-in.
func NewScreen(auth Authenticator, store kvstore.Store, opener popup.Opener, callbacks Callbacks) *Screen {
	return &Screen{
		auth:      auth,
		store:     store,
		opener:    opener,
		callbacks: callbacks,
	}
}

// Snapshot returns a copy of the current UI state
func (s *Screen) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetEmail mirrors the email input
func (s *Screen) SetEmail(email string) {
	s.mu.Lock()
	s.state.Email = email
	s.mu.Unlock()
}

// SetPassword mirrors the password input
func (s *Screen) SetPassword(password string) {
	s.mu.Lock()
	s.state.Password = password
	s.mu.Unlock()
}

// SwitchToRegister forwards the user's intent to open the registration screen
func (s *Screen) SwitchToRegister() {
	if s.callbacks.OnSwitchToRegister != nil {
		s.callbacks.OnSwitchToRegister()
	}
}

// Wait blocks until the running attempt, if any, has finished
func (s *Screen) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitCredentials signs in with an email and password.
//
// The outcome is reflected in the screen state; the returned error is
// non-nil only when the attempt was rejected because another one is running.
func (s *Screen) SubmitCredentials(ctx context.Context, email, password string) error {
	done, err := s.begin(func(st *State) {
		st.Email = email
		st.Password = password
	})
	if err != nil {
		return err
	}

	var failure string
	defer func() { s.end(done, failure) }()

	if _, err := s.auth.SignInWithEmailAndPassword(ctx, email, password); err != nil {
		failure = failureMessage(err)
	} else if err := s.completeSignIn(ctx); err != nil {
		failure = failureMessage(err)
	}
	return nil
}

// SubmitFederatedLogin signs in with GitHub through a provider popup.
//
// As with SubmitCredentials, only ErrAttemptInFlight is returned.
func (s *Screen) SubmitFederatedLogin(ctx context.Context) error {
	done, err := s.begin(nil)
	if err != nil {
		return err
	}

	var failure string
	defer func() { s.end(done, failure) }()

	result, err := s.auth.SignInWithPopup(ctx, s.opener, GitHubRequest())
	if err != nil {
		failure = federatedFailureMessage(err)
	} else if err := s.acceptFederatedResult(ctx, result); err != nil {
		failure = failureMessage(err)
	}
	return nil
}

func (s *Screen) acceptFederatedResult(ctx context.Context, result *FederatedResult) error {
	key := UsernameKey(result.UserID)

	_, found, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read cached username: %w", err)
	}
	if !found {
		if err := s.store.Set(ctx, key, result.DisplayNameGuess()); err != nil {
			return fmt.Errorf("failed to cache username: %w", err)
		}
	}

	if result.AccessToken != "" && s.callbacks.OnGithubToken != nil {
		s.callbacks.OnGithubToken(result.AccessToken)
	}

	return s.completeSignIn(ctx)
}

// completeSignIn runs the steps shared by every successful sign-in
func (s *Screen) completeSignIn(ctx context.Context) error {
	if err := s.store.Remove(ctx, RegisteringUserKey); err != nil {
		return fmt.Errorf("failed to clear registration flag: %w", err)
	}

	if s.callbacks.OnLoginSuccess != nil {
		s.callbacks.OnLoginSuccess()
	}
	return nil
}

// begin enters the loading state, applying mutate under the same lock
func (s *Screen) begin(mutate func(*State)) (chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Loading {
		return nil, ErrAttemptInFlight
	}

	if mutate != nil {
		mutate(&s.state)
	}
	s.state.Loading = true
	s.state.Error = ""
	s.done = make(chan struct{})
	return s.done, nil
}

// end records the failure (if any) and leaves the loading state
func (s *Screen) end(done chan struct{}, failure string) {
	s.mu.Lock()
	if failure != "" {
		s.state.Error = failure
	}
	s.state.Loading = false
	s.done = nil
	s.mu.Unlock()

	close(done)
}

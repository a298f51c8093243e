// Package login implements the AutoHub sign-in screen.
//
// # Overview
//
// A Screen collects an email and password, or starts a GitHub sign-in popup,
// and hands verification to an external identity provider through the
// Authenticator interface. The screen owns nothing but its UI state:
//
//	Email, Password  mirrored from the input controls
//	Loading          true while a submit attempt is running
//	Error            latest failure message, overwritten on every failure
//
// # Submit attempts
//
// Every attempt moves the screen through idle → loading → idle. Loading is
// always reset before the submit method returns. On success the screen
// removes the registering_user sentinel from the key-value store and calls
// Callbacks.OnLoginSuccess exactly once. On failure only Error changes.
//
// Attempts are mutually exclusive: a submit that arrives while another one
// is in flight returns ErrAttemptInFlight and leaves the state untouched.
//
// # GitHub sign-in
//
// SubmitFederatedLogin requests the repo and user scopes. On success it
// caches a display name under user_<uid>_username (only when no value is
// cached yet) and forwards the GitHub access token to
// Callbacks.OnGithubToken when the provider returned one.
//
// # Usage Example
//
//	screen := login.NewScreen(authenticator, store, window, login.Callbacks{
//		OnLoginSuccess:     func() { signedIn = true },
//		OnSwitchToRegister: func() { showRegister = true },
//		OnGithubToken:      func(token string) { saveToken(token) },
//	})
//
//	if err := screen.SubmitCredentials(ctx, "ada@example.com", "hunter2"); err != nil {
//		// another attempt is running
//	}
//	state := screen.Snapshot()
package login

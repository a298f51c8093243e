// Package identity signs users in through Firebase Authentication.
//
// Password sign-in calls the Identity Toolkit REST API directly. GitHub
// sign-in runs the OAuth2 authorization code flow: the consent URL is shown
// through a popup.Opener, the callback route completes the flow on a
// popup.Broker, and the resulting GitHub access token is exchanged for a
// Firebase session with accounts:signInWithIdp.
//
// Every failure is reported as a *login.AuthError whose message mirrors the
// Firebase web SDK, e.g. "Firebase: Error (auth/wrong-password).".
//
// ID tokens can optionally be verified against Google's securetoken keys
// with go-oidc; the verified subject then becomes the session's user id.
package identity

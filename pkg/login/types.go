package login

import (
	"context"

	"github.com/platinummonkey/autohub/pkg/popup"
)

// Key-value store keys shared with the registration screen and the app shell.
const (
	// RegisteringUserKey marks a registration in progress; only its existence matters
	RegisteringUserKey = "registering_user"

	// FallbackDisplayName is cached when GitHub reports neither a username nor a display name
	FallbackDisplayName = "github_user"
)

// GitHubProviderID is the identity provider id for GitHub sign-in
const GitHubProviderID = "github.com"

// GitHub permission scopes requested by the sign-in button
const (
	ScopeRepo = "repo"
	ScopeUser = "user"
)

// UsernameKey returns the key under which a user's display name is cached
func UsernameKey(userID string) string {
	return "user_" + userID + "_username"
}

// State is the UI state rendered by the screen
type State struct {
	Email    string `json:"email"`
	Password string `json:"-"`
	Loading  bool   `json:"loading"`
	Error    string `json:"error,omitempty"`
}

// Session is what the identity provider returns for a password sign-in
type Session struct {
	UserID       string
	Email        string
	DisplayName  string
	IDToken      string
	RefreshToken string
}

// FederatedRequest describes a popup sign-in with an external provider
type FederatedRequest struct {
	ProviderID string
	Scopes     []string
}

// GitHubRequest returns the request used by the GitHub sign-in button
func GitHubRequest() FederatedRequest {
	return FederatedRequest{
		ProviderID: GitHubProviderID,
		Scopes:     []string{ScopeRepo, ScopeUser},
	}
}

// FederatedResult is the provider's answer to a successful popup sign-in.
// It is consumed once per attempt and never stored as screen state.
type FederatedResult struct {
	UserID      string
	AccessToken string // empty when the provider returned no token
	Username    string // provider-reported login, may be empty
	DisplayName string // provider-reported full name, may be empty
}

// DisplayNameGuess picks the best available name: username, then display
// name, then FallbackDisplayName.
func (r *FederatedResult) DisplayNameGuess() string {
	for _, candidate := range []string{r.Username, r.DisplayName} {
		if candidate != "" {
			return candidate
		}
	}
	return FallbackDisplayName
}

// Authenticator verifies credentials with the identity provider
type Authenticator interface {
	// SignInWithEmailAndPassword authenticates a password account
	SignInWithEmailAndPassword(ctx context.Context, email, password string) (*Session, error)

	// SignInWithPopup runs a federated sign-in, showing the provider's
	// consent page through opener
	SignInWithPopup(ctx context.Context, opener popup.Opener, req FederatedRequest) (*FederatedResult, error)
}

// Callbacks are supplied by the embedding application.
// Nil callbacks are skipped.
type Callbacks struct {
	OnLoginSuccess     func()
	OnSwitchToRegister func()
	OnGithubToken      func(token string)
}

package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/autohub/pkg/login"
	"github.com/platinummonkey/autohub/pkg/popup"
)

const testProject = "autohub-test"

// fakeFirebase serves the Identity Toolkit and GitHub token endpoints
type fakeFirebase struct {
	t *testing.T

	passwordStatus int
	passwordBody   interface{}
	idpStatus      int
	idpBody        interface{}
	tokenStatus    int

	lastPassword signInWithPasswordRequest
	lastIdp      signInWithIdpRequest
	lastCode     string
	apiKey       string
}

func newFakeFirebase(t *testing.T) *fakeFirebase {
	return &fakeFirebase{
		t:              t,
		passwordStatus: http.StatusOK,
		passwordBody: map[string]interface{}{
			"localId":      "uid-1",
			"email":        "ada@example.com",
			"displayName":  "Ada",
			"idToken":      "id-token",
			"refreshToken": "refresh-token",
		},
		idpStatus: http.StatusOK,
		idpBody: map[string]interface{}{
			"localId":          "42",
			"screenName":       "octocat",
			"displayName":      "The Octocat",
			"oauthAccessToken": "gho_firebase",
			"idToken":          "id-token",
		},
		tokenStatus: http.StatusOK,
	}
}

func (f *fakeFirebase) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.apiKey = r.URL.Query().Get("key")

	switch r.URL.Path {
	case "/v1/accounts:signInWithPassword":
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastPassword))
		writeJSON(w, f.passwordStatus, f.passwordBody)
	case "/v1/accounts:signInWithIdp":
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastIdp))
		writeJSON(w, f.idpStatus, f.idpBody)
	case "/login/oauth/access_token":
		require.NoError(f.t, r.ParseForm())
		f.lastCode = r.Form.Get("code")
		if f.tokenStatus != http.StatusOK {
			writeJSON(w, f.tokenStatus, map[string]string{"error": "bad_verification_code"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": "gho_exchanged",
			"token_type":   "bearer",
			"scope":        "repo,user",
		})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func firebaseError(message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{"code": 400, "message": message},
	}
}

func newTestClient(t *testing.T, fake *fakeFirebase, mutate func(*Config)) (*Client, *popup.Broker) {
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg := Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		GitHub: GitHubConfig{
			ClientID:     "gh-client",
			ClientSecret: "gh-secret",
			RedirectURL:  "http://localhost:8080/login/github/callback",
			AuthURL:      server.URL + "/login/oauth/authorize",
			TokenURL:     server.URL + "/login/oauth/access_token",
		},
		HTTPClient: server.Client(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	broker := popup.NewBroker(time.Minute)
	client, err := NewClient(context.Background(), cfg, broker)
	require.NoError(t, err)
	return client, broker
}

// approvingOpener completes every flow it is shown, as a user granting consent would
func approvingOpener(t *testing.T, broker *popup.Broker, seen *url.URL) popup.Opener {
	return popup.OpenerFunc(func(_ context.Context, raw string) error {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		if seen != nil {
			*seen = *u
		}
		return broker.Complete(u.Query().Get("state"), "auth-code", "", "")
	})
}

func TestSignInWithEmailAndPassword(t *testing.T) {
	fake := newFakeFirebase(t)
	client, _ := newTestClient(t, fake, nil)

	session, err := client.SignInWithEmailAndPassword(context.Background(), "ada@example.com", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, "uid-1", session.UserID)
	assert.Equal(t, "ada@example.com", session.Email)
	assert.Equal(t, "Ada", session.DisplayName)
	assert.Equal(t, "id-token", session.IDToken)
	assert.Equal(t, "refresh-token", session.RefreshToken)

	assert.Equal(t, "test-key", fake.apiKey)
	assert.Equal(t, "ada@example.com", fake.lastPassword.Email)
	assert.Equal(t, "hunter2", fake.lastPassword.Password)
	assert.True(t, fake.lastPassword.ReturnSecureToken)
}

func TestSignInWithEmailAndPassword_Errors(t *testing.T) {
	tests := []struct {
		message string
		code    string
	}{
		{"EMAIL_NOT_FOUND", CodeUserNotFound},
		{"INVALID_PASSWORD", CodeWrongPassword},
		{"INVALID_LOGIN_CREDENTIALS", CodeInvalidCredential},
		{"USER_DISABLED", CodeUserDisabled},
		{"TOO_MANY_ATTEMPTS_TRY_LATER : Access to this account has been temporarily disabled", CodeTooManyRequests},
		{"INVALID_EMAIL", CodeInvalidEmail},
		{"MISSING_PASSWORD", CodeMissingPassword},
		{"API key not valid. Please pass a valid API key.", CodeInvalidAPIKey},
		{"SOMETHING_NEW", CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			fake := newFakeFirebase(t)
			fake.passwordStatus = http.StatusBadRequest
			fake.passwordBody = firebaseError(tt.message)
			client, _ := newTestClient(t, fake, nil)

			_, err := client.SignInWithEmailAndPassword(context.Background(), "ada@example.com", "x")
			require.Error(t, err)

			var authErr *login.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.code, authErr.Code)
			assert.Equal(t, "Firebase: Error ("+tt.code+").", err.Error())
		})
	}
}

func TestSignInWithEmailAndPassword_MalformedErrorBody(t *testing.T) {
	fake := newFakeFirebase(t)
	fake.passwordStatus = http.StatusInternalServerError
	fake.passwordBody = "oops"
	client, _ := newTestClient(t, fake, nil)

	_, err := client.SignInWithEmailAndPassword(context.Background(), "a@b.c", "x")
	assert.Equal(t, CodeInternalError, login.ErrorCode(err))
}

func TestSignInWithEmailAndPassword_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client, err := NewClient(context.Background(), Config{APIKey: "k", BaseURL: baseURL}, nil)
	require.NoError(t, err)

	_, err = client.SignInWithEmailAndPassword(context.Background(), "a@b.c", "x")
	assert.Equal(t, CodeNetworkRequestFailed, login.ErrorCode(err))
	assert.EqualError(t, err, "Firebase: Error (auth/network-request-failed).")
}

func TestSignInWithPopup(t *testing.T) {
	fake := newFakeFirebase(t)
	client, broker := newTestClient(t, fake, nil)

	var consent url.URL
	result, err := client.SignInWithPopup(context.Background(), approvingOpener(t, broker, &consent), login.GitHubRequest())
	require.NoError(t, err)

	assert.Equal(t, "42", result.UserID)
	assert.Equal(t, "octocat", result.Username)
	assert.Equal(t, "The Octocat", result.DisplayName)
	assert.Equal(t, "gho_firebase", result.AccessToken)

	assert.Equal(t, "/login/oauth/authorize", consent.Path)
	assert.Equal(t, "gh-client", consent.Query().Get("client_id"))
	assert.Equal(t, "repo user", consent.Query().Get("scope"))
	assert.Equal(t, "http://localhost:8080/login/github/callback", consent.Query().Get("redirect_uri"))

	assert.Equal(t, "auth-code", fake.lastCode)

	postBody, err := url.ParseQuery(fake.lastIdp.PostBody)
	require.NoError(t, err)
	assert.Equal(t, "gho_exchanged", postBody.Get("access_token"))
	assert.Equal(t, "github.com", postBody.Get("providerId"))
	assert.Equal(t, "http://localhost:8080/login/github/callback", fake.lastIdp.RequestURI)
	assert.True(t, fake.lastIdp.ReturnIdpCredential)

	assert.Zero(t, broker.Pending())
}

func TestSignInWithPopup_NoTokenInResponse(t *testing.T) {
	fake := newFakeFirebase(t)
	fake.idpBody = map[string]interface{}{"localId": "77", "displayName": "Bob Smith"}
	client, broker := newTestClient(t, fake, nil)

	result, err := client.SignInWithPopup(context.Background(), approvingOpener(t, broker, nil), login.GitHubRequest())
	require.NoError(t, err)
	assert.Empty(t, result.AccessToken)
	assert.Empty(t, result.Username)
	assert.Equal(t, "Bob Smith", result.DisplayName)
}

func TestSignInWithPopup_NeedConfirmation(t *testing.T) {
	fake := newFakeFirebase(t)
	fake.idpBody = map[string]interface{}{
		"localId":          "42",
		"email":            "ada@example.com",
		"needConfirmation": true,
	}
	client, broker := newTestClient(t, fake, nil)

	_, err := client.SignInWithPopup(context.Background(), approvingOpener(t, broker, nil), login.GitHubRequest())
	assert.Equal(t, login.CodeAccountExistsWithDifferentCredential, login.ErrorCode(err))
}

func TestSignInWithPopup_ErrorMessageInResponse(t *testing.T) {
	fake := newFakeFirebase(t)
	fake.idpBody = map[string]interface{}{"errorMessage": "FEDERATED_USER_ID_ALREADY_LINKED"}
	client, broker := newTestClient(t, fake, nil)

	_, err := client.SignInWithPopup(context.Background(), approvingOpener(t, broker, nil), login.GitHubRequest())
	assert.Equal(t, CodeCredentialAlreadyInUse, login.ErrorCode(err))
}

func TestSignInWithPopup_IdpRejected(t *testing.T) {
	fake := newFakeFirebase(t)
	fake.idpStatus = http.StatusBadRequest
	fake.idpBody = firebaseError("INVALID_IDP_RESPONSE : bad token")
	client, broker := newTestClient(t, fake, nil)

	_, err := client.SignInWithPopup(context.Background(), approvingOpener(t, broker, nil), login.GitHubRequest())
	assert.Equal(t, CodeInvalidCredential, login.ErrorCode(err))
}

func TestSignInWithPopup_ExchangeFails(t *testing.T) {
	fake := newFakeFirebase(t)
	fake.tokenStatus = http.StatusUnauthorized
	client, broker := newTestClient(t, fake, nil)

	_, err := client.SignInWithPopup(context.Background(), approvingOpener(t, broker, nil), login.GitHubRequest())
	assert.Equal(t, CodeInvalidCredential, login.ErrorCode(err))
}

func TestSignInWithPopup_Denied(t *testing.T) {
	fake := newFakeFirebase(t)
	client, broker := newTestClient(t, fake, nil)

	opener := popup.OpenerFunc(func(_ context.Context, raw string) error {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return broker.Complete(u.Query().Get("state"), "", "access_denied", "The user denied access")
	})

	_, err := client.SignInWithPopup(context.Background(), opener, login.GitHubRequest())
	assert.Equal(t, CodePopupClosedByUser, login.ErrorCode(err))
	assert.ErrorIs(t, err, popup.ErrDenied)
}

func TestSignInWithPopup_Blocked(t *testing.T) {
	fake := newFakeFirebase(t)
	client, broker := newTestClient(t, fake, nil)

	opener := popup.OpenerFunc(func(context.Context, string) error { return popup.ErrNoViewer })

	_, err := client.SignInWithPopup(context.Background(), opener, login.GitHubRequest())
	assert.Equal(t, CodePopupBlocked, login.ErrorCode(err))
	assert.Zero(t, broker.Pending(), "blocked flow is cancelled")
}

func TestSignInWithPopup_Abandoned(t *testing.T) {
	fake := newFakeFirebase(t)
	client, _ := newTestClient(t, fake, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	opener := popup.OpenerFunc(func(context.Context, string) error { return nil })

	_, err := client.SignInWithPopup(ctx, opener, login.GitHubRequest())
	assert.Equal(t, CodePopupClosedByUser, login.ErrorCode(err))
}

func TestSignInWithPopup_UnsupportedProvider(t *testing.T) {
	client, broker := newTestClient(t, newFakeFirebase(t), nil)

	_, err := client.SignInWithPopup(context.Background(), approvingOpener(t, broker, nil),
		login.FederatedRequest{ProviderID: "google.com"})
	assert.Equal(t, CodeOperationNotSupported, login.ErrorCode(err))
}

func TestSignInWithPopup_NotConfigured(t *testing.T) {
	client, err := NewClient(context.Background(), Config{APIKey: "k"}, nil)
	require.NoError(t, err)

	_, err = client.SignInWithPopup(context.Background(), popup.NewWindow(time.Second), login.GitHubRequest())
	assert.Equal(t, CodeOperationNotAllowed, login.ErrorCode(err))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		errorMsg string
	}{
		{
			name:   "api key only",
			config: Config{APIKey: "k"},
		},
		{
			name:     "missing api key",
			config:   Config{},
			errorMsg: "firebase api key is required",
		},
		{
			name:     "verification without project",
			config:   Config{APIKey: "k", VerifyIDTokens: true},
			errorMsg: "firebase project id is required to verify id tokens",
		},
		{
			name:     "github without secret",
			config:   Config{APIKey: "k", GitHub: GitHubConfig{ClientID: "id", RedirectURL: "http://x"}},
			errorMsg: "github client secret is required",
		},
		{
			name:     "github without redirect",
			config:   Config{APIKey: "k", GitHub: GitHubConfig{ClientID: "id", ClientSecret: "s"}},
			errorMsg: "github redirect url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.errorMsg)
		})
	}
}

func TestCodeForMessage(t *testing.T) {
	assert.Equal(t, CodeWrongPassword, codeForMessage("INVALID_PASSWORD"))
	assert.Equal(t, CodeTooManyRequests, codeForMessage("TOO_MANY_ATTEMPTS_TRY_LATER : detail"))
	assert.Equal(t, CodeEmailAlreadyInUse, codeForMessage(" EMAIL_EXISTS "))
	assert.Equal(t, CodeInvalidAPIKey, codeForMessage("API_KEY_INVALID"))
	assert.Equal(t, CodeInternalError, codeForMessage(""))
}

func TestPopupError(t *testing.T) {
	assert.Equal(t, CodePopupClosedByUser, login.ErrorCode(popupError(popup.ErrExpired)))
	assert.Equal(t, CodePopupClosedByUser, login.ErrorCode(popupError(context.Canceled)))
	assert.Equal(t, CodeInternalError, login.ErrorCode(popupError(errors.New("provider returned server_error: x"))))
}

// tokenSigner issues Firebase-shaped ID tokens
type tokenSigner struct {
	key *rsa.PrivateKey
}

func newTokenSigner(t *testing.T) *tokenSigner {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &tokenSigner{key: key}
}

func (s *tokenSigner) keySet() oidc.KeySet {
	return &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&s.key.PublicKey}}
}

func (s *tokenSigner) sign(t *testing.T, claims map[string]interface{}) string {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: s.key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	jws, err := signer.Sign(payload)
	require.NoError(t, err)

	raw, err := jws.CompactSerialize()
	require.NoError(t, err)
	return raw
}

func (s *tokenSigner) firebaseClaims(subject string) map[string]interface{} {
	now := time.Now()
	return map[string]interface{}{
		"iss": Issuer(testProject),
		"aud": testProject,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func TestVerifyIDTokens(t *testing.T) {
	signer := newTokenSigner(t)

	tests := []struct {
		name    string
		localID string
		claims  map[string]interface{}
		code    string
	}{
		{
			name:    "valid token",
			localID: "uid-1",
			claims:  signer.firebaseClaims("uid-1"),
		},
		{
			name:    "subject mismatch",
			localID: "uid-1",
			claims:  signer.firebaseClaims("someone-else"),
			code:    CodeInvalidUserToken,
		},
		{
			name:    "wrong audience",
			localID: "uid-1",
			claims: func() map[string]interface{} {
				c := signer.firebaseClaims("uid-1")
				c["aud"] = "other-project"
				return c
			}(),
			code: CodeInvalidUserToken,
		},
		{
			name:    "expired",
			localID: "uid-1",
			claims: func() map[string]interface{} {
				c := signer.firebaseClaims("uid-1")
				c["exp"] = time.Now().Add(-time.Hour).Unix()
				return c
			}(),
			code: CodeInvalidUserToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeFirebase(t)
			fake.passwordBody = map[string]interface{}{
				"localId": tt.localID,
				"email":   "ada@example.com",
				"idToken": signer.sign(t, tt.claims),
			}
			client, _ := newTestClient(t, fake, func(cfg *Config) {
				cfg.ProjectID = testProject
				cfg.VerifyIDTokens = true
				cfg.KeySet = signer.keySet()
			})

			session, err := client.SignInWithEmailAndPassword(context.Background(), "ada@example.com", "x")
			if tt.code == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.localID, session.UserID)
				return
			}
			assert.Equal(t, tt.code, login.ErrorCode(err))
		})
	}
}

func TestVerifyIDTokens_UntrustedKey(t *testing.T) {
	trusted := newTokenSigner(t)
	attacker := newTokenSigner(t)

	fake := newFakeFirebase(t)
	fake.idpBody = map[string]interface{}{
		"localId": "42",
		"idToken": attacker.sign(t, attacker.firebaseClaims("42")),
	}
	client, broker := newTestClient(t, fake, func(cfg *Config) {
		cfg.ProjectID = testProject
		cfg.VerifyIDTokens = true
		cfg.KeySet = trusted.keySet()
	})

	_, err := client.SignInWithPopup(context.Background(), approvingOpener(t, broker, nil), login.GitHubRequest())
	assert.Equal(t, CodeInvalidUserToken, login.ErrorCode(err))
}

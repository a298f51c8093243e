package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/autohub/pkg/login"
	"github.com/platinummonkey/autohub/pkg/observability"
	"github.com/platinummonkey/autohub/pkg/popup"
)

const (
	// DefaultBaseURL is the Identity Toolkit API root
	DefaultBaseURL = "https://identitytoolkit.googleapis.com"

	// DefaultJWKSURL serves the keys that sign Firebase ID tokens
	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	maxResponseBytes = 1 << 20
)

// Config configures the Firebase client
type Config struct {
	APIKey    string
	BaseURL   string
	ProjectID string

	// RequestURI is sent as requestUri to signInWithIdp; defaults to the
	// GitHub redirect URL
	RequestURI string

	GitHub GitHubConfig

	// VerifyIDTokens checks every returned ID token against the securetoken
	// issuer for ProjectID
	VerifyIDTokens bool
	JWKSURL        string
	KeySet         oidc.KeySet // overrides JWKSURL when set

	HTTPClient *http.Client
}

// GitHubConfig is the GitHub OAuth app used for popup sign-in
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides, empty means github.com
	AuthURL  string
	TokenURL string
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("firebase api key is required")
	}
	if c.VerifyIDTokens && c.ProjectID == "" {
		return fmt.Errorf("firebase project id is required to verify id tokens")
	}
	if c.GitHub.ClientID != "" {
		if c.GitHub.ClientSecret == "" {
			return fmt.Errorf("github client secret is required")
		}
		if c.GitHub.RedirectURL == "" {
			return fmt.Errorf("github redirect url is required")
		}
	}
	return nil
}

// Client implements login.Authenticator against Firebase
type Client struct {
	cfg      Config
	baseURL  string
	http     *http.Client
	broker   *popup.Broker
	verifier *oidc.IDTokenVerifier
}

var _ login.Authenticator = (*Client)(nil)

// NewClient creates a client. broker may be nil, in which case popup
// sign-in is unavailable.
func NewClient(ctx context.Context, cfg Config, broker *popup.Broker) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		cfg:     cfg,
		baseURL: baseURL,
		http:    httpClient,
		broker:  broker,
	}

	if cfg.VerifyIDTokens {
		keySet := cfg.KeySet
		if keySet == nil {
			jwksURL := cfg.JWKSURL
			if jwksURL == "" {
				jwksURL = DefaultJWKSURL
			}
			keySet = oidc.NewRemoteKeySet(oidc.ClientContext(ctx, httpClient), jwksURL)
		}
		c.verifier = oidc.NewVerifier(Issuer(cfg.ProjectID), keySet, &oidc.Config{ClientID: cfg.ProjectID})
	}

	return c, nil
}

// Issuer returns the ID token issuer for a Firebase project
func Issuer(projectID string) string {
	return "https://securetoken.google.com/" + projectID
}

type signInWithPasswordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInWithPasswordResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

// SignInWithEmailAndPassword authenticates a password account
func (c *Client) SignInWithEmailAndPassword(ctx context.Context, email, password string) (session *login.Session, err error) {
	ctx, span := observability.StartSpan(ctx, "identity.SignInWithEmailAndPassword")
	defer func() { endSpan(span, err) }()

	var resp signInWithPasswordResponse
	err = c.call(ctx, "accounts:signInWithPassword", signInWithPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	uid, err := c.verifyIDToken(ctx, resp.IDToken, resp.LocalID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", uid))

	return &login.Session{
		UserID:       uid,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// verifyIDToken returns the user id for a sign-in response, checked against
// the token subject when verification is enabled
func (c *Client) verifyIDToken(ctx context.Context, rawIDToken, localID string) (string, error) {
	if c.verifier == nil {
		return localID, nil
	}

	token, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", newAuthError(CodeInvalidUserToken, fmt.Errorf("failed to verify id token: %w", err))
	}
	if localID != "" && token.Subject != localID {
		return "", newAuthError(CodeInvalidUserToken,
			fmt.Errorf("id token subject %q does not match user %q", token.Subject, localID))
	}
	return token.Subject, nil
}

// call POSTs body to an Identity Toolkit method and decodes the reply into out
func (c *Client) call(ctx context.Context, method string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return newAuthError(CodeInternalError, fmt.Errorf("failed to encode request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v1/%s?key=%s", c.baseURL, method, url.QueryEscape(c.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return newAuthError(CodeInternalError, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return newAuthError(CodeNetworkRequestFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return newAuthError(CodeNetworkRequestFailed, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return newAuthError(CodeInternalError, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, login.ErrorCode(err))
	}
	span.End()
}

// isCancellation reports whether err came from the caller giving up
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

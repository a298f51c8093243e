package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/platinummonkey/autohub/pkg/login"
	"github.com/platinummonkey/autohub/pkg/observability"
	"github.com/platinummonkey/autohub/pkg/popup"
)

type signInWithIdpRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
}

type signInWithIdpResponse struct {
	LocalID          string `json:"localId"`
	Email            string `json:"email"`
	ScreenName       string `json:"screenName"`
	DisplayName      string `json:"displayName"`
	OAuthAccessToken string `json:"oauthAccessToken"`
	NeedConfirmation bool   `json:"needConfirmation"`
	ErrorMessage     string `json:"errorMessage"`
	IDToken          string `json:"idToken"`
	RefreshToken     string `json:"refreshToken"`
}

// oauth2Config builds the GitHub OAuth2 configuration for scopes
func (c *Client) oauth2Config(scopes []string) *oauth2.Config {
	endpoint := github.Endpoint
	if c.cfg.GitHub.AuthURL != "" {
		endpoint.AuthURL = c.cfg.GitHub.AuthURL
	}
	if c.cfg.GitHub.TokenURL != "" {
		endpoint.TokenURL = c.cfg.GitHub.TokenURL
	}

	return &oauth2.Config{
		ClientID:     c.cfg.GitHub.ClientID,
		ClientSecret: c.cfg.GitHub.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  c.cfg.GitHub.RedirectURL,
		Scopes:       scopes,
	}
}

// SignInWithPopup runs the GitHub sign-in flow. The consent page is shown
// through opener and the flow resumes when the callback route completes it
// on the broker.
func (c *Client) SignInWithPopup(ctx context.Context, opener popup.Opener, req login.FederatedRequest) (result *login.FederatedResult, err error) {
	ctx, span := observability.StartSpan(ctx, "identity.SignInWithPopup")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("provider.id", req.ProviderID))

	if req.ProviderID != login.GitHubProviderID {
		return nil, newAuthError(CodeOperationNotSupported, fmt.Errorf("unsupported provider %q", req.ProviderID))
	}
	if c.broker == nil || opener == nil || c.cfg.GitHub.ClientID == "" {
		return nil, newAuthError(CodeOperationNotAllowed, fmt.Errorf("github sign-in is not configured"))
	}

	oauthCfg := c.oauth2Config(req.Scopes)

	state := c.broker.Begin()
	if err := opener.Open(ctx, oauthCfg.AuthCodeURL(state)); err != nil {
		c.broker.Cancel(state)
		return nil, newAuthError(CodePopupBlocked, err)
	}

	code, err := c.broker.Await(ctx, state)
	if err != nil {
		return nil, popupError(err)
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, c.http)
	token, err := oauthCfg.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, newAuthError(CodeInvalidCredential, fmt.Errorf("failed to exchange github code: %w", err))
	}

	return c.signInWithGitHubToken(ctx, token.AccessToken)
}

// signInWithGitHubToken exchanges a GitHub access token for a Firebase session
func (c *Client) signInWithGitHubToken(ctx context.Context, accessToken string) (*login.FederatedResult, error) {
	requestURI := c.cfg.RequestURI
	if requestURI == "" {
		requestURI = c.cfg.GitHub.RedirectURL
	}

	postBody := url.Values{
		"access_token": {accessToken},
		"providerId":   {login.GitHubProviderID},
	}

	var resp signInWithIdpResponse
	err := c.call(ctx, "accounts:signInWithIdp", signInWithIdpRequest{
		PostBody:            postBody.Encode(),
		RequestURI:          requestURI,
		ReturnIdpCredential: true,
		ReturnSecureToken:   true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.NeedConfirmation {
		return nil, newAuthError(login.CodeAccountExistsWithDifferentCredential,
			fmt.Errorf("%s is registered with another sign-in method", resp.Email))
	}
	if resp.ErrorMessage != "" {
		return nil, newAuthError(codeForMessage(resp.ErrorMessage), errors.New(resp.ErrorMessage))
	}

	uid, err := c.verifyIDToken(ctx, resp.IDToken, resp.LocalID)
	if err != nil {
		return nil, err
	}

	return &login.FederatedResult{
		UserID:      uid,
		AccessToken: resp.OAuthAccessToken,
		Username:    resp.ScreenName,
		DisplayName: resp.DisplayName,
	}, nil
}

// popupError maps a failed popup wait to the error shown to the user
func popupError(err error) error {
	switch {
	case errors.Is(err, popup.ErrDenied),
		errors.Is(err, popup.ErrExpired),
		errors.Is(err, popup.ErrUnknownState),
		isCancellation(err):
		return newAuthError(CodePopupClosedByUser, err)
	default:
		return newAuthError(CodeInternalError, err)
	}
}

package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	googleRevokeURL   = "https://accounts.google.com/o/oauth2/revoke"
)

// DelegatedProvider is the capability the core consumes from the external
// identity provider: turn a callback code into a verified email plus an
// access grant, and revoke that grant on logout.
type DelegatedProvider interface {
	GrantRevoker
	// AuthCodeURL returns the URL to redirect users for authorization.
	AuthCodeURL(state string) string
	// VerifyIdentity exchanges the authorization code and returns the
	// provider-verified email together with the access grant.
	VerifyIdentity(ctx context.Context, code string) (email, grant string, err error)
}

// GoogleConfig holds Google OAuth configuration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	RevokeURL   string

	HTTPClient *http.Client
}

// GoogleProvider implements DelegatedProvider against Google's OAuth2
// endpoints.
type GoogleProvider struct {
	config     GoogleConfig
	httpClient *http.Client
}

var _ DelegatedProvider = (*GoogleProvider)(nil)

// NewGoogleProvider creates a new Google provider.
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email", "profile"}
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = googleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = googleTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = googleUserInfoURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = googleRevokeURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &GoogleProvider{
		config:     cfg,
		httpClient: client,
	}
}

// AuthCodeURL implements DelegatedProvider.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.CallbackURL},
		"response_type": {"code"},
		"scope":         {strings.Join(p.config.Scopes, " ")},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// VerifyIdentity implements DelegatedProvider: it trades the authorization
// code for an access token and fetches the verified email.
func (p *GoogleProvider) VerifyIdentity(ctx context.Context, code string) (string, string, error) {
	grant, err := p.exchange(ctx, code)
	if err != nil {
		return "", "", err
	}

	email, err := p.userEmail(ctx, grant)
	if err != nil {
		return "", "", err
	}

	return email, grant, nil
}

// RevokeGrant implements GrantRevoker. Google expects the token as a form
// parameter on the revoke endpoint.
func (p *GoogleProvider) RevokeGrant(ctx context.Context, grant string) error {
	data := url.Values{"token": {grant}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.RevokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "google revoke request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return goerrors.New("google revoke rejected", goerrors.CategoryInternal).
			WithMetadata(map[string]any{
				"status": resp.StatusCode,
				"body":   strings.TrimSpace(string(body)),
			})
	}

	return nil
}

func (p *GoogleProvider) exchange(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {p.config.CallbackURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryAuth, "google token exchange failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var tokenResp googleTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryAuth, "invalid google token response")
	}

	if resp.StatusCode != http.StatusOK || tokenResp.Error != "" {
		return "", goerrors.New("google token exchange rejected", goerrors.CategoryAuth).
			WithMetadata(map[string]any{
				"status":            resp.StatusCode,
				"error":             tokenResp.Error,
				"error_description": tokenResp.ErrorDesc,
			})
	}
	if tokenResp.AccessToken == "" {
		return "", goerrors.New("google token response missing access token", goerrors.CategoryAuth)
	}

	return tokenResp.AccessToken, nil
}

func (p *GoogleProvider) userEmail(ctx context.Context, grant string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+grant)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryAuth, "google userinfo request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", goerrors.New("google userinfo rejected", goerrors.CategoryAuth).
			WithMetadata(map[string]any{
				"status": resp.StatusCode,
				"body":   strings.TrimSpace(string(body)),
			})
	}

	var userInfo googleUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryAuth, "invalid google userinfo response")
	}

	if userInfo.Email == "" {
		return "", goerrors.New("google userinfo missing email", goerrors.CategoryAuth)
	}

	return userInfo.Email, nil
}

type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Package google exchanges Google OAuth authorization codes for verified
// profiles.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	auth "github.com/SaiAkashNeela/better-auth-postgres-starter"
)

const (
	defaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// Config holds Google OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the default Google scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Exchanger implements auth.SocialExchanger for Google.
type Exchanger struct {
	config     Config
	httpClient *http.Client
}

// New creates a new Google exchanger.
func New(cfg Config) *Exchanger {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultUserInfoURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Exchanger{
		config:     cfg,
		httpClient: client,
	}
}

// Name implements auth.SocialExchanger.
func (e *Exchanger) Name() string {
	return "google"
}

// AuthCodeURL builds the authorization redirect URL for the given state.
func (e *Exchanger) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {e.config.ClientID},
		"redirect_uri":  {e.config.CallbackURL},
		"response_type": {"code"},
		"scope":         {strings.Join(e.config.Scopes, " ")},
		"state":         {state},
	}
	return e.config.AuthURL + "?" + params.Encode()
}

// Exchange swaps the authorization code for an access token and loads the
// OpenID userinfo profile.
func (e *Exchanger) Exchange(ctx context.Context, code string) (*auth.SocialProfile, error) {
	accessToken, err := e.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	info, err := e.fetchUserInfo(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	return &auth.SocialProfile{
		Provider:          "google",
		ProviderAccountID: info.Sub,
		Email:             info.Email,
		EmailVerified:     info.EmailVerified,
		Name:              info.Name,
		AvatarURL:         info.Picture,
	}, nil
}

func (e *Exchanger) exchangeCode(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"client_id":     {e.config.ClientID},
		"client_secret": {e.config.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {e.config.CallbackURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
		ErrorDesc   string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("google: failed to decode token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || tokenResp.Error != "" {
		return "", fmt.Errorf("google: token exchange failed: %s %s", tokenResp.Error, tokenResp.ErrorDesc)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("google: missing access token")
	}

	return tokenResp.AccessToken, nil
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (e *Exchanger) fetchUserInfo(ctx context.Context, accessToken string) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google: userinfo request failed with status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("google: failed to decode userinfo response: %w", err)
	}

	if info.Sub == "" {
		return nil, fmt.Errorf("google: userinfo missing subject")
	}

	return &info, nil
}

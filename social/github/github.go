// Package github exchanges GitHub OAuth authorization codes for verified
// profiles.
package github

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
	defaultAuthURL   = "https://github.com/login/oauth/authorize"
	defaultTokenURL  = "https://github.com/login/oauth/access_token"
	defaultUserURL   = "https://api.github.com/user"
	defaultEmailsURL = "https://api.github.com/user/emails"
)

// Config holds GitHub OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL   string
	TokenURL  string
	UserURL   string
	EmailsURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the default GitHub scopes.
func DefaultScopes() []string {
	return []string{"user:email", "read:user"}
}

// Exchanger implements auth.SocialExchanger for GitHub.
type Exchanger struct {
	config     Config
	httpClient *http.Client
}

// New creates a new GitHub exchanger.
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
	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}
	if cfg.EmailsURL == "" {
		cfg.EmailsURL = defaultEmailsURL
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
	return "github"
}

// AuthCodeURL builds the authorization redirect URL for the given state.
func (e *Exchanger) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":    {e.config.ClientID},
		"redirect_uri": {e.config.CallbackURL},
		"scope":        {strings.Join(e.config.Scopes, " ")},
		"state":        {state},
	}
	return e.config.AuthURL + "?" + params.Encode()
}

// Exchange swaps the authorization code for an access token and loads the
// user's profile and primary email.
func (e *Exchanger) Exchange(ctx context.Context, code string) (*auth.SocialProfile, error) {
	accessToken, err := e.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	user, err := e.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	email, emailVerified, err := e.fetchPrimaryEmail(ctx, accessToken)
	if err != nil {
		// the user endpoint may expose a public email, unverified
		email = user.Email
		emailVerified = false
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &auth.SocialProfile{
		Provider:          "github",
		ProviderAccountID: fmt.Sprintf("%d", user.ID),
		Email:             email,
		EmailVerified:     emailVerified,
		Name:              name,
		AvatarURL:         user.AvatarURL,
	}, nil
}

func (e *Exchanger) exchangeCode(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"client_id":     {e.config.ClientID},
		"client_secret": {e.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {e.config.CallbackURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

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
		return "", fmt.Errorf("github: failed to decode token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || tokenResp.Error != "" {
		return "", fmt.Errorf("github: token exchange failed: %s %s", tokenResp.Error, tokenResp.ErrorDesc)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("github: missing access token")
	}

	return tokenResp.AccessToken, nil
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (e *Exchanger) fetchUser(ctx context.Context, accessToken string) (*githubUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.UserURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

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
		return nil, fmt.Errorf("github: user request failed with status %d", resp.StatusCode)
	}

	var user githubUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("github: failed to decode user response: %w", err)
	}

	return &user, nil
}

func (e *Exchanger) fetchPrimaryEmail(ctx context.Context, accessToken string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.EmailsURL, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("github: emails request failed with status %d", resp.StatusCode)
	}

	var emails []githubEmail
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", false, fmt.Errorf("github: failed to decode emails response: %w", err)
	}

	for _, em := range emails {
		if em.Primary {
			return em.Email, em.Verified, nil
		}
	}

	for _, em := range emails {
		if em.Verified {
			return em.Email, true, nil
		}
	}

	return "", false, fmt.Errorf("github: no usable email on account")
}

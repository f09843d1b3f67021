package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/upb/secretmanager/config"
)

// TokenResponse represents the OIDC token endpoint response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// TokenExchanger exchanges authorization codes for tokens at the realm token endpoint
type TokenExchanger struct {
	cfg        config.KeycloakConfig
	httpClient *http.Client
}

// NewTokenExchanger creates a new token exchanger
func NewTokenExchanger(cfg config.KeycloakConfig) *TokenExchanger {
	return &TokenExchanger{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// ExchangeCode exchanges an authorization code for an access token
func (e *TokenExchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	if e.cfg.URL == "" || e.cfg.ClientID == "" {
		return "", fmt.Errorf("keycloak not configured")
	}

	data := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {e.cfg.ClientID},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	if e.cfg.ClientSecret != "" {
		data.Set("client_secret", e.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, TokenURL(e.cfg), strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("no access_token in response")
	}

	return tokenResp.AccessToken, nil
}

// TokenURL returns the realm token endpoint
func TokenURL(cfg config.KeycloakConfig) string {
	return cfg.IssuerURL() + "/protocol/openid-connect/token"
}

// AuthURL returns the authorization endpoint URL that starts the code flow
func AuthURL(cfg config.KeycloakConfig, state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {cfg.ClientID},
		"redirect_uri":  {cfg.RedirectURI},
		"state":         {state},
		"scope":         {"openid email profile"},
	}
	return cfg.IssuerURL() + "/protocol/openid-connect/auth?" + params.Encode()
}

// LogoutURL returns the end-session endpoint redirecting back to the front end
func LogoutURL(cfg config.KeycloakConfig) string {
	params := url.Values{"client_id": {cfg.ClientID}}
	if cfg.FrontEndURL != "" {
		params.Set("post_logout_redirect_uri", cfg.FrontEndURL)
	}
	return cfg.IssuerURL() + "/protocol/openid-connect/logout?" + params.Encode()
}

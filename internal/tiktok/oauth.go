// OAuth token functions for TikTok Login Kit.
//
// TikTok issues short-lived access tokens (24 hours) alongside refresh
// tokens (365 days). Both exchanges go through the same token endpoint with
// different grant types. Refreshing rotates the refresh token, so callers
// must store both tokens from every response.

package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// TokenResult holds the response from a code exchange or token refresh.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // Seconds until access token expiry (typically 86400)
	OpenID       string
	Scope        string
}

// tokenResponse is the JSON response from the token endpoint.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	OpenID           string `json:"open_id"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
	ErrorCode        string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ExchangeCode exchanges an authorization code for an access/refresh token
// pair. The code comes from the Login Kit redirect (?code=AUTH_CODE).
func (c *Client) ExchangeCode(ctx context.Context, code, clientKey, clientSecret, redirectURI string) (*TokenResult, error) {
	log.Debug().Str("redirectUri", redirectURI).Msg("Exchanging authorization code for tokens")
	return c.tokenRequest(ctx, url.Values{
		"client_key":    {clientKey},
		"client_secret": {clientSecret},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
		"code":          {code},
	})
}

// RefreshAccessToken exchanges a refresh token for a fresh access/refresh
// token pair. The previous refresh token is invalidated by the platform.
func (c *Client) RefreshAccessToken(ctx context.Context, clientKey, clientSecret, refreshToken string) (*TokenResult, error) {
	log.Debug().Msg("Refreshing access token")
	return c.tokenRequest(ctx, url.Values{
		"client_key":    {clientKey},
		"client_secret": {clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (c *Client) tokenRequest(ctx context.Context, params url.Values) (*TokenResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/oauth/token/",
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result tokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if result.ErrorCode != "" {
		return nil, fmt.Errorf("token request failed: %s (%s)", result.ErrorDescription, result.ErrorCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed (status %d): %s",
			resp.StatusCode, truncate(string(body), 300))
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("no access token in response: %s", truncate(string(body), 300))
	}

	log.Info().Str("openId", result.OpenID).Int64("expiresIn", result.ExpiresIn).Msg("Token obtained")

	return &TokenResult{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
		OpenID:       result.OpenID,
		Scope:        result.Scope,
	}, nil
}

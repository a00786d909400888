package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tiktok-carousel-service/internal/credentials"
)

// TikTok Login Kit endpoints. The authorize URL is a browser redirect, not
// an API call, so it does not go through the configured API base URL.
const authorizeURL = "https://www.tiktok.com/v2/auth/authorize/"

// requiredScopes covers carousel publishing and creator info queries.
const requiredScopes = "user.info.basic,video.publish"

// GET /api/auth/login?accountId=...
//
// Returns the Login Kit authorize URL for the account. The account ID rides
// in the state parameter so the callback knows which slot to fill.
func (s *server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	accountID := strings.ToLower(r.URL.Query().Get("accountId"))
	if err := validateAccountID(accountID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := url.Values{
		"client_key":    {s.cfg.ClientKey},
		"response_type": {"code"},
		"scope":         {requiredScopes},
		"redirect_uri":  {s.cfg.RedirectURI},
		"state":         {accountID},
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"accountId":    accountID,
		"authorizeUrl": authorizeURL + "?" + q.Encode(),
	})
}

// GET /api/auth/callback
//
// The Login Kit redirect lands here with ?code=AUTH_CODE&state=ACCOUNT_ID on
// success or ?error=...&error_description=... when the user denies access.
func (s *server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		log.Warn().Str("error", errParam).Str("description", desc).
			Msg("OAuth authorization denied by user")
		httpError(w, http.StatusOK, fmt.Sprintf("authorization denied: %s", errParam))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httpError(w, http.StatusBadRequest, "missing authorization code")
		return
	}
	accountID := strings.ToLower(r.URL.Query().Get("state"))
	if err := validateAccountID(accountID); err != nil {
		httpError(w, http.StatusBadRequest, "missing or invalid state (account id)")
		return
	}

	result, err := s.api.ExchangeCode(r.Context(), code, s.cfg.ClientKey, s.cfg.ClientSecret, s.cfg.RedirectURI)
	if err != nil {
		log.Error().Err(err).Str("account", accountID).Msg("Failed to exchange authorization code")
		httpError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	err = s.store.StoreCredentials(accountID, credentials.Credential{
		ClientID:     s.cfg.ClientKey,
		ClientSecret: s.cfg.ClientSecret,
		RedirectURI:  s.cfg.RedirectURI,
		AppID:        s.cfg.AppID,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	})
	if err != nil {
		log.Error().Err(err).Str("account", accountID).Msg("Failed to store tokens")
		httpError(w, http.StatusInternalServerError, "tokens obtained but could not be stored")
		return
	}

	log.Info().Str("account", accountID).Str("openId", result.OpenID).Msg("Account authorized")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"accountId": accountID,
		"openId":    result.OpenID,
		"scope":     result.Scope,
	})
}

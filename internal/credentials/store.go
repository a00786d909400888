// Package credentials holds per-account TikTok tokens, encrypted at rest
// with a process-wide AES-256-GCM key. Tokens are decrypted only at the
// point an outbound request needs them and are never written to logs.
//
// GetValidAccessToken refreshes proactively when the stored expiry is within
// five minutes of now. A failed refresh deletes the credential: a token pair
// that cannot be refreshed can no longer be trusted, and the account must
// re-authorize.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tiktok-carousel-service/internal/tiktok"
)

// ErrNotAuthorized is returned when no credentials are stored for an account.
var ErrNotAuthorized = errors.New("not authorized for this account")

// refreshHorizon is how close to expiry a token may get before a synchronous
// refresh is performed.
const refreshHorizon = 5 * time.Minute

// Credential is the cleartext credential handed to StoreCredentials. Tokens
// are encrypted before the store keeps them.
type Credential struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AppID        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// storedCredential is the at-rest form: token fields are sealed ciphertexts.
type storedCredential struct {
	clientID     string
	clientSecret string
	redirectURI  string
	appID        string
	accessToken  []byte
	refreshToken []byte
	expiresAt    time.Time
}

// Refresher performs the upstream token refresh call. *tiktok.Client
// satisfies it; tests substitute a fake.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, clientKey, clientSecret, refreshToken string) (*tiktok.TokenResult, error)
}

// Store is the in-memory credential table.
type Store struct {
	mu        sync.Mutex
	key       []byte
	creds     map[string]*storedCredential
	refresher Refresher
	now       func() time.Time
}

// NewStore creates a credential store using the given 32-byte AES key.
func NewStore(key []byte, refresher Refresher) *Store {
	return &Store{
		key:       key,
		creds:     make(map[string]*storedCredential),
		refresher: refresher,
		now:       time.Now,
	}
}

// StoreCredentials encrypts and stores the credential for accountID,
// replacing any existing entry.
func (s *Store) StoreCredentials(accountID string, c Credential) error {
	access, err := encrypt(s.key, []byte(c.AccessToken))
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := encrypt(s.key, []byte(c.RefreshToken))
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	s.mu.Lock()
	s.creds[accountID] = &storedCredential{
		clientID:     c.ClientID,
		clientSecret: c.ClientSecret,
		redirectURI:  c.RedirectURI,
		appID:        c.AppID,
		accessToken:  access,
		refreshToken: refresh,
		expiresAt:    c.ExpiresAt,
	}
	s.mu.Unlock()

	log.Info().Str("accountId", accountID).Time("expiresAt", c.ExpiresAt).Msg("Credentials stored")
	return nil
}

// HasCredentials reports whether accountID has a stored credential.
func (s *Store) HasCredentials(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.creds[accountID]
	return ok
}

// AccountIDs returns the IDs of all accounts with stored credentials, sorted.
func (s *Store) AccountIDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.creds))
	for id := range s.creds {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// RemoveCredentials deletes the credential for accountID if present.
func (s *Store) RemoveCredentials(accountID string) {
	s.mu.Lock()
	delete(s.creds, accountID)
	s.mu.Unlock()
	log.Info().Str("accountId", accountID).Msg("Credentials removed")
}

// GetValidAccessToken returns a bearer token for accountID, refreshing first
// if the stored expiry is within the refresh horizon. On refresh failure the
// credential is deleted and the error is returned.
func (s *Store) GetValidAccessToken(ctx context.Context, accountID string) (string, error) {
	s.mu.Lock()
	cred, ok := s.creds[accountID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNotAuthorized, accountID)
	}

	if cred.expiresAt.After(s.now().Add(refreshHorizon)) {
		sealed := cred.accessToken
		s.mu.Unlock()
		token, err := decrypt(s.key, sealed)
		if err != nil {
			return "", fmt.Errorf("decrypt access token: %w", err)
		}
		return string(token), nil
	}

	// A refresh is due. Copy what the network call needs and release the
	// lock: the lock must not be held across the request.
	clientID := cred.clientID
	clientSecret := cred.clientSecret
	sealedRefresh := cred.refreshToken
	s.mu.Unlock()

	refreshToken, err := decrypt(s.key, sealedRefresh)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	log.Debug().Str("accountId", accountID).Msg("Access token near expiry, refreshing")
	result, err := s.refresher.RefreshAccessToken(ctx, clientID, clientSecret, string(refreshToken))
	if err != nil {
		s.mu.Lock()
		delete(s.creds, accountID)
		s.mu.Unlock()
		log.Warn().Str("accountId", accountID).Err(err).Msg("Token refresh failed, credentials deleted")
		return "", fmt.Errorf("refresh token for %s: %w", accountID, err)
	}

	newAccess, err := encrypt(s.key, []byte(result.AccessToken))
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}
	newRefresh, err := encrypt(s.key, []byte(result.RefreshToken))
	if err != nil {
		return "", fmt.Errorf("encrypt refresh token: %w", err)
	}

	s.mu.Lock()
	if cred, ok := s.creds[accountID]; ok {
		cred.accessToken = newAccess
		cred.refreshToken = newRefresh
		cred.expiresAt = s.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}
	s.mu.Unlock()

	log.Info().Str("accountId", accountID).Int64("expiresIn", result.ExpiresIn).Msg("Access token refreshed")
	return result.AccessToken, nil
}

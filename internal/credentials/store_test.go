package credentials

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/tiktok-carousel-service/internal/tiktok"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

// fakeRefresher records refresh calls and returns a canned result or error.
type fakeRefresher struct {
	calls  int
	gotTok string
	result *tiktok.TokenResult
	err    error
}

func (f *fakeRefresher) RefreshAccessToken(_ context.Context, _, _, refreshToken string) (*tiktok.TokenResult, error) {
	f.calls++
	f.gotTok = refreshToken
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func freshCredential(expiresAt time.Time) Credential {
	return Credential{
		ClientID:     "client-key",
		ClientSecret: "client-secret",
		RedirectURI:  "https://example.com/callback",
		AppID:        "app-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    expiresAt,
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sealed, err := encrypt(testKey, []byte("secret token"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "secret token")

	plain, err := decrypt(testKey, sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret token", string(plain))

	// Fresh nonce per call: two encryptions of the same plaintext differ.
	sealed2, err := encrypt(testKey, []byte("secret token"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, sealed2)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	sealed, err := encrypt(testKey, []byte("secret"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = decrypt(testKey, sealed)
	assert.Error(t, err)
}

func TestGetValidAccessTokenNoCredentials(t *testing.T) {
	s := NewStore(testKey, &fakeRefresher{})
	_, err := s.GetValidAccessToken(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestGetValidAccessTokenFresh(t *testing.T) {
	ref := &fakeRefresher{}
	s := NewStore(testKey, ref)
	require.NoError(t, s.StoreCredentials("acct", freshCredential(time.Now().Add(time.Hour))))

	token, err := s.GetValidAccessToken(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Zero(t, ref.calls, "fresh token must not trigger a refresh")
}

func TestGetValidAccessTokenRefreshesNearExpiry(t *testing.T) {
	ref := &fakeRefresher{result: &tiktok.TokenResult{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresIn:    86400,
	}}
	s := NewStore(testKey, ref)
	require.NoError(t, s.StoreCredentials("acct", freshCredential(time.Now().Add(2*time.Minute))))

	token, err := s.GetValidAccessToken(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 1, ref.calls)
	assert.Equal(t, "refresh-1", ref.gotTok, "refresh must use the stored refresh token")

	// Stored tokens were replaced: the next call within the new expiry
	// returns the refreshed access token without another refresh.
	token, err = s.GetValidAccessToken(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 1, ref.calls)
}

func TestGetValidAccessTokenRefreshFailureDeletesCredential(t *testing.T) {
	ref := &fakeRefresher{err: errors.New("invalid_grant")}
	s := NewStore(testKey, ref)
	require.NoError(t, s.StoreCredentials("acct", freshCredential(time.Now().Add(-time.Minute))))

	_, err := s.GetValidAccessToken(context.Background(), "acct")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")

	assert.False(t, s.HasCredentials("acct"), "untrusted credential must be deleted")
	_, err = s.GetValidAccessToken(context.Background(), "acct")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestAccountManagement(t *testing.T) {
	s := NewStore(testKey, &fakeRefresher{})
	require.NoError(t, s.StoreCredentials("b", freshCredential(time.Now().Add(time.Hour))))
	require.NoError(t, s.StoreCredentials("a", freshCredential(time.Now().Add(time.Hour))))

	assert.True(t, s.HasCredentials("a"))
	assert.False(t, s.HasCredentials("c"))
	assert.Equal(t, []string{"a", "b"}, s.AccountIDs())

	s.RemoveCredentials("a")
	assert.False(t, s.HasCredentials("a"))
	assert.Equal(t, []string{"b"}, s.AccountIDs())
}

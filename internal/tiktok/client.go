// Package tiktok provides a client for the TikTok open API content
// publishing endpoints used by the carousel service.
//
// Publishing a photo carousel is a multi-step process:
//  1. Init an upload session per asset (returns an upload URL and media ID)
//  2. PUT the raw asset bytes to the upload URL
//  3. Commit the session; the platform reports PROCESSING or COMPLETE
//  4. Publish the post referencing the committed media IDs
//
// Every JSON response carries an error envelope that must be inspected in
// addition to the HTTP status: the platform reports failures with code
// "ok" absent or replaced even under HTTP 200.
package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultBaseURL is the TikTok open API base URL.
	defaultBaseURL = "https://open.tiktokapis.com"

	// defaultTimeout is the HTTP client timeout for API calls.
	defaultTimeout = 30 * time.Second
)

// Recognized commit status values. Anything else, even under an HTTP
// success code, fails the upload attempt.
const (
	StatusProcessing = "PROCESSING"
	StatusComplete   = "COMPLETE"
)

// Client provides methods for the TikTok content publishing API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a TikTok API client. An empty baseURL selects the
// production endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: baseURL,
	}
}

// --- API response types ---

// apiError is the error envelope present on every API response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id,omitempty"`
}

// ok reports whether the envelope describes a successful call.
func (e *apiError) ok() bool {
	return e == nil || e.Code == "" || e.Code == "ok"
}

// envelope is the common wrapper decoded from every response body.
type envelope struct {
	Error   *apiError `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`
}

// UploadSession correlates a provisional media ID with the URL the asset
// bytes must be PUT to. It is valid for a single upload attempt.
type UploadSession struct {
	MediaID   string
	UploadURL string
}

type initUploadResponse struct {
	Data struct {
		MediaID   string `json:"media_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	envelope
}

type commitUploadResponse struct {
	Data struct {
		MediaID string `json:"media_id"`
		Status  string `json:"status"`
	} `json:"data"`
	envelope
}

// PostRequest is the final publish payload.
type PostRequest struct {
	MediaIDs       []string `json:"media_ids"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	PrivacyLevel   string   `json:"privacy_level"`
	DisableComment bool     `json:"disable_comment"`
}

// PostResult identifies a published post.
type PostResult struct {
	PostID   string
	ShareURL string
}

type publishResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
		ShareURL  string `json:"share_url"`
	} `json:"data"`
	envelope
}

// CreatorInfo describes the posting account, used by diagnostics callers.
type CreatorInfo struct {
	Username            string   `json:"creator_username"`
	Nickname            string   `json:"creator_nickname"`
	PrivacyLevelOptions []string `json:"privacy_level_options"`
	MaxPhotoCount       int      `json:"max_photo_count"`
}

type creatorInfoResponse struct {
	Data CreatorInfo `json:"data"`
	envelope
}

// --- Upload protocol ---

// InitUpload requests an upload session for one image asset.
func (c *Client) InitUpload(ctx context.Context, accessToken string, size int64, mimeType string) (*UploadSession, error) {
	payload := map[string]any{
		"media_type": "IMAGE",
		"media_size": size,
		"mime_type":  mimeType,
	}

	body, err := c.postJSON(ctx, "/v2/media/upload/init/", accessToken, payload)
	if err != nil {
		return nil, fmt.Errorf("init upload: %w", err)
	}

	var resp initUploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("init upload: parse response: %w", err)
	}
	if resp.Data.MediaID == "" || resp.Data.UploadURL == "" {
		return nil, fmt.Errorf("init upload: incomplete session in response (body: %s)", truncate(string(body), 200))
	}

	log.Debug().Str("mediaId", resp.Data.MediaID).Msg("Upload session initialized")
	return &UploadSession{MediaID: resp.Data.MediaID, UploadURL: resp.Data.UploadURL}, nil
}

// TransferFile PUTs the raw asset bytes to the session's upload URL with the
// correct content length. Any non-success response is a hard failure of this
// attempt.
func (c *Client) TransferFile(ctx context.Context, uploadURL, path string, size int64, mimeType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open asset: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", mimeType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transfer request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	log.Debug().
		Int("statusCode", resp.StatusCode).
		Int64("bytes", size).
		Dur("duration", time.Since(start)).
		Msg("Asset transfer complete")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("transfer failed (%s): %s", resp.Status, truncate(string(body), 200))
	}
	return nil
}

// CommitUpload finalizes the upload session. The platform must report a
// recognized processing status; any other value is treated as a failure even
// when the HTTP call succeeded.
func (c *Client) CommitUpload(ctx context.Context, accessToken, mediaID string) (string, error) {
	body, err := c.postJSON(ctx, "/v2/media/upload/commit/", accessToken, map[string]any{
		"media_id": mediaID,
	})
	if err != nil {
		return "", fmt.Errorf("commit upload %s: %w", mediaID, err)
	}

	var resp commitUploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("commit upload %s: parse response: %w", mediaID, err)
	}

	switch resp.Data.Status {
	case StatusProcessing, StatusComplete:
		log.Debug().Str("mediaId", mediaID).Str("status", resp.Data.Status).Msg("Upload committed")
		return resp.Data.Status, nil
	default:
		return "", fmt.Errorf("commit upload %s: unexpected status %q", mediaID, resp.Data.Status)
	}
}

// --- Publishing ---

// PublishPost submits the final multi-image post and returns its identity.
func (c *Client) PublishPost(ctx context.Context, accessToken string, post *PostRequest) (*PostResult, error) {
	body, err := c.postJSON(ctx, "/v2/post/publish/", accessToken, post)
	if err != nil {
		return nil, fmt.Errorf("publish post: %w", err)
	}

	var resp publishResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("publish post: parse response: %w", err)
	}
	if resp.Data.PublishID == "" {
		return nil, fmt.Errorf("publish post: no publish ID in response (body: %s)", truncate(string(body), 200))
	}

	log.Info().
		Str("postId", resp.Data.PublishID).
		Int("mediaCount", len(post.MediaIDs)).
		Msg("Post published")
	return &PostResult{PostID: resp.Data.PublishID, ShareURL: resp.Data.ShareURL}, nil
}

// QueryCreatorInfo returns posting-account metadata for diagnostics callers.
func (c *Client) QueryCreatorInfo(ctx context.Context, accessToken string) (*CreatorInfo, error) {
	body, err := c.postJSON(ctx, "/v2/post/publish/creator_info/query/", accessToken, struct{}{})
	if err != nil {
		return nil, fmt.Errorf("query creator info: %w", err)
	}

	var resp creatorInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("query creator info: parse response: %w", err)
	}
	return &resp.Data, nil
}

// --- Internal helpers ---

// postJSON sends an authenticated JSON POST and returns the raw body after
// envelope and status checks. Error precedence: the embedded error message,
// then a top-level message field, then the HTTP status line.
func (c *Client) postJSON(ctx context.Context, endpoint, accessToken string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	log.Debug().Str("method", http.MethodPost).Str("path", endpoint).Msg("TikTok API request")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("TikTok API response")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("TikTok API response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	// Envelope decode failures are ignored here: malformed bodies are
	// reported by the typed unmarshal at the call site.
	_ = json.Unmarshal(body, &env)

	if !env.Error.ok() {
		log.Error().
			Str("errorCode", env.Error.Code).
			Str("errorMessage", env.Error.Message).
			Str("logId", env.Error.LogID).
			Msg("TikTok API error")
		return nil, fmt.Errorf("TikTok API error: %s (code: %s)", env.Error.Message, env.Error.Code)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		if env.Message != "" {
			return nil, fmt.Errorf("TikTok API error: %s", env.Message)
		}
		return nil, fmt.Errorf("TikTok API error: %s", httpResp.Status)
	}

	return body, nil
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

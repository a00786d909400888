// Package publisher assembles and submits the final multi-image post from a
// list of committed media IDs.
package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tiktok-carousel-service/internal/metrics"
	"github.com/fpang/tiktok-carousel-service/internal/tiktok"
)

const (
	minPostImages = 1
	maxPostImages = 10

	maxCaptionLength = 2200
	maxTitleLength   = 90
	maxHashtagCount  = 30
	maxHashtagLength = 80

	ellipsis = "..."

	// privacyMostRestrictive is forced for draft posts regardless of any
	// explicitly requested tier.
	privacyMostRestrictive = "SELF_ONLY"
	privacyDefault         = "PUBLIC_TO_EVERYONE"
)

// publishAPI is the slice of the platform client the publisher drives.
type publishAPI interface {
	PublishPost(ctx context.Context, accessToken string, post *tiktok.PostRequest) (*tiktok.PostResult, error)
}

type tokenSource interface {
	GetValidAccessToken(ctx context.Context, accountID string) (string, error)
}

// PostOptions carries the caller-controlled post fields.
type PostOptions struct {
	Caption        string
	Hashtags       []string
	Draft          bool
	PrivacyLevel   string // optional; ignored when Draft is set
	DisableComment bool
}

// PostResult describes the published post.
type PostResult struct {
	PostID     string
	ShareURL   string
	MediaCount int
}

// ValidationResult is the typed outcome of ValidatePostContent. It is a
// value, not an error: callers surface one combined validation failure
// before starting any upload work.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Publisher submits assembled posts on behalf of configured accounts.
type Publisher struct {
	api       publishAPI
	tokens    tokenSource
	collector *metrics.Collector // may be nil
}

// NewPublisher creates a Publisher.
func NewPublisher(api publishAPI, tokens tokenSource, collector *metrics.Collector) *Publisher {
	return &Publisher{api: api, tokens: tokens, collector: collector}
}

// CreatePost publishes mediaIDs as one post for accountID. It requires 1-10
// media identifiers, builds the final caption and title, and issues one
// network call.
func (p *Publisher) CreatePost(ctx context.Context, mediaIDs []string, opts PostOptions, accountID string) (*PostResult, error) {
	if len(mediaIDs) < minPostImages || len(mediaIDs) > maxPostImages {
		return nil, fmt.Errorf("a post requires between %d and %d images, got %d",
			minPostImages, maxPostImages, len(mediaIDs))
	}

	caption := truncateWithEllipsis(buildCaption(opts.Caption, opts.Hashtags), maxCaptionLength)
	title := truncateWithEllipsis(caption, maxTitleLength)

	privacy := opts.PrivacyLevel
	if privacy == "" {
		privacy = privacyDefault
	}
	if opts.Draft {
		privacy = privacyMostRestrictive
	}

	token, err := p.tokens.GetValidAccessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("accountId", accountID).
		Int("mediaCount", len(mediaIDs)).
		Bool("draft", opts.Draft).
		Str("privacy", privacy).
		Msg("Publishing post")

	start := time.Now()
	result, err := p.api.PublishPost(ctx, token, &tiktok.PostRequest{
		MediaIDs:       mediaIDs,
		Title:          title,
		Description:    caption,
		PrivacyLevel:   privacy,
		DisableComment: opts.DisableComment,
	})
	if p.collector != nil {
		p.collector.ObservePublishDuration(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	return &PostResult{
		PostID:     result.PostID,
		ShareURL:   result.ShareURL,
		MediaCount: len(mediaIDs),
	}, nil
}

// ValidatePostContent checks caption and hashtag limits without touching the
// network. All violations are reported together.
func ValidatePostContent(caption string, tags []string) ValidationResult {
	var errs []string

	if len(caption) > maxCaptionLength {
		errs = append(errs, fmt.Sprintf("caption exceeds %d characters (%d)", maxCaptionLength, len(caption)))
	}
	if len(tags) > maxHashtagCount {
		errs = append(errs, fmt.Sprintf("too many hashtags: %d (max %d)", len(tags), maxHashtagCount))
	}
	for _, tag := range tags {
		if len(tag) > maxHashtagLength {
			errs = append(errs, fmt.Sprintf("hashtag %q exceeds %d characters", truncateWithEllipsis(tag, 20), maxHashtagLength))
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// buildCaption appends normalized hashtags to the caption text. Each tag is
// forced to start with "#".
func buildCaption(caption string, hashtags []string) string {
	if len(hashtags) == 0 {
		return caption
	}

	normalized := make([]string, len(hashtags))
	for i, h := range hashtags {
		if strings.HasPrefix(h, "#") {
			normalized[i] = h
		} else {
			normalized[i] = "#" + h
		}
	}

	if caption == "" {
		return strings.Join(normalized, " ")
	}
	return caption + "\n\n" + strings.Join(normalized, " ")
}

// truncateWithEllipsis caps s at max characters, replacing the tail with an
// ellipsis marker when it overflows.
func truncateWithEllipsis(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-len(ellipsis)] + ellipsis
}

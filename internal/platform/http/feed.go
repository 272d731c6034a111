package http

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Alias1177/HotDigits/models"
	"github.com/rs/zerolog/log"
)

// MaxFeedBytes bounds the body read from a draw feed
const MaxFeedBytes = 4 << 20

// DrawFeed downloads newline-separated draw history from a URL
type DrawFeed struct {
	client *Client
	url    string
}

var _ models.DrawSource = (*DrawFeed)(nil)

// NewDrawFeed creates a feed reading from url through client
func NewDrawFeed(client *Client, url string) *DrawFeed {
	return &DrawFeed{client: client, url: url}
}

// FetchText returns the raw feed body
func (f *DrawFeed) FetchText(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return "", fmt.Errorf("building feed request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := f.client.DoRequest(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFeedBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading feed body: %w", err)
	}
	if len(body) > MaxFeedBytes {
		return "", fmt.Errorf("feed body exceeds %d bytes", MaxFeedBytes)
	}

	log.Debug().
		Str("component", "draw_feed").
		Str("url", req.URL.Redacted()).
		Int("bytes", len(body)).
		Msg("Fetched draw feed")

	return string(body), nil
}

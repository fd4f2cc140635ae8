package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelmask/internal/domain"
)

const (
	defaultTimeout   = 20 * time.Second
	defaultMaxBytes  = 25 << 20
	defaultUserAgent = "pixelmask/1.0"
)

var ErrTooLarge = errors.New("response body exceeds size limit")

type Config struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

// Client downloads source images and logos. It never retries.
type Client struct {
	httpClient *http.Client
	maxBytes   int64
	userAgent  string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBytes:  maxBytes,
		userAgent: userAgent,
	}
}

// FetchImage downloads the source image. Responses whose declared content
// type names neither an image nor an octet-stream are rejected before the
// body is read.
func (c *Client) FetchImage(ctx context.Context, endpoint string) ([]byte, error) {
	return c.fetch(ctx, domain.ResourceSource, endpoint, true)
}

// FetchLogo downloads a logo. Only the status code is checked.
func (c *Client) FetchLogo(ctx context.Context, endpoint string) ([]byte, error) {
	return c.fetch(ctx, domain.ResourceLogo, endpoint, false)
}

func (c *Client) fetch(ctx context.Context, resource, endpoint string, guardContentType bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.FetchError{Resource: resource, URL: endpoint, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "image/*,application/octet-stream;q=0.9,*/*;q=0.1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Resource: resource, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.FetchError{Resource: resource, URL: endpoint, StatusCode: resp.StatusCode}
	}

	if guardContentType {
		contentType := resp.Header.Get("Content-Type")
		if !IsImageContentType(contentType) {
			return nil, &domain.ContentTypeError{URL: endpoint, ContentType: contentType}
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, &domain.FetchError{Resource: resource, URL: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(data)) > c.maxBytes {
		return nil, &domain.FetchError{Resource: resource, URL: endpoint, Err: ErrTooLarge}
	}
	return data, nil
}

// IsImageContentType accepts any declared type mentioning "image" and the
// generic "octet-stream" some object stores report for uploads.
func IsImageContentType(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "image") || strings.Contains(contentType, "octet-stream")
}

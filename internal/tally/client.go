package tally

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"tallysync/internal/models"

	"github.com/sirupsen/logrus"
)

// PayloadArchiver stores raw response bodies for later inspection
type PayloadArchiver interface {
	Archive(ctx context.Context, key string, payload []byte) error
}

// Client talks to one Tally server over its XML export protocol
type Client struct {
	endpoint      string
	httpClient    *http.Client
	archiver      PayloadArchiver
	archivePrefix string
	logger        logrus.FieldLogger
	now           func() time.Time
}

type Option func(*Client)

// WithArchiver archives every successful response under prefix
func WithArchiver(archiver PayloadArchiver, prefix string) Option {
	return func(c *Client) {
		c.archiver = archiver
		c.archivePrefix = prefix
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Tally client. The timeout bounds each request and should
// be minutes-scale since Tally serializes large collections synchronously.
func NewClient(endpoint string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logrus.StandardLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint is the Tally server URL the client posts to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Fetch exports one entity collection and returns the parsed tree
func (c *Client) Fetch(ctx context.Context, entity models.EntityType, opts RequestOptions) (Tree, error) {
	payload, err := BuildRequest(entity, opts)
	if err != nil {
		return nil, err
	}
	body, err := c.makeRequest(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", entity, err)
	}
	c.archive(ctx, entity, body)

	tree, err := ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", entity, err)
	}
	return tree, nil
}

// Ping checks that the server answers a company export
func (c *Client) Ping(ctx context.Context) error {
	payload, err := BuildRequest(models.EntityCompany, RequestOptions{})
	if err != nil {
		return err
	}
	_, err = c.makeRequest(ctx, payload)
	return err
}

// makeRequest posts payload and reads the whole response body
func (c *Client) makeRequest(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("tally returned status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	c.logger.WithFields(logrus.Fields{
		"endpoint": c.endpoint,
		"bytes":    len(body),
		"elapsed":  c.now().Sub(start).String(),
	}).Debug("tally request completed")
	return body, nil
}

func (c *Client) archive(ctx context.Context, entity models.EntityType, body []byte) {
	if c.archiver == nil {
		return
	}
	now := c.now()
	key := fmt.Sprintf("%s/%s/%s-%s.xml", c.archivePrefix, now.Format("2006-01-02"), entity, now.Format("150405.000000"))
	if err := c.archiver.Archive(ctx, key, body); err != nil {
		c.logger.WithFields(logrus.Fields{"entity": entity, "key": key}).Warnf("failed to archive tally payload: %v", err)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

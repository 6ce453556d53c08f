package qstash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureHeader carries the JWT QStash signs every delivery with.
const SignatureHeader = "Upstash-Signature"

const upstashIssuer = "Upstash"

var (
	ErrNotConfigured    = errors.New("qstash is not configured")
	ErrInvalidSignature = errors.New("invalid qstash signature")
)

// Config is loaded with the QSTASH prefix. Every field is optional; a client
// without URL and token cannot publish, one without signing keys cannot
// verify.
type Config struct {
	URL               string        `split_words:"true" default:"https://qstash.upstash.io"`
	Token             string        `split_words:"true"`
	CurrentSigningKey string        `split_words:"true"`
	NextSigningKey    string        `split_words:"true"`
	Destination       string        `split_words:"true"`
	Timeout           time.Duration `split_words:"true" default:"10s"`
}

type Client struct {
	baseURL           string
	token             string
	currentSigningKey string
	nextSigningKey    string
	destination       string
	httpClient        *http.Client
	now               func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		token:             strings.TrimSpace(cfg.Token),
		currentSigningKey: strings.TrimSpace(cfg.CurrentSigningKey),
		nextSigningKey:    strings.TrimSpace(cfg.NextSigningKey),
		destination:       strings.TrimSpace(cfg.Destination),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// CanPublish reports whether a token and a default destination are set.
func (c *Client) CanPublish() bool {
	return c != nil && c.token != "" && c.destination != ""
}

// CanVerify reports whether at least one signing key is set.
func (c *Client) CanVerify() bool {
	return c != nil && (c.currentSigningKey != "" || c.nextSigningKey != "")
}

type PublishOptions struct {
	// DeduplicationID makes QStash drop repeated publishes with the same id.
	DeduplicationID string
	Delay           time.Duration
}

type PublishResponse struct {
	MessageID string `json:"messageId"`
}

// Publish enqueues payload as JSON for delivery to destination.
func (c *Client) Publish(ctx context.Context, destination string, payload any, opts PublishOptions) (PublishResponse, error) {
	if c == nil || c.token == "" {
		return PublishResponse{}, ErrNotConfigured
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return PublishResponse{}, fmt.Errorf("%w: destination is empty", ErrNotConfigured)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return PublishResponse{}, fmt.Errorf("qstash: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/publish/"+destination, bytes.NewReader(body))
	if err != nil {
		return PublishResponse{}, fmt.Errorf("qstash: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if opts.DeduplicationID != "" {
		req.Header.Set("Upstash-Deduplication-Id", opts.DeduplicationID)
	}
	if opts.Delay > 0 {
		req.Header.Set("Upstash-Delay", fmt.Sprintf("%ds", int(opts.Delay.Seconds())))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PublishResponse{}, fmt.Errorf("qstash: publish: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PublishResponse{}, fmt.Errorf("qstash: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PublishResponse{}, fmt.Errorf("qstash: publish status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out PublishResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return PublishResponse{}, fmt.Errorf("qstash: decode response: %w", err)
	}
	return out, nil
}

// claims is the payload QStash signs: the registered claims plus the
// base64url SHA-256 of the delivered body.
type claims struct {
	jwt.RegisteredClaims
	Body string `json:"body"`
}

// Verify checks a delivery signature against the current signing key and then
// the next one. When url is non-empty it must equal the signed subject.
func (c *Client) Verify(signature string, body []byte, url string) error {
	if !c.CanVerify() {
		return ErrNotConfigured
	}
	var lastErr error
	for _, key := range []string{c.currentSigningKey, c.nextSigningKey} {
		if key == "" {
			continue
		}
		if lastErr = c.verifyWithKey(key, signature, body, url); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) verifyWithKey(key, token string, body []byte, url string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(upstashIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if url != "" {
		opts = append(opts, jwt.WithSubject(url))
	}

	var cl claims
	if _, err := jwt.ParseWithClaims(strings.TrimSpace(token), &cl, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}, opts...); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	sum := sha256.Sum256(body)
	if strings.TrimRight(cl.Body, "=") != base64.RawURLEncoding.EncodeToString(sum[:]) {
		return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
	}
	return nil
}

// Package chatstream consumes the streaming chat-completion endpoint and
// assembles the reply from its text fragments.
package chatstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"natter/log"
)

// DoneMarker is the frame data that ends a stream.
const DoneMarker = "[DONE]"

const DefaultDetail = "high"

var ErrEmptyPrompt = errors.New("prompt is empty and no image is attached")

// StatusError reports a non-2xx answer to the completion request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat API error %d: %s", e.StatusCode, e.Body)
}

// StreamError reports a transport failure. Partial is the text accumulated
// before the failure.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("chat stream failed after %d chars: %v", len(e.Partial), e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Image is a base64 payload sent alongside the prompt.
type Image struct {
	MIME   string
	Base64 string
}

func (i *Image) dataURI() string {
	mime := i.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + i.Base64
}

// Observer receives the loading flag and every new value of the reply.
// Calls happen on the goroutine running Stream, in arrival order.
type Observer interface {
	Loading(loading bool)
	Partial(text string)
}

// ObserverFuncs adapts plain functions to Observer; nil fields are skipped.
type ObserverFuncs struct {
	OnLoading func(bool)
	OnPartial func(string)
}

func (o ObserverFuncs) Loading(loading bool) {
	if o.OnLoading != nil {
		o.OnLoading(loading)
	}
}

func (o ObserverFuncs) Partial(text string) {
	if o.OnPartial != nil {
		o.OnPartial(text)
	}
}

type Stats struct {
	FirstFragment time.Duration
	Total         time.Duration
	Fragments     int
	Skipped       int
	Chars         int
	Completed     bool
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithDetail sets the image detail hint ("low", "high" or "auto").
func WithDetail(detail string) Option {
	return func(c *Client) {
		if detail != "" {
			c.detail = detail
		}
	}
}

// Client streams completions from one endpoint. A Client may be shared, but
// callers must not run two streams into the same reply at once.
type Client struct {
	url    string
	apiKey string
	model  string
	detail string
	hc     *http.Client
}

func New(url, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		url:    url,
		apiKey: apiKey,
		model:  model,
		detail: DefaultDetail,
		hc: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type request struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type frame struct {
	Content *string `json:"content"`
}

func (c *Client) request(prompt string, img *Image) request {
	parts := []contentPart{{Type: "text", Text: prompt}}
	if img != nil && img.Base64 != "" {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: img.dataURI(), Detail: c.detail},
		})
	}
	return request{
		Model:    c.model,
		Messages: []message{{Role: "user", Content: parts}},
		Stream:   true,
	}
}

// Stream sends prompt (and img, if any) and returns the assembled reply.
// The text returned alongside an error is whatever arrived before it.
func (c *Client) Stream(ctx context.Context, prompt string, img *Image, obs Observer) (string, error) {
	text, _, err := c.StreamWithStats(ctx, prompt, img, obs)
	return text, err
}

func (c *Client) StreamWithStats(ctx context.Context, prompt string, img *Image, obs Observer) (text string, stats Stats, err error) {
	hasImage := img != nil && img.Base64 != ""
	if strings.TrimSpace(prompt) == "" && !hasImage {
		return "", Stats{}, ErrEmptyPrompt
	}
	if obs == nil {
		obs = ObserverFuncs{}
	}

	obs.Loading(true)
	defer obs.Loading(false)

	start := time.Now()
	defer func() {
		stats.Total = time.Since(start)
		stats.Chars = len(text)
		log.StreamMetrics(log.StreamMetricsData{
			FirstFragmentMs: float64(stats.FirstFragment.Milliseconds()),
			TotalMs:         float64(stats.Total.Milliseconds()),
			Fragments:       stats.Fragments,
			Skipped:         stats.Skipped,
			Chars:           stats.Chars,
			Completed:       stats.Completed,
		})
		if err != nil {
			log.Warnf("chat stream: %v", err)
		}
	}()

	body, err := json.Marshal(c.request(prompt, img))
	if err != nil {
		return "", stats, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", stats, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", stats, ctx.Err()
		}
		return "", stats, &StreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", stats, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var buf strings.Builder
	reader := NewSSEReader(resp.Body)
	for {
		data, err := reader.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return buf.String(), stats, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return buf.String(), stats, nil
			}
			return buf.String(), stats, &StreamError{Partial: buf.String(), Err: err}
		}

		if string(data) == DoneMarker {
			stats.Completed = true
			return buf.String(), stats, nil
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			stats.Skipped++
			continue
		}
		if f.Content == nil || *f.Content == "" {
			continue
		}

		if stats.Fragments == 0 {
			stats.FirstFragment = time.Since(start)
		}
		stats.Fragments++
		buf.WriteString(*f.Content)
		obs.Partial(buf.String())
	}
}

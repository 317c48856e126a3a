package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// Remote uploads recordings to the speech endpoint of the chat backend as a
// multipart form with a single "file" field.
type Remote struct {
	client *TracedClient
	apiURL string
	apiKey string
	warm   bool
}

func NewRemote(apiURL, apiKey string) *Remote {
	return &Remote{
		client: NewTracedClient(),
		apiURL: apiURL,
		apiKey: apiKey,
		warm:   true,
	}
}

// NewRemoteWithClient is NewRemote with a caller-supplied HTTP client and no
// connection pre-warming.
func NewRemoteWithClient(apiURL, apiKey string, hc *http.Client) *Remote {
	return &Remote{client: &TracedClient{client: hc}, apiURL: apiURL, apiKey: apiKey}
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if r.warm {
		go r.client.WarmConnection(r.apiURL)
	}
	return newBatchSession(ctx, cfg, r.transcribe)
}

func (r *Remote) transcribe(ctx context.Context, up upload) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="recording.%s"`, up.ext))
	h.Set("Content-Type", up.mimeType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(up.audio); err != nil {
		return nil, err
	}
	if up.language != "" {
		if err := writer.WriteField("language", up.language); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var sResp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body, &sResp); err != nil {
		return nil, fmt.Errorf("transcription response parse error: %w", err)
	}

	return &Result{Text: sResp.Text, Metrics: resp.Metrics}, nil
}

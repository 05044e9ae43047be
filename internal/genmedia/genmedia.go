// Package genmedia is the client for the external generative media
// service. It does two jobs: burning a per-viewer watermark into media,
// and generating a content title from a description. The model's output is
// the final artifact; there is no local compositing fallback.
package genmedia

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/media"
)

// Metrics is the slice of server metrics this client touches.
type Metrics interface {
	ObserveWatermarkDuration(seconds float64)
}

type Client struct {
	endpoint string
	model    string
	hc       *http.Client
	timeout  time.Duration
	metrics  Metrics
}

func NewClient(endpoint, model string, hc *http.Client, timeout time.Duration, metrics Metrics) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		hc:       hc,
		timeout:  timeout,
		metrics:  metrics,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Media  *struct {
		DataURI string `json:"data_uri"`
	} `json:"media,omitempty"`
}

type generateResponse struct {
	Text  string `json:"text,omitempty"`
	Media *struct {
		DataURI string `json:"data_uri"`
	} `json:"media,omitempty"`
	Error string `json:"error,omitempty"`
}

// Watermark asks the model to burn the viewer's name and timestamp into
// the media. Placement contract: bottom-center, semi-transparent, name plus
// ISO-8601 timestamp.
func (c *Client) Watermark(ctx context.Context, p *media.Payload, viewerName string, at time.Time) (*media.Payload, error) {
	prompt := fmt.Sprintf(
		"Overlay a semi-transparent watermark at the bottom center of this media. "+
			"Watermark text: %q viewed at %s. Return the watermarked media only.",
		viewerName, at.UTC().Format(time.RFC3339),
	)

	start := time.Now()
	resp, err := c.generate(ctx, generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Media: &struct {
			DataURI string `json:"data_uri"`
		}{DataURI: p.DataURI()},
	})
	if c.metrics != nil {
		c.metrics.ObserveWatermarkDuration(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	if resp.Media == nil || resp.Media.DataURI == "" {
		return nil, apperr.New(apperr.CodeInternal, "model returned no media")
	}
	return ParseDataURI(resp.Media.DataURI)
}

// GenerateTitle produces a short title from a free-form description.
func (c *Client) GenerateTitle(ctx context.Context, description string) (string, error) {
	resp, err := c.generate(ctx, generateRequest{
		Model:  c.model,
		Prompt: "Write a short, plain title (max 8 words) for content described as: " + description,
	})
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(resp.Text)
	if title == "" {
		return "", apperr.New(apperr.CodeInternal, "model returned no title")
	}
	return title, nil
}

func (c *Client) generate(ctx context.Context, in generateRequest) (*generateResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, apperr.Internal(err, "encode generate request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Internal(err, "build generate request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, apperr.Internal(err, "call generative service")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, media.DefaultMaxBytes))
	if err != nil {
		return nil, apperr.Internal(err, "read generate response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.CodeInternal, "generative service status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Internal(err, "decode generate response")
	}
	if out.Error != "" {
		return nil, apperr.Newf(apperr.CodeInternal, "generative service: %s", out.Error)
	}
	return &out, nil
}

// ParseDataURI decodes `data:<mime>;base64,<data>` back into a payload.
func ParseDataURI(s string) (*media.Payload, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, apperr.New(apperr.CodeInternal, "malformed data uri")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, apperr.New(apperr.CodeInternal, "malformed data uri")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, apperr.Internal(err, "decode data uri")
	}
	return &media.Payload{
		Data: raw,
		MIME: strings.TrimSuffix(meta, ";base64"),
	}, nil
}

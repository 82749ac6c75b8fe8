// Package httpocr provides an OCR provider backed by an HTTP recognition
// service such as a self-hosted Tesseract or PaddleOCR server.
package httpocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// Ensure Provider implements the interface.
var _ driven.OCRProvider = (*Provider)(nil)

// Default configuration values.
const (
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the HTTP OCR provider.
type Config struct {
	// BaseURL is the recognition service base URL (required).
	BaseURL string

	// APIKey is an optional bearer token for the service.
	APIKey string

	// Timeout is the request timeout (default: 60s).
	Timeout time.Duration
}

// Provider recognises page images over HTTP.
type Provider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// recogniseResponse is the recognition service response format.
type recogniseResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// New creates a new HTTP OCR provider.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("httpocr: base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}, nil
}

// Recognise sends a rendered page image to the recognition service and
// returns the text with its confidence score.
func (p *Provider) Recognise(ctx context.Context, image []byte) (string, float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/recognise", bytes.NewReader(image))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("httpocr: service returned status %d: %s", resp.StatusCode, string(body))
	}

	var recResp recogniseResponse
	if err := json.Unmarshal(body, &recResp); err != nil {
		return "", 0, fmt.Errorf("decode response: %w", err)
	}
	if recResp.Error != "" {
		return "", 0, fmt.Errorf("httpocr: %s", recResp.Error)
	}

	// Confidence of zero would erase the chunk score downstream; clamp
	// into (0, 1] so low-quality pages are discounted, not dropped.
	confidence := recResp.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 1
	}
	return recResp.Text, confidence, nil
}

// Ping validates the service is reachable by checking its health endpoint.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("httpocr: failed to create ping request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpocr: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpocr: service returned status %d", resp.StatusCode)
	}
	return nil
}

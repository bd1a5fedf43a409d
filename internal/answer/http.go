package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/ada/internal/document"
)

// DefaultBaseURL is where the answer backend listens by default.
const DefaultBaseURL = "http://127.0.0.1:8000"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// askRequest is the body of POST /ask. Only the question text is sent.
type askRequest struct {
	Question string `json:"question"`
}

// errorResponse covers the error body shapes the backend may use.
type errorResponse struct {
	Detail  any    `json:"detail"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPService asks a remote answer backend over HTTP.
type HTTPService struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// HTTPOption configures an HTTPService.
type HTTPOption func(*HTTPService)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPService) { s.httpClient = c }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *zap.Logger) HTTPOption {
	return func(s *HTTPService) { s.logger = l }
}

// NewHTTPService creates a service for the backend at baseURL.
func NewHTTPService(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPService {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	s := &HTTPService{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseURL returns the backend address.
func (s *HTTPService) BaseURL() string {
	return s.baseURL
}

// Ask calls POST {base}/ask.
func (s *HTTPService) Ask(ctx context.Context, question string) (*document.Document, error) {
	body, err := json.Marshal(askRequest{Question: question})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ask request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/ask", bytes.NewReader(body))
	if err != nil {
		return nil, Transport(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("answer request failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, Transport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, Transport(fmt.Errorf("failed to read response: %w", err))
	}

	s.logger.Debug("answer response",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(respBody)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, Application(resp.StatusCode, errorReason(resp.StatusCode, respBody))
	}

	doc, err := document.Parse(respBody)
	if err != nil {
		return nil, Malformed(err)
	}
	return doc, nil
}

func errorReason(status int, body []byte) string {
	var er errorResponse
	if json.Unmarshal(body, &er) == nil {
		switch d := er.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if er.Error != "" {
			return er.Error
		}
		if er.Message != "" {
			return er.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	if text == "" {
		return http.StatusText(status)
	}
	return fmt.Sprintf("%s: %s", http.StatusText(status), text)
}

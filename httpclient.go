package devrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// HTTPConfig holds configuration for the plain-request client.
type HTTPConfig struct {
	BaseURL     string             // e.g. "http://localhost:3000"
	Credentials CredentialProvider // Sent as the Cookie header
	Timeout     time.Duration      // Optional, defaults to 10s
	HTTPClient  *http.Client       // Optional, built from Timeout when nil
}

// HTTPClient is the fallback Client used when no streaming connection is
// wanted. Every operation is its own HTTP exchange:
//
//	PUT  /api/run       create
//	POST /api/run       submit
//	POST /api/run/move  send moves
//
// It does not implement TextSource, so runs over it are not reconciled.
type HTTPClient struct {
	baseURL     string
	credentials CredentialProvider
	httpClient  *http.Client
}

// NewHTTPClient creates a plain-request client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		credentials: cfg.Credentials,
		httpClient:  cfg.HTTPClient,
	}
}

// CreateRun starts a run and returns the id assigned by the authority.
func (c *HTTPClient) CreateRun(ctx context.Context, problem, category string) (string, error) {
	body, err := c.do(ctx, TypeCreate, http.MethodPut, "/api/run", CreateRequest{Problem: problem, Category: category})
	if err != nil {
		return "", err
	}

	var out CreateResult
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: create result: %v", ErrProtocol, err)
	}
	if out.RunID == "" {
		return "", fmt.Errorf("%w: create result without runId", ErrProtocol)
	}
	return out.RunID, nil
}

// SubmitRun ends a run.
func (c *HTTPClient) SubmitRun(ctx context.Context, runID string) error {
	_, err := c.do(ctx, TypeSubmit, http.MethodPost, "/api/run", SubmitRequest{RunID: runID})
	return err
}

// SendMoves delivers one batch.
func (c *HTTPClient) SendMoves(ctx context.Context, req MoveRequest) error {
	_, err := c.do(ctx, TypeMove, http.MethodPost, "/api/run/move", req)
	return err
}

func (c *HTTPClient) do(ctx context.Context, typ RequestType, method, path string, payload any) ([]byte, error) {
	requestID := uuid.New().String()
	startTime := time.Now()

	capitan.Info(ctx, RequestStarted,
		RequestIDKey.Field(requestID),
		RequestTypeKey.Field(string(typ)),
	)

	body, status, err := c.exchange(ctx, method, path, payload)
	if err != nil {
		fields := []capitan.Field{
			RequestIDKey.Field(requestID),
			RequestTypeKey.Field(string(typ)),
			ErrorKey.Field(err.Error()),
		}
		if status != 0 {
			fields = append(fields, HTTPStatusKey.Field(status))
		}
		capitan.Error(ctx, RequestFailed, fields...)
		return nil, err
	}

	capitan.Info(ctx, RequestCompleted,
		RequestIDKey.Field(requestID),
		RequestTypeKey.Field(string(typ)),
		HTTPStatusKey.Field(status),
		DurationMsKey.Field(int(time.Since(startTime).Milliseconds())),
	)
	return body, nil
}

func (c *HTTPClient) exchange(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	if c.credentials == nil {
		return nil, 0, ErrAuthMissing
	}
	cookie, err := c.credentials.Credential(ctx)
	if err != nil {
		return nil, 0, err
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: failed to read response: %v", ErrConnection, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &ServerError{Status: resp.StatusCode, Payload: errorPayload(body)}
	}
	return body, resp.StatusCode, nil
}

// errorPayload extracts the error value of a failed exchange. Bodies of
// the form {"error": ...} yield the inner value; anything else is kept as
// a JSON string.
func errorPayload(body []byte) json.RawMessage {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		return envelope.Error
	}
	raw, _ := json.Marshal(strings.TrimSpace(string(body)))
	return raw
}

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/models/dtos"
	"io"
	"net/http"
	"strings"
	"time"
)

// SyncClient is the remote timeline API consumed by the drain and mutation engines.
type SyncClient interface {
	// Configured reports whether a base URL and API key are set.
	Configured() bool
	CheckIn(ctx context.Context, req dtos.CheckInRequest, idempotencyKey string) (Result, error)
	UpdateEntity(ctx context.Context, id int64, fields dtos.PointFields) (Result, error)
	DeleteEntity(ctx context.Context, id int64) (Result, error)
}

const (
	checkInPath     = "/api/location/log-location"
	entityPathFmt   = "/api/location/%d"
	maxDetailLength = 512
)

// HTTPSyncClient implements SyncClient against the timeline REST API
type HTTPSyncClient struct {
	BaseURL      string
	APIKey       string
	Client       *http.Client
	MaxRetries   int
	RetryBackoff time.Duration
	UserAgent    string
}

// NewHTTPSyncClient creates a client. timeout bounds each individual network attempt.
func NewHTTPSyncClient(baseURL, apiKey string, timeout time.Duration, maxRetries int) *HTTPSyncClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPSyncClient{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		Client:       &http.Client{Timeout: timeout},
		MaxRetries:   maxRetries,
		RetryBackoff: 500 * time.Millisecond,
		UserAgent:    "geotrail-syncd",
	}
}

func (p *HTTPSyncClient) Configured() bool {
	return p != nil && p.BaseURL != "" && p.APIKey != ""
}

// CheckIn logs one location. The idempotency key lets the server discard duplicates of a
// retried request.
func (p *HTTPSyncClient) CheckIn(ctx context.Context, req dtos.CheckInRequest, idempotencyKey string) (Result, error) {
	if !p.Configured() {
		return nil, notConfiguredError()
	}

	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	status, body, res := p.send(ctx, http.MethodPost, checkInPath, req, headers)
	if res != nil {
		return res, nil
	}

	var resp dtos.CheckInResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{
			Code:       constants.ErrCodeInvalidDataFormat,
			Message:    "Failed to decode check-in response",
			StatusCode: status,
			Details:    truncate(string(body)),
			Err:        err,
		}
	}

	if resp.Skipped {
		reason := resp.Message
		if reason == "" {
			reason = "server thresholds not met"
		}
		return Skipped{Reason: reason}, nil
	}
	if !resp.Success {
		// 2xx with success=false is a permanent decision by the server.
		return ClientError{StatusCode: status, Message: nonEmpty(resp.Message, "check-in not accepted")}, nil
	}
	if resp.LocationID == nil {
		return nil, &ProviderError{
			Code:       constants.ErrCodeInvalidDataFormat,
			Message:    "Check-in succeeded without a location id",
			StatusCode: status,
			Details:    truncate(string(body)),
		}
	}

	return Success{RemoteID: *resp.LocationID, Message: resp.Message}, nil
}

// UpdateEntity applies a partial update to a confirmed timeline point.
func (p *HTTPSyncClient) UpdateEntity(ctx context.Context, id int64, fields dtos.PointFields) (Result, error) {
	if !p.Configured() {
		return nil, notConfiguredError()
	}
	_, _, res := p.send(ctx, http.MethodPut, fmt.Sprintf(entityPathFmt, id), fields, nil)
	if res != nil {
		return res, nil
	}
	return Success{RemoteID: id}, nil
}

// DeleteEntity removes a confirmed timeline point.
func (p *HTTPSyncClient) DeleteEntity(ctx context.Context, id int64) (Result, error) {
	if !p.Configured() {
		return nil, notConfiguredError()
	}
	_, _, res := p.send(ctx, http.MethodDelete, fmt.Sprintf(entityPathFmt, id), nil, nil)
	if res != nil {
		return res, nil
	}
	return Success{RemoteID: id}, nil
}

// ============================================================================
// HTTP Helper Methods
// ============================================================================

// send performs the request, retrying transient failures with exponential backoff.
// It returns the 2xx status and body, or a non-nil failure Result.
func (p *HTTPSyncClient) send(ctx context.Context, method, endpoint string, payload interface{}, headers map[string]string) (int, []byte, Result) {
	var payloadBytes []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, ClientError{Message: "failed to marshal request body: " + err.Error()}
		}
		payloadBytes = b
	}

	var last Result
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return 0, nil, TransientError{Message: "cancelled while waiting to retry", Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		status, body, err := p.do(ctx, method, endpoint, payloadBytes, headers)
		switch {
		case err != nil:
			last = TransientError{Message: constants.GetErrorMessage(networkCode(err)), Err: err}
			if ctx.Err() != nil {
				return 0, nil, TransientError{Message: "request cancelled", Err: ctx.Err()}
			}
		case status >= 200 && status < 300:
			return status, body, nil
		case IsTransientStatus(status):
			last = TransientError{StatusCode: status, Message: errorMessage(status, body)}
		default:
			return status, body, ClientError{StatusCode: status, Message: errorMessage(status, body)}
		}
	}
	return 0, nil, last
}

func (p *HTTPSyncClient) do(ctx context.Context, method, endpoint string, payload []byte, headers map[string]string) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	url := p.BaseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, &ProviderError{
			Code:    constants.ErrCodeNetworkError,
			Message: "Failed to create request",
			Err:     err,
		}
	}

	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &ProviderError{
			Code:       constants.ErrCodeNetworkError,
			Message:    "Failed to read response body",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	return resp.StatusCode, bodyBytes, nil
}

// errorMessage extracts the server's message from an error body, falling back to the raw text.
func errorMessage(status int, body []byte) string {
	var serverErr dtos.ServerErrorResponse
	if err := json.Unmarshal(body, &serverErr); err == nil {
		if serverErr.Message != "" {
			return serverErr.Message
		}
		if serverErr.Error != "" {
			return serverErr.Error
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return truncate(text)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return constants.GetErrorMessage(constants.ErrCodeRateLimited)
	case status == http.StatusUnauthorized:
		return constants.GetErrorMessage(constants.ErrCodeInvalidAPIKey)
	case status == http.StatusNotFound:
		return constants.GetErrorMessage(constants.ErrCodeResourceNotFound)
	case status >= 500:
		return constants.GetErrorMessage(constants.ErrCodeServerError)
	default:
		return http.StatusText(status)
	}
}

func networkCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return constants.ErrCodeTimeout
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return constants.ErrCodeTimeout
	}
	return constants.ErrCodeNetworkError
}

func notConfiguredError() error {
	return &ProviderError{
		Code:    constants.ErrCodeNotConfigured,
		Message: constants.GetErrorMessage(constants.ErrCodeNotConfigured),
	}
}

func truncate(s string) string {
	if len(s) > maxDetailLength {
		return s[:maxDetailLength]
	}
	return s
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/neuroaccess/neuroaccess/shared/api"
	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
	"github.com/neuroaccess/neuroaccess/shared/logger"
	"github.com/neuroaccess/neuroaccess/shared/middleware/metrics"
)

// maxResponseSize bounds what we read from the backend; analysis payloads
// are small JSON documents.
const maxResponseSize = 8 << 20

// Actions, used for metrics and logs.
const (
	ActionAnalyze = "analyze"
	ActionChat    = "chat"
	ActionHistory = "history"
)

// APIClient handles all communication with the analysis backend.
type APIClient struct {
	BaseURL     string
	HistoryPath string
	HttpClient  *http.Client
	validate    *validator.Validate
}

// New creates a client for the backend at baseURL. timeout bounds every
// call; zero means no client-side limit.
func New(baseURL, historyPath string, timeout time.Duration) *APIClient {
	return &APIClient{
		BaseURL:     baseURL,
		HistoryPath: historyPath,
		HttpClient:  &http.Client{Timeout: timeout},
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// do sends one request and returns the response body of a 2xx reply.
// Non-2xx statuses and network failures become transport errors; a 2xx
// body with a non-empty "error" field becomes an application error.
func (c *APIClient) do(ctx context.Context, action, method, path, contentType string, body io.Reader) (respBody []byte, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(internal_errors.KindOf(err))
			if outcome == "" {
				outcome = "error"
			}
		}
		metrics.ObserveUpstream(action, outcome, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create API request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Log.Warn("backend unavailable", "action", action, "error", err)
		return nil, internal_errors.Transport("backend unavailable", http.StatusBadGateway, err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, internal_errors.Transport("failed to read backend response", http.StatusBadGateway, err)
	}
	if len(respBody) > maxResponseSize {
		return nil, internal_errors.Malformed("backend response too large", nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("backend returned status %d", resp.StatusCode)
		if appErr := errorField(respBody); appErr != "" {
			msg = fmt.Sprintf("%s: %s", msg, appErr)
		}
		logger.Log.Warn("backend error status", "action", action, "status", resp.StatusCode)
		return nil, internal_errors.Transport(msg, http.StatusBadGateway, nil)
	}

	if appErr := errorField(respBody); appErr != "" {
		return nil, internal_errors.Application(appErr)
	}
	return respBody, nil
}

// errorField extracts {"error": "..."} from an object body, if any.
func errorField(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ""
	}
	var envelope api.ErrorResponse
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return ""
	}
	return envelope.Error
}

// decode unmarshals and validates a payload at the boundary.
func (c *APIClient) decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return internal_errors.Malformed("backend response is not valid JSON", err)
	}
	if err := c.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return internal_errors.Malformed(fmt.Sprintf("backend response missing %s", verrs[0].Field()), err)
		}
		return internal_errors.Malformed("backend response failed validation", err)
	}
	return nil
}

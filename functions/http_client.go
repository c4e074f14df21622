package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gamesession/session"
)

// HTTPClient posts function calls as JSON to <baseURL>/<function>.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *HTTPClient) CreateSessionCode(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error) {
	var resp CreateSessionResponse
	err := c.call(ctx, "createSessionCode", req, &resp)
	return resp, err
}

func (c *HTTPClient) LeaveSession(ctx context.Context, req LeaveSessionRequest) (Ack, error) {
	var ack Ack
	err := c.call(ctx, "leaveSession", req, &ack)
	return ack, err
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Function string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Function, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Function, e.Code, e.Message)
}

func (c *HTTPClient) call(ctx context.Context, name string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+name, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return &StatusError{Function: name, Code: resp.StatusCode, Message: e.Error}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w: %v", name, session.ErrParseFailure, err)
	}
	return nil
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courier/pkg/blob"
	"courier/pkg/governor"
	"courier/pkg/models"
	"courier/pkg/service"
)

// Client talks to the courier HTTP API on behalf of one authenticated
// user. Identity travels in the trusted headers the edge gateway would
// normally inject.
type Client struct {
	BaseURL     string
	UserID      string
	Role        string
	DisplayName string
	HTTP        *http.Client
}

func New(baseURL, userID, role string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		UserID:  userID,
		Role:    role,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status       int
	Code         string
	Msg          string
	RetryAfterMs int64
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Msg)
}

// IsRetryable reports whether a send that failed with err may succeed on
// a later attempt. Transport errors are always retryable; HTTP failures
// only when the server signalled overload or a transient upstream fault.
func IsRetryable(err error) bool {
	ae, ok := err.(*APIError)
	if !ok {
		return true
	}
	switch ae.Status {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// RetryAfterOf returns the server-directed wait, zero when none was given.
func RetryAfterOf(err error) time.Duration {
	if ae, ok := err.(*APIError); ok && ae.RetryAfterMs > 0 {
		return time.Duration(ae.RetryAfterMs) * time.Millisecond
	}
	return 0
}

type OpenThreadResponse struct {
	Thread  models.Thread `json:"thread"`
	Created bool          `json:"created"`
}

type ListThreadsResponse struct {
	Threads        []service.ThreadSummary `json:"threads"`
	PollIntervalMs int64                   `json:"poll_interval_ms"`
}

type ThreadResponse struct {
	Thread     models.Thread    `json:"thread"`
	Messages   []models.Message `json:"messages"`
	NextCursor string           `json:"next_cursor"`
}

type SendRequest struct {
	Body            string `json:"body"`
	AttachmentID    string `json:"attachment_id,omitempty"`
	ClientRequestID string `json:"client_request_id"`
}

type SendResponse struct {
	Message     models.Message `json:"message"`
	ServerHints governor.Hints `json:"server_hints"`
	Deduped     bool           `json:"deduped"`
}

type PollResponse struct {
	Items       []models.Message `json:"items"`
	NextCursor  string           `json:"next_cursor"`
	ServerTime  int64            `json:"server_time"`
	ServerHints governor.Hints   `json:"server_hints"`
}

type PresignResponse struct {
	UploadURL  string               `json:"upload_url"`
	StorageKey string               `json:"storage_key"`
	PublicURL  string               `json:"public_url,omitempty"`
	Attachment models.AttachmentRef `json:"attachment"`
}

func (c *Client) OpenThread(ctx context.Context, providerProfileID string) (OpenThreadResponse, error) {
	var out OpenThreadResponse
	err := c.do(ctx, http.MethodPost, "/v1/threads",
		map[string]string{"provider_profile_id": providerProfileID}, &out)
	return out, err
}

func (c *Client) ListThreads(ctx context.Context) (ListThreadsResponse, error) {
	var out ListThreadsResponse
	err := c.do(ctx, http.MethodGet, "/v1/threads", nil, &out)
	return out, err
}

func (c *Client) GetThread(ctx context.Context, threadID string) (ThreadResponse, error) {
	var out ThreadResponse
	err := c.do(ctx, http.MethodGet, "/v1/threads/"+threadID, nil, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, threadID string, req SendRequest) (SendResponse, error) {
	var out SendResponse
	err := c.do(ctx, http.MethodPost, "/v1/threads/"+threadID+"/messages", req, &out)
	return out, err
}

func (c *Client) PollMessages(ctx context.Context, threadID, cursor string, mode governor.PollMode) (PollResponse, error) {
	path := "/v1/threads/" + threadID + "/messages?mode=" + string(mode)
	if cursor != "" {
		path += "&cursor=" + cursor
	}
	var out PollResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) MarkRead(ctx context.Context, threadID, messageID string) error {
	return c.do(ctx, http.MethodPost, "/v1/threads/"+threadID+"/read",
		map[string]string{"last_read_message_id": messageID}, nil)
}

func (c *Client) CloseThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodPost, "/v1/threads/"+threadID+"/close", nil, nil)
}

func (c *Client) ReportThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodPost, "/v1/threads/"+threadID+"/report", nil, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/threads/"+threadID+"/messages/"+messageID, nil, nil)
}

func (c *Client) PresignUpload(ctx context.Context, req blob.PresignRequest) (PresignResponse, error) {
	var out PresignResponse
	err := c.do(ctx, http.MethodPost, "/v1/blobs/presign", req, &out)
	return out, err
}

// UploadBlob PUTs raw bytes to the upload URL returned by PresignUpload.
// Relative URLs are resolved against BaseURL so the local-disk presigner
// works without configuration.
func (c *Client) UploadBlob(ctx context.Context, uploadURL string, data []byte) error {
	if strings.HasPrefix(uploadURL, "/") {
		uploadURL = c.BaseURL + uploadURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.setIdentity(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setIdentity(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setIdentity(req *http.Request) {
	req.Header.Set("X-User-ID", c.UserID)
	if c.Role != "" {
		req.Header.Set("X-Role-Name", c.Role)
	}
	if c.DisplayName != "" {
		req.Header.Set("X-Display-Name", c.DisplayName)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func decodeAPIError(resp *http.Response) error {
	ae := &APIError{Status: resp.StatusCode}
	var body struct {
		Error        string `json:"error"`
		Code         string `json:"code"`
		RetryAfterMs int64  `json:"retry_after_ms"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	if err := json.Unmarshal(raw, &body); err == nil {
		ae.Code = body.Code
		ae.Msg = body.Error
		ae.RetryAfterMs = body.RetryAfterMs
	}
	if ae.Msg == "" {
		ae.Msg = strings.TrimSpace(string(raw))
	}
	if ae.RetryAfterMs == 0 {
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				ae.RetryAfterMs = int64(secs) * 1000
			}
		}
	}
	return ae
}

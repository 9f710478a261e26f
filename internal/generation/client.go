// Package generation calls the external agent webhooks that produce a
// consultation's text.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agents-liminals/liminal/internal/retry"
)

const (
	DefaultUserAgent = "Agents-Liminals/2.0"
	maxResponseBytes = 1 << 20
)

var ErrMalformedResponse = errors.New("malformed webhook response")

// StatusError is a non-2xx webhook reply. The body is not kept since it
// may echo the request.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.StatusCode)
}

// StatusCode extracts the HTTP status from err, zero if there is none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Request is the JSON body posted to a webhook.
type Request struct {
	Situation      string    `json:"situation"`
	Context        string    `json:"context"`
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"userId"`
	ConsultationID string    `json:"consultationId"`
	Agent          string    `json:"agent"`
}

// Response is a successful webhook reply.
type Response struct {
	Text        string
	Signature   string
	SessionID   string
	ExecutionID string
}

type webhookResponse struct {
	Consultation string `json:"consultation"`
	Text         string `json:"text"`
	Signature    string `json:"signature"`
	SessionID    string `json:"session_id"`
	ExecutionID  string `json:"execution_id"`
}

// Client posts consultation requests to agent webhooks.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// NewClient creates a webhook client. Per-call deadlines come from the
// context, so the default HTTP client has no timeout of its own.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		userAgent:  DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke posts req to webhookURL. Transport errors and non-2xx replies
// are returned as plain errors so the caller may retry them; a 2xx reply
// that cannot be decoded or carries no text is returned as retry.Fatal.
func (c *Client) Invoke(ctx context.Context, webhookURL string, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, retry.Fatal(fmt.Errorf("encoding webhook request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, retry.Fatal(fmt.Errorf("building webhook request: %w", redactURL(err)))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("calling webhook: %w", redactURL(err))
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("reading webhook response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return Response{}, &StatusError{StatusCode: httpResp.StatusCode}
	}

	resp, err := decodeResponse(raw)
	if err != nil {
		return Response{}, retry.Fatal(err)
	}
	return resp, nil
}

// decodeResponse accepts a JSON object or a JSON array whose first
// element is the object, the shape some workflow engines reply with.
func decodeResponse(raw []byte) (Response, error) {
	trimmed := bytes.TrimSpace(raw)

	var wr webhookResponse
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []webhookResponse
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(list) == 0 {
			return Response{}, fmt.Errorf("%w: empty array", ErrMalformedResponse)
		}
		wr = list[0]
	} else if err := json.Unmarshal(trimmed, &wr); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	text := wr.Consultation
	if text == "" {
		text = wr.Text
	}
	if text == "" {
		return Response{}, fmt.Errorf("%w: missing text field", ErrMalformedResponse)
	}

	return Response{
		Text:        text,
		Signature:   wr.Signature,
		SessionID:   wr.SessionID,
		ExecutionID: wr.ExecutionID,
	}, nil
}

// redactURL drops the URL from *url.Error messages; webhook URLs may
// embed credentials.
func redactURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

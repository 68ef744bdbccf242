// Package mail delivers transactional e-mail through the hosted mail API.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrNotConfigured = errors.New("mail api is not configured")

type Message struct {
	To       string
	Subject  string
	Text     string
	HTML     string
	FromName string
}

// Dispatcher sends a message. A returned error means the message was not
// accepted; callers do not retry.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

type HTTPDispatcher struct {
	baseURL  string
	apiKey   string
	fromName string
	client   *http.Client
}

// NewHTTPDispatcher talks to {baseURL}/index.php/send. The client is
// instrumented with OpenTelemetry when client is nil.
func NewHTTPDispatcher(baseURL, apiKey, fromName string, client *http.Client) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPDispatcher{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:   strings.TrimSpace(apiKey),
		fromName: fromName,
		client:   client,
	}
}

type sendResponse struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error"`
}

func (d *HTTPDispatcher) Send(ctx context.Context, msg Message) error {
	if d.baseURL == "" || d.apiKey == "" {
		return ErrNotConfigured
	}

	fromName := msg.FromName
	if fromName == "" {
		fromName = d.fromName
	}

	q := url.Values{}
	q.Set("to", msg.To)
	q.Set("subject", msg.Subject)
	q.Set("text", msg.Text)
	q.Set("html", msg.HTML)
	q.Set("fromName", fromName)

	endpoint := d.baseURL + "/index.php/send?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("X-Api-Key", d.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read mail response: %w", err)
	}

	var parsed sendResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mail api responded %d: %s", resp.StatusCode, describe(parsed, body))
	}
	if parsed.OK != nil && !*parsed.OK {
		return fmt.Errorf("mail api rejected message: %s", describe(parsed, body))
	}
	return nil
}

func describe(r sendResponse, body []byte) string {
	if r.Error != "" {
		return r.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

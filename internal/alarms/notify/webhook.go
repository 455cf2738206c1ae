package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const errorBodyLimit = 512

// Channel delivers a rendered alarm notification.
type Channel interface {
	Send(ctx context.Context, content string) error
}

// textMessage is the chat-ops webhook body ({"msgtype":"text","text":{...}}).
type textMessage struct {
	MsgType string   `json:"msgtype"`
	Text    textBody `json:"text"`
}

type textBody struct {
	Content string `json:"content"`
}

// WebhookChannel posts rendered alarms to an HTTP endpoint.
type WebhookChannel struct {
	url     string
	client  *http.Client
	headers http.Header
}

// WebhookOption configures a WebhookChannel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithHeader sets a static header such as an access token.
func WithHeader(key, value string) WebhookOption {
	return func(ch *WebhookChannel) {
		if key != "" {
			ch.headers.Set(key, value)
		}
	}
}

func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("webhook channel: url is required")
	}
	ch := &WebhookChannel{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		headers: http.Header{"Content-Type": []string{"application/json"}},
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// Send posts content; any non-2xx status is an error carrying the response head.
func (w *WebhookChannel) Send(ctx context.Context, content string) error {
	if w == nil {
		return errors.New("webhook channel: nil channel")
	}
	req, err := w.newRequest(ctx, content)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook channel: %w", err)
	}
	defer resp.Body.Close()
	head, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: status %d: %s", resp.StatusCode, strings.TrimSpace(string(head)))
	}
	return nil
}

func (w *WebhookChannel) newRequest(ctx context.Context, content string) (*http.Request, error) {
	body, err := json.Marshal(textMessage{MsgType: "text", Text: textBody{Content: content}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("webhook channel: %w", err)
	}
	req.Header = w.headers.Clone()
	return req, nil
}

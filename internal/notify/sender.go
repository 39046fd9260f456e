package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultPushbearEndpoint receives sendkey deliveries.
	DefaultPushbearEndpoint = "https://pushbear.ftqq.com/sub"
	// DefaultPushdeerEndpoint receives pushkey deliveries.
	DefaultPushdeerEndpoint = "https://api2.pushdeer.com/message/push"

	defaultSendTimeout   = 8 * time.Second
	maxResponseBodyBytes = 64 << 10
)

var (
	errEmptyTarget     = errors.New("notify: channel target is empty")
	errUnknownProvider = errors.New("notify: no sender for provider")
)

// Notification is the rendered content handed to a provider.
type Notification struct {
	Title     string
	Body      string
	EventType string
	Timestamp time.Time
}

// Sender delivers a notification to one provider target.
type Sender interface {
	Send(ctx context.Context, target string, notification Notification) error
}

// StatusError reports a provider response that did not indicate success.
type StatusError struct {
	Provider   string
	StatusCode int
	Code       string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notify: %s rejected delivery with code %s", e.Provider, e.Code)
	}
	return fmt.Sprintf("notify: %s responded with status %d", e.Provider, e.StatusCode)
}

// SenderConfig configures the provider senders.
type SenderConfig struct {
	HTTPClient       *http.Client
	Timeout          time.Duration
	PushbearEndpoint string
	PushdeerEndpoint string
}

// NewSenders builds one sender per supported provider, keyed by provider name.
func NewSenders(cfg SenderConfig) map[string]Sender {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultSendTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	pushbearEndpoint := strings.TrimSpace(cfg.PushbearEndpoint)
	if pushbearEndpoint == "" {
		pushbearEndpoint = DefaultPushbearEndpoint
	}
	pushdeerEndpoint := strings.TrimSpace(cfg.PushdeerEndpoint)
	if pushdeerEndpoint == "" {
		pushdeerEndpoint = DefaultPushdeerEndpoint
	}
	return map[string]Sender{
		ProviderFeishu:   &feishuSender{client: client},
		ProviderPushbear: &pushbearSender{client: client, endpoint: pushbearEndpoint},
		ProviderPushdeer: &pushdeerSender{client: client, endpoint: pushdeerEndpoint},
		ProviderWebhook:  &webhookSender{client: client},
	}
}

type feishuSender struct {
	client *http.Client
}

func (s *feishuSender) Send(ctx context.Context, target string, notification Notification) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return errEmptyTarget
	}
	payload := map[string]interface{}{
		"msg_type": "text",
		"content": map[string]string{
			"text": notification.Title + "\n" + notification.Body,
		},
	}
	_, err := postJSON(ctx, s.client, ProviderFeishu, target, payload)
	return err
}

type pushbearSender struct {
	client   *http.Client
	endpoint string
}

func (s *pushbearSender) Send(ctx context.Context, target string, notification Notification) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return errEmptyTarget
	}
	if isHTTPURL(target) {
		form := url.Values{}
		form.Set("text", notification.Title)
		form.Set("desp", notification.Body)
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("notify: build pushbear request: %w", err)
		}
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		_, err = do(s.client, ProviderPushbear, request)
		return err
	}

	query := url.Values{}
	query.Set("sendkey", target)
	query.Set("text", notification.Title)
	query.Set("desp", notification.Body)
	_, err := get(ctx, s.client, ProviderPushbear, s.endpoint, query)
	return err
}

type pushdeerSender struct {
	client   *http.Client
	endpoint string
}

func (s *pushdeerSender) Send(ctx context.Context, target string, notification Notification) error {
	pushKey := extractPushdeerKey(target)
	if pushKey == "" {
		return errEmptyTarget
	}
	query := url.Values{}
	query.Set("pushkey", pushKey)
	query.Set("type", "markdown")
	query.Set("text", notification.Title)
	query.Set("desp", notification.Body)
	body, err := get(ctx, s.client, ProviderPushdeer, s.endpoint, query)
	if err != nil {
		return err
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil
	}
	switch code := decoded["code"].(type) {
	case nil:
		return nil
	case float64:
		if code == 0 {
			return nil
		}
		return &StatusError{Provider: ProviderPushdeer, StatusCode: http.StatusOK, Code: fmt.Sprintf("%v", code)}
	case string:
		if code == "0" {
			return nil
		}
		return &StatusError{Provider: ProviderPushdeer, StatusCode: http.StatusOK, Code: code}
	default:
		return &StatusError{Provider: ProviderPushdeer, StatusCode: http.StatusOK, Code: fmt.Sprintf("%v", code)}
	}
}

type webhookSender struct {
	client *http.Client
}

func (s *webhookSender) Send(ctx context.Context, target string, notification Notification) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return errEmptyTarget
	}
	timestamp := notification.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	payload := map[string]interface{}{
		"title":      notification.Title,
		"content":    notification.Body,
		"event_type": notification.EventType,
		"timestamp":  timestamp.Unix(),
	}
	_, err := postJSON(ctx, s.client, ProviderWebhook, target, payload)
	return err
}

// extractPushdeerKey accepts either a bare key or a URL carrying a pushkey
// query parameter.
func extractPushdeerKey(target string) string {
	value := strings.TrimSpace(target)
	if value == "" {
		return ""
	}
	if !isHTTPURL(value) {
		return value
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Query().Get("pushkey"))
}

func isHTTPURL(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

func postJSON(ctx context.Context, client *http.Client, provider, target string, payload interface{}) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("notify: encode %s payload: %w", provider, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("notify: build %s request: %w", provider, err)
	}
	request.Header.Set("Content-Type", "application/json")
	return do(client, provider, request)
}

func get(ctx context.Context, client *http.Client, provider, endpoint string, query url.Values) ([]byte, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("notify: parse %s endpoint: %w", provider, err)
	}
	merged := parsed.Query()
	for key, values := range query {
		for _, value := range values {
			merged.Add(key, value)
		}
	}
	parsed.RawQuery = merged.Encode()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("notify: build %s request: %w", provider, err)
	}
	return do(client, provider, request)
}

func do(client *http.Client, provider string, request *http.Request) ([]byte, error) {
	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("notify: %s request failed: %w", provider, err)
	}
	defer response.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes))
	if response.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{Provider: provider, StatusCode: response.StatusCode}
	}
	if readErr != nil {
		return nil, nil
	}
	return body, nil
}

package chat

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
)

const defaultDiscordBaseURL = "https://discord.com/api/v10"

// DiscordSender sends messages through the Discord REST API with bot token
// authentication.
type DiscordSender struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// DiscordOption configures a DiscordSender.
type DiscordOption func(*DiscordSender)

// WithBaseURL overrides the Discord API base URL.
func WithBaseURL(url string) DiscordOption {
	return func(s *DiscordSender) {
		if url != "" {
			s.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithTimeout overrides the HTTP request timeout.
func WithTimeout(d time.Duration) DiscordOption {
	return func(s *DiscordSender) {
		if d > 0 {
			s.httpClient.Timeout = d
		}
	}
}

// NewDiscordSender creates a sender using the given bot token.
func NewDiscordSender(token string, opts ...DiscordOption) (*DiscordSender, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	s := &DiscordSender{
		token:   token,
		baseURL: defaultDiscordBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send posts the message to the channel. Responses map to the error
// taxonomy: 429 is RateLimitedError carrying the server's retry_after,
// 5xx and network failures are TransientError, remaining 4xx are
// PermanentError.
func (s *DiscordSender) Send(ctx context.Context, channelID string, msg Message) error {
	if channelID == "" {
		return &PermanentError{Detail: "channel id is empty"}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return &PermanentError{Detail: fmt.Sprintf("marshal message: %v", err)}
	}

	url := fmt.Sprintf("%s/channels/%s/messages", s.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Detail: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return &TransientError{Status: resp.StatusCode}
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &PermanentError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}
}

// retryAfter extracts the wait from a 429 response. Discord reports seconds
// both as a JSON retry_after (possibly fractional) and a Retry-After header.
func retryAfter(resp *http.Response) time.Duration {
	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second))
	}
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.ParseFloat(h, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return time.Second
}

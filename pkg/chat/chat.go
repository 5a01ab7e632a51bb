// Package chat abstracts the destination messaging API. The dispatcher owns
// all retry policy, so senders report failures through typed errors instead
// of retrying internally.
package chat

import (
	"context"
	"fmt"
	"time"
)

// Message is a rendered destination message.
type Message struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed is a rich message block.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField is a labeled value inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the small text line below an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// Sender delivers a message to a channel.
type Sender interface {
	Send(ctx context.Context, channelID string, msg Message) error
}

// RateLimitedError reports destination throttling. RetryAfter is a floor on
// the next attempt time.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// TransientError reports a failure worth retrying (5xx, network).
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient send failure: %v", e.Err)
	}
	return fmt.Sprintf("transient send failure: status %d", e.Status)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError reports a failure that will not heal with retries (e.g. a
// deleted channel or revoked token).
type PermanentError struct {
	Status int
	Detail string
}

func (e *PermanentError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("permanent send failure: status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("permanent send failure: status %d", e.Status)
}

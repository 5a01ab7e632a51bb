package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Exporter mirrors admitted notifications to a message broker for external
// consumers. It is an optional side channel; export failures never affect
// chat delivery.
type Exporter struct {
	publisher message.Publisher
	topic     string
}

// NewExporter builds an exporter from config. Supported drivers: gochannel
// (in-process) and http (POST to a collector URL).
func NewExporter(cfg ExportConfig) (*Exporter, error) {
	logger := watermill.NewStdLogger(false, false)

	var pub message.Publisher
	switch strings.ToLower(cfg.Driver) {
	case "gochannel":
		pub = gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.GoChannel.OutputChannelBuffer,
			Persistent:          cfg.GoChannel.Persistent,
		}, logger)
	case "http":
		mode := strings.ToLower(cfg.HTTP.Mode)
		if mode != "topic_url" && mode != "base_url" {
			return nil, fmt.Errorf("unsupported http export mode: %s", cfg.HTTP.Mode)
		}
		if mode == "base_url" && cfg.HTTP.BaseURL == "" {
			return nil, fmt.Errorf("http base_url is required for base_url mode")
		}
		httpPub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
				target, err := httpTargetURL(cfg.HTTP, topic)
				if err != nil {
					return nil, err
				}
				return wmhttp.DefaultMarshalMessageFunc(target, msg)
			},
		}, logger)
		if err != nil {
			return nil, err
		}
		pub = httpPub
	default:
		return nil, fmt.Errorf("unsupported export driver: %s", cfg.Driver)
	}

	return &Exporter{publisher: pub, topic: cfg.Topic}, nil
}

// NewExporterWithPublisher wraps an existing publisher, mainly for tests.
func NewExporterWithPublisher(pub message.Publisher, topic string) *Exporter {
	return &Exporter{publisher: pub, topic: topic}
}

// Publish sends one notification as JSON with kind and dedup key metadata.
func (e *Exporter) Publish(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(n.Kind))
	msg.Metadata.Set("dedup_key", n.DedupKey)
	msg.SetContext(ctx)
	return e.publisher.Publish(e.topic, msg)
}

// Close closes the underlying publisher.
func (e *Exporter) Close() error {
	if e.publisher == nil {
		return nil
	}
	return e.publisher.Close()
}

func httpTargetURL(cfg HTTPConfig, topic string) (string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		if topic == "" {
			return "", fmt.Errorf("http topic url is empty")
		}
		return topic, nil
	case "base_url":
		if cfg.BaseURL == "" {
			return "", fmt.Errorf("http base_url is empty")
		}
		if topic == "" {
			return strings.TrimRight(cfg.BaseURL, "/"), nil
		}
		return strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(topic, "/"), nil
	default:
		return "", fmt.Errorf("unsupported http mode: %s", cfg.Mode)
	}
}

// Package webhook holds the inbound HTTP handlers for provider events.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"gitrelay/internal"

	"github.com/go-playground/webhooks/v6/github"
)

// GitHubHandler is the webhook ingestion endpoint. It authenticates the
// request, normalizes the payload, filters, deduplicates, and enqueues
// notifications for delivery. It always acknowledges quickly; delivery is
// asynchronous.
type GitHubHandler struct {
	hook       *github.Webhook
	events     []github.Event
	normalizer *internal.Normalizer
	rules      *internal.RuleEngine
	dedup      *internal.DedupStore
	queue      *internal.DeliveryQueue
	exporter   *internal.Exporter
	logger     *log.Logger
}

// NewGitHubHandler creates the handler. The exporter and rules may be nil.
func NewGitHubHandler(cfg internal.GitHubConfig, opts Options) (*GitHubHandler, error) {
	hook, err := github.New(github.Options.Secret(cfg.Secret))
	if err != nil {
		return nil, err
	}

	events := make([]github.Event, 0, len(cfg.Events))
	for _, name := range cfg.Events {
		events = append(events, github.Event(name))
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &GitHubHandler{
		hook:       hook,
		events:     events,
		normalizer: opts.Normalizer,
		rules:      opts.Rules,
		dedup:      opts.Dedup,
		queue:      opts.Queue,
		exporter:   opts.Exporter,
		logger:     logger,
	}, nil
}

// Options bundles the pipeline components the handler feeds.
type Options struct {
	Normalizer *internal.Normalizer
	Rules      *internal.RuleEngine
	Dedup      *internal.DedupStore
	Queue      *internal.DeliveryQueue
	Exporter   *internal.Exporter
	Logger     *log.Logger
}

func (h *GitHubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(rawBody))

	eventName := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	internal.IncRequest(eventName)

	payload, err := h.hook.Parse(r, h.events...)
	if err != nil {
		h.respondParseError(w, err, eventName, deliveryID)
		return
	}

	if _, ok := payload.(github.PingPayload); ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	notifications, err := h.normalizer.Normalize(deliveryID, payload)
	switch {
	case errors.Is(err, internal.ErrUnsupportedEvent):
		w.WriteHeader(http.StatusOK)
		return
	case errors.Is(err, internal.ErrMalformedPayload):
		internal.IncParseError()
		h.logger.Printf("malformed %s payload delivery_id=%s: %v", eventName, deliveryID, err)
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		h.logger.Printf("normalize %s failed delivery_id=%s: %v", eventName, deliveryID, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var flattened map[string]interface{}
	for _, n := range notifications {
		if h.rules != nil {
			if flattened == nil {
				flattened = internal.FlattenJSON(rawBody)
			}
			if !h.rules.Allow(eventName, n.Kind, flattened) {
				continue
			}
		}
		if !h.dedup.Admit(n.DedupKey) {
			internal.IncDuplicate()
			h.logger.Printf("duplicate delivery suppressed kind=%s delivery_id=%s", n.Kind, deliveryID)
			continue
		}
		h.queue.Enqueue(n)
		internal.IncEnqueued()
		if h.exporter != nil {
			if err := h.exporter.Publish(r.Context(), n); err != nil {
				internal.IncExportError()
				h.logger.Printf("export failed kind=%s: %v", n.Kind, err)
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

// respondParseError maps library parse errors onto the response contract:
// authentication failures are rejected with 401, unsubscribed kinds and
// malformed bodies are acknowledged so the provider does not retry them.
func (h *GitHubHandler) respondParseError(w http.ResponseWriter, err error, eventName, deliveryID string) {
	switch {
	case errors.Is(err, github.ErrMissingHubSignatureHeader), errors.Is(err, github.ErrHMACVerificationFailed):
		internal.IncAuthFailure()
		h.logger.Printf("signature verification failed delivery_id=%s", deliveryID)
		w.WriteHeader(http.StatusUnauthorized)
	case errors.Is(err, github.ErrEventNotFound):
		// Subscribed webhooks legitimately send kinds we do not relay.
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, github.ErrParsingPayload), isJSONDecodeError(err):
		internal.IncParseError()
		h.logger.Printf("unparseable %s payload delivery_id=%s", eventName, deliveryID)
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, github.ErrInvalidHTTPMethod):
		w.WriteHeader(http.StatusMethodNotAllowed)
	case errors.Is(err, github.ErrMissingGithubEventHeader):
		w.WriteHeader(http.StatusBadRequest)
	default:
		h.logger.Printf("webhook parse failed delivery_id=%s: %v", deliveryID, err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// isJSONDecodeError reports whether the library surfaced a raw JSON decode
// failure; webhooks v6.4.0 returns these unwrapped instead of
// ErrParsingPayload.
func isJSONDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

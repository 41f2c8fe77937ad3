package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agencyline/internal/config"
	"agencyline/internal/domain"
	"agencyline/internal/engine"
)

const (
	webhookPollInterval = 2 * time.Second
	webhookTimeout      = 5 * time.Second
	webhookBatch        = 100
	signatureHeader     = "X-Agencyline-Signature"
)

// webhookTarget is one configured endpoint and its delivery position in the
// event log. Positions live in memory only.
type webhookTarget struct {
	url     string
	secret  string
	types   map[string]bool
	client  *http.Client
	cursor  int64
	started bool
}

func newWebhookTarget(hook config.WebhookConfig) *webhookTarget {
	timeout := webhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	t := &webhookTarget{
		url:    strings.TrimSpace(hook.URL),
		secret: strings.TrimSpace(hook.Secret),
		client: &http.Client{Timeout: timeout},
	}
	for _, typ := range hook.Events {
		if typ = strings.TrimSpace(typ); typ != "" {
			if t.types == nil {
				t.types = make(map[string]bool)
			}
			t.types[typ] = true
		}
	}
	return t
}

// wants reports whether evtType is subscribed; no list means every type.
func (t *webhookTarget) wants(evtType string) bool {
	return t.types == nil || t.types[evtType]
}

type webhookDispatcher struct {
	repo    eventSource
	targets []*webhookTarget
	logger  *slog.Logger
}

type eventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

func newWebhookDispatcher(e engine.Engine, logger *slog.Logger) *webhookDispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &webhookDispatcher{repo: e.Repo, logger: logger.With("component", "webhooks")}
	if e.Config == nil {
		return d
	}
	for _, hook := range e.Config.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.targets = append(d.targets, newWebhookTarget(hook))
	}
	return d
}

// StartWebhookDispatcher posts new events to the configured webhooks until
// ctx is done. Delivery starts from the newest event at startup.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine, logger *slog.Logger) {
	d := newWebhookDispatcher(e, logger)
	if len(d.targets) == 0 {
		return
	}
	go d.run(ctx)
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(webhookPollInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatchAll runs one delivery pass. Only run calls it, so targets need no locking.
func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for _, t := range d.targets {
		if !t.started {
			latest, err := d.repo.LatestEventID(ctx)
			if err != nil {
				d.logger.ErrorContext(ctx, "init webhook cursor failed", "url", t.url, "error", err)
				continue
			}
			t.cursor, t.started = latest, true
			continue
		}
		d.deliver(ctx, t)
	}
}

// deliver sends pending events in id order and stops at the first failure,
// so the failed event is tried again on the next pass.
func (d *webhookDispatcher) deliver(ctx context.Context, t *webhookTarget) {
	evts, err := d.repo.EventsAfter(ctx, webhookBatch, t.cursor)
	if err != nil {
		d.logger.ErrorContext(ctx, "fetch events failed", "error", err)
		return
	}
	for _, evt := range evts {
		if t.wants(evt.Type) {
			if err := t.post(ctx, evt); err != nil {
				d.logger.WarnContext(ctx, "webhook delivery failed", "url", t.url, "event_id", evt.ID, "error", err)
				return
			}
		}
		t.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entityKind"`
	EntityID   string          `json:"entityId,omitempty"`
	ActorID    string          `json:"actorId"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func toWebhookEvent(evt domain.Event) webhookEvent {
	payload := json.RawMessage(`{}`)
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	}
}

// signPayload returns the hex HMAC-SHA256 of body under secret.
func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (t *webhookTarget) post(ctx context.Context, evt domain.Event) error {
	body, err := json.Marshal(toWebhookEvent(evt))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agencyline-Event", evt.Type)
	req.Header.Set("X-Agencyline-Delivery", strconv.FormatInt(evt.ID, 10))
	if t.secret != "" {
		req.Header.Set(signatureHeader, signPayload(t.secret, body))
	}
	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"studioflow/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts events as JSON to one configured endpoint.
type Webhook struct {
	hook   config.WebhookConfig
	filter eventFilter
	client *http.Client
}

// NewWebhooks builds a notifier per enabled webhook.
func NewWebhooks(hooks []config.WebhookConfig) []Notifier {
	var res []Notifier
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		res = append(res, NewWebhook(hook))
	}
	return res
}

func NewWebhook(hook config.WebhookConfig) *Webhook {
	return &Webhook{
		hook:   hook,
		filter: newEventFilter(hook.Events),
		client: &http.Client{Timeout: defaultWebhookTimeout},
	}
}

func (w *Webhook) Notify(ctx context.Context, evt Event) error {
	if !w.filter.match(evt.Type) {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	for k, v := range w.hook.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Studioflow-Event", evt.Type)
	req.Header.Set("X-Studioflow-Delivery", uuid.NewString())
	req.Header.Set("X-Studioflow-Project", evt.ProjectID)
	if strings.TrimSpace(w.hook.Secret) != "" {
		req.Header.Set("X-Studioflow-Secret", w.hook.Secret)
	}
	res, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.hook.URL, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", w.hook.URL, res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}

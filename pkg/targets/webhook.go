package targets

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// WebhookAdapter delivers content to a generic JSON webhook endpoint. The
// account's credentials carry the endpoint URL and a bearer token. Created
// objects are POSTed to the base URL; updates PUT to the object's URL using
// the external id the endpoint returned on create.
type WebhookAdapter struct {
	name   string
	client *http.Client
}

func NewWebhookAdapter(name string, client *http.Client) *WebhookAdapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookAdapter{name: name, client: client}
}

func (a *WebhookAdapter) Name() string {
	return a.name
}

func (a *WebhookAdapter) SupportedItemTypes() []string {
	return models.ItemTypes
}

type webhookObject struct {
	ID string `json:"id"`
}

func (a *WebhookAdapter) Deliver(ctx context.Context, creds Credentials, externalID *string, payload Payload) (*Outcome, error) {
	body, err := json.Marshal(struct {
		ItemType      string `json:"item_type"`
		NotebookTitle string `json:"notebook_title"`
		PageNumber    int    `json:"page_number,omitempty"`
		Title         string `json:"title,omitempty"`
		Body          string `json:"body"`
		Checked       *bool  `json:"checked,omitempty"`
	}{payload.ItemType, payload.NotebookTitle, payload.PageNumber, payload.Title, payload.Body, payload.Checked})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	method := http.MethodPost
	url := creds["url"]
	if externalID != nil {
		method = http.MethodPut
		url += "/" + *externalID
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := creds["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		// Network failures retry with the generic backoff.
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		obj := webhookObject{}
		if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.WithStack(err)
		}
		if obj.ID == "" && externalID != nil {
			obj.ID = *externalID
		}
		return &Outcome{ExternalID: obj.ID}, nil
	case resp.StatusCode == http.StatusNotFound && externalID != nil:
		return nil, errors.WithStack(ErrObjectGone)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.WithStack(&RateLimitedError{RetryAfter: retryAfter(resp)})
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.WithStack(&PermanentError{Reason: "endpoint rejected credentials"})
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, errors.WithStack(&PermanentError{Reason: "endpoint rejected payload: " + resp.Status})
	default:
		return nil, errors.Errorf("endpoint returned %s", resp.Status)
	}
}

func (a *WebhookAdapter) ValidateCredentials(ctx context.Context, creds Credentials) (bool, error) {
	if creds["url"] == "" {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, creds["url"], nil)
	if err != nil {
		return false, errors.WithStack(err)
	}
	if token := creds["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return false, errors.WithStack(err)
	}
	defer resp.Body.Close()

	return resp.StatusCode < 400 || resp.StatusCode == http.StatusMethodNotAllowed, nil
}

func retryAfter(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

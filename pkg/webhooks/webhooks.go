package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Delivery headers
const (
	EventHeader     = "X-Keystone-Event"
	DeliveryHeader  = "X-Keystone-Delivery"
	SignatureHeader = "X-Keystone-Signature"
)

// Event is the JSON body posted for one notification.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	TenantID    uuid.UUID       `json:"company_id"`
	PrincipalID uuid.UUID       `json:"user_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Attempt     int             `json:"attempt"`
}

// EventFor builds the event for a queued notification.
func EventFor(n *models.Notification) *Event {
	return &Event{
		ID:          n.ID,
		Kind:        n.Kind,
		TenantID:    n.TenantID,
		PrincipalID: n.PrincipalID,
		Payload:     n.Payload,
		CreatedAt:   n.CreatedAt,
		Attempt:     n.Attempts + 1,
	}
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Retry   RetryConfig

	// When set, requests carry a bearer token from this client
	// credentials grant.
	OAuth2 *clientcredentials.Config
}

// Sender posts events to one endpoint.
type Sender struct {
	url    string
	secret string
	client *http.Client
	retry  *RetryPolicy
}

// NewSender creates a sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.OAuth2 != nil {
		base := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})
		client = cfg.OAuth2.Client(base)
		client.Timeout = cfg.Timeout
	}
	return &Sender{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: client,
		retry:  NewRetryPolicy(cfg.Retry),
	}, nil
}

// Send posts the event, retrying transient failures.
func (s *Sender) Send(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.retry.Do(ctx, func(ctx context.Context) error {
		return s.post(ctx, event, payload)
	})
}

func (s *Sender) post(ctx context.Context, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event.Kind)
	req.Header.Set(DeliveryHeader, event.ID.String())
	if s.secret != "" {
		req.Header.Set(SignatureHeader, generateSignature(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// VerifySignature verifies the webhook signature
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

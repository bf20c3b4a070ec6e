// Package notify delivers settlement events to an operator webhook.
//
// Delivery is best-effort: a failed webhook is logged and never changes the
// outcome of the settlement that produced the event. When a secret is
// configured the body is signed with HMAC-SHA256 and the hex digest is sent
// in the X-ClawPay-Signature header as "sha256=<digest>".
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

// ── Event types ─────────────────────────────────────────────

// EventType describes what happened.
type EventType string

const (
	EventRewardSettled EventType = "reward_settled"
	EventRewardFailed  EventType = "reward_failed"
)

// DefaultTimeout bounds a single webhook delivery.
const DefaultTimeout = 10 * time.Second

// Event is the webhook payload.
type Event struct {
	Type        EventType     `json:"type"`
	RewardID    string        `json:"reward_id"`
	Recipient   string        `json:"recipient"`
	Amount      models.Amount `json:"amount"`
	BountyID    string        `json:"bounty_id,omitempty"`
	TxSignature string        `json:"tx_signature,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// NewEvent builds an Event from a reward record.
func NewEvent(eventType EventType, r *models.Reward) Event {
	e := Event{
		Type:        eventType,
		RewardID:    r.ID,
		Recipient:   r.Recipient,
		Amount:      r.Amount,
		BountyID:    r.BountyID,
		TxSignature: r.SettlementTx,
		Timestamp:   time.Now().UTC(),
	}
	if eventType == EventRewardFailed {
		e.Reason = r.FailureReason
	}
	return e
}

// ── Service ──────────────────────────────────────────────────

// Service posts events to a single webhook URL. A Service with an empty URL
// accepts events and drops them.
type Service struct {
	url    string
	secret string
	client *http.Client
}

// NewService creates a webhook notifier.
func NewService(url, secret string) *Service {
	return &Service{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: DefaultTimeout},
	}
}

// Enabled reports whether a webhook URL is configured.
func (s *Service) Enabled() bool { return s != nil && s.url != "" }

// Notify delivers the event and logs failures.
func (s *Service) Notify(ctx context.Context, event Event) {
	if !s.Enabled() {
		return
	}
	if err := s.Send(ctx, event); err != nil {
		log.Warn().Err(err).Str("event", string(event.Type)).Str("reward_id", event.RewardID).Msg("Webhook notification failed")
		return
	}
	log.Debug().Str("event", string(event.Type)).Str("reward_id", event.RewardID).Msg("Webhook notification dispatched")
}

// Send posts the event once and returns the delivery error, if any.
func (s *Service) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ClawPay-Webhook/1.0")
	req.Header.Set("X-ClawPay-Event", string(event.Type))
	if s.secret != "" {
		req.Header.Set("X-ClawPay-Signature", "sha256="+Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, s.url)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

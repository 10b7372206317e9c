package integration

import (
	"encoding/json"
	"fmt"
	"time"

	"carrierlink/internal/webhooks"
)

// VerifyWebhook checks signature against the shared secret. Carriers without a
// configured secret accept the payload unverified.
func VerifyWebhook(secret string, payload []byte, signature string) (bool, error) {
	if secret == "" {
		return false, nil
	}
	if !webhooks.VerifyHMAC(secret, payload, signature) {
		return false, ErrInvalidSignature
	}
	return true, nil
}

// ParseWebhook decodes a JSON webhook body into its event type and data
// object. Carriers disagree on key casing, so both are accepted.
func ParseWebhook(payload []byte) (string, map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", nil, fmt.Errorf("%w: webhook body is not a JSON object: %v", ErrClient, err)
	}
	var eventType string
	for _, k := range []string{"eventType", "EventType", "event_type", "type"} {
		if s, ok := body[k].(string); ok && s != "" {
			eventType = s
			break
		}
	}
	for _, k := range []string{"data", "Data", "payload"} {
		if d, ok := body[k].(map[string]any); ok {
			return eventType, d, nil
		}
	}
	return eventType, body, nil
}

// NewWebhookEvent assembles the event handed back to the service.
func NewWebhookEvent(carrierID, eventType string, payload []byte, verified bool, rec Record) WebhookEvent {
	return WebhookEvent{
		CarrierID:  carrierID,
		EventType:  eventType,
		Payload:    json.RawMessage(payload),
		Verified:   verified,
		Record:     rec,
		ReceivedAt: time.Now().UTC(),
	}
}

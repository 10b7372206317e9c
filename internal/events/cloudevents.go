package events

import (
	"fmt"

	ceevent "github.com/cloudevents/sdk-go/v2/event"
)

const (
	ceSourcePrefix = "carrierlink/"
	ceTypePrefix   = "com.carrierlink."
)

// ToCloudEvent wraps evt in a CloudEvents 1.0 envelope. The carrier id is the
// subject and the event data is the JSON payload.
func ToCloudEvent(evt Event) (ceevent.Event, error) {
	ce := ceevent.New()
	ce.SetID(evt.ID)
	ce.SetSource(ceSourcePrefix + evt.CarrierID)
	ce.SetType(ceTypePrefix + evt.Type)
	ce.SetTime(evt.Time)
	ce.SetSubject(evt.CarrierID)
	data := evt.Data
	if data == nil {
		data = map[string]any{}
	}
	if err := ce.SetData(ceevent.ApplicationJSON, data); err != nil {
		return ce, fmt.Errorf("encoding event data: %w", err)
	}
	return ce, ce.Validate()
}

// FromCloudEvent reverses ToCloudEvent.
func FromCloudEvent(ce ceevent.Event) (Event, error) {
	if err := ce.Validate(); err != nil {
		return Event{}, err
	}
	evt := Event{
		ID:        ce.ID(),
		CarrierID: ce.Subject(),
		Time:      ce.Time().UTC(),
	}
	typ := ce.Type()
	if len(typ) > len(ceTypePrefix) && typ[:len(ceTypePrefix)] == ceTypePrefix {
		typ = typ[len(ceTypePrefix):]
	}
	evt.Type = typ
	if len(ce.Data()) > 0 {
		if err := ce.DataAs(&evt.Data); err != nil {
			return Event{}, fmt.Errorf("decoding event data: %w", err)
		}
	}
	return evt, nil
}

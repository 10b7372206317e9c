package generic

import (
	"strings"

	"carrierlink/internal/integration"
)

var defaultMappings = map[string]integration.Mapping{
	"tracking": {
		"trackingNumber": "tracking_number",
		"status":         "status",
		"location":       "current_location",
		"timestamp":      "last_updated",
		"eta":            "estimated_arrival",
		"vessel":         "vessel_name",
		"voyage":         "voyage_number",
		"events":         "events",
	},
	"schedule": {
		"origin":        "origin_port",
		"destination":   "destination_port",
		"departureDate": "departure_date",
		"arrivalDate":   "arrival_date",
		"vessel":        "vessel_name",
		"voyage":        "voyage_number",
		"transitTime":   "transit_time",
	},
	"booking": {
		"bookingNumber": "booking_number",
		"status":        "booking_status",
		"origin":        "origin",
		"destination":   "destination",
		"containers":    "containers",
		"commodity":     "commodity",
		"requestedDate": "requested_date",
	},
}

var defaultStatuses = map[string]string{
	"EMPTY":      "empty",
	"FULL":       "full",
	"IN_TRANSIT": "in_transit",
	"ARRIVED":    "arrived",
	"DELIVERED":  "delivered",
}

// Transformer applies configured mappings. Data types without a mapping pass
// through unchanged with provenance attached.
type Transformer struct {
	integration.BaseTransformer
}

// NewTransformer merges cfg's mappings and status table over the defaults.
func NewTransformer(cfg integration.Config) *Transformer {
	m := make(map[string]integration.Mapping, len(defaultMappings)+len(cfg.Mappings))
	for k, v := range defaultMappings {
		m[k] = v
	}
	for k, v := range cfg.Mappings {
		m[k] = v
	}
	st := make(map[string]string, len(defaultStatuses)+len(cfg.StatusMapping))
	for k, v := range defaultStatuses {
		st[k] = v
	}
	for k, v := range cfg.StatusMapping {
		st[strings.ToUpper(k)] = v
	}
	return &Transformer{BaseTransformer: integration.BaseTransformer{
		Source:   strings.ToLower(cfg.CarrierID),
		Mappings: m,
		Statuses: st,
	}}
}

// TransformerFactory adapts NewTransformer to the registry.
func TransformerFactory(cfg integration.Config) integration.Transformer { return NewTransformer(cfg) }

func (t *Transformer) TransformInbound(data map[string]any, dataType string) (integration.Record, error) {
	if _, ok := t.Mappings[dataType]; !ok {
		rec := integration.Record{}
		for k, v := range data {
			rec[k] = v
		}
		rec["_dataType"] = dataType
		return t.Stamp(rec), nil
	}
	rec, err := t.MapFields(data, dataType)
	if err != nil {
		return nil, err
	}
	t.NormalizeStatusField(rec, "status")
	return t.Stamp(rec), nil
}

func (t *Transformer) TransformOutbound(rec integration.Record, dataType string) (map[string]any, error) {
	if _, ok := t.Mappings[dataType]; !ok {
		out := map[string]any{}
		for k, v := range rec {
			if !strings.HasPrefix(k, "_") {
				out[k] = v
			}
		}
		return out, nil
	}
	return t.ReverseFields(rec, dataType)
}

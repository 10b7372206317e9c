package maersk

import (
	"strings"

	"carrierlink/internal/integration"
)

var mappings = map[string]integration.Mapping{
	"tracking": {
		"trackingNumber":    "containerNumber",
		"status":            "transportStatus.status",
		"statusDescription": "transportStatus.description",
		"location":          "transportStatus.location.facility",
		"locationCode":      "transportStatus.location.UNLocationCode",
		"timestamp":         "transportStatus.timestamp",
		"vessel":            "transport.vessel.name",
		"voyage":            "transport.voyage",
		"eta":               "estimatedTimeOfArrival",
		"events":            "transportEvents",
	},
	"schedule": {
		"origin":          "pointFrom.facility",
		"originCode":      "pointFrom.UNLocationCode",
		"destination":     "pointTo.facility",
		"destinationCode": "pointTo.UNLocationCode",
		"departureDate":   "departureDateTime",
		"arrivalDate":     "arrivalDateTime",
		"transitTime":     "transitTime",
		"services":        "transportLegs",
	},
	"vessel-schedule": {
		"vesselName": "vessel.name",
		"vesselIMO":  "vessel.IMONumber",
		"voyage":     "voyageNumber",
		"service":    "serviceCode",
		"portCalls":  "portCalls",
	},
	"booking": {
		"bookingNumber": "carrierBookingReference",
		"status":        "bookingStatus",
		"shipper":       "parties.shipper",
		"consignee":     "parties.consignee",
		"origin":        "placeOfReceipt",
		"destination":   "placeOfDelivery",
		"containers":    "equipment",
		"commodity":     "commodity.description",
		"weight":        "commodity.weight",
		"requestedDate": "requestedDepartureDate",
	},
}

var statuses = map[string]string{
	"RELEASED":       "available",
	"GATED_IN":       "gate_in",
	"LOADED":         "loaded",
	"DISCHARGED":     "discharged",
	"GATED_OUT":      "gate_out",
	"EMPTY_RETURNED": "returned",
	"IN_TRANSIT":     "in_transit",
}

// bookingUpdateFields are the external booking fields Maersk lets callers amend.
var bookingUpdateFields = []string{"equipment", "commodity", "requestedDepartureDate"}

// Transformer maps Maersk payloads to canonical records.
type Transformer struct {
	integration.BaseTransformer
}

func NewTransformer() *Transformer {
	return &Transformer{BaseTransformer: integration.BaseTransformer{
		Source:   "maersk",
		Mappings: mappings,
		Statuses: statuses,
	}}
}

func (t *Transformer) TransformInbound(data map[string]any, dataType string) (integration.Record, error) {
	rec, err := t.MapFields(data, dataType)
	if err != nil {
		return nil, err
	}
	switch dataType {
	case "tracking":
		t.NormalizeStatusField(rec, "status")
		if evs := integration.Maps(rec["events"]); evs != nil {
			rec["events"] = t.events(evs)
		}
	case "schedule":
		if _, ok := rec["transitTime"]; !ok {
			if d, ok := integration.TransitDays(integration.String(rec, "departureDate"), integration.String(rec, "arrivalDate")); ok {
				rec["transitTimeDays"] = d
			}
		}
		if legs := integration.Maps(rec["services"]); legs != nil {
			rec["services"] = legsOf(legs)
		}
	case "booking":
		if eq := integration.Maps(rec["containers"]); eq != nil {
			containers, teu := equipmentOf(eq)
			rec["containers"] = containers
			rec["totalTEU"] = teu
		}
	}
	return t.Stamp(rec), nil
}

func (t *Transformer) TransformOutbound(rec integration.Record, dataType string) (map[string]any, error) {
	switch dataType {
	case "booking-request":
		return bookingRequest(rec), nil
	case "booking-update":
		out, err := t.ReverseFields(rec, "booking")
		if err != nil {
			return nil, err
		}
		allowed := map[string]any{}
		for _, k := range bookingUpdateFields {
			if v, ok := out[k]; ok {
				allowed[k] = v
			}
		}
		return allowed, nil
	}
	return t.ReverseFields(rec, dataType)
}

func (t *Transformer) events(in []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, e := range in {
		out = append(out, map[string]any{
			"type":         t.NormalizeStatus(integration.String(e, "eventType")),
			"description":  integration.String(e, "description"),
			"location":     integration.String(e, "location.facility"),
			"locationCode": integration.String(e, "location.UNLocationCode"),
			"timestamp":    integration.String(e, "eventDateTime"),
			"actualEvent":  integration.String(e, "eventClassifierCode") == "ACT",
		})
	}
	return out
}

func legsOf(in []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, l := range in {
		out = append(out, map[string]any{
			"vessel":    integration.String(l, "transport.vessel.name"),
			"voyage":    integration.String(l, "transport.voyage"),
			"from":      integration.String(l, "departure.location.UNLocationCode"),
			"to":        integration.String(l, "arrival.location.UNLocationCode"),
			"departure": integration.String(l, "departure.dateTime"),
			"arrival":   integration.String(l, "arrival.dateTime"),
		})
	}
	return out
}

// equipmentOf reshapes equipment lines and totals twenty-foot equivalents.
func equipmentOf(in []map[string]any) ([]map[string]any, int) {
	out := make([]map[string]any, 0, len(in))
	teu := 0
	for _, e := range in {
		code := integration.String(e, "ISOEquipmentCode")
		qty := 1
		if n, ok := integration.Number(e, "numberOfContainers"); ok && n > 0 {
			qty = int(n)
		}
		size := code
		if len(code) >= 2 {
			size = code[:2]
		}
		switch size {
		case "20":
			teu += qty
		case "40", "45":
			teu += 2 * qty
		}
		out = append(out, map[string]any{"type": code, "size": size, "quantity": qty})
	}
	return out, teu
}

func bookingRequest(rec integration.Record) map[string]any {
	out := map[string]any{}
	for canonical, external := range map[string]string{
		"origin":        "placeOfReceipt",
		"destination":   "placeOfDelivery",
		"requestedDate": "requestedDepartureDate",
		"shipper":       "parties.shipper",
		"consignee":     "parties.consignee",
	} {
		if v, ok := rec[canonical]; ok {
			integration.SetPath(out, external, v)
		}
	}
	var equipment []map[string]any
	for _, c := range integration.Maps(rec["containers"]) {
		qty := 1
		if n, ok := integration.Number(c, "quantity"); ok && n > 0 {
			qty = int(n)
		}
		equipment = append(equipment, map[string]any{
			"ISOEquipmentCode":   strings.ToUpper(integration.String(c, "type")),
			"numberOfContainers": qty,
		})
	}
	if equipment != nil {
		out["equipment"] = equipment
	}
	commodity := map[string]any{}
	if d, ok := rec["commodity"]; ok {
		commodity["description"] = d
	}
	if w, ok := integration.Number(rec, "weight"); ok {
		commodity["weight"] = map[string]any{"value": w, "unit": "KGM"}
	}
	if len(commodity) > 0 {
		out["commodity"] = commodity
	}
	return out
}

package msc

import (
	"strings"

	"github.com/shopspring/decimal"

	"carrierlink/internal/integration"
)

var mappings = map[string]integration.Mapping{
	"container-tracking": {
		"containerNumber":   "ContainerNumber",
		"trackingNumber":    "ContainerNumber",
		"status":            "Status.Code",
		"statusDescription": "Status.Description",
		"timestamp":         "Status.Timestamp",
		"location":          "CurrentLocation.Name",
		"locationCode":      "CurrentLocation.UNCode",
		"vessel":            "VesselName",
		"voyage":            "VoyageNumber",
		"pol":               "PortOfLoading",
		"pod":               "PortOfDischarge",
		"eta":               "EstimatedArrival",
		"events":            "TrackingHistory.Event",
		"lastFreeDate":      "DemurrageInformation.LastFreeDate",
	},
	"booking-tracking": {
		"bookingNumber": "BookingNumber",
		"status":        "BookingStatus",
		"vessel":        "VesselName",
		"voyage":        "VoyageNumber",
		"pol":           "PortOfLoading",
		"pod":           "PortOfDischarge",
		"eta":           "EstimatedArrival",
		"containers":    "Containers.Container",
	},
	"schedule": {
		"vessel":          "VesselName",
		"voyage":          "VoyageNumber",
		"service":         "ServiceName",
		"origin":          "PortOfLoading.Name",
		"originCode":      "PortOfLoading.UNCode",
		"destination":     "PortOfDischarge.Name",
		"destinationCode": "PortOfDischarge.UNCode",
		"departureDate":   "ETD",
		"arrivalDate":     "ETA",
		"transitTime":     "TransitTime",
		"isDirect":        "IsDirect",
		"routes":          "RouteDetails.Leg",
	},
	"vessel-schedule": {
		"vessel":    "VesselName",
		"vesselIMO": "IMONumber",
		"voyage":    "VoyageNumber",
		"service":   "ServiceName",
		"portCalls": "PortCalls.PortCall",
	},
	"booking": {
		"bookingNumber":       "BookingReference",
		"status":              "BookingStatus",
		"shipper":             "Shipper",
		"consignee":           "Consignee",
		"origin":              "PlaceOfReceipt",
		"destination":         "PlaceOfDelivery",
		"containers":          "Equipment",
		"commodity":           "Cargo.Description",
		"weight":              "Cargo.Weight",
		"requestedDate":       "RequestedSailingDate",
		"specialRequirements": "Cargo.SpecialRequirements",
	},
	"quote": {
		"quoteId":       "QuoteReference",
		"origin":        "Origin",
		"destination":   "Destination",
		"totalAmount":   "TotalCharge.Amount",
		"currency":      "TotalCharge.Currency",
		"validUntil":    "ValidUntil",
		"transitTime":   "TransitTime",
		"charges":       "ChargeBreakdown.Charge",
		"routes":        "Routing.Leg",
		"equipmentType": "EquipmentType",
	},
	"contract-rates": {
		"contractNumber": "ContractNumber",
		"validFrom":      "ValidFrom",
		"validTo":        "ValidTo",
		"rates":          "Rates.Rate",
	},
	"manifest": {
		"containerNumber": "ContainerNumber",
		"sealNumber":      "SealNumber",
		"items":           "Cargo.Item",
		"totalWeight":     "TotalWeight",
	},
}

var statuses = map[string]string{
	"EMP": "empty",
	"FCL": "full",
	"RLS": "released",
	"GTI": "gate_in",
	"LOD": "loaded",
	"DIS": "discharged",
	"GTO": "gate_out",
	"RET": "returned",
	"TRA": "in_transit",
}

// surcharge codes reported as inclusions on quotes.
var inclusionCodes = []string{"THC", "DOC", "BAF", "CAF"}

// Transformer maps MSC payloads to canonical records.
type Transformer struct {
	integration.BaseTransformer
}

func NewTransformer() *Transformer {
	return &Transformer{BaseTransformer: integration.BaseTransformer{
		Source:   "msc",
		Mappings: mappings,
		Statuses: statuses,
	}}
}

func (t *Transformer) TransformInbound(data map[string]any, dataType string) (integration.Record, error) {
	if body, ok := data["Body"].(map[string]any); ok {
		data = body
	}
	rec, err := t.MapFields(data, dataType)
	if err != nil {
		return nil, err
	}
	switch dataType {
	case "container-tracking", "booking-tracking":
		t.NormalizeStatusField(rec, "status")
		if evs := integration.Maps(rec["events"]); evs != nil {
			rec["events"] = t.events(evs)
		}
		if cs := integration.Maps(rec["containers"]); cs != nil {
			rec["containers"] = containersOf(cs)
		}
	case "schedule":
		if s, ok := rec["isDirect"].(string); ok {
			rec["isDirect"] = yes(s)
		}
		if legs := integration.Maps(rec["routes"]); legs != nil {
			rec["routes"] = legsOf(legs)
		}
		if co2, ok := totalCO2(integration.Maps(rec["routes"])); ok {
			rec["totalCO2"] = co2
		}
	case "booking":
		if cs := integration.Maps(rec["containers"]); cs != nil {
			rec["containers"] = containersOf(cs)
		}
		if sr, ok := rec["specialRequirements"].(map[string]any); ok {
			rec["specialRequirements"] = map[string]any{
				"reefer":        yes(integration.String(sr, "Reefer")),
				"temperature":   integration.String(sr, "Temperature"),
				"dangerous":     yes(integration.String(sr, "DangerousGoods")),
				"imoClass":      integration.String(sr, "IMOClass"),
				"overDimension": yes(integration.String(sr, "OverDimension")),
			}
		}
	case "quote":
		if cs := integration.Maps(rec["charges"]); cs != nil {
			charges, payable := chargesOf(cs)
			rec["charges"] = charges
			if _, ok := rec["totalAmount"]; !ok {
				rec["totalAmount"] = payable.StringFixed(2)
			}
			rec["inclusions"] = inclusionsOf(charges)
		}
		if legs := integration.Maps(rec["routes"]); legs != nil {
			rec["routes"] = legsOf(legs)
			if co2, ok := totalCO2(legs); ok {
				rec["totalCO2"] = co2
			}
		}
	}
	return t.Stamp(rec), nil
}

func (t *Transformer) TransformOutbound(rec integration.Record, dataType string) (map[string]any, error) {
	switch dataType {
	case "booking-request":
		return bookingRequest(rec), nil
	case "quote-request":
		return quoteRequest(rec), nil
	}
	return t.ReverseFields(rec, dataType)
}

func (t *Transformer) events(in []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, e := range in {
		out = append(out, map[string]any{
			"code":        t.NormalizeStatus(integration.String(e, "EventCode")),
			"description": integration.String(e, "Description"),
			"location":    integration.String(e, "Location"),
			"timestamp":   integration.String(e, "EventDate"),
			"vessel":      integration.String(e, "VesselName"),
		})
	}
	return out
}

func containersOf(in []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, c := range in {
		typ := integration.String(c, "Type")
		size := typ
		if len(typ) >= 2 {
			size = typ[:2]
		}
		entry := map[string]any{
			"containerNumber": integration.String(c, "ContainerNumber"),
			"type":            typ,
			"size":            size,
		}
		if s := integration.String(c, "SealNumber"); s != "" {
			entry["sealNumber"] = s
		}
		if w, ok := integration.Number(c, "Weight"); ok {
			entry["weight"] = w
		}
		if q, ok := integration.Number(c, "Quantity"); ok {
			entry["quantity"] = int(q)
		}
		out = append(out, entry)
	}
	return out
}

func legsOf(in []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, l := range in {
		if _, done := l["from"]; done {
			out = append(out, l)
			continue
		}
		leg := map[string]any{
			"from":      integration.String(l, "From"),
			"to":        integration.String(l, "To"),
			"vessel":    integration.String(l, "VesselName"),
			"voyage":    integration.String(l, "VoyageNumber"),
			"departure": integration.String(l, "Departure"),
			"arrival":   integration.String(l, "Arrival"),
		}
		if co2 := integration.String(l, "CO2Emission"); co2 != "" {
			leg["co2"] = co2
		}
		out = append(out, leg)
	}
	return out
}

// totalCO2 sums per-leg emissions without float drift.
func totalCO2(legs []map[string]any) (string, bool) {
	sum := decimal.Zero
	found := false
	for _, l := range legs {
		raw := integration.String(l, "co2")
		if raw == "" {
			raw = integration.String(l, "CO2Emission")
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		sum = sum.Add(d)
		found = true
	}
	if !found {
		return "", false
	}
	return sum.String(), true
}

// chargesOf reshapes the charge breakdown and sums the charges not already
// included in the base rate.
func chargesOf(in []map[string]any) ([]map[string]any, decimal.Decimal) {
	out := make([]map[string]any, 0, len(in))
	payable := decimal.Zero
	for _, c := range in {
		amount, err := decimal.NewFromString(integration.String(c, "Amount"))
		if err != nil {
			amount = decimal.Zero
		}
		included := strings.EqualFold(integration.String(c, "IsIncluded"), "Y")
		if !included {
			payable = payable.Add(amount)
		}
		out = append(out, map[string]any{
			"code":        integration.String(c, "ChargeCode"),
			"description": integration.String(c, "Description"),
			"amount":      amount.StringFixed(2),
			"currency":    integration.String(c, "Currency"),
			"basis":       integration.String(c, "Basis"),
			"included":    included,
		})
	}
	return out, payable
}

func inclusionsOf(charges []map[string]any) map[string]bool {
	out := make(map[string]bool, len(inclusionCodes))
	for _, code := range inclusionCodes {
		out[strings.ToLower(code)] = false
	}
	for _, c := range charges {
		code, _ := c["code"].(string)
		if inc, _ := c["included"].(bool); inc {
			for _, want := range inclusionCodes {
				if strings.EqualFold(code, want) {
					out[strings.ToLower(want)] = true
				}
			}
		}
	}
	return out
}

func bookingRequest(rec integration.Record) map[string]any {
	req := map[string]any{}
	for canonical, external := range map[string]string{
		"origin":        "PlaceOfReceipt",
		"destination":   "PlaceOfDelivery",
		"requestedDate": "RequestedSailingDate",
		"shipper":       "Shipper",
		"consignee":     "Consignee",
		"commodity":     "Cargo.Description",
	} {
		if v, ok := rec[canonical]; ok {
			integration.SetPath(req, external, v)
		}
	}
	if w, ok := integration.Number(rec, "weight"); ok {
		integration.SetPath(req, "Cargo.Weight", map[string]any{"Value": w, "Unit": "KGS"})
	}
	if eq := equipmentRequest(rec["containers"]); eq != nil {
		req["Equipment"] = eq
	}
	return map[string]any{"BookingRequest": req}
}

func quoteRequest(rec integration.Record) map[string]any {
	req := map[string]any{}
	for canonical, external := range map[string]string{
		"origin":         "Origin",
		"destination":    "Destination",
		"cargoReadyDate": "CargoReadyDate",
		"commodity":      "Commodity",
		"contractNumber": "ContractNumber",
	} {
		if v, ok := rec[canonical]; ok {
			req[external] = v
		}
	}
	if eq := equipmentRequest(rec["containers"]); eq != nil {
		req["Equipment"] = eq
	}
	return map[string]any{"QuoteRequest": req}
}

func equipmentRequest(v any) []map[string]any {
	var out []map[string]any
	for _, c := range integration.Maps(v) {
		qty := 1
		if n, ok := integration.Number(c, "quantity"); ok && n > 0 {
			qty = int(n)
		}
		out = append(out, map[string]any{"Type": strings.ToUpper(integration.String(c, "type")), "Quantity": qty})
	}
	return out
}

func yes(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "Y", "YES", "TRUE", "1":
		return true
	}
	return false
}

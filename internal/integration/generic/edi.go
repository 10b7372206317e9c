package generic

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"carrierlink/internal/integration"
)

var segmentSplit = regexp.MustCompile(`[~\r\n]+`)

// EDICodec reads and writes a minimal X12-style interchange. Only the
// segments needed for ocean status messages are interpreted.
type EDICodec struct {
	cfg integration.EDIConfig
	now func() time.Time
}

func NewEDICodec(cfg integration.EDIConfig, now func() time.Time) *EDICodec {
	if cfg.Version == "" {
		cfg.Version = "004010"
	}
	if cfg.SenderQualifier == "" {
		cfg.SenderQualifier = "ZZ"
	}
	if cfg.ReceiverQualifier == "" {
		cfg.ReceiverQualifier = "ZZ"
	}
	if cfg.DefaultTransaction == "" {
		cfg.DefaultTransaction = "304"
	}
	if now == nil {
		now = time.Now
	}
	return &EDICodec{cfg: cfg, now: now}
}

func (*EDICodec) ContentType() string { return "application/edi-x12" }

// Decode returns {"segments": [][]string, "data": map[string]any}.
func (*EDICodec) Decode(raw []byte) (any, error) {
	return ParseEDI(string(raw)), nil
}

// ParseEDI splits an interchange into segments and interprets B04, N9 and DTM.
func ParseEDI(raw string) map[string]any {
	data := map[string]any{}
	var segments []any
	var dates []map[string]any
	for _, seg := range segmentSplit.Split(raw, -1) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		el := strings.Split(seg, "*")
		segments = append(segments, el)
		switch el[0] {
		case "ISA":
			if len(el) > 13 {
				data["senderId"] = strings.TrimSpace(el[6])
				data["receiverId"] = strings.TrimSpace(el[8])
				data["controlNumber"] = strings.TrimSpace(el[13])
			}
		case "ST":
			if len(el) > 1 {
				data["transactionType"] = el[1]
			}
		case "B04":
			setElem(data, "blNumber", el, 1)
			setElem(data, "bookingNumber", el, 2)
			setElem(data, "shipmentDate", el, 3)
		case "N9":
			if len(el) > 2 {
				switch el[1] {
				case "BN":
					data["bookingNumber"] = el[2]
				case "CN":
					data["containerNumber"] = el[2]
				case "BM":
					data["blNumber"] = el[2]
				default:
					refs, _ := data["references"].(map[string]any)
					if refs == nil {
						refs = map[string]any{}
						data["references"] = refs
					}
					refs[el[1]] = el[2]
				}
			}
		case "DTM":
			if len(el) > 2 {
				dates = append(dates, map[string]any{"qualifier": el[1], "date": el[2]})
			}
		}
	}
	if dates != nil {
		data["dates"] = dates
	}
	return map[string]any{"segments": segments, "data": data}
}

func setElem(data map[string]any, key string, el []string, i int) {
	if i < len(el) && el[i] != "" {
		data[key] = el[i]
	}
}

// Encode builds an interchange for v. The transaction type comes from
// v["transactionType"], falling back to the configured default.
func (c *EDICodec) Encode(v any) ([]byte, error) {
	m, _ := v.(map[string]any)
	if r, ok := v.(integration.Record); ok {
		m = r
	}
	if m == nil {
		return nil, fmt.Errorf("encoding edi: expected an object, got %T", v)
	}
	tx := integration.String(m, "transactionType")
	if tx == "" {
		tx = c.cfg.DefaultTransaction
	}
	out, err := c.Build(m, tx)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// Build renders an ISA ... IEA envelope around a transaction body.
func (c *EDICodec) Build(data map[string]any, transactionType string) (string, error) {
	var body []string
	switch transactionType {
	case "304":
		body = []string{
			"ST*304*0001",
			fmt.Sprintf("B04*%s*%s*%s", integration.String(data, "blNumber"), integration.String(data, "bookingNumber"), integration.String(data, "shipmentDate")),
			"SE*3*0001",
		}
	default:
		return "", fmt.Errorf("%w: %q", integration.ErrUnsupportedTransactionType, transactionType)
	}
	now := c.now()
	ctrl := fmt.Sprintf("%09d", now.UnixMilli()%1_000_000_000)
	isa := strings.Join([]string{
		"ISA", "00", pad("", 10), "00", pad("", 10),
		c.cfg.SenderQualifier, pad(c.cfg.SenderID, 15),
		c.cfg.ReceiverQualifier, pad(c.cfg.ReceiverID, 15),
		now.Format("060102"), now.Format("1504"),
		"U", versionCode(c.cfg.Version), ctrl, "0", "P", ">",
	}, "*")
	segs := append([]string{isa}, body...)
	segs = append(segs, "IEA*1*"+ctrl)
	return strings.Join(segs, "~") + "~", nil
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

// versionCode turns "004010" into the five character ISA12 value "00401".
func versionCode(v string) string {
	if len(v) == 6 {
		return v[:5]
	}
	return v
}

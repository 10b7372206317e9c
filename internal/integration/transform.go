package integration

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Record is a canonical record produced by a Transformer.
type Record map[string]any

// Status returns the normalized status field, or "".
func (r Record) Status() string {
	s, _ := r["status"].(string)
	return s
}

// Mapping maps canonical dotted paths to external dotted paths.
type Mapping map[string]string

// Reverse swaps keys and values.
func (m Mapping) Reverse() Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// Transformer converts between a carrier's wire shape and canonical records.
type Transformer interface {
	TransformInbound(data map[string]any, dataType string) (Record, error)
	TransformOutbound(rec Record, dataType string) (map[string]any, error)
}

// GetPath walks a dotted path through nested maps.
func GetPath(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if r, isRec := cur.(Record); isRec {
				m = r
			} else {
				return nil, false
			}
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// SetPath writes v at a dotted path, creating intermediate maps.
func SetPath(data map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// ApplyMapping builds a new map where each target key of m receives the value
// at its source path in src. Missing source values are skipped.
func ApplyMapping(src map[string]any, m Mapping) map[string]any {
	out := map[string]any{}
	for target, source := range m {
		if v, ok := GetPath(src, source); ok {
			SetPath(out, target, v)
		}
	}
	return out
}

// BaseTransformer carries the mapping tables and shared helpers; carriers
// embed it and add their own post-processing.
type BaseTransformer struct {
	Source   string
	Mappings map[string]Mapping
	Statuses map[string]string
	Now      func() time.Time
}

// MapFields applies the inbound mapping for dataType.
func (t *BaseTransformer) MapFields(data map[string]any, dataType string) (Record, error) {
	m, ok := t.Mappings[dataType]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %q mapping", ErrUnmappedDataType, t.Source, dataType)
	}
	return Record(ApplyMapping(data, m)), nil
}

// ReverseFields applies the reversed mapping for dataType.
func (t *BaseTransformer) ReverseFields(rec Record, dataType string) (map[string]any, error) {
	m, ok := t.Mappings[dataType]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %q mapping", ErrUnmappedDataType, t.Source, dataType)
	}
	return ApplyMapping(rec, m.Reverse()), nil
}

// TransformInbound maps and stamps without post-processing.
func (t *BaseTransformer) TransformInbound(data map[string]any, dataType string) (Record, error) {
	rec, err := t.MapFields(data, dataType)
	if err != nil {
		return nil, err
	}
	return t.Stamp(rec), nil
}

func (t *BaseTransformer) TransformOutbound(rec Record, dataType string) (map[string]any, error) {
	return t.ReverseFields(rec, dataType)
}

// NormalizeStatus looks code up in the status table; unknown codes pass
// through lower-cased.
func (t *BaseTransformer) NormalizeStatus(code string) string {
	if s, ok := t.Statuses[strings.ToUpper(code)]; ok {
		return s
	}
	return strings.ToLower(code)
}

// NormalizeStatusField rewrites rec[field] through the status table.
func (t *BaseTransformer) NormalizeStatusField(rec Record, field string) {
	if s, ok := rec[field].(string); ok {
		rec[field] = t.NormalizeStatus(s)
	}
}

// Stamp adds provenance metadata.
func (t *BaseTransformer) Stamp(rec Record) Record {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	rec["_source"] = t.Source
	rec["_retrievedAt"] = now().UTC().Format(time.RFC3339)
	return rec
}

// Maps returns v as a list of objects, accepting a single object too.
func Maps(v any) []map[string]any {
	switch x := v.(type) {
	case []map[string]any:
		return x
	case map[string]any:
		return []map[string]any{x}
	case Record:
		return []map[string]any{x}
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, item := range x {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// String returns the value at path as text.
func String(data map[string]any, path string) string {
	v, ok := GetPath(data, path)
	if !ok {
		return ""
	}
	return FormatScalar(v)
}

// Number returns the number at path, parsing strings.
func Number(data map[string]any, path string) (float64, bool) {
	v, ok := GetPath(data, path)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		var f float64
		if _, err := fmt.Sscan(x, &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "20060102"}

// ParseDate accepts the date shapes carriers send.
func ParseDate(s string) (time.Time, bool) {
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders a carrier date as YYYY-MM-DD, or "" when unparseable.
func FormatDate(s string) string {
	t, ok := ParseDate(s)
	if !ok {
		return ""
	}
	return t.Format("2006-01-02")
}

// TransitDays is the whole number of days between two dates, rounded up.
func TransitDays(from, to string) (int, bool) {
	a, ok1 := ParseDate(from)
	b, ok2 := ParseDate(to)
	if !ok1 || !ok2 {
		return 0, false
	}
	return int(math.Ceil(b.Sub(a).Hours() / 24)), true
}

var nonAlnum = regexp.MustCompile(`[^A-Z0-9]`)

// StandardizeContainerNumber upper-cases and strips separators.
func StandardizeContainerNumber(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToUpper(s), "")
}

// StandardizeVesselIMO returns the bare seven digit IMO number.
func StandardizeVesselIMO(s string) string {
	return strings.TrimPrefix(StandardizeContainerNumber(s), "IMO")
}

// StandardizePort upper-cases a UN/LOCODE and removes the country space.
func StandardizePort(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), " ", "")
}

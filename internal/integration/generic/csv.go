package generic

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"carrierlink/internal/integration"
)

// CSVCodec reads header-keyed rows and writes fully quoted rows whose header
// comes from the first record's keys.
type CSVCodec struct{}

func (CSVCodec) ContentType() string { return "text/csv" }

func (CSVCodec) Decode(data []byte) (any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err == io.EOF {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decoding csv: %w", err)
	}
	var rows []map[string]any
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding csv: %w", err)
		}
		row := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[strings.TrimSpace(h)] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (CSVCodec) Encode(v any) ([]byte, error) {
	rows := integration.Maps(v)
	if len(rows) == 0 {
		return nil, nil
	}
	header := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		header = append(header, k)
	}
	sort.Strings(header)
	var b strings.Builder
	writeRow(&b, header)
	for _, row := range rows {
		vals := make([]string, len(header))
		for i, h := range header {
			vals[i] = integration.FormatScalar(row[h])
		}
		writeRow(&b, vals)
	}
	return []byte(b.String()), nil
}

func writeRow(b *strings.Builder, vals []string) {
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(v, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}

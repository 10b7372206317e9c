package generic

import (
	"encoding/json"
	"fmt"
	"time"

	"carrierlink/internal/integration"
)

// Codec converts between wire bytes and the in-memory shape (maps, slices
// and scalars). A carrier's codec is fixed when its connector is built.
type Codec interface {
	ContentType() string
	Decode(data []byte) (any, error)
	Encode(v any) ([]byte, error)
}

// NewCodec selects the codec for a data format.
func NewCodec(format string, edi integration.EDIConfig, now func() time.Time) (Codec, error) {
	switch format {
	case "", "json":
		return JSONCodec{}, nil
	case "xml":
		return XMLCodec{Root: "Request"}, nil
	case "csv":
		return CSVCodec{}, nil
	case "edi":
		return NewEDICodec(edi, now), nil
	}
	return nil, fmt.Errorf("%w: unsupported data format %q", integration.ErrInvalidConfig, format)
}

type JSONCodec struct{}

func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Decode(data []byte) (any, error) {
	var v any
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	return v, nil
}

func (JSONCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

// XMLCodec lower-cases tag names and merges attributes on decode.
type XMLCodec struct {
	Root string
}

func (XMLCodec) ContentType() string { return "application/xml" }

func (c XMLCodec) Decode(data []byte) (any, error) {
	doc, err := integration.DecodeXML(data, true)
	if err != nil {
		return nil, err
	}
	// A single root element is unwrapped.
	if len(doc) == 1 {
		for _, v := range doc {
			if m, ok := v.(map[string]any); ok {
				return m, nil
			}
		}
	}
	return doc, nil
}

func (c XMLCodec) Encode(v any) ([]byte, error) {
	root := c.Root
	if root == "" {
		root = "Request"
	}
	return integration.EncodeXML(root, v)
}

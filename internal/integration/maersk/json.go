package maersk

import (
	"encoding/json"
	"io"
	"net/http"
	"time"
)

func decodeJSON(resp *http.Response, v any) error {
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(v)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

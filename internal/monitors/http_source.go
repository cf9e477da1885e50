package monitors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/leoscope/leoscope/internal/trigger"
)

// fieldMap renames a raw upstream field name to the snapshot key it
// should be written under, e.g. "elevation" -> "satellite_elevation".
type fieldMap map[string]string

// httpJSONSource polls a JSON endpoint and maps a fixed set of upstream
// fields onto snapshot keys, dropping everything else. Every LEOScope
// environmental monitor is a thin veneer over the same polling shape;
// what differs between satellite/weather/terminal is the endpoint and the
// field mapping, not the transport.
type httpJSONSource struct {
	endpoint string
	client   *http.Client
	mapping  fieldMap
	obsolete func(string) bool
}

func newHTTPJSONSource(endpoint string, mapping fieldMap, obsolete func(string) bool) *httpJSONSource {
	if obsolete == nil {
		obsolete = func(string) bool { return false }
	}
	return &httpJSONSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		mapping:  mapping,
		obsolete: obsolete,
	}
}

func (s *httpJSONSource) Read(ctx context.Context) (map[string]trigger.Value, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling %s: %w", s.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", s.endpoint, resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return mapFields(raw, s.mapping, s.obsolete), nil
}

// mapFields renames known raw keys onto their snapshot names, falls back
// to prefix-passthrough for anything unmapped so a dish/weather/terminal
// bridge exposing an extra field still surfaces it, and drops anything
// obsolete regardless of whether it's mapped.
func mapFields(raw map[string]any, mapping fieldMap, obsolete func(string) bool) map[string]trigger.Value {
	out := make(map[string]trigger.Value, len(raw))
	for k, v := range raw {
		if obsolete(k) {
			continue
		}
		val, ok := toTriggerValue(v)
		if !ok {
			continue
		}
		if mapped, ok := mapping[k]; ok {
			out[mapped] = val
			continue
		}
		out[k] = val
	}
	return out
}

func toTriggerValue(v any) (trigger.Value, bool) {
	switch t := v.(type) {
	case float64:
		return trigger.Value{Kind: trigger.KindNumber, Num: t}, true
	case bool:
		if t {
			return trigger.Value{Kind: trigger.KindNumber, Num: 1}, true
		}
		return trigger.Value{Kind: trigger.KindNumber, Num: 0}, true
	case string:
		return trigger.Value{Kind: trigger.KindString, Str: t}, true
	default:
		return trigger.Value{}, false
	}
}

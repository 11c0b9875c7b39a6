package incident

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Values at or above this are already milliseconds; below are seconds.
const millisThreshold = int64(100_000_000_000)

// NormalizeTimestamp coerces the feed's timestamp field, which may arrive as
// unix seconds, unix milliseconds, a numeric string of either, or an ISO-8601
// string, into canonical unix milliseconds. Unparseable input becomes 0.
func NormalizeTimestamp(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return normalizeNumeric(int64(t))
	case int64:
		return normalizeNumeric(t)
	case int:
		return normalizeNumeric(int64(t))
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return normalizeNumeric(n)
		}
		if f, err := t.Float64(); err == nil {
			return normalizeNumeric(int64(f))
		}
		return 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return normalizeNumeric(n)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return normalizeNumeric(int64(f))
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UnixMilli()
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UnixMilli()
		}
		return 0
	default:
		return 0
	}
}

func normalizeNumeric(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if n < millisThreshold {
		return n * 1000
	}
	return n
}

// DecodeCollection parses the feed's collection body: either null/empty
// (empty collection) or a flat JSON object mapping opaque remote keys to
// payload objects. A non-object JSON value is an empty collection, not an
// error; only malformed JSON is reported so the poller can skip the cycle.
// Partially valid payloads degrade field by field instead of being dropped.
func DecodeCollection(body []byte) ([]Record, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, err
	}
	root, ok := decoded.(map[string]any)
	if !ok {
		return nil, nil
	}
	records := make([]Record, 0, len(root))
	for key, raw := range root {
		rec := Record{RemoteKey: key}
		if payload, ok := raw.(map[string]any); ok {
			rec.Type = stringField(payload, "type")
			rec.Severity = NormalizeSeverity(stringField(payload, "severity"))
			rec.Status = stringField(payload, "status")
			rec.Location = stringField(payload, "location")
			rec.Description = stringField(payload, "description")
			rec.OccurredAt = NormalizeTimestamp(timestampField(payload))
		}
		rec.Fingerprint = ComputeFingerprint(rec)
		records = append(records, rec)
	}
	return records, nil
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// timestampField probes the field names seen across feed deployments.
func timestampField(payload map[string]any) any {
	for _, key := range []string{"occurredAt", "occurred_at", "timestamp", "time", "ts"} {
		if v, ok := payload[key]; ok {
			return v
		}
	}
	return nil
}

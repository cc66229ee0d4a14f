package schema

import (
	"encoding/json"

	"github.com/papercomputeco/spool/pkg/storage/migrate"
)

// legacyEvent maps a bespoke event row, whose payload is a JSON document,
// onto the explicit event columns.
func legacyEvent(owner [2]string, sessionID string, r migrate.Row, data map[string]any) (migrate.Row, error) {
	author, _ := data["author"].(string)
	if author == "" {
		author = "unknown"
	}

	var content any
	switch c := data["content"].(type) {
	case nil:
	case string:
		content = []byte(c)
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		content = b
	}

	var delta any
	d, _ := data["state_delta"].(map[string]any)
	if actions, ok := data["actions"].(map[string]any); ok && d == nil {
		d, _ = actions["state_delta"].(map[string]any)
	}
	if len(d) > 0 {
		raw, err := encode(d)
		if err != nil {
			return nil, err
		}
		delta = raw
	}

	var errCode, errMsg any
	if code, _ := data["error_code"].(string); code != "" {
		errCode = code
		if msg, ok := data["error_message"].(string); ok {
			errMsg = msg
		}
	}

	invocation, _ := data["invocation_id"].(string)
	return migrate.Row{
		"app_name":      owner[0],
		"user_id":       owner[1],
		"session_id":    sessionID,
		"id":            r.String("id"),
		"invocation_id": invocation,
		"author":        author,
		"timestamp":     r.Int64("timestamp"),
		"content":       content,
		"state_delta":   delta,
		"partial":       flag(data, "partial"),
		"turn_complete": flag(data, "turn_complete"),
		"interrupted":   flag(data, "interrupted"),
		"error_code":    errCode,
		"error_message": errMsg,
	}, nil
}

func flag(data map[string]any, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func encode(v map[string]any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

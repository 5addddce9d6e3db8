package tools

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"agentledger/internal/ledger"
)

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":"marshal result: %s"}`, err.Error())
	}
	return string(data)
}

// ErrorJSON renders err as the structured {"error": {"name", "message"}} payload.
func ErrorJSON(err error) string {
	le := ledger.AsError(err)
	return mustJSON(map[string]any{
		"error": map[string]any{
			"name":    le.Name(),
			"message": le.Error(),
		},
	})
}

func decodeArgs(tool string, args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return &ledger.Error{Kind: ledger.KindValidation, Op: tool, Message: "invalid arguments", Err: err}
	}
	return nil
}

func missingArg(tool, name string) error {
	return &ledger.Error{Kind: ledger.KindValidation, Op: tool, Message: fmt.Sprintf("missing '%s' parameter", name)}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// contentField renders stored bytes as text, or base64 when they are not UTF-8.
func contentField(data []byte) (string, string) {
	if data == nil {
		return "", ""
	}
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}
	return base64.StdEncoding.EncodeToString(data), "base64"
}

func optionalBytes(s *string) []byte {
	if s == nil {
		return nil
	}
	return []byte(*s)
}

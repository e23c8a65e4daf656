package chat

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Extractor pulls assistant text out of one provider response shape.
type Extractor func(raw json.RawMessage) (string, bool)

// DefaultExtractors is the precedence order used when none is configured.
// New provider shapes are supported by appending to this list.
var DefaultExtractors = []Extractor{
	ChoicesMessageContent,
	TopLevelString("output_text"),
	TopLevelString("text"),
}

// ChoicesMessageContent reads choices[0].message.content from OpenAI-style responses.
func ChoicesMessageContent(raw json.RawMessage) (string, bool) {
	choices := gjson.GetBytes(raw, "choices")
	if !choices.IsArray() {
		return "", false
	}
	arr := choices.Array()
	if len(arr) == 0 {
		return "", false
	}
	content := arr[0].Get("message.content")
	if content.Type != gjson.String {
		return "", false
	}
	return content.String(), true
}

// TopLevelString reads a string field of the top-level object.
func TopLevelString(field string) Extractor {
	return func(raw json.RawMessage) (string, bool) {
		root := gjson.ParseBytes(raw)
		if !root.IsObject() {
			return "", false
		}
		v := root.Get(field)
		if v.Type != gjson.String {
			return "", false
		}
		return v.String(), true
	}
}

// ExtractReply returns the result of the first extractor that matches, or "".
func ExtractReply(raw json.RawMessage, extractors []Extractor) string {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return ""
	}
	for _, extract := range extractors {
		if text, ok := extract(raw); ok {
			return text
		}
	}
	return ""
}

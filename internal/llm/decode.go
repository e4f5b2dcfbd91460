package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrMalformedOutput marks model output that could not be decoded into the
// expected JSON shape. Callers treat it as a system defect, never as evidence
// about the knowledge corpus.
var ErrMalformedOutput = errors.New("malformed model output")

var (
	fenceOpen  = regexp.MustCompile("(?m)^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("(?m)```\\s*$")
)

// CleanJSONText strips markdown code fences the model tends to wrap JSON in.
func CleanJSONText(text string) string {
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// DecodeJSON is the single place where raw model output becomes a typed
// value: strip fences, locate the JSON payload, unmarshal.
func DecodeJSON[T any](raw string) (T, error) {
	var out T

	cleaned := CleanJSONText(raw)
	if cleaned == "" {
		return out, ErrMalformedOutput
	}

	// Models occasionally preface the object with prose; cut to the first
	// bracket so a leading sentence does not fail the whole decode.
	if idx := strings.IndexAny(cleaned, "{["); idx > 0 {
		cleaned = cleaned[idx:]
	}

	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return out, errors.Join(ErrMalformedOutput, err)
	}

	return out, nil
}

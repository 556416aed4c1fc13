package domain

import "strings"

// BodyEncoding selects how a request body payload is serialized onto the
// wire. It is decided exactly once, at the executor boundary, instead of
// being re-inferred from payload shape at arbitrary depth.
type BodyEncoding string

const (
	EncodingJSON      BodyEncoding = "json"
	EncodingForm      BodyEncoding = "form"
	EncodingMultipart BodyEncoding = "multipart"
)

// FormEntry is one ordered key/value pair of a multipart form payload.
type FormEntry struct {
	Key   string
	Value interface{}
}

// BodyPayload is the discriminated body representation the executor works
// with after boundary resolution.
type BodyPayload struct {
	Encoding BodyEncoding
	// Value holds the payload for JSON and form encodings.
	Value interface{}
	// Entries holds the ordered multipart entries. Only set for
	// EncodingMultipart.
	Entries []FormEntry
}

// ResolveBodyPayload classifies a raw body value into a BodyPayload.
// It recognizes the legacy multipart marker shape
// {"__formdata": true, "entries": [[key, value], ...]} and otherwise picks
// the encoding from the declared content type, defaulting to JSON.
func ResolveBodyPayload(value interface{}, contentType string) BodyPayload {
	if m, ok := value.(map[string]interface{}); ok {
		if flag, ok := m["__formdata"].(bool); ok && flag {
			var entries []FormEntry
			if raw, ok := m["entries"].([]interface{}); ok {
				for _, e := range raw {
					pair, ok := e.([]interface{})
					if !ok || len(pair) < 2 {
						continue
					}
					key, ok := pair[0].(string)
					if !ok {
						continue
					}
					entries = append(entries, FormEntry{Key: key, Value: pair[1]})
				}
			}
			return BodyPayload{Encoding: EncodingMultipart, Entries: entries}
		}
	}
	if isFormURLEncoded(contentType) {
		return BodyPayload{Encoding: EncodingForm, Value: value}
	}
	return BodyPayload{Encoding: EncodingJSON, Value: value}
}

func isFormURLEncoded(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/x-www-form-urlencoded")
}

package rpchttp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Legacy content markers produced by upstream APIs that tag binary
// payloads inside ordinary JSON objects. Classified into the typed content
// union exactly once, here at the response boundary.
const (
	contentMarkerKey = "__mcp_type"
	base64Key        = "base64"
	mimeTypeKey      = "mimeType"

	defaultImageMIME = "image/png"
	defaultAudioMIME = "audio/mpeg"
)

// classifyContent normalizes a tool call payload into exactly one content
// block: plain strings stay text, tagged image/audio objects become their
// typed blocks, everything else is pretty-printed JSON. It never fails:
// unencodable payloads degrade to their string coercion.
func classifyContent(payload interface{}) mcp.Content {
	switch v := payload.(type) {
	case string:
		return mcp.TextContent{Type: "text", Text: v}
	case map[string]interface{}:
		if kind, ok := v[contentMarkerKey].(string); ok {
			data, _ := v[base64Key].(string)
			mimeType, _ := v[mimeTypeKey].(string)
			switch kind {
			case "image":
				if mimeType == "" {
					mimeType = defaultImageMIME
				}
				return mcp.ImageContent{Type: "image", Data: data, MIMEType: mimeType}
			case "audio":
				if mimeType == "" {
					mimeType = defaultAudioMIME
				}
				return mcp.AudioContent{Type: "audio", Data: data, MIMEType: mimeType}
			}
		}
	}

	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.TextContent{Type: "text", Text: fmt.Sprintf("%v", payload)}
	}
	return mcp.TextContent{Type: "text", Text: string(encoded)}
}

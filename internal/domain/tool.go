package domain

// Location identifies where a parameter value is placed in the outgoing
// HTTP request.
type Location string

const (
	LocationPath   Location = "path"
	LocationQuery  Location = "query"
	LocationHeader Location = "header"
	LocationCookie Location = "cookie"
	LocationBody   Location = "body"
)

// Parameter describes one input of a compiled tool and how its value is
// bound onto the outgoing request. Names are unique only per location: a
// query parameter and a header parameter may legitimately share a name and
// are tracked as separate descriptors.
type Parameter struct {
	Name     string      `json:"name"`
	In       Location    `json:"in"`
	Required bool        `json:"required,omitempty"`
	Schema   *SchemaNode `json:"schema,omitempty"`

	// ContentType carries the negotiated request content type for the
	// synthesized body descriptor. Empty for all other locations.
	ContentType string `json:"contentType,omitempty"`
}

// Tool is the compiled, callable representation of one OpenAPI operation.
// Instances are created fresh on every compile pass and immutable after.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema *SchemaNode `json:"inputSchema"`

	Method      string      `json:"method"`
	Path        string      `json:"path"` // path template, e.g. "/pets/{id}"
	OperationID string      `json:"operationId,omitempty"`
	Tag         string      `json:"tag,omitempty"`
	Summary     string      `json:"summary,omitempty"`
	Deprecated  bool        `json:"deprecated,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`

	// Source names the configured tool source this tool was compiled from,
	// so invocation can resolve the matching credentials.
	Source string `json:"source,omitempty"`
}

// Credentials holds what the executor needs to reach the downstream API.
type Credentials struct {
	BaseURL string
	Token   string
}

// CallResult is the normalized outcome of one executed tool invocation.
// Success reflects the HTTP status class only; transport and decode
// failures surface as errors instead.
type CallResult struct {
	Success bool        `json:"success"`
	Status  int         `json:"status"`
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Path    string      `json:"path"`
	Data    interface{} `json:"data"`
}

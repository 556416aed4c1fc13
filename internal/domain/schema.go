package domain

// SchemaNode is a sanitized, self-contained JSON-Schema-like tree. It is
// restricted to an explicit allow-list of descriptive fields; anything else
// present on a source schema is dropped during sanitization so downstream
// consumers are never handed executable or vendor-specific fields.
type SchemaNode struct {
	Type        string        `json:"type,omitempty"`
	Description string        `json:"description,omitempty"`
	Default     interface{}   `json:"default,omitempty"`
	Enum        []interface{} `json:"enum,omitempty"`
	Examples    []interface{} `json:"examples,omitempty"`
	Format      string        `json:"format,omitempty"`
	Pattern     string        `json:"pattern,omitempty"`

	MinLength *uint64  `json:"minLength,omitempty"`
	MaxLength *uint64  `json:"maxLength,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty"`
	// Exclusive bounds follow the OpenAPI 3.0 boolean form.
	ExclusiveMinimum bool     `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum bool     `json:"exclusiveMaximum,omitempty"`
	MultipleOf       *float64 `json:"multipleOf,omitempty"`

	Properties map[string]*SchemaNode `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
	Items      *SchemaNode            `json:"items,omitempty"`

	OneOf []*SchemaNode `json:"oneOf,omitempty"`
	AnyOf []*SchemaNode `json:"anyOf,omitempty"`
	AllOf []*SchemaNode `json:"allOf,omitempty"`

	// AdditionalProperties is forced to false on emitted input schemas so
	// callers are never silently handed unvalidated extra fields.
	AdditionalProperties *bool `json:"additionalProperties,omitempty"`
}

// APISchema represents a fetched OpenAPI document before compilation.
// The document is foreign, possibly malformed input: consumers must
// tolerate absent or oddly typed fields everywhere.
type APISchema struct {
	// Source is the operator-supplied URL (or path) the document came from.
	Source string
	// RawData holds the unprocessed document bytes.
	RawData []byte
	// ParsedData holds the parser-specific representation (*openapi3.T for
	// OpenAPI). Kept as interface{} so the domain stays library-free.
	ParsedData interface{}
}

// EmptyInputSchema returns the default input schema for a tool with no
// usable inputs: an empty closed object.
func EmptyInputSchema() *SchemaNode {
	f := false
	return &SchemaNode{
		Type:                 "object",
		Properties:           map[string]*SchemaNode{},
		AdditionalProperties: &f,
	}
}

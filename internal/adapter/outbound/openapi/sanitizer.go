package openapi

import (
	"log/slog"
	"sort"

	"github.com/oasbridge/oasbridge/internal/domain"

	"github.com/getkin/kin-openapi/openapi3"
)

// optionalExtension is the property-level vendor extension that removes a
// property from the emitted required list even when the source schema
// declares it required.
const optionalExtension = "x-optional"

// sanitizeSchema cleans an arbitrary source schema fragment into a
// domain.SchemaNode carrying only allow-listed descriptive fields. Absent
// or unusable fragments degrade to the safe string default; a single bad
// property is skipped and logged rather than aborting the whole schema.
func sanitizeSchema(log *slog.Logger, ref *openapi3.SchemaRef) *domain.SchemaNode {
	if ref == nil || ref.Value == nil {
		return &domain.SchemaNode{Type: "string"}
	}
	s := ref.Value

	node := &domain.SchemaNode{
		Type:        schemaType(s),
		Description: s.Description,
		Default:     s.Default,
		Format:      s.Format,
		Pattern:     s.Pattern,
	}
	if len(s.Enum) > 0 {
		node.Enum = append([]interface{}(nil), s.Enum...)
	}
	if s.Example != nil {
		node.Examples = []interface{}{s.Example}
	}
	if s.MinLength > 0 {
		minLen := s.MinLength
		node.MinLength = &minLen
	}
	if s.MaxLength != nil {
		maxLen := *s.MaxLength
		node.MaxLength = &maxLen
	}
	if s.Min != nil {
		minimum := *s.Min
		node.Minimum = &minimum
	}
	if s.Max != nil {
		maximum := *s.Max
		node.Maximum = &maximum
	}
	node.ExclusiveMinimum = s.ExclusiveMin
	node.ExclusiveMaximum = s.ExclusiveMax
	if s.MultipleOf != nil {
		multipleOf := *s.MultipleOf
		node.MultipleOf = &multipleOf
	}

	if len(s.Properties) > 0 {
		node.Properties = make(map[string]*domain.SchemaNode, len(s.Properties))
		for name, propRef := range s.Properties {
			if propRef == nil {
				log.Warn("Skipping property without schema", slog.String("property", name))
				continue
			}
			node.Properties[name] = sanitizeSchema(log, propRef)
		}
		node.Required = append([]string(nil), s.Required...)
	}

	if s.Items != nil {
		node.Items = sanitizeSchema(log, s.Items)
	}

	node.OneOf = sanitizeVariants(log, s.OneOf)
	node.AnyOf = sanitizeVariants(log, s.AnyOf)
	node.AllOf = sanitizeVariants(log, s.AllOf)

	return node
}

func sanitizeVariants(log *slog.Logger, refs openapi3.SchemaRefs) []*domain.SchemaNode {
	if len(refs) == 0 {
		return nil
	}
	out := make([]*domain.SchemaNode, 0, len(refs))
	for _, ref := range refs {
		if ref == nil || ref.Value == nil {
			continue
		}
		out = append(out, sanitizeSchema(log, ref))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// buildInputSchema turns a request-body schema into the tool's input
// schema: top-level properties sanitized individually, required only for
// properties the source requires and does not flag optional, and
// additionalProperties always forced to false.
func buildInputSchema(log *slog.Logger, ref *openapi3.SchemaRef) *domain.SchemaNode {
	out := domain.EmptyInputSchema()
	if ref == nil || ref.Value == nil {
		return out
	}
	s := ref.Value

	requiredSet := make(map[string]struct{}, len(s.Required))
	for _, name := range s.Required {
		requiredSet[name] = struct{}{}
	}

	for name, propRef := range s.Properties {
		if propRef == nil {
			log.Warn("Skipping input property without schema", slog.String("property", name))
			continue
		}
		out.Properties[name] = sanitizeSchema(log, propRef)
		if _, isRequired := requiredSet[name]; isRequired && !flaggedOptional(propRef) {
			out.Required = append(out.Required, name)
		}
	}
	// Map iteration order is random; keep the emitted schema stable.
	sort.Strings(out.Required)
	return out
}

// flaggedOptional reports whether the property carries the x-optional
// override.
func flaggedOptional(ref *openapi3.SchemaRef) bool {
	if ref == nil || ref.Value == nil || ref.Value.Extensions == nil {
		return false
	}
	flag, ok := ref.Value.Extensions[optionalExtension].(bool)
	return ok && flag
}

// schemaType extracts a single type string, defaulting to the safe
// "string" when the source omits or mangles it.
func schemaType(s *openapi3.Schema) string {
	if s.Type != nil && len(*s.Type) > 0 {
		if t := (*s.Type)[0]; t != "" {
			return t
		}
	}
	return "string"
}

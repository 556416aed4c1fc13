package openapi

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/oasbridge/oasbridge/internal/domain"

	"github.com/getkin/kin-openapi/openapi3"
)

// HTTP methods considered during compilation; anything else under a path
// is ignored.
var allowedMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "DELETE": {}, "PATCH": {}, "HEAD": {}, "OPTIONS": {},
}

// Read-style methods take their input schema from path/query/header
// parameters instead of the request body.
var readMethods = map[string]struct{}{
	"GET": {}, "DELETE": {}, "HEAD": {},
}

// Request body content types in preference order.
var contentTypePreference = []string{
	"application/json",
	"multipart/form-data",
	"application/x-www-form-urlencoded",
	"text/plain",
}

// ToolGenerator compiles an OpenAPI document into tool descriptors.
// Compilation never fails on a malformed operation: bad entries are
// skipped and logged, and the rest of the document still compiles.
type ToolGenerator struct {
	logger *slog.Logger
}

// NewToolGenerator creates a new OpenAPI ToolGenerator.
func NewToolGenerator(logger *slog.Logger) *ToolGenerator {
	return &ToolGenerator{
		logger: logger.With("component", "openapi_generator"),
	}
}

// Generate walks the document's operations, applies the tag filter, and
// emits one tool per accepted operation.
func (g *ToolGenerator) Generate(schema domain.APISchema, filterTags []string) ([]domain.Tool, error) {
	log := g.logger.With(slog.String("source", schema.Source))

	doc, ok := schema.ParsedData.(*openapi3.T)
	if !ok || doc == nil {
		return nil, fmt.Errorf("invalid or missing parsed OpenAPI document")
	}
	if doc.Paths == nil {
		log.Warn("Document has no paths")
		return nil, nil
	}

	filterKey := domain.FilterKey(filterTags)
	log = log.With(slog.String("filter", filterKey))

	var tools []domain.Tool
	taken := make(map[string]bool)
	skipped := 0
	filtered := 0

	// Deterministic compile order regardless of map iteration.
	paths := make([]string, 0, len(doc.Paths.Map()))
	for p := range doc.Paths.Map() {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		pathItem := doc.Paths.Map()[path]
		if pathItem == nil {
			log.Warn("Skipping malformed path entry", slog.String("path", path))
			skipped++
			continue
		}
		ops := pathItem.Operations()
		methods := make([]string, 0, len(ops))
		for m := range ops {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		for _, method := range methods {
			operation := ops[method]
			method = strings.ToUpper(method)
			if _, ok := allowedMethods[method]; !ok {
				continue
			}
			if operation == nil {
				log.Warn("Skipping malformed operation", slog.String("path", path), slog.String("method", method))
				skipped++
				continue
			}
			if !matchesFilter(operation.Tags, filterTags) {
				filtered++
				continue
			}

			opLog := log.With(slog.String("path", path), slog.String("method", method))
			tool, ok := g.compileOperation(opLog, path, method, operation)
			if !ok {
				skipped++
				continue
			}

			if taken[tool.Name] {
				// The suffixed name may itself collide with an earlier
				// tool, so keep counting until a free one is found.
				base := tool.Name
				for n := 2; ; n++ {
					candidate := fmt.Sprintf("%s_%d", base, n)
					if !taken[candidate] {
						tool.Name = candidate
						break
					}
				}
				opLog.Warn("Tool name collision, disambiguating",
					slog.String("tool_name", base),
					slog.String("renamed_to", tool.Name))
			}
			taken[tool.Name] = true
			tools = append(tools, tool)
		}
	}

	log.Info("Compiled tools from OpenAPI document",
		slog.Int("tool_count", len(tools)),
		slog.Int("skipped", skipped),
		slog.Int("filtered_out", filtered))
	return tools, nil
}

// Tags returns the deduplicated, sorted tags across every operation.
func (g *ToolGenerator) Tags(schema domain.APISchema) []string {
	doc, ok := schema.ParsedData.(*openapi3.T)
	if !ok || doc == nil || doc.Paths == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, pathItem := range doc.Paths.Map() {
		if pathItem == nil {
			continue
		}
		for _, operation := range pathItem.Operations() {
			if operation == nil {
				continue
			}
			for _, tag := range operation.Tags {
				if tag == "" {
					continue
				}
				seen[tag] = struct{}{}
			}
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (g *ToolGenerator) compileOperation(log *slog.Logger, path, method string, op *openapi3.Operation) (domain.Tool, bool) {
	rawName := op.OperationID
	if rawName == "" {
		rawName = method + " " + path
	}
	name := domain.CleanToolName(rawName)
	if name == "" {
		// A degenerate, unnamed tool is strictly worse than no tool.
		log.Warn("Dropping tool whose name sanitized to nothing", slog.String("raw_name", rawName))
		return domain.Tool{}, false
	}

	description := op.Description
	if description == "" {
		description = op.Summary
	}
	if description == "" {
		description = fmt.Sprintf("Executes %s %s", method, path)
	}

	params, bodySchemaRef := g.buildParameters(log, op)

	var inputSchema *domain.SchemaNode
	if _, isRead := readMethods[method]; isRead {
		inputSchema = paramsInputSchema(params)
	} else if bodySchemaRef != nil {
		inputSchema = buildInputSchema(log, bodySchemaRef)
	} else {
		inputSchema = paramsInputSchema(params)
	}

	tool := domain.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		Method:      method,
		Path:        path,
		OperationID: op.OperationID,
		Summary:     op.Summary,
		Deprecated:  op.Deprecated,
		Parameters:  params,
	}
	if len(op.Tags) > 0 {
		tool.Tag = op.Tags[0]
	}
	return tool, true
}

// buildParameters extracts parameter descriptors in source order and, when
// a request body is declared, synthesizes a single body-location
// descriptor whose schema comes from the preferred content type. The raw
// body schema ref is returned as well so the input schema builder can see
// the source required list and overrides.
func (g *ToolGenerator) buildParameters(log *slog.Logger, op *openapi3.Operation) ([]domain.Parameter, *openapi3.SchemaRef) {
	var params []domain.Parameter

	for _, paramRef := range op.Parameters {
		if paramRef == nil || paramRef.Value == nil {
			log.Warn("Skipping malformed parameter entry")
			continue
		}
		p := paramRef.Value
		if p.Name == "" {
			log.Warn("Skipping parameter without a name", slog.String("in", p.In))
			continue
		}
		params = append(params, domain.Parameter{
			Name:     p.Name,
			In:       domain.Location(p.In),
			Required: p.Required,
			Schema:   sanitizeSchema(log, p.Schema),
		})
	}

	if op.RequestBody == nil || op.RequestBody.Value == nil || len(op.RequestBody.Value.Content) == 0 {
		return params, nil
	}

	content := op.RequestBody.Value.Content
	contentType, media := pickContent(content)
	var bodySchemaRef *openapi3.SchemaRef
	if media != nil {
		bodySchemaRef = media.Schema
	}
	params = append(params, domain.Parameter{
		Name:        "body",
		In:          domain.LocationBody,
		Required:    op.RequestBody.Value.Required,
		Schema:      sanitizeSchema(log, bodySchemaRef),
		ContentType: contentType,
	})
	return params, bodySchemaRef
}

// pickContent chooses the request body media type: first match in the
// preference order, else the lexically first declared type.
func pickContent(content openapi3.Content) (string, *openapi3.MediaType) {
	for _, ct := range contentTypePreference {
		if media, ok := content[ct]; ok && media != nil {
			return ct, media
		}
	}
	declared := make([]string, 0, len(content))
	for ct := range content {
		declared = append(declared, ct)
	}
	sort.Strings(declared)
	for _, ct := range declared {
		if media := content[ct]; media != nil {
			return ct, media
		}
	}
	return "", nil
}

// paramsInputSchema derives an input schema from path/query/header
// parameter descriptors.
func paramsInputSchema(params []domain.Parameter) *domain.SchemaNode {
	out := domain.EmptyInputSchema()
	for _, p := range params {
		switch p.In {
		case domain.LocationPath, domain.LocationQuery, domain.LocationHeader:
		default:
			continue
		}
		out.Properties[p.Name] = p.Schema
		if p.Required {
			out.Required = append(out.Required, p.Name)
		}
	}
	sort.Strings(out.Required)
	return out
}

// matchesFilter implements tag filtering: an empty filter or the "all"
// sentinel accepts everything; otherwise at least one operation tag must
// case-insensitively contain at least one requested tag.
func matchesFilter(opTags, filterTags []string) bool {
	if domain.FilterKey(filterTags) == domain.FilterAll {
		return true
	}
	for _, opTag := range opTags {
		lowerTag := strings.ToLower(opTag)
		for _, want := range filterTags {
			want = strings.ToLower(strings.TrimSpace(want))
			if want == "" {
				continue
			}
			if strings.Contains(lowerTag, want) {
				return true
			}
		}
	}
	return false
}

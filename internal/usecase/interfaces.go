package usecase

import (
	"context"
	"errors"

	"github.com/oasbridge/oasbridge/internal/domain"
)

// Standard errors returned by use cases and adapters.
var (
	ErrToolNotFound   = errors.New("tool not found")
	ErrMissingBaseURL = errors.New("missing base URL for tool invocation")
)

// SourceConfig identifies one configured OpenAPI document source.
type SourceConfig struct {
	// Name is the operator-chosen identifier for this source. Compiled
	// tools are stamped with it so invocation can find the matching
	// credentials.
	Name string
	// URL is where the OpenAPI document is fetched from.
	URL string
	// Headers are optional extra headers applied to the document fetch
	// (not to tool invocations).
	Headers map[string]string
}

// SchemaFetcher fetches and parses an OpenAPI document.
type SchemaFetcher interface {
	Fetch(ctx context.Context, cfg SourceConfig) (domain.APISchema, error)
}

// ToolGenerator compiles an OpenAPI document into tools, applying a tag
// filter. An empty filter (or the "all" sentinel) means every operation.
type ToolGenerator interface {
	Generate(schema domain.APISchema, filterTags []string) ([]domain.Tool, error)
	// Tags returns the deduplicated, sorted tag list of all operations,
	// for populating filter configuration UIs.
	Tags(schema domain.APISchema) []string
}

// ToolCache memoizes compiled tool sets per (source URL, filter key) with
// a TTL and stale-on-error fallback policy.
type ToolCache interface {
	Get(ctx context.Context, source, filterKey string, refresh func(context.Context) ([]domain.Tool, error), force bool) ([]domain.Tool, error)
}

// ToolInvoker executes one outbound HTTP call for a tool.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool domain.Tool, args map[string]interface{}, creds domain.Credentials) (*domain.CallResult, error)
}

package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oasbridge/oasbridge/internal/domain"
)

// RefreshToolsUseCase resolves the active tool set for a source, going
// through the cache. The fetch-then-compile pipeline is the cache's
// refresh function; cache policy (TTL, stale fallback) lives in the cache.
type RefreshToolsUseCase struct {
	fetcher   SchemaFetcher
	generator ToolGenerator
	cache     ToolCache
	logger    *slog.Logger
}

// NewRefreshToolsUseCase creates a new RefreshToolsUseCase.
func NewRefreshToolsUseCase(fetcher SchemaFetcher, generator ToolGenerator, cache ToolCache, logger *slog.Logger) *RefreshToolsUseCase {
	return &RefreshToolsUseCase{
		fetcher:   fetcher,
		generator: generator,
		cache:     cache,
		logger:    logger.With("usecase", "RefreshTools"),
	}
}

// Execute returns the compiled tool set for the given source and tag
// filter. With force set, the cache is bypassed and a fresh compile is
// attempted (falling back to the previous value only on refresh failure).
func (uc *RefreshToolsUseCase) Execute(ctx context.Context, src SourceConfig, filterTags []string, force bool) ([]domain.Tool, error) {
	filterKey := domain.FilterKey(filterTags)
	log := uc.logger.With(slog.String("source", src.URL), slog.String("filter", filterKey))

	tools, err := uc.cache.Get(ctx, src.URL, filterKey, func(ctx context.Context) ([]domain.Tool, error) {
		return uc.compile(ctx, src, filterTags)
	}, force)
	if err != nil {
		log.Error("Failed to resolve tool set", slog.Any("error", err))
		return nil, fmt.Errorf("failed to resolve tools for %s: %w", src.URL, err)
	}
	log.Debug("Resolved tool set", slog.Int("count", len(tools)))
	return tools, nil
}

// ListTags fetches the source document and returns its deduplicated,
// sorted operation tags. Always a live fetch: the list feeds configuration
// UIs where staleness is more confusing than latency.
func (uc *RefreshToolsUseCase) ListTags(ctx context.Context, src SourceConfig) ([]string, error) {
	schema, err := uc.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schema from %s: %w", src.URL, err)
	}
	return uc.generator.Tags(schema), nil
}

func (uc *RefreshToolsUseCase) compile(ctx context.Context, src SourceConfig, filterTags []string) ([]domain.Tool, error) {
	schema, err := uc.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schema from %s: %w", src.URL, err)
	}
	tools, err := uc.generator.Generate(schema, filterTags)
	if err != nil {
		return nil, fmt.Errorf("failed to compile tools from %s: %w", src.URL, err)
	}
	for i := range tools {
		tools[i].Source = src.Name
	}
	uc.logger.Info("Compiled tool set",
		slog.String("source", src.URL),
		slog.Int("tool_count", len(tools)))
	return tools, nil
}

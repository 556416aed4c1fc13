package openapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/oasbridge/oasbridge/internal/domain"
	"github.com/oasbridge/oasbridge/internal/usecase"

	"github.com/getkin/kin-openapi/openapi3"
)

// SchemaFetcher implements usecase.SchemaFetcher for OpenAPI documents.
// Parsing is best-effort tolerant: validation problems are logged, never
// fatal, because the document is foreign input.
type SchemaFetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
	discoverer *Discoverer
}

// NewSchemaFetcher creates a new OpenAPI SchemaFetcher.
func NewSchemaFetcher(client *http.Client, logger *slog.Logger) *SchemaFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &SchemaFetcher{
		httpClient: client,
		logger:     logger.With("component", "openapi_fetcher"),
		discoverer: NewDiscoverer(client, logger),
	}
}

// Fetch loads an OpenAPI document from the source URL (or a local file
// path), applying any configured extra fetch headers.
func (f *SchemaFetcher) Fetch(ctx context.Context, cfg usecase.SourceConfig) (domain.APISchema, error) {
	log := f.logger.With(slog.String("source", cfg.URL))
	log.Info("Fetching OpenAPI document")

	src := cfg.URL
	if resolved, err := f.discoverer.Resolve(ctx, cfg.URL, cfg.Headers); err != nil {
		log.Warn("Schema auto-discovery failed, using source as-is", slog.Any("error", err))
	} else if resolved != cfg.URL {
		log.Info("Auto-discovered OpenAPI document", slog.String("resolved_url", resolved))
		src = resolved
	}

	var rawData []byte
	u, parseErr := url.ParseRequestURI(src)
	if parseErr == nil && (u.Scheme == "http" || u.Scheme == "https") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return domain.APISchema{}, fmt.Errorf("failed to create request for %s: %w", src, err)
		}
		for key, value := range cfg.Headers {
			req.Header.Set(key, value)
		}
		resp, err := f.httpClient.Do(req)
		if err != nil {
			log.Error("Failed to fetch document", slog.Any("error", err))
			return domain.APISchema{}, fmt.Errorf("failed to fetch schema from %s: %w", src, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			log.Warn("Non-OK status fetching document", slog.Int("status_code", resp.StatusCode))
			return domain.APISchema{}, fmt.Errorf("failed to fetch schema from %s: status %s", src, resp.Status)
		}
		rawData, err = io.ReadAll(resp.Body)
		if err != nil {
			return domain.APISchema{}, fmt.Errorf("failed to read schema body from %s: %w", src, err)
		}
	} else {
		fileData, err := os.ReadFile(src)
		if err != nil {
			return domain.APISchema{}, fmt.Errorf("failed to read schema from file %s: %w", src, err)
		}
		rawData = fileData
	}

	loader := &openapi3.Loader{Context: ctx, IsExternalRefsAllowed: true}
	doc, err := loader.LoadFromData(rawData)
	if err != nil {
		log.Error("Failed to parse OpenAPI document", slog.Any("error", err))
		return domain.APISchema{}, fmt.Errorf("failed to parse OpenAPI schema from %s: %w", src, err)
	}
	if validateErr := doc.Validate(ctx); validateErr != nil {
		// Tolerant parsing: a document that loads but fails validation is
		// still compiled, operation by operation.
		log.Warn("OpenAPI document validation failed", slog.Any("validation_error", validateErr))
	}

	log.Info("Fetched and parsed OpenAPI document")
	return domain.APISchema{
		Source:     cfg.URL,
		RawData:    rawData,
		ParsedData: doc,
	}, nil
}

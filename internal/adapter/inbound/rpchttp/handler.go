package rpchttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"unicode/utf8"

	"github.com/oasbridge/oasbridge/internal/domain"
	"github.com/oasbridge/oasbridge/internal/usecase"
	"github.com/oasbridge/oasbridge/pkg/shared/jsonrpc"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const protocolVersion = "2024-11-05"

const defaultDescription = "No description provided"

// maximum length of diagnostic data attached to internal errors
const maxErrorDataLen = 512

// Source binds one configured OpenAPI document to its tag filter and the
// credentials used to call the API it describes.
type Source struct {
	Config      usecase.SourceConfig
	FilterTags  []string
	Credentials domain.Credentials
}

// Handlers dispatches inbound JSON-RPC requests (single or batch) to the
// tool pipeline, and exposes the admin surface.
type Handlers struct {
	refreshUC *usecase.RefreshToolsUseCase
	invokeUC  *usecase.InvokeToolUseCase
	sources   []Source

	serverName    string
	serverVersion string
	logger        *slog.Logger
	requests      metric.Int64Counter
}

// NewHandlers creates the inbound handler set.
func NewHandlers(refreshUC *usecase.RefreshToolsUseCase, invokeUC *usecase.InvokeToolUseCase, sources []Source, serverName, serverVersion string, logger *slog.Logger) *Handlers {
	h := &Handlers{
		refreshUC:     refreshUC,
		invokeUC:      invokeUC,
		sources:       sources,
		serverName:    serverName,
		serverVersion: serverVersion,
		logger:        logger.With("component", "rpchttp_handler"),
	}
	meter := otel.Meter("oasbridge/rpchttp")
	counter, err := meter.Int64Counter("rpc.requests",
		metric.WithDescription("Inbound JSON-RPC requests by method"))
	if err != nil {
		h.logger.Warn("Failed to create request counter", slog.Any("error", err))
	} else {
		h.requests = counter
	}
	return h
}

// RegisterRoutes sets up the RPC endpoint.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /rpc", h.handleRPC)
}

// RegisterAdminRoutes sets up the admin/management endpoints.
func (h *Handlers) RegisterAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/refresh", h.handleRefresh)
	mux.HandleFunc("GET /admin/tags", h.handleTags)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleRPC accepts one JSON-RPC request object or an array of them, and
// answers in the matching shape.
func (h *Handlers) handleRPC(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeJSON(w, jsonrpc.NewError(nil, jsonrpc.CodeParseError, "Parse error", nil))
		return
	}
	body = bytes.TrimSpace(body)

	batchID := uuid.NewString()
	log := h.logger.With(slog.String("batch_id", batchID))

	if len(body) > 0 && body[0] == '[' {
		var reqs []jsonrpc.Request
		if err := json.Unmarshal(body, &reqs); err != nil {
			log.Warn("Failed to parse batch request", slog.Any("error", err))
			h.writeJSON(w, jsonrpc.NewError(nil, jsonrpc.CodeParseError, "Parse error", nil))
			return
		}
		log.Debug("Dispatching batch", slog.Int("size", len(reqs)))
		h.writeJSON(w, h.dispatchBatch(r.Context(), log, reqs))
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		log.Warn("Failed to parse request", slog.Any("error", err))
		h.writeJSON(w, jsonrpc.NewError(nil, jsonrpc.CodeParseError, "Parse error", nil))
		return
	}
	h.writeJSON(w, h.dispatchSafe(r.Context(), log, req))
}

// dispatchBatch handles every item independently and concurrently,
// assembling responses positionally so input order is preserved no matter
// the completion order.
func (h *Handlers) dispatchBatch(ctx context.Context, log *slog.Logger, reqs []jsonrpc.Request) []jsonrpc.Response {
	responses := make([]jsonrpc.Response, len(reqs))
	var wg sync.WaitGroup
	for idx := range reqs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			responses[idx] = h.dispatchSafe(ctx, log, reqs[idx])
		}(idx)
	}
	wg.Wait()
	return responses
}

// dispatchSafe converts a panicking handler into a synthetic error
// response; one item must never take down its siblings.
func (h *Handlers) dispatchSafe(ctx context.Context, log *slog.Logger, req jsonrpc.Request) (resp jsonrpc.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panicked", slog.String("method", req.Method), slog.Any("panic", r))
			resp = jsonrpc.NewError(req.ID, jsonrpc.CodeServerError, "Unhandled handler error", truncate(fmt.Sprintf("%v", r)))
		}
	}()
	return h.dispatch(ctx, log, req)
}

func (h *Handlers) dispatch(ctx context.Context, log *slog.Logger, req jsonrpc.Request) jsonrpc.Response {
	if h.requests != nil {
		h.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("rpc.method", req.Method)))
	}

	switch req.Method {
	case "initialize":
		return jsonrpc.NewResult(req.ID, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
			"serverInfo": map[string]interface{}{
				"name":    h.serverName,
				"version": h.serverVersion,
			},
		})

	case "tools/list":
		tools, err := h.activeTools(ctx, false)
		if err != nil {
			log.Error("Failed to resolve tool set", slog.Any("error", err))
			return jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, "Failed to load tools", truncate(err.Error()))
		}
		return jsonrpc.NewResult(req.ID, map[string]interface{}{
			"tools": listEntries(tools),
		})

	case "tools/call":
		return h.handleToolCall(ctx, log, req)

	case "ping":
		return jsonrpc.NewResult(req.ID, map[string]interface{}{})

	default:
		return jsonrpc.NewError(req.ID, jsonrpc.CodeMethodNotFound, "Method not found", nil)
	}
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (h *Handlers) handleToolCall(ctx context.Context, log *slog.Logger, req jsonrpc.Request) jsonrpc.Response {
	var params toolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidParams, "Invalid params", truncate(err.Error()))
		}
	}
	if params.Name == "" {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidParams, "Invalid params", "missing tool name")
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}

	tools, err := h.activeTools(ctx, false)
	if err != nil {
		log.Error("Failed to resolve tool set", slog.Any("error", err))
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, "Failed to load tools", truncate(err.Error()))
	}

	creds := h.credentialsFor(tools, params.Name)
	result, err := h.invokeUC.Execute(ctx, tools, params.Name, params.Arguments, creds)
	if err != nil {
		if errors.Is(err, usecase.ErrToolNotFound) {
			return jsonrpc.NewError(req.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("Tool '%s' not found", params.Name), nil)
		}
		log.Error("Tool call failed", slog.String("tool_name", params.Name), slog.Any("error", err))
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, err.Error(), truncate(fmt.Sprintf("%+v", err)))
	}

	payload := result.Data
	if m, ok := payload.(map[string]interface{}); ok {
		if inner, present := m["data"]; present {
			payload = inner
		}
	}
	return jsonrpc.NewResult(req.ID, map[string]interface{}{
		"content": []interface{}{classifyContent(payload)},
	})
}

// activeTools resolves the merged tool set across every configured source.
// A failing source is isolated unless nothing at all can be served.
func (h *Handlers) activeTools(ctx context.Context, force bool) ([]domain.Tool, error) {
	var all []domain.Tool
	var firstErr error
	for _, src := range h.sources {
		tools, err := h.refreshUC.Execute(ctx, src.Config, src.FilterTags, force)
		if err != nil {
			h.logger.Warn("Source unavailable", slog.String("source", src.Config.URL), slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		all = append(all, tools...)
	}
	if len(all) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return all, nil
}

func (h *Handlers) credentialsFor(tools []domain.Tool, name string) domain.Credentials {
	for _, t := range tools {
		if t.Name == name {
			for _, src := range h.sources {
				if src.Config.Name == t.Source {
					return src.Credentials
				}
			}
		}
	}
	return domain.Credentials{}
}

// listEntries reshapes tools into the tools/list wire form, defaulting
// missing descriptions and malformed input schemas.
func listEntries(tools []domain.Tool) []map[string]interface{} {
	entries := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		description := t.Description
		if description == "" {
			description = defaultDescription
		}
		schema := t.InputSchema
		if schema == nil || schema.Type != "object" {
			schema = domain.EmptyInputSchema()
		}
		props := map[string]interface{}{
			"method": t.Method,
			"path":   t.Path,
		}
		if t.OperationID != "" {
			props["operationId"] = t.OperationID
		}
		if t.Tag != "" {
			props["tag"] = t.Tag
		}
		if t.Summary != "" {
			props["summary"] = t.Summary
		}
		if t.Deprecated {
			props["deprecated"] = true
		}
		entries = append(entries, map[string]interface{}{
			"name":        t.Name,
			"description": description,
			"inputSchema": schema,
			"x-props":     props,
		})
	}
	return entries
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to write response", slog.Any("error", err))
	}
}

func truncate(s string) string {
	if len(s) <= maxErrorDataLen {
		return s
	}
	// Back up off any multi-byte rune straddling the limit.
	cut := maxErrorDataLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

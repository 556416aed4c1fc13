package rpchttp_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oasbridge/oasbridge/internal/adapter/inbound/rpchttp"
	"github.com/oasbridge/oasbridge/internal/domain"
	"github.com/oasbridge/oasbridge/internal/usecase"
)

type fakeFetcher struct {
	schema domain.APISchema
	err    error
}

func (f *fakeFetcher) Fetch(context.Context, usecase.SourceConfig) (domain.APISchema, error) {
	return f.schema, f.err
}

type fakeGenerator struct {
	tools []domain.Tool
	tags  []string
	err   error
}

func (f *fakeGenerator) Generate(domain.APISchema, []string) ([]domain.Tool, error) {
	return f.tools, f.err
}

func (f *fakeGenerator) Tags(domain.APISchema) []string { return f.tags }

// passthroughCache always recompiles; cache policy has its own tests.
type passthroughCache struct{}

func (passthroughCache) Get(ctx context.Context, _, _ string, refresh func(context.Context) ([]domain.Tool, error), _ bool) ([]domain.Tool, error) {
	return refresh(ctx)
}

type fakeInvoker struct {
	result    *domain.CallResult
	err       error
	lastTool  domain.Tool
	lastArgs  map[string]interface{}
	lastCreds domain.Credentials
}

func (f *fakeInvoker) Invoke(_ context.Context, tool domain.Tool, args map[string]interface{}, creds domain.Credentials) (*domain.CallResult, error) {
	f.lastTool = tool
	f.lastArgs = args
	f.lastCreds = creds
	return f.result, f.err
}

func newTestMux(tools []domain.Tool, invoker usecase.ToolInvoker) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	refreshUC := usecase.NewRefreshToolsUseCase(
		&fakeFetcher{}, &fakeGenerator{tools: tools, tags: []string{"pets", "store"}},
		passthroughCache{}, logger)
	invokeUC := usecase.NewInvokeToolUseCase(invoker, logger)

	sources := []rpchttp.Source{{
		Config:      usecase.SourceConfig{Name: "petstore", URL: "http://example/openapi.json"},
		Credentials: domain.Credentials{BaseURL: "http://api.example", Token: "tok"},
	}}
	handlers := rpchttp.NewHandlers(refreshUC, invokeUC, sources, "oasbridge", "0.1.0", logger)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)
	handlers.RegisterAdminRoutes(mux)
	return mux
}

func postRPC(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeSingle(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func petTool() domain.Tool {
	return domain.Tool{
		Name:        "getpetbyid",
		Description: "Returns a single pet",
		InputSchema: domain.EmptyInputSchema(),
		Method:      "GET",
		Path:        "/pets/{id}",
		OperationID: "getPetById",
		Tag:         "pets",
	}
}

func TestHandleRPC_Initialize(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	mux := newTestMux(nil, &fakeInvoker{})

	rec := postRPC(t, mux, `{"jsonrpc":"2.0","method":"initialize","id":1}`)
	resp := decodeSingle(t, rec)

	assert.Equal("2.0", resp["jsonrpc"])
	assert.Equal(float64(1), resp["id"])
	result, ok := resp["result"].(map[string]interface{})
	require.True(ok)
	assert.Equal("2024-11-05", result["protocolVersion"])

	info, ok := result["serverInfo"].(map[string]interface{})
	require.True(ok)
	assert.Equal("oasbridge", info["name"])
	assert.Equal("0.1.0", info["version"])
}

func TestHandleRPC_Ping(t *testing.T) {
	assert := assert.New(t)
	mux := newTestMux(nil, &fakeInvoker{})

	resp := decodeSingle(t, postRPC(t, mux, `{"jsonrpc":"2.0","method":"ping","id":"p1"}`))
	assert.Equal("p1", resp["id"])
	assert.Equal(map[string]interface{}{}, resp["result"])
}

func TestHandleRPC_UnknownMethod(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	mux := newTestMux(nil, &fakeInvoker{})

	resp := decodeSingle(t, postRPC(t, mux, `{"jsonrpc":"2.0","method":"resources/list","id":7}`))
	rpcErr, ok := resp["error"].(map[string]interface{})
	require.True(ok)
	assert.Equal(float64(-32601), rpcErr["code"])
	assert.Equal("Method not found", rpcErr["message"])
	assert.Equal(float64(7), resp["id"])
}

func TestHandleRPC_ParseError(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	mux := newTestMux(nil, &fakeInvoker{})

	for _, body := range []string{`{not json`, `[{"jsonrpc":`} {
		resp := decodeSingle(t, postRPC(t, mux, body))
		rpcErr, ok := resp["error"].(map[string]interface{})
		require.True(ok, "body %q must yield an error envelope", body)
		assert.Equal(float64(-32700), rpcErr["code"])
		assert.Nil(resp["id"])
	}
}

func TestHandleRPC_ToolsList(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	mux := newTestMux([]domain.Tool{petTool()}, &fakeInvoker{})

	resp := decodeSingle(t, postRPC(t, mux, `{"jsonrpc":"2.0","method":"tools/list","id":2}`))
	result, ok := resp["result"].(map[string]interface{})
	require.True(ok)
	tools, ok := result["tools"].([]interface{})
	require.True(ok)
	require.Len(tools, 1)

	entry := tools[0].(map[string]interface{})
	assert.Equal("getpetbyid", entry["name"])
	assert.Equal("Returns a single pet", entry["description"])

	schema, ok := entry["inputSchema"].(map[string]interface{})
	require.True(ok)
	assert.Equal("object", schema["type"])

	props, ok := entry["x-props"].(map[string]interface{})
	require.True(ok)
	assert.Equal("GET", props["method"])
	assert.Equal("/pets/{id}", props["path"])
	assert.Equal("getPetById", props["operationId"])
	assert.Equal("pets", props["tag"])
	assert.NotContains(props, "deprecated")
}

func TestHandleRPC_ToolsList_DefaultsDescription(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	bare := domain.Tool{Name: "bare", Method: "GET", Path: "/bare"}
	mux := newTestMux([]domain.Tool{bare}, &fakeInvoker{})

	resp := decodeSingle(t, postRPC(t, mux, `{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	result := resp["result"].(map[string]interface{})
	tools := result["tools"].([]interface{})
	require.Len(tools, 1)

	entry := tools[0].(map[string]interface{})
	assert.Equal("No description provided", entry["description"])
	schema := entry["inputSchema"].(map[string]interface{})
	assert.Equal("object", schema["type"], "nil input schema is replaced with an empty object schema")
}

func TestHandleRPC_ToolsCall(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	invoker := &fakeInvoker{result: &domain.CallResult{
		Success: true,
		Status:  200,
		Data:    map[string]interface{}{"data": "hello"},
	}}
	mux := newTestMux([]domain.Tool{petTool()}, invoker)

	resp := decodeSingle(t, postRPC(t, mux,
		`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"getpetbyid","arguments":{"id":42}},"id":3}`))

	result, ok := resp["result"].(map[string]interface{})
	require.True(ok, "expected result, got %v", resp)
	content, ok := result["content"].([]interface{})
	require.True(ok)
	require.Len(content, 1)

	block := content[0].(map[string]interface{})
	assert.Equal("text", block["type"])
	// The wrapper's inner "data" field is unwrapped before classification.
	assert.Equal("hello", block["text"])

	// The invoker saw the source's credentials and the supplied arguments.
	assert.Equal("http://api.example", invoker.lastCreds.BaseURL)
	assert.Equal("tok", invoker.lastCreds.Token)
	assert.Equal(float64(42), invoker.lastArgs["id"])
	assert.Equal("getpetbyid", invoker.lastTool.Name)
}

func TestHandleRPC_ToolsCall_UnknownTool(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	mux := newTestMux([]domain.Tool{petTool()}, &fakeInvoker{})

	resp := decodeSingle(t, postRPC(t, mux,
		`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"nosuch"},"id":4}`))
	rpcErr, ok := resp["error"].(map[string]interface{})
	require.True(ok)
	assert.Equal(float64(-32601), rpcErr["code"])
	assert.Equal("Tool 'nosuch' not found", rpcErr["message"])
	assert.Equal(float64(4), resp["id"])
}

func TestHandleRPC_ToolsCall_MissingName(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	mux := newTestMux([]domain.Tool{petTool()}, &fakeInvoker{})

	resp := decodeSingle(t, postRPC(t, mux,
		`{"jsonrpc":"2.0","method":"tools/call","params":{},"id":5}`))
	rpcErr, ok := resp["error"].(map[string]interface{})
	require.True(ok)
	assert.Equal(float64(-32602), rpcErr["code"])
}

func TestHandleRPC_Batch_OrderPreservedAndIsolated(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	invoker := &fakeInvoker{result: &domain.CallResult{Success: true, Status: 200, Data: "ok"}}
	mux := newTestMux([]domain.Tool{petTool()}, invoker)

	body := `[
	  {"jsonrpc":"2.0","method":"ping","id":1},
	  {"jsonrpc":"2.0","method":"tools/call","params":{"name":"nosuch"},"id":2},
	  {"jsonrpc":"2.0","method":"tools/call","params":{"name":"getpetbyid"},"id":3}
	]`
	rec := postRPC(t, mux, body)

	var responses []map[string]interface{}
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &responses))
	require.Len(responses, 3)

	// Positional: response ids mirror request order.
	assert.Equal(float64(1), responses[0]["id"])
	assert.Equal(float64(2), responses[1]["id"])
	assert.Equal(float64(3), responses[2]["id"])

	assert.Contains(responses[0], "result")
	rpcErr := responses[1]["error"].(map[string]interface{})
	assert.Equal(float64(-32601), rpcErr["code"])
	assert.Contains(responses[2], "result", "a failing sibling must not poison the batch")
}

func TestAdmin_Refresh(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	mux := newTestMux([]domain.Tool{petTool()}, &fakeInvoker{})

	t.Run("All sources", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/refresh", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(http.StatusOK, rec.Code)
		var body map[string]interface{}
		require.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(float64(1), body["refreshed"])
		assert.Equal(float64(1), body["tools"])
	})

	t.Run("Unknown source", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/refresh", strings.NewReader(`{"source":"nope"}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(http.StatusNotFound, rec.Code)
	})
}

func TestAdmin_Tags(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	mux := newTestMux(nil, &fakeInvoker{})

	t.Run("Single source needs no name", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/tags", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(http.StatusOK, rec.Code)
		var body map[string][]string
		require.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal([]string{"pets", "store"}, body["tags"])
	})

	t.Run("Unknown source", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/tags?source=nope", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(http.StatusNotFound, rec.Code)
	})
}

func TestAdmin_Health(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	mux := newTestMux(nil, &fakeInvoker{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal("ok", body["status"])
	assert.Equal("0.1.0", body["version"])
}

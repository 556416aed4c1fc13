package httpinvoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/oasbridge/oasbridge/internal/domain"
	"github.com/oasbridge/oasbridge/internal/usecase"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Methods that may carry a request body.
var bodyMethods = map[string]struct{}{
	http.MethodPost: {}, http.MethodPut: {}, http.MethodPatch: {}, http.MethodDelete: {},
}

// Invoker implements usecase.ToolInvoker over net/http. It binds call
// arguments onto the outgoing request by parameter location and decodes
// the response by content type.
type Invoker struct {
	client *http.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a new HTTP Invoker.
func New(client *http.Client, logger *slog.Logger) *Invoker {
	if client == nil {
		client = http.DefaultClient
	}
	return &Invoker{
		client: client,
		logger: logger.With("component", "http_invoker"),
		tracer: otel.Tracer("oasbridge/httpinvoker"),
	}
}

// Invoke executes one outbound HTTP call for the tool. Transport and
// decode failures are returned as errors; an upstream non-2xx status is a
// result with Success=false, not an error.
func (i *Invoker) Invoke(ctx context.Context, tool domain.Tool, args map[string]interface{}, creds domain.Credentials) (*domain.CallResult, error) {
	if strings.TrimSpace(creds.BaseURL) == "" {
		return nil, fmt.Errorf("tool %s: %w", tool.Name, usecase.ErrMissingBaseURL)
	}

	method := strings.ToUpper(tool.Method)
	log := i.logger.With(
		slog.String("tool_name", tool.Name),
		slog.String("method", method),
		slog.String("path", tool.Path),
	)

	ctx, span := i.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(
		attribute.String("tool.name", tool.Name),
		attribute.String("http.request.method", method),
	))
	defer span.End()

	binding := i.bindArguments(log, tool, args)

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if creds.Token != "" {
		headers.Set("Authorization", "Bearer "+creds.Token)
	}
	for name, value := range binding.headers {
		headers.Set(name, value)
	}
	if binding.bodyContentType != "" {
		headers.Set("Content-Type", binding.bodyContentType)
	}
	if len(binding.cookies) > 0 {
		headers.Set("Cookie", strings.Join(binding.cookies, "; "))
	}

	finalURL, finalPath := buildURL(creds.BaseURL, binding.path, i.encodeQuery(log, binding.query))
	log = log.With(slog.String("url", finalURL))

	var bodyReader io.Reader
	_, bodyAllowed := bodyMethods[method]
	if bodyAllowed && binding.bodySet {
		payload := domain.ResolveBodyPayload(binding.body, headers.Get("Content-Type"))
		reader, err := i.encodeBody(log, payload, headers)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		bodyReader = reader
	}

	req, err := http.NewRequestWithContext(ctx, method, finalURL, bodyReader)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers

	log.Debug("Executing outbound request")
	resp, err := i.client.Do(req)
	if err != nil {
		log.Error("Outbound request failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("request execution failed: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var data interface{}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "json") && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &data); err != nil {
			log.Error("Failed to decode JSON response", slog.Any("error", err))
			span.RecordError(err)
			return nil, fmt.Errorf("failed to decode JSON response: %w", err)
		}
	} else {
		data = string(respBody)
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !success {
		log.Warn("Upstream returned non-success status", slog.Int("status_code", resp.StatusCode))
	}
	return &domain.CallResult{
		Success: success,
		Status:  resp.StatusCode,
		Method:  method,
		URL:     finalURL,
		Path:    finalPath,
		Data:    data,
	}, nil
}

// queryPair preserves the binding order of query arguments.
type queryPair struct {
	key   string
	value interface{}
}

type boundRequest struct {
	path            string
	query           []queryPair
	headers         map[string]string
	cookies         []string
	body            interface{}
	bodySet         bool
	bodyContentType string
}

// bindArguments walks the tool's parameter descriptors in declared order
// and places each supplied argument by location. Absent arguments are
// skipped entirely. A body descriptor accepts either a direct value under
// its own name or, failing that, every argument no other descriptor
// claimed. A tool without descriptors falls back to treating the whole
// argument object as the request body.
func (i *Invoker) bindArguments(log *slog.Logger, tool domain.Tool, args map[string]interface{}) boundRequest {
	b := boundRequest{
		path:    tool.Path,
		headers: make(map[string]string),
	}

	if len(tool.Parameters) == 0 {
		if len(args) > 0 {
			b.body = args
			b.bodySet = true
		}
		return b
	}

	extras := make(map[string]interface{})
	consumed := make(map[string]struct{})
	var bodyParam *domain.Parameter
	for idx := range tool.Parameters {
		p := tool.Parameters[idx]
		if p.In == domain.LocationBody {
			bodyParam = &tool.Parameters[idx]
		}
		value, ok := args[p.Name]
		if !ok || value == nil {
			continue
		}
		consumed[p.Name] = struct{}{}
		switch p.In {
		case domain.LocationPath:
			placeholder := "{" + p.Name + "}"
			if strings.Contains(b.path, placeholder) {
				b.path = strings.ReplaceAll(b.path, placeholder, url.PathEscape(stringifyScalar(value)))
			} else {
				// Mismatched descriptor must not silently drop data.
				log.Warn("Path parameter has no placeholder, sending as query",
					slog.String("param", p.Name))
				b.query = append(b.query, queryPair{key: p.Name, value: value})
			}
		case domain.LocationQuery:
			b.query = append(b.query, queryPair{key: p.Name, value: value})
		case domain.LocationHeader:
			b.headers[p.Name] = stringifyScalar(value)
		case domain.LocationCookie:
			b.cookies = append(b.cookies, p.Name+"="+stringifyScalar(value))
		case domain.LocationBody:
			// Last body descriptor with a value wins.
			b.body = value
			b.bodySet = true
			if p.ContentType != "" {
				b.bodyContentType = p.ContentType
			}
		default:
			// Unknown location: carry as best-effort body data instead of
			// dropping it.
			log.Warn("Parameter has unknown location, merging into body",
				slog.String("param", p.Name),
				slog.String("in", string(p.In)))
			extras[p.Name] = value
		}
	}

	// The input schema advertises the body's top-level properties, not a
	// "body" wrapper, so a body descriptor without a direct value takes
	// the unbound remainder of the arguments.
	if bodyParam != nil && !b.bodySet {
		rest := make(map[string]interface{})
		for name, value := range args {
			if _, ok := consumed[name]; ok || value == nil {
				continue
			}
			rest[name] = value
		}
		if len(rest) > 0 {
			b.body = rest
			b.bodySet = true
			if bodyParam.ContentType != "" {
				b.bodyContentType = bodyParam.ContentType
			}
		}
	}

	if len(extras) > 0 {
		switch {
		case !b.bodySet:
			b.body = extras
			b.bodySet = true
		default:
			if m, ok := b.body.(map[string]interface{}); ok {
				merged := make(map[string]interface{}, len(m)+len(extras))
				for k, v := range m {
					merged[k] = v
				}
				for k, v := range extras {
					merged[k] = v
				}
				b.body = merged
			} else {
				log.Warn("Cannot merge extra parameters into non-object body",
					slog.Int("dropped", len(extras)))
			}
		}
	}
	return b
}

// encodeQuery builds the query string: repeated keys for arrays, JSON for
// object values, plain encoding for scalars. Nil values are omitted. A
// value that fails to encode is skipped, not fatal.
func (i *Invoker) encodeQuery(log *slog.Logger, pairs []queryPair) string {
	values := url.Values{}
	for _, pair := range pairs {
		switch v := pair.value.(type) {
		case nil:
			continue
		case []interface{}:
			for _, item := range v {
				if item == nil {
					continue
				}
				encoded, err := stringifyQueryValue(item)
				if err != nil {
					log.Warn("Skipping unencodable query array item",
						slog.String("param", pair.key), slog.Any("error", err))
					continue
				}
				values.Add(pair.key, encoded)
			}
		default:
			encoded, err := stringifyQueryValue(v)
			if err != nil {
				log.Warn("Skipping unencodable query value",
					slog.String("param", pair.key), slog.Any("error", err))
				continue
			}
			values.Add(pair.key, encoded)
		}
	}
	return values.Encode()
}

// encodeBody serializes the resolved body payload, adjusting the
// Content-Type header for the chosen encoding.
func (i *Invoker) encodeBody(log *slog.Logger, payload domain.BodyPayload, headers http.Header) (io.Reader, error) {
	switch payload.Encoding {
	case domain.EncodingMultipart:
		buf := &bytes.Buffer{}
		w := multipart.NewWriter(buf)
		for _, e := range payload.Entries {
			encoded, err := stringifyQueryValue(e.Value)
			if err != nil {
				log.Warn("Skipping unencodable form entry", slog.String("key", e.Key), slog.Any("error", err))
				continue
			}
			if err := w.WriteField(e.Key, encoded); err != nil {
				return nil, fmt.Errorf("failed to write form field %s: %w", e.Key, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
		}
		// The multipart writer owns the content type (boundary included).
		headers.Set("Content-Type", w.FormDataContentType())
		return buf, nil

	case domain.EncodingForm:
		form := url.Values{}
		if m, ok := payload.Value.(map[string]interface{}); ok {
			for k, v := range m {
				encoded, err := stringifyQueryValue(v)
				if err != nil {
					log.Warn("Skipping unencodable form value", slog.String("key", k), slog.Any("error", err))
					continue
				}
				form.Set(k, encoded)
			}
		} else if payload.Value != nil {
			return nil, fmt.Errorf("form-urlencoded body must be an object, got %T", payload.Value)
		}
		return strings.NewReader(form.Encode()), nil

	default:
		data, err := json.Marshal(payload.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		return bytes.NewReader(data), nil
	}
}

// stringifyScalar renders a value for path/header/cookie placement.
// Structured values degrade to compact JSON.
func stringifyScalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}, []interface{}:
		if data, err := json.Marshal(t); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// stringifyQueryValue renders a query/form value: objects are
// JSON-encoded, scalars formatted plainly.
func stringifyQueryValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case map[string]interface{}:
		data, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return fmt.Sprintf("%v", t), nil
	}
}

// buildURL joins base URL, substituted path, and query string: exactly one
// trailing slash stripped from the base, exactly one leading slash on the
// path.
func buildURL(baseURL, path, query string) (string, string) {
	base := strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	full := base + path
	if query != "" {
		full += "?" + query
	}
	return full, path
}

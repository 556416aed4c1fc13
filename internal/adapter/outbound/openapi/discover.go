package openapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Well-known document paths probed when a source URL has no path of its
// own. Covers the defaults of the common server frameworks.
var wellKnownPaths = []string{
	"/openapi.json",
	"/docs/openapi.json",
	"/swagger.json",
	"/v3/api-docs",
	"/api-docs",
	"/api/openapi.json",
	"/swagger/v1/swagger.json",
}

const probeTimeout = 5 * time.Second

// Discoverer probes well-known locations for an OpenAPI document when the
// operator supplies only a service base URL.
type Discoverer struct {
	client *http.Client
	logger *slog.Logger
}

// NewDiscoverer creates a new Discoverer.
func NewDiscoverer(client *http.Client, logger *slog.Logger) *Discoverer {
	return &Discoverer{
		client: client,
		logger: logger.With("component", "openapi_discoverer"),
	}
}

// Resolve returns the URL the document should be fetched from. Sources
// that already point at a document (non-root path, or not an HTTP URL at
// all) are returned unchanged.
func (d *Discoverer) Resolve(ctx context.Context, src string, headers map[string]string) (string, error) {
	u, err := url.ParseRequestURI(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return src, nil
	}
	if u.Path != "" && u.Path != "/" {
		return src, nil
	}

	base := strings.TrimSuffix(src, "/")
	log := d.logger.With(slog.String("base_url", base))
	log.Info("Probing well-known OpenAPI document paths")

	for _, p := range wellKnownPaths {
		candidate := base + p
		ok, err := d.probe(ctx, candidate, headers)
		if err != nil {
			log.Debug("Probe failed", slog.String("url", candidate), slog.Any("error", err))
			continue
		}
		if ok {
			log.Info("Found OpenAPI document", slog.String("url", candidate))
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no OpenAPI document found under %s", base)
}

// probe checks whether a candidate URL answers with something that looks
// like an OpenAPI document (JSON containing an openapi/swagger marker).
func (d *Discoverer) probe(ctx context.Context, candidate string, headers map[string]string) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, candidate, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	// A single Read can return one chunk short of the marker; fill the
	// whole head.
	buf := make([]byte, 4096)
	n, err := io.ReadFull(resp.Body, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	head := string(buf[:n])
	return strings.Contains(head, "\"openapi\"") || strings.Contains(head, "\"swagger\""), nil
}

package rpchttp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// RefreshRequest is the body of POST /admin/refresh. With an empty Source,
// every configured source is refreshed.
type RefreshRequest struct {
	Source string `json:"source,omitempty"`
}

// handleRefresh forces a cache-bypassing recompile so an operator can pick
// up upstream API changes before the TTL expires.
func (h *Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	refreshed := 0
	toolCount := 0
	for _, src := range h.sources {
		if req.Source != "" && src.Config.Name != req.Source {
			continue
		}
		tools, err := h.refreshUC.Execute(r.Context(), src.Config, src.FilterTags, true)
		if err != nil {
			h.logger.Error("Forced refresh failed", slog.String("source", src.Config.URL), slog.Any("error", err))
			http.Error(w, fmt.Sprintf("Failed to refresh %s: %v", src.Config.Name, err), http.StatusBadGateway)
			return
		}
		refreshed++
		toolCount += len(tools)
	}
	if refreshed == 0 {
		http.Error(w, fmt.Sprintf("Unknown source: %s", req.Source), http.StatusNotFound)
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"refreshed": refreshed,
		"tools":     toolCount,
	})
}

// handleTags returns the deduplicated sorted tag list of one source, for
// populating filter configuration UIs.
func (h *Handlers) handleTags(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("source")
	for _, src := range h.sources {
		if src.Config.Name != name && !(name == "" && len(h.sources) == 1) {
			continue
		}
		tags, err := h.refreshUC.ListTags(r.Context(), src.Config)
		if err != nil {
			h.logger.Error("Failed to list tags", slog.String("source", src.Config.URL), slog.Any("error", err))
			http.Error(w, fmt.Sprintf("Failed to list tags: %v", err), http.StatusBadGateway)
			return
		}
		if tags == nil {
			tags = []string{}
		}
		h.writeJSON(w, map[string]interface{}{"tags": tags})
		return
	}
	http.Error(w, fmt.Sprintf("Unknown source: %s", name), http.StatusNotFound)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, map[string]interface{}{
		"status":  "ok",
		"version": h.serverVersion,
	})
}

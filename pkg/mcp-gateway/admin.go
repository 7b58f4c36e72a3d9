package mcpgateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vikashloomba/mcp-stdio-gateway/pkg/mcpmgr"
)

// toolView is one row of GET /tools.
type toolView struct {
	Name        string          `json:"name"`
	ServerID    string          `json:"serverId"`
	NativeName  string          `json:"nativeName"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

func (g *Gateway) registerAdminRoutes(mux *http.ServeMux) {
	mux.Handle("GET /servers", g.protect(http.HandlerFunc(g.handleListServers)))
	mux.Handle("GET /servers/{id}", g.protect(http.HandlerFunc(g.handleGetServer)))
	mux.Handle("POST /servers/{id}/enable", g.protect(http.HandlerFunc(g.handleEnableServer)))
	mux.Handle("POST /servers/{id}/disable", g.protect(http.HandlerFunc(g.handleDisableServer)))
	mux.Handle("GET /tools", g.protect(http.HandlerFunc(g.handleListTools)))
}

func (g *Gateway) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.manager.Servers())
}

func (g *Gateway) handleGetServer(w http.ResponseWriter, r *http.Request) {
	info, ok := g.manager.ServerInfo(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, mcpmgr.ErrServerNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (g *Gateway) handleEnableServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !g.manager.HasServer(id) {
		writeError(w, http.StatusNotFound, mcpmgr.ErrServerNotFound.Error())
		return
	}
	connected := g.manager.EnableServer(r.Context(), id)
	info, _ := g.manager.ServerInfo(id)
	status := http.StatusOK
	if !connected {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, info)
}

func (g *Gateway) handleDisableServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !g.manager.DisableServer(id) {
		writeError(w, http.StatusNotFound, mcpmgr.ErrServerNotFound.Error())
		return
	}
	info, _ := g.manager.ServerInfo(id)
	writeJSON(w, http.StatusOK, info)
}

func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	all := g.manager.AllTools()
	views := make([]toolView, 0, len(all))
	for _, st := range all {
		views = append(views, toolView{
			Name:        g.opts.Namespace.ToolName(st.ServerID, st.Tool.Name),
			ServerID:    st.ServerID,
			NativeName:  st.Tool.Name,
			Description: st.Tool.Description,
			InputSchema: st.Tool.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := 0
	servers := g.manager.Servers()
	for _, info := range servers {
		if info.Status == mcpmgr.StatusConnected {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"servers":   len(servers),
		"connected": connected,
		"tools":     g.features.Len(),
	})
}

func (g *Gateway) handleProtectedResource(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.ToLower(fwd)
	}
	meta := protectedResourceMetadata{
		Resource:               scheme + "://" + r.Host + g.opts.Path,
		AuthorizationServers:   []string{g.opts.AuthorizationServer},
		BearerMethodsSupported: []string{"header"},
	}
	if g.opts.TokenOptions != nil {
		meta.ScopesSupported = g.opts.TokenOptions.Scopes
	}
	writeJSON(w, http.StatusOK, meta)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

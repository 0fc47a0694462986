// Package mcp connects remote Model Context Protocol servers and surfaces
// their tools through the shared tool registry, so the completion loop can
// invoke them like any builtin. Tool names are prefixed with the server
// name to keep servers from shadowing each other.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tailored-agentic-units/parley/core/protocol"
	"github.com/tailored-agentic-units/parley/tools"
)

// Status is the lifecycle state of a configured server.
type Status string

const (
	StatusConnected Status = "connected"
	StatusFailed    Status = "failed"
)

// ServerInfo is the observability snapshot of one configured server.
type ServerInfo struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
	ToolCount   int    `json:"tool_count"`
	Error       string `json:"error,omitempty"`
}

// Manager owns the MCP server connections. Each connected server's tools
// are registered in the tool registry under a server-prefixed name, and
// removing the server unregisters them again.
type Manager struct {
	client     *sdkmcp.Client
	registry   *tools.Registry
	timeout    time.Duration
	configured []ServerConfig

	mu      sync.Mutex
	servers map[string]*server
}

type server struct {
	cfg     ServerConfig
	session *sdkmcp.ClientSession
	// tools maps the registered (prefixed) name to the server-side name;
	// defs holds the registered definitions under the same keys.
	tools  map[string]string
	defs   map[string]protocol.Tool
	status Status
	err    string
}

// NewManager creates a Manager that surfaces discovered tools through
// registry. Servers named in cfg are not dialed here; call
// ConnectConfigured once a context is available.
func NewManager(cfg *Config, registry *tools.Registry) *Manager {
	merged := DefaultConfig()
	if cfg != nil {
		merged.Merge(cfg)
	}

	return &Manager{
		client: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "parley",
			Version: "1.0.0",
		}, nil),
		registry:   registry,
		timeout:    time.Duration(merged.ConnectTimeoutMillis) * time.Millisecond,
		configured: merged.Servers,
		servers:    make(map[string]*server),
	}
}

// ConnectConfigured adds every server named in the configuration, collecting
// per-server failures instead of stopping at the first. A failed server
// stays registered with its error recorded, matching AddServer.
func (m *Manager) ConnectConfigured(ctx context.Context) []error {
	var errs []error
	for _, sc := range m.configured {
		if err := m.AddServer(ctx, sc); err != nil {
			errs = append(errs, fmt.Errorf("server %s: %w", sc.Name, err))
		}
	}
	return errs
}

// AddServer connects a server and registers its tools. When the connection
// fails, the server is kept with status failed so its error shows up in
// Servers(); the name stays reserved until RemoveServer.
func (m *Manager) AddServer(ctx context.Context, sc ServerConfig) error {
	if sc.Name == "" || sc.URL == "" {
		return ErrServerInvalid
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[sc.Name]; ok {
		return fmt.Errorf("%w: %s", ErrServerExists, sc.Name)
	}

	srv, err := m.connect(ctx, sc)
	if err != nil {
		m.servers[sc.Name] = &server{cfg: sc, status: StatusFailed, err: err.Error()}
		return err
	}

	m.servers[sc.Name] = srv
	for prefixed, def := range srv.defs {
		handler := m.handlerFor(sc.Name, prefixed)
		if regErr := m.registry.Register(def, handler); regErr != nil {
			_ = m.registry.Replace(def, handler)
		}
	}
	return nil
}

// connect dials the server, preferring the streamable HTTP transport and
// falling back to SSE, then discovers its tools.
func (m *Manager) connect(ctx context.Context, sc ServerConfig) (*server, error) {
	httpClient := httpClientWithHeaders(sc.Headers)
	candidates := []struct {
		name      string
		transport sdkmcp.Transport
	}{
		{name: "streamable", transport: &sdkmcp.StreamableClientTransport{Endpoint: sc.URL, HTTPClient: httpClient}},
		{name: "sse", transport: &sdkmcp.SSEClientTransport{Endpoint: sc.URL, HTTPClient: httpClient}},
	}

	var lastErr error
	for _, candidate := range candidates {
		connectCtx, cancel := context.WithTimeout(ctx, m.timeout)
		session, err := m.client.Connect(connectCtx, candidate.transport, nil)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("%s transport: %w", candidate.name, err)
			continue
		}

		srv, err := discover(connectCtx, session, sc)
		cancel()
		if err != nil {
			_ = session.Close()
			lastErr = fmt.Errorf("%s transport: %w", candidate.name, err)
			continue
		}
		return srv, nil
	}
	return nil, lastErr
}

// discover lists the server's tools and builds the prefixed definitions.
func discover(ctx context.Context, session *sdkmcp.ClientSession, sc ServerConfig) (*server, error) {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	srv := &server{
		cfg:     sc,
		session: session,
		tools:   make(map[string]string, len(result.Tools)),
		defs:    make(map[string]protocol.Tool, len(result.Tools)),
		status:  StatusConnected,
	}
	for _, t := range result.Tools {
		prefixed := sanitizeName(sc.Name) + "_" + sanitizeName(t.Name)
		srv.tools[prefixed] = t.Name
		srv.defs[prefixed] = protocol.Tool{
			Name:        prefixed,
			Description: t.Description,
			Parameters:  schemaToParameters(t.InputSchema),
		}
	}
	return srv, nil
}

// handlerFor builds the registry handler bridging one tool to its server.
func (m *Manager) handlerFor(serverName, prefixed string) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return m.call(ctx, serverName, prefixed, args)
	}
}

func (m *Manager) call(ctx context.Context, serverName, prefixed string, args json.RawMessage) (tools.Result, error) {
	m.mu.Lock()
	srv, ok := m.servers[serverName]
	var session *sdkmcp.ClientSession
	var remote string
	if ok {
		session = srv.session
		remote = srv.tools[prefixed]
	}
	m.mu.Unlock()

	if !ok || session == nil || remote == "" {
		return tools.Result{}, fmt.Errorf("%w: %s", ErrNotConnected, serverName)
	}

	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return tools.Result{}, fmt.Errorf("malformed arguments for %s: %w", prefixed, err)
		}
	}

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      remote,
		Arguments: argsMap,
	})
	if err != nil {
		return tools.Result{}, err
	}

	var out strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			out.WriteString(text.Text)
		}
	}
	return tools.Result{Content: out.String(), IsError: result.IsError}, nil
}

// RemoveServer disconnects a server and unregisters its tools.
func (m *Manager) RemoveServer(name string) error {
	m.mu.Lock()
	srv, ok := m.servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	delete(m.servers, name)
	m.mu.Unlock()

	for prefixed := range srv.tools {
		_ = m.registry.Remove(prefixed)
	}
	if srv.session != nil {
		_ = srv.session.Close()
	}
	return nil
}

// Servers returns a snapshot of every configured server, sorted by name.
func (m *Manager) Servers() []ServerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]ServerInfo, 0, len(m.servers))
	for name, srv := range m.servers {
		infos = append(infos, ServerInfo{
			Name:        name,
			URL:         srv.cfg.URL,
			Description: srv.cfg.Description,
			Status:      srv.status,
			ToolCount:   len(srv.tools),
			Error:       srv.err,
		})
	}
	slices.SortFunc(infos, func(a, b ServerInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return infos
}

// Close disconnects every server and unregisters their tools. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	servers := m.servers
	m.servers = make(map[string]*server)
	m.mu.Unlock()

	for _, srv := range servers {
		for prefixed := range srv.tools {
			_ = m.registry.Remove(prefixed)
		}
		if srv.session != nil {
			_ = srv.session.Close()
		}
	}
}

// schemaToParameters converts the SDK's input schema into the JSON Schema
// map carried on tool definitions. A missing or unreadable schema becomes
// an unconstrained object.
func schemaToParameters(schema any) map[string]any {
	fallback := map[string]any{"type": "object"}
	if schema == nil {
		return fallback
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil || len(decoded) == 0 {
		return fallback
	}
	return decoded
}

// sanitizeName replaces non-alphanumeric runes with underscores so prefixed
// names stay valid provider-side identifiers.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// httpClientWithHeaders returns an HTTP client that attaches the configured
// headers to every request, for servers behind auth proxies.
func httpClientWithHeaders(headers map[string]string) *http.Client {
	client := &http.Client{}
	if len(headers) == 0 {
		return client
	}
	client.Transport = &headerRoundTripper{
		headers: headers,
		next:    http.DefaultTransport,
	}
	return client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}

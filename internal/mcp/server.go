package mcp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// Server implements a read-only Model Context Protocol (MCP) server.
// It lets AI agents read the deployed knowledge corpus; nothing staged,
// rejected or rolled back is visible.
type Server struct {
	corpus  port.CorpusReader
	domains []string
	token   string
	port    string
}

// NewServer creates a new MCP server. Every request must carry token as a
// bearer token.
func NewServer(corpus port.CorpusReader, domains []string, token, port string) *Server {
	return &Server{
		corpus:  corpus,
		domains: domains,
		token:   token,
		port:    port,
	}
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler returns the HTTP handler serving the MCP endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleRPC)
	mux.HandleFunc("/mcp/sse", s.handleSSE)
	return s.authenticate(mux)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("MCP server starting", "port", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, -32700, "parse error")
		return
	}

	var result any
	var err error

	switch req.Method {
	case "tools/list":
		result = s.listTools()
	case "tools/call":
		result, err = s.callTool(r.Context(), req.Params)
	case "initialize":
		result = map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]string{
				"name":    "knowledge-gatekeeper",
				"version": "1.0.0",
			},
			"capabilities": map[string]any{
				"tools": map[string]bool{"listChanged": false},
			},
		}
	default:
		writeError(w, req.ID, -32601, "method not found")
		return
	}

	if err != nil {
		writeError(w, req.ID, -32603, err.Error())
		return
	}

	writeResult(w, req.ID, result)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: endpoint\ndata: /mcp\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	<-r.Context().Done()
}

func (s *Server) listTools() map[string]any {
	tools := []Tool{
		{
			Name:        "list_knowledge_domains",
			Description: "List the knowledge domains of the corpus",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {}
			}`),
		},
		{
			Name:        "list_knowledge",
			Description: "List deployed knowledge uploads and their documents",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"knowledge_domain": {"type": "string", "description": "Domain to list; empty lists every domain"}
				}
			}`),
		},
		{
			Name:        "read_knowledge_document",
			Description: "Read one deployed knowledge document",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"knowledge_domain": {"type": "string", "description": "Knowledge domain"},
					"upload_id": {"type": "string", "description": "Upload ID"},
					"name": {"type": "string", "description": "Document name"}
				},
				"required": ["knowledge_domain", "upload_id", "name"]
			}`),
		},
	}
	return map[string]any{"tools": tools}
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	switch req.Name {
	case "list_knowledge_domains":
		return textContent(strings.Join(s.domains, "\n")), nil

	case "list_knowledge":
		var args struct {
			Domain string `json:"knowledge_domain"`
		}
		if len(req.Arguments) > 0 {
			if err := json.Unmarshal(req.Arguments, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		deployments, err := s.corpus.ListDeployments(ctx, args.Domain)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		for _, d := range deployments {
			for _, a := range d.Artifacts {
				fmt.Fprintf(&b, "%s\t%s\t%s\t%d bytes\n", d.Domain, d.UploadID, a.Name, a.Size)
			}
		}
		out := textContent(b.String())
		out["deployments"] = deployments
		return out, nil

	case "read_knowledge_document":
		var args struct {
			Domain   string `json:"knowledge_domain"`
			UploadID string `json:"upload_id"`
			Name     string `json:"name"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if args.Domain == "" || args.UploadID == "" || args.Name == "" {
			return nil, errors.New("knowledge_domain, upload_id and name are required")
		}
		data, err := s.corpus.Document(ctx, args.Domain, args.UploadID, args.Name)
		if err != nil {
			return nil, err
		}
		return textContent(string(data)), nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", req.Name)
	}
}

func textContent(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
	}
}

func writeResult(w http.ResponseWriter, id any, result any) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id any, code int, message string) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

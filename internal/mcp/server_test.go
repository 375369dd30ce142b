package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/corpus"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

const testToken = "mcp-token-0123456789abcdef0123456789"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	kb, err := corpus.Open(filepath.Join(t.TempDir(), "corpus.db"))
	if err != nil {
		t.Fatalf("corpus.Open: %v", err)
	}
	t.Cleanup(func() { _ = kb.Close() })

	arts := []domain.Artifact{{Name: "lockout.md", MediaType: "text/markdown", Data: []byte("Apply lockout/tagout before servicing.")}}
	for _, id := range []string{"up-live", "up-gone"} {
		ref, _, err := kb.Stage(ctx, id, arts)
		if err != nil {
			t.Fatalf("Stage: %v", err)
		}
		if _, err := kb.Deploy(ctx, port.DeployRequest{UploadID: id, Domain: domain.DomainSafetyProtocols, StagingRef: ref}); err != nil {
			t.Fatalf("Deploy: %v", err)
		}
	}
	if _, err := kb.Rollback(ctx, "up-gone"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	srv := httptest.NewServer(NewServer(kb, domain.DefaultQuorumPolicy().Domains(), testToken, "0").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, token, method string, params any) (int, JSONRPCResponse) {
	t.Helper()
	body := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = params
	}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/mcp", bytes.NewReader(b))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	var out JSONRPCResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode, out
}

func text(t *testing.T, res JSONRPCResponse) string {
	t.Helper()
	if res.Error != nil {
		t.Fatalf("rpc error: %+v", res.Error)
	}
	m := res.Result.(map[string]any)
	content := m["content"].([]any)
	return content[0].(map[string]any)["text"].(string)
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t)
	for _, tok := range []string{"", "wrong-token"} {
		if status, _ := call(t, srv, tok, "tools/list", nil); status != http.StatusUnauthorized {
			t.Fatalf("token %q: status %d", tok, status)
		}
	}
	if status, res := call(t, srv, testToken, "initialize", nil); status != http.StatusOK || res.Error != nil {
		t.Fatalf("initialize: %d %+v", status, res)
	}
}

func TestToolsList(t *testing.T) {
	srv := newTestServer(t)
	_, res := call(t, srv, testToken, "tools/list", nil)
	tools := res.Result.(map[string]any)["tools"].([]any)
	var names []string
	for _, tool := range tools {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	if strings.Join(names, ",") != "list_knowledge_domains,list_knowledge,read_knowledge_document" {
		t.Fatalf("tools: %v", names)
	}
}

func TestListKnowledgeHidesRolledBack(t *testing.T) {
	srv := newTestServer(t)

	_, res := call(t, srv, testToken, "tools/call", map[string]any{"name": "list_knowledge_domains"})
	if got := text(t, res); !strings.Contains(got, domain.DomainSafetyProtocols) {
		t.Fatalf("domains: %q", got)
	}

	_, res = call(t, srv, testToken, "tools/call", map[string]any{
		"name":      "list_knowledge",
		"arguments": map[string]string{"knowledge_domain": domain.DomainSafetyProtocols},
	})
	listing := text(t, res)
	if !strings.Contains(listing, "up-live\tlockout.md") || strings.Contains(listing, "up-gone") {
		t.Fatalf("listing: %q", listing)
	}
}

func TestReadKnowledgeDocument(t *testing.T) {
	srv := newTestServer(t)

	args := map[string]string{"knowledge_domain": domain.DomainSafetyProtocols, "upload_id": "up-live", "name": "lockout.md"}
	_, res := call(t, srv, testToken, "tools/call", map[string]any{"name": "read_knowledge_document", "arguments": args})
	if got := text(t, res); got != "Apply lockout/tagout before servicing." {
		t.Fatalf("document: %q", got)
	}

	args["upload_id"] = "up-gone"
	_, res = call(t, srv, testToken, "tools/call", map[string]any{"name": "read_knowledge_document", "arguments": args})
	if res.Error == nil {
		t.Fatal("rolled back document served")
	}

	_, res = call(t, srv, testToken, "tools/call", map[string]any{
		"name":      "read_knowledge_document",
		"arguments": map[string]string{"upload_id": "up-live"},
	})
	if res.Error == nil || res.Error.Code != -32603 {
		t.Fatalf("missing arguments: %+v", res.Error)
	}
}

func TestUnknownMethodAndTool(t *testing.T) {
	srv := newTestServer(t)
	if _, res := call(t, srv, testToken, "resources/list", nil); res.Error == nil || res.Error.Code != -32601 {
		t.Fatalf("unknown method: %+v", res.Error)
	}
	if _, res := call(t, srv, testToken, "tools/call", map[string]any{"name": "delete_knowledge"}); res.Error == nil {
		t.Fatal("unknown tool accepted")
	}
}

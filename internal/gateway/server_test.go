package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"agentd/internal/helperfabric"
	"agentd/internal/orchestrator"
	"agentd/internal/orchestrator/providers"
	"agentd/internal/sessions"
)

func newTestServer(t *testing.T) (*Server, sessions.Store) {
	t.Helper()
	store, err := sessions.NewSQLiteStore(":memory:", 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	provider := providers.NewFakeProvider()
	provider.Push(&providers.ChatResponse{Text: "hello from the gateway"})

	tools := orchestrator.NewToolRegistry()
	orchestrator.RegisterBuiltinTools(tools)
	fabric := helperfabric.NewFabric(4, nil)
	engine := orchestrator.NewEngine(provider, tools, store, fabric, orchestrator.DefaultEngineConfig())

	return &Server{Engine: engine, Store: store, UploadDir: t.TempDir()}, store
}

func TestServer_ChatCommandRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "?user=alice&session=main"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := json.Marshal(map[string]any{
		"command": "chat",
		"args":    map[string]string{"prompt": "hi there"},
	})
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello from the gateway" {
		t.Fatalf("got %q, want the streamed text chunk", string(data))
	}
}

func TestServer_UnknownCommandReturnsError(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "?user=bob&session=main"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := json.Marshal(map[string]any{"command": "not_a_real_command"})
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if f.Error == "" {
		t.Fatalf("expected an error frame, got %+v", f)
	}
}

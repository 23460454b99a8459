package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/docgraph/internal/daemon"
	"github.com/mschirtzinger/docgraph/internal/engine"
	"github.com/mschirtzinger/docgraph/internal/store/db"
	"github.com/mschirtzinger/docgraph/internal/types"
	"github.com/mschirtzinger/docgraph/internal/typereg"
)

func setupServer(t *testing.T) (*Server, *Handler, *engine.Engine, *db.DB) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	server := NewServer(&Config{Host: "127.0.0.1", Port: 0})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	handler := NewHandler(server, database, nil)
	eng := engine.New(database, typereg.Default(), engine.DefaultConfig())
	eng.Subscribe(handler)
	return server, handler, eng, database
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid message %s: %v", data, err)
	}
	return msg
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", server.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_WelcomeStats(t *testing.T) {
	server, _, _, database := setupServer(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := database.UpsertDocument(ctx, &types.Document{ID: id, Title: id, DocumentType: "note"}); err != nil {
			t.Fatal(err)
		}
	}

	conn := dial(t, server)
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("first message type = %s, want stats", msg.Type)
	}
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Documents != 2 || stats.Relationships != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestServer_BroadcastsEngineEvents(t *testing.T) {
	server, _, eng, database := setupServer(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := database.UpsertDocument(ctx, &types.Document{ID: id, Title: id, DocumentType: "note"}); err != nil {
			t.Fatal(err)
		}
	}

	conn := dial(t, server)
	readMessage(t, conn) // welcome
	waitForClients(t, server, 1)

	rel, err := eng.CreateRelationship(ctx, "a", "b", "")
	if err != nil {
		t.Fatalf("CreateRelationship() failed: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeRelationshipCreated || msg.DocumentID != "b" {
		t.Fatalf("message = %+v", msg)
	}
	var got types.Relationship
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != rel.ID || got.ParentID != "a" {
		t.Errorf("relationship = %+v, want %+v", got, rel)
	}

	if _, err := eng.MarkDescendantsForReview(ctx, "a", 0); err != nil {
		t.Fatal(err)
	}
	msg = readMessage(t, conn)
	if msg.Type != MessageTypeDescendantsMarked {
		t.Errorf("message type = %s, want descendants_marked", msg.Type)
	}
}

func TestHandler_OnSync(t *testing.T) {
	server, handler, _, _ := setupServer(t)
	conn := dial(t, server)
	readMessage(t, conn)
	waitForClients(t, server, 1)

	handler.OnSync(daemon.SyncReport{Files: 3, Failed: 1})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("message type = %s, want sync_complete", msg.Type)
	}
	var report daemon.SyncReport
	if err := json.Unmarshal(msg.Data, &report); err != nil {
		t.Fatal(err)
	}
	if report.Files != 3 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypeStats {
		t.Errorf("follow-up message type = %s, want stats", msg.Type)
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	server, _, _, _ := setupServer(t)

	tests := []struct {
		path string
		want string
	}{
		{"/health", `"status":"ok"`},
		{"/metrics", "docgraph_ripple_marked_documents_total"},
		{"/", "docgraph dashboard"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get("http://" + server.Addr() + tt.path)
			if err != nil {
				t.Fatalf("GET %s failed: %v", tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body missing %q:\n%s", tt.want, body)
			}
		})
	}
}

func TestServer_ClientDisconnect(t *testing.T) {
	server, _, _, _ := setupServer(t)
	conn := dial(t, server)
	readMessage(t, conn)
	waitForClients(t, server, 1)

	conn.Close(websocket.StatusNormalClosure, "bye")
	waitForClients(t, server, 0)
}

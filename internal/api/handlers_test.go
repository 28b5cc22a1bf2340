package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pfraquete/EKKLE-sub009/internal/bus"
	"github.com/pfraquete/EKKLE-sub009/internal/conversation"
	"github.com/pfraquete/EKKLE-sub009/internal/message"
	"github.com/pfraquete/EKKLE-sub009/internal/presence"
	"github.com/pfraquete/EKKLE-sub009/internal/sched"
	"github.com/pfraquete/EKKLE-sub009/internal/store"
	"github.com/pfraquete/EKKLE-sub009/internal/typing"
	"github.com/pfraquete/EKKLE-sub009/internal/unread"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRouter(t *testing.T) (*gin.Engine, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	timers := sched.New()
	t.Cleanup(timers.CancelAll)

	coordinator := typing.NewCoordinator(db, b, timers, logger, 20*time.Millisecond, time.Second)
	tracker := presence.NewTracker(db, b, logger, time.Minute)
	counter := unread.NewCounter(db, b, logger)
	counter.Start(context.Background())
	t.Cleanup(counter.Stop)
	registry := conversation.NewRegistry(db, b, counter, logger)
	messages := message.NewService(db, b, coordinator, logger, 1000, 50)

	h := NewHandlers(db, b, registry, messages, coordinator, tracker, counter, logger)
	return h.Router(), b
}

func doJSON(t *testing.T, r *gin.Engine, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func createConversation(t *testing.T, r *gin.Engine, caller string, others ...string) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v1/conversations", caller, gin.H{"participant_ids": others})
	if w.Code != http.StatusCreated {
		t.Fatalf("create conversation: status %d body %s", w.Code, w.Body.String())
	}
	return decode(t, w)["id"].(string)
}

func TestMissingUserHeader(t *testing.T) {
	r, _ := testRouter(t)
	w := doJSON(t, r, http.MethodGet, "/v1/conversations", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestConversationLifecycle(t *testing.T) {
	r, _ := testRouter(t)

	id := createConversation(t, r, "alice", "bob")

	// Creating the same direct pair again returns the existing one.
	w := doJSON(t, r, http.MethodPost, "/v1/conversations", "bob", gin.H{"participant_ids": []string{"alice"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode(t, w)["id"].(string); got != id {
		t.Errorf("duplicate direct pair created a new conversation: %s vs %s", got, id)
	}

	// Detail shows both participants.
	w = doJSON(t, r, http.MethodGet, "/v1/conversations/"+id, "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if parts := decode(t, w)["participants"].([]any); len(parts) != 2 {
		t.Errorf("participants = %d, want 2", len(parts))
	}

	// Outsiders are rejected.
	w = doJSON(t, r, http.MethodGet, "/v1/conversations/"+id, "mallory", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("outsider status = %d, want 403", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/v1/conversations/no-such-id", "alice", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", w.Code)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	r, _ := testRouter(t)
	id := createConversation(t, r, "alice", "bob")

	w := doJSON(t, r, http.MethodPost, "/v1/conversations/"+id+"/messages", "alice", gin.H{"content": "hello bob"})
	if w.Code != http.StatusCreated {
		t.Fatalf("send status = %d body %s", w.Code, w.Body.String())
	}
	msgID := decode(t, w)["id"].(float64)

	w = doJSON(t, r, http.MethodGet, "/v1/conversations/"+id+"/messages", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	msgs := decode(t, w)["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	first := msgs[0].(map[string]any)
	if first["content"] != "hello bob" || first["sender_id"] != "alice" {
		t.Errorf("message = %v", first)
	}

	// Unread for bob, then mark read.
	w = doJSON(t, r, http.MethodGet, "/v1/unread", "bob", nil)
	if total := decode(t, w)["total"].(float64); total != 1 {
		t.Errorf("unread total = %v, want 1", total)
	}
	w = doJSON(t, r, http.MethodPost, "/v1/conversations/"+id+"/read", "bob", gin.H{"message_id": int64(msgID)})
	if w.Code != http.StatusNoContent {
		t.Fatalf("read status = %d body %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodGet, "/v1/unread", "bob", nil)
	if total := decode(t, w)["total"].(float64); total != 0 {
		t.Errorf("unread total after read = %v, want 0", total)
	}

	// Moving the marker backward is rejected.
	w2 := doJSON(t, r, http.MethodPost, "/v1/conversations/"+id+"/messages", "alice", gin.H{"content": "again"})
	secondID := decode(t, w2)["id"].(float64)
	doJSON(t, r, http.MethodPost, "/v1/conversations/"+id+"/read", "bob", gin.H{"message_id": int64(secondID)})
	w = doJSON(t, r, http.MethodPost, "/v1/conversations/"+id+"/read", "bob", gin.H{"message_id": int64(msgID)})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("backward read status = %d, want 422", w.Code)
	}
}

func TestMessageValidationStatuses(t *testing.T) {
	r, _ := testRouter(t)
	id := createConversation(t, r, "alice", "bob")

	w := doJSON(t, r, http.MethodPost, "/v1/conversations/"+id+"/messages", "mallory", gin.H{"content": "hi"})
	if w.Code != http.StatusForbidden {
		t.Errorf("outsider send status = %d, want 403", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/v1/conversations/"+id+"/messages", "alice", gin.H{"content": "   "})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("blank send status = %d, want 422", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/v1/conversations/"+id+"/messages", "alice", gin.H{"content": "re", "reply_to_id": 424242})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("dangling reply status = %d, want 422", w.Code)
	}
}

func TestDeleteMessage(t *testing.T) {
	r, _ := testRouter(t)
	id := createConversation(t, r, "alice", "bob")

	w := doJSON(t, r, http.MethodPost, "/v1/conversations/"+id+"/messages", "alice", gin.H{"content": "oops"})
	msgID := int64(decode(t, w)["id"].(float64))

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/v1/messages/%d", msgID), "bob", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("non-sender delete status = %d, want 403", w.Code)
	}
	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/v1/messages/%d", msgID), "alice", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/conversations/"+id+"/messages", "alice", nil)
	msg := decode(t, w)["messages"].([]any)[0].(map[string]any)
	if msg["deleted"] != true || msg["content"] != "" {
		t.Errorf("deleted message not redacted: %v", msg)
	}

	w = doJSON(t, r, http.MethodDelete, "/v1/messages/notanumber", "alice", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
}

func TestPresenceEndpoints(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(t, r, http.MethodPut, "/v1/presence/alice", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d body %s", w.Code, w.Body.String())
	}
	if online := decode(t, w)["online"].(bool); !online {
		t.Error("heartbeat did not mark online")
	}

	// Other users can read but not write someone's presence.
	w = doJSON(t, r, http.MethodGet, "/v1/presence/alice", "bob", nil)
	if online := decode(t, w)["online"].(bool); !online {
		t.Error("presence read = offline, want online")
	}
	w = doJSON(t, r, http.MethodPut, "/v1/presence/alice", "bob", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign heartbeat status = %d, want 403", w.Code)
	}

	// Explicit offline.
	off := false
	w = doJSON(t, r, http.MethodPut, "/v1/presence/alice", "alice", presenceRequest{Online: &off})
	if online := decode(t, w)["online"].(bool); online {
		t.Error("explicit offline did not stick")
	}

	// Unknown users read as offline.
	w = doJSON(t, r, http.MethodGet, "/v1/presence/nobody", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if online := decode(t, w)["online"].(bool); online {
		t.Error("unknown user reads as online")
	}
}

func TestTypingEndpointPublishes(t *testing.T) {
	r, b := testRouter(t)
	id := createConversation(t, r, "alice", "bob")

	ch, unsub := b.Subscribe("typing.", 10)
	defer unsub()

	typingOn := true
	w := doJSON(t, r, http.MethodPost, "/v1/conversations/"+id+"/typing", "alice", typingRequest{Typing: &typingOn})
	if w.Code != http.StatusNoContent {
		t.Fatalf("typing status = %d body %s", w.Code, w.Body.String())
	}

	select {
	case evt := <-ch:
		payload := evt.Payload.(bus.TypingChanged)
		if !payload.IsTyping || payload.UserID != "alice" || payload.ConversationID != id {
			t.Errorf("payload = %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no typing.changed event")
	}

	w = doJSON(t, r, http.MethodPost, "/v1/conversations/"+id+"/typing", "mallory", typingRequest{Typing: &typingOn})
	if w.Code != http.StatusForbidden {
		t.Errorf("outsider typing status = %d, want 403", w.Code)
	}
}

func TestListConversationsSummaries(t *testing.T) {
	r, _ := testRouter(t)
	first := createConversation(t, r, "alice", "bob")
	second := createConversation(t, r, "alice", "carol")

	doJSON(t, r, http.MethodPost, "/v1/conversations/"+first+"/messages", "bob", gin.H{"content": "ping"})

	w := doJSON(t, r, http.MethodGet, "/v1/conversations", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	rows := decode(t, w)["conversations"].([]any)
	if len(rows) != 2 {
		t.Fatalf("conversations = %d, want 2", len(rows))
	}
	// Most recent activity first.
	top := rows[0].(map[string]any)
	if top["id"] != first {
		t.Errorf("top conversation = %v, want %s (has the newest message, second=%s)", top["id"], first, second)
	}
	if top["unread_count"].(float64) != 1 || top["last_message_preview"] != "ping" {
		t.Errorf("summary = %v", top)
	}
}

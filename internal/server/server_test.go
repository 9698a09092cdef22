package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"booktalk/internal/chat"
	"booktalk/pkg/domain"
	"booktalk/pkg/store"
)

type stubDirectory struct {
	tokens map[string]domain.Identity
	users  map[string]domain.Identity
}

func (d *stubDirectory) VerifyIdentity(token string) (domain.Identity, error) {
	ident, ok := d.tokens[token]
	if !ok {
		return domain.Identity{}, errors.New("token rejected")
	}
	return ident, nil
}

func (d *stubDirectory) UserByID(id string) (domain.Identity, bool, error) {
	ident, ok := d.users[id]
	return ident, ok, nil
}

type serverFixture struct {
	ts       *httptest.Server
	registry *chat.Registry
	hub      *Hub
}

func newTestServer(t *testing.T) *httptest.Server {
	return newTestServerWith(t, store.NewMemoryStore()).ts
}

func newTestServerWith(t *testing.T, conns store.ConnectionStore) *serverFixture {
	t.Helper()
	customer := domain.Identity{UserID: "u1", Role: domain.RoleCustomer, Email: "u1@example.com", Name: "Customer One"}
	admin := domain.Identity{UserID: "a1", Role: domain.RoleAdmin, Email: "a1@example.com", Name: "Admin One"}
	dir := &stubDirectory{
		tokens: map[string]domain.Identity{"customer-token": customer, "admin-token": admin},
		users:  map[string]domain.Identity{"u1": customer, "a1": admin},
	}

	mem := store.NewMemoryStore()
	hub := NewHub()
	registry := chat.NewRegistry(conns, time.Hour)
	app, err := chat.New(chat.Config{
		Registry:    registry,
		Ledger:      chat.NewLedger(mem),
		Broadcaster: chat.NewBroadcaster(registry, hub, nil),
		Directory:   dir,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ts := httptest.NewServer(New(Config{App: app, Hub: hub}).Router())
	t.Cleanup(ts.Close)
	return &serverFixture{ts: ts, registry: registry, hub: hub}
}

func wsURL(ts *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
}

func dial(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wireEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func sendFrame(t *testing.T, conn *websocket.Conn, f frame) {
	t.Helper()
	if err := conn.WriteJSON(f); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestWebSocketConnectHandshake(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts, "customer-token")

	ev := readEvent(t, conn)
	if ev.Type != chat.EventConnected {
		t.Fatalf("expected connected event first, got %q", ev.Type)
	}
	var data connectedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("decode connected data: %v", err)
	}
	if data.UserID != "u1" || data.Role != domain.RoleCustomer || data.ConnectionID == "" {
		t.Fatalf("unexpected connected data: %+v", data)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	ts := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "forged"), nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

type failingConnStore struct{}

func (failingConnStore) SaveConnection(domain.Connection) error { return errors.New("redis down") }
func (failingConnStore) GetConnection(string) (domain.Connection, bool, error) {
	return domain.Connection{}, false, errors.New("redis down")
}
func (failingConnStore) DeleteConnection(string) error { return errors.New("redis down") }
func (failingConnStore) ListConnectionsByUser(string) ([]domain.Connection, error) {
	return nil, errors.New("redis down")
}

func TestWebSocketClosesWhenRegistrationFails(t *testing.T) {
	f := newTestServerWith(t, failingConnStore{})

	// Auth passes, so the handshake succeeds; the storage failure surfaces
	// as an immediate server-side close, not a 401.
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f.ts, "customer-token"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseInternalServerErr) {
		t.Fatalf("expected close %d, got %v", websocket.CloseInternalServerErr, err)
	}
}

func TestWebSocketRegisteredRowIsAlwaysPushable(t *testing.T) {
	f := newTestServerWith(t, store.NewMemoryStore())
	conn := dial(t, f.ts, "customer-token")
	readEvent(t, conn)

	// Once the registry knows the connection, the hub must be able to serve
	// it; a row without a socket would be pruned as gone mid-handshake.
	rows, err := f.registry.ByUser("u1")
	if err != nil {
		t.Fatalf("by user: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one registered connection, got %d", len(rows))
	}
	if err := f.hub.Push(rows[0].ID, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("push to registered connection: %v", err)
	}
	if _, raw, err := conn.ReadMessage(); err != nil || string(raw) != `{"type":"ping"}` {
		t.Fatalf("client did not receive the push: raw=%s err=%v", raw, err)
	}
}

func TestWebSocketSendMessageRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	customer := dial(t, ts, "customer-token")
	admin := dial(t, ts, "admin-token")
	readEvent(t, customer)
	readEvent(t, admin)

	sendFrame(t, customer, frame{Action: actionSendMessage, RecipientID: "a1", Content: "is my order shipped?"})

	ack := readEvent(t, customer)
	if ack.Type != chat.EventAck {
		t.Fatalf("expected ack to sender, got %q", ack.Type)
	}
	var ackBody ackData
	if err := json.Unmarshal(ack.Data, &ackBody); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ackBody.Delivered != 1 {
		t.Fatalf("expected delivered=1, got %d", ackBody.Delivered)
	}
	if ackBody.Message.Content != "is my order shipped?" || ackBody.Message.ID == "" {
		t.Fatalf("unexpected ack message: %+v", ackBody.Message)
	}

	ev := readEvent(t, admin)
	if ev.Type != chat.EventMessage {
		t.Fatalf("expected message event on the admin socket, got %q", ev.Type)
	}
	var got domain.Message
	if err := json.Unmarshal(ev.Data, &got); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got.ID != ackBody.Message.ID || got.SenderID != "u1" {
		t.Fatalf("admin received a different message: %+v", got)
	}
}

func TestWebSocketHistoryAndMarkRead(t *testing.T) {
	ts := newTestServer(t)
	customer := dial(t, ts, "customer-token")
	admin := dial(t, ts, "admin-token")
	readEvent(t, customer)
	readEvent(t, admin)

	sendFrame(t, customer, frame{Action: actionSendMessage, RecipientID: "a1", Content: "hello"})
	readEvent(t, customer) // ack
	readEvent(t, admin)    // pushed message

	convID := "customer#u1#admin#a1"
	sendFrame(t, admin, frame{Action: actionHistory, ConversationID: convID, Limit: 10})
	ev := readEvent(t, admin)
	if ev.Type != eventHistory {
		t.Fatalf("expected history event, got %q", ev.Type)
	}
	var hist historyData
	if err := json.Unmarshal(ev.Data, &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Messages) != 1 || hist.Messages[0].Content != "hello" {
		t.Fatalf("unexpected history page: %+v", hist.Messages)
	}
	if hist.NextBefore == "" {
		t.Fatalf("non-empty page must carry a nextBefore cursor")
	}

	sendFrame(t, admin, frame{Action: actionMarkRead, ConversationID: convID})
	ev = readEvent(t, admin)
	if ev.Type != eventRead {
		t.Fatalf("expected read event, got %q", ev.Type)
	}
	var read readData
	if err := json.Unmarshal(ev.Data, &read); err != nil {
		t.Fatalf("decode read: %v", err)
	}
	if read.Updated != 1 || read.ConversationID != convID {
		t.Fatalf("unexpected read result: %+v", read)
	}

	sendFrame(t, admin, frame{Action: actionUnreadCount})
	ev = readEvent(t, admin)
	if ev.Type != eventUnreadCount {
		t.Fatalf("expected unreadCount event, got %q", ev.Type)
	}
	var count unreadCountData
	if err := json.Unmarshal(ev.Data, &count); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if count.Count != 0 {
		t.Fatalf("expected zero unread after markRead, got %d", count.Count)
	}
}

func TestWebSocketErrorEvents(t *testing.T) {
	ts := newTestServer(t)
	customer := dial(t, ts, "customer-token")
	readEvent(t, customer)

	sendFrame(t, customer, frame{Action: "selfDestruct"})
	ev := readEvent(t, customer)
	if ev.Type != eventError {
		t.Fatalf("expected error event, got %q", ev.Type)
	}
	var body errorData
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body.Code != "validation_error" {
		t.Fatalf("unexpected code for unknown action: %q", body.Code)
	}

	sendFrame(t, customer, frame{Action: actionSendMessage, RecipientID: "a1", Content: " "})
	ev = readEvent(t, customer)
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ev.Type != eventError || body.Code != "validation_error" {
		t.Fatalf("expected validation_error for blank content, got %q/%q", ev.Type, body.Code)
	}

	sendFrame(t, customer, frame{Action: actionUnreadCount})
	ev = readEvent(t, customer)
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ev.Type != eventError || body.Code != "forbidden" {
		t.Fatalf("expected forbidden for customer unreadCount, got %q/%q", ev.Type, body.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

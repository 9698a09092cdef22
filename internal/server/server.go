package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"booktalk/internal/chat"
	"booktalk/internal/util"
	"booktalk/pkg/store"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Config wires required dependencies for the websocket server.
type Config struct {
	App    *chat.App
	Hub    *Hub
	Logger *slog.Logger
}

// Server owns the websocket endpoint: upgrades, connection lifecycle, and
// routing of client frames into the core.
type Server struct {
	app      *chat.App
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		app:    cfg.App,
		hub:    cfg.Hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the storefront origin; the token
			// check below is the actual gate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleWS authenticates before upgrading, so auth failures come back as a
// plain 401 instead of a dropped socket. The socket joins the hub before the
// registry row is written: a broadcast must never find a row whose socket
// the hub cannot serve, or it would prune a connection mid-handshake.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	ident, err := s.app.Authenticate(token)
	if err != nil {
		if store.IsStorage(err) {
			s.logger.Warn("websocket connect failed", "err", err)
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		s.logger.Info("websocket connect rejected", "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	connectionID := util.NewID()
	s.hub.Add(connectionID, conn)
	if err := s.app.Register(connectionID, ident); err != nil {
		s.logger.Warn("connection registration failed", "connectionId", connectionID, "err", err)
		s.hub.Remove(connectionID)
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "registration failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	s.writeEvent(connectionID, chat.Event{Type: chat.EventConnected, Data: connectedData{
		ConnectionID: connectionID,
		UserID:       ident.UserID,
		Role:         ident.Role,
	}})
	go s.readLoop(connectionID, conn)
	go s.pingLoop(connectionID, conn)
}

// readLoop consumes client frames until the socket dies, then tears the
// connection down: hub entry, registry row, and the socket itself.
func (s *Server) readLoop(connectionID string, conn *websocket.Conn) {
	defer func() {
		s.hub.Remove(connectionID)
		if err := s.app.Disconnect(connectionID); err != nil {
			s.logger.Warn("disconnect cleanup failed", "connectionId", connectionID, "err", err)
		}
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read failed", "connectionId", connectionID, "err", err)
			}
			return
		}
		s.handleFrame(connectionID, raw)
	}
}

func (s *Server) pingLoop(connectionID string, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			return
		}
	}
}

func (s *Server) handleFrame(connectionID string, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		s.writeError(connectionID, errorData{Code: "validation_error", Message: "invalid JSON frame"})
		return
	}
	switch f.Action {
	case actionSendMessage:
		res, err := s.app.SendMessage(connectionID, f.RecipientID, f.Content)
		if err != nil {
			s.writeError(connectionID, errorBody(err))
			return
		}
		s.writeEvent(connectionID, chat.Event{Type: chat.EventAck, Data: ackData{
			Message:   res.Message,
			Delivered: res.Delivered,
		}})
	case actionHistory:
		before, err := parseBefore(f.Before)
		if err != nil {
			s.writeError(connectionID, errorData{Code: "validation_error", Message: "before must be an RFC 3339 timestamp"})
			return
		}
		msgs, err := s.app.History(connectionID, f.ConversationID, f.Limit, before)
		if err != nil {
			s.writeError(connectionID, errorBody(err))
			return
		}
		data := historyData{ConversationID: f.ConversationID, Messages: msgs}
		if len(msgs) > 0 {
			data.NextBefore = msgs[0].Timestamp.Format(time.RFC3339Nano)
		}
		s.writeEvent(connectionID, chat.Event{Type: eventHistory, Data: data})
	case actionMarkRead:
		updated, err := s.app.MarkRead(connectionID, f.ConversationID)
		if err != nil {
			s.writeError(connectionID, errorBody(err))
			return
		}
		s.writeEvent(connectionID, chat.Event{Type: eventRead, Data: readData{
			ConversationID: f.ConversationID,
			Updated:        updated,
		}})
	case actionConversations:
		convs, err := s.app.Conversations(connectionID)
		if err != nil {
			s.writeError(connectionID, errorBody(err))
			return
		}
		s.writeEvent(connectionID, chat.Event{Type: eventConversations, Data: conversationsData{Conversations: convs}})
	case actionUnreadCount:
		count, err := s.app.UnreadCount(connectionID)
		if err != nil {
			s.writeError(connectionID, errorBody(err))
			return
		}
		s.writeEvent(connectionID, chat.Event{Type: eventUnreadCount, Data: unreadCountData{Count: count}})
	default:
		s.writeError(connectionID, errorData{Code: "validation_error", Message: "unknown action"})
	}
}

func (s *Server) writeEvent(connectionID string, event chat.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal event failed", "type", event.Type, "err", err)
		return
	}
	if err := s.hub.Push(connectionID, data); err != nil {
		s.logger.Debug("write to caller failed", "connectionId", connectionID, "err", err)
	}
}

func (s *Server) writeError(connectionID string, body errorData) {
	s.writeEvent(connectionID, chat.Event{Type: eventError, Data: body})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

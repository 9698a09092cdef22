package chat

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"booktalk/pkg/domain"
	"booktalk/pkg/store"
)

// Directory is the external user-directory collaborator: token verification
// on connect and user lookup by ID when resolving a message recipient.
type Directory interface {
	VerifyIdentity(token string) (domain.Identity, error)
	UserByID(id string) (domain.Identity, bool, error)
}

// Notifier receives a fire-and-forget event for every stored message.
// Implementations swallow their own failures; delivery is best-effort and
// never blocks or fails a send.
type Notifier interface {
	MessageReceived(msg domain.Message, conv domain.Conversation)
}

// Event is the envelope pushed to connections and returned to callers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event types delivered over the transport.
const (
	EventConnected = "connected"
	EventMessage   = "message"
	EventAck       = "ack"
)

// Config wires required dependencies for the core application.
type Config struct {
	Registry    *Registry
	Ledger      *Ledger
	Broadcaster *Broadcaster
	Directory   Directory
	Notifier    Notifier
	Logger      *slog.Logger
}

// App handles the inbound transport events: connect, disconnect, and the
// message actions. It composes the registry, ledger, and broadcaster; they
// never call each other directly.
type App struct {
	registry    *Registry
	ledger      *Ledger
	broadcaster *Broadcaster
	directory   Directory
	notifier    Notifier
	logger      *slog.Logger
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Registry == nil || cfg.Ledger == nil || cfg.Broadcaster == nil {
		return nil, fmt.Errorf("registry, ledger, and broadcaster are required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		registry:    cfg.Registry,
		ledger:      cfg.Ledger,
		broadcaster: cfg.Broadcaster,
		directory:   cfg.Directory,
		notifier:    cfg.Notifier,
		logger:      logger,
	}, nil
}

// Authenticate verifies the token with the user directory.
func (a *App) Authenticate(token string) (domain.Identity, error) {
	ident, err := a.directory.VerifyIdentity(token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return ident, nil
}

// Register records the connection under an already-authenticated identity.
// The transport calls this only once the socket can receive pushes, so the
// registry never holds a row the transport cannot serve.
func (a *App) Register(connectionID string, ident domain.Identity) error {
	err := a.registry.Save(domain.Connection{
		ID:     connectionID,
		UserID: ident.UserID,
		Role:   ident.Role,
		Email:  ident.Email,
		Name:   ident.Name,
	})
	if err != nil {
		return err
	}
	a.logger.Info("connection registered", "connectionId", connectionID, "userId", ident.UserID, "role", ident.Role)
	return nil
}

// Connect authenticates the token and registers the connection.
func (a *App) Connect(connectionID, token string) (domain.Identity, error) {
	ident, err := a.Authenticate(token)
	if err != nil {
		return domain.Identity{}, err
	}
	if err := a.Register(connectionID, ident); err != nil {
		return domain.Identity{}, err
	}
	return ident, nil
}

// Disconnect removes the connection row. Safe to call for connections that
// were never registered.
func (a *App) Disconnect(connectionID string) error {
	if err := a.registry.Delete(connectionID); err != nil {
		return err
	}
	a.logger.Info("connection removed", "connectionId", connectionID)
	return nil
}

// SendResult is what a successful send reports back to the sender.
type SendResult struct {
	Message      domain.Message
	Conversation domain.Conversation
	Delivered    int
}

// SendMessage validates the payload, resolves sender and recipient, appends
// the message to the ledger, updates the conversation summary, and
// broadcasts to the recipient's live connections. Stale recipient
// connections are pruned silently; the sender only sees the result.
func (a *App) SendMessage(connectionID, recipientID, content string) (SendResult, error) {
	if strings.TrimSpace(content) == "" {
		return SendResult{}, fmt.Errorf("%w: content is required", ErrValidation)
	}
	if recipientID == "" {
		return SendResult{}, fmt.Errorf("%w: recipientId is required", ErrValidation)
	}

	sender, err := a.caller(connectionID)
	if err != nil {
		return SendResult{}, err
	}
	if sender.UserID == recipientID {
		return SendResult{}, fmt.Errorf("%w: cannot message yourself", ErrValidation)
	}
	recipient, ok, err := a.directory.UserByID(recipientID)
	if err != nil {
		return SendResult{}, fmt.Errorf("resolve recipient: %w", err)
	}
	if !ok {
		return SendResult{}, fmt.Errorf("%w: unknown recipient %s", ErrValidation, recipientID)
	}

	// A thread always pairs one customer with one admin.
	senderIdent := domain.Identity{UserID: sender.UserID, Role: sender.Role, Email: sender.Email, Name: sender.Name}
	var customer, admin domain.Identity
	switch {
	case sender.Role == domain.RoleCustomer && recipient.Role == domain.RoleAdmin:
		customer, admin = senderIdent, recipient
	case sender.Role == domain.RoleAdmin && recipient.Role == domain.RoleCustomer:
		customer, admin = recipient, senderIdent
	default:
		return SendResult{}, fmt.Errorf("%w: conversation requires one customer and one admin", ErrValidation)
	}

	msg := domain.Message{
		ConversationID: DeriveConversationID(customer.UserID, admin.UserID),
		SenderID:       sender.UserID,
		SenderRole:     sender.Role,
		SenderName:     sender.Name,
		RecipientID:    recipientID,
		Content:        content,
	}
	saved, err := a.ledger.SaveMessage(msg)
	if err != nil {
		return SendResult{}, err
	}
	conv, err := a.ledger.RecordConversation(customer, admin, domain.LastMessage{
		Content:    saved.Content,
		SenderID:   saved.SenderID,
		SenderName: saved.SenderName,
		Timestamp:  saved.Timestamp,
	})
	if err != nil {
		return SendResult{}, err
	}

	delivered, err := a.broadcaster.BroadcastToUser(recipientID, Event{Type: EventMessage, Data: saved})
	if err != nil {
		// The message is durable; the recipient catches up via history.
		a.logger.Warn("broadcast failed", "conversationId", saved.ConversationID, "recipientId", recipientID, "err", err)
		delivered = 0
	}

	// Echo to the sender's other devices so every open client shows the
	// message. The originating connection gets the ack instead.
	if _, err := a.broadcaster.BroadcastToUserExcept(sender.UserID, connectionID, Event{Type: EventMessage, Data: saved}); err != nil {
		a.logger.Warn("sender echo failed", "conversationId", saved.ConversationID, "senderId", sender.UserID, "err", err)
	}

	if a.notifier != nil {
		a.notifier.MessageReceived(saved, conv)
	}
	return SendResult{Message: saved, Conversation: conv, Delivered: delivered}, nil
}

// History returns one chronological page of a conversation the caller
// participates in.
func (a *App) History(connectionID, conversationID string, limit int, before time.Time) ([]domain.Message, error) {
	caller, err := a.caller(connectionID)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(caller.UserID, conversationID); err != nil {
		return nil, err
	}
	return a.ledger.Messages(conversationID, limit, before)
}

// MarkRead flips the caller's unread messages in the conversation and
// resets their unread counter. Returns the number of messages flipped.
func (a *App) MarkRead(connectionID, conversationID string) (int, error) {
	caller, err := a.caller(connectionID)
	if err != nil {
		return 0, err
	}
	if err := a.authorize(caller.UserID, conversationID); err != nil {
		return 0, err
	}
	return a.ledger.MarkMessagesRead(conversationID, caller.UserID)
}

// Conversations returns the caller's threads: all of them (most recently
// updated first) for an admin, the single thread for a customer.
func (a *App) Conversations(connectionID string) ([]domain.Conversation, error) {
	caller, err := a.caller(connectionID)
	if err != nil {
		return nil, err
	}
	if caller.Role == domain.RoleAdmin {
		return a.ledger.ConversationsByAdmin(caller.UserID)
	}
	conv, ok, err := a.ledger.ConversationByCustomer(caller.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return []domain.Conversation{conv}, nil
}

// UnreadCount returns the admin caller's total unread count.
func (a *App) UnreadCount(connectionID string) (int, error) {
	caller, err := a.caller(connectionID)
	if err != nil {
		return 0, err
	}
	if caller.Role != domain.RoleAdmin {
		return 0, fmt.Errorf("%w: unread count is admin-only", ErrForbidden)
	}
	return a.ledger.UnreadCount(caller.UserID)
}

// caller resolves the connection behind an inbound event. Events from
// connections the registry does not know are rejected.
func (a *App) caller(connectionID string) (domain.Connection, error) {
	conn, ok, err := a.registry.Get(connectionID)
	if err != nil {
		return domain.Connection{}, err
	}
	if !ok {
		return domain.Connection{}, fmt.Errorf("%w: unknown connection", ErrUnauthorized)
	}
	return conn, nil
}

func (a *App) authorize(userID, conversationID string) error {
	conv, ok, err := a.ledger.Conversation(conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if conv.CustomerID != userID && conv.AdminID != userID {
		return ErrForbidden
	}
	return nil
}

// Package notify publishes message-received events for the notification
// pipeline (email digests etc). Publishing is best-effort: failures are
// logged and swallowed, never surfaced to the sender.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"booktalk/pkg/domain"
)

const (
	routingKeyMessageReceived = "chat.message.received"
	publishTimeout            = 3 * time.Second
)

// Publisher emits events to an AMQP topic exchange.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// New dials the broker and declares the exchange.
func New(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// messageReceivedEvent is what the email worker consumes to build the
// "new message" notification.
type messageReceivedEvent struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderName     string    `json:"senderName"`
	RecipientID    string    `json:"recipientId"`
	RecipientEmail string    `json:"recipientEmail"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sentAt"`
}

// MessageReceived publishes one event per stored message. Errors are
// logged, not returned; notification delivery must never fail a send.
func (p *Publisher) MessageReceived(msg domain.Message, conv domain.Conversation) {
	recipientEmail := conv.CustomerEmail
	if msg.RecipientID == conv.AdminID {
		// Admin email is not denormalized onto the conversation; the email
		// worker resolves it from the user directory.
		recipientEmail = ""
	}
	event := messageReceivedEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderName:     msg.SenderName,
		RecipientID:    msg.RecipientID,
		RecipientEmail: recipientEmail,
		Preview:        preview(msg.Content, 140),
		SentAt:         msg.Timestamp,
	}
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("marshal notification event failed", "messageId", msg.ID, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKeyMessageReceived, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		p.logger.Warn("notification publish failed", "messageId", msg.ID, "err", err)
	}
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

func preview(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}

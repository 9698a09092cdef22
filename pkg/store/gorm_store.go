package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"booktalk/pkg/domain"
)

const migrateLockID int64 = 40294029

// GormStore implements ChatStore using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent instances do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ConversationModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveMessage appends one message row.
func (s *GormStore) SaveMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessages returns one chronological page of a conversation. The
// underlying scan runs newest-first so "most recent limit" is cheap; the
// page is reversed before returning so callers always see oldest-first.
func (s *GormStore) ListMessages(conversationID string, limit int, before time.Time) ([]domain.Message, error) {
	tx := s.db.Where("conversation_id = ?", conversationID)
	if !before.IsZero() {
		tx = tx.Where("timestamp < ?", before)
	}
	var models []MessageModel
	if err := tx.Order("timestamp DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		res = append(res, messageFromModel(models[i]))
	}
	return res, nil
}

// UpsertConversationOnSend creates or updates the conversation row in one
// statement. The unread counter bump runs as a SQL-side expression, so
// concurrent sends into the same conversation cannot lose increments.
func (s *GormStore) UpsertConversationOnSend(conv domain.Conversation, recipient domain.UserRole) (domain.Conversation, error) {
	model := conversationToModel(conv)
	assignments := map[string]any{
		"last_message": model.LastMessage,
		"updated_at":   model.UpdatedAt,
	}
	if recipient == domain.RoleAdmin {
		assignments["unread_admin"] = gorm.Expr("conversation_models.unread_admin + 1")
	} else {
		assignments["unread_customer"] = gorm.Expr("conversation_models.unread_customer + 1")
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&model).Error; err != nil {
		return domain.Conversation{}, err
	}
	stored, ok, err := s.GetConversation(conv.ID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !ok {
		return domain.Conversation{}, fmt.Errorf("conversation %s missing after upsert", conv.ID)
	}
	return stored, nil
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByAdmin returns the admin's threads, most recently
// updated first.
func (s *GormStore) ListConversationsByAdmin(adminID string) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.Where("admin_id = ?", adminID).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, 0, len(models))
	for _, m := range models {
		res = append(res, conversationFromModel(m))
	}
	return res, nil
}

// GetConversationByCustomer returns the customer's thread, if any. The
// single-admin model means a customer has at most one active thread.
func (s *GormStore) GetConversationByCustomer(customerID string) (domain.Conversation, bool, error) {
	var model ConversationModel
	err := s.db.Where("customer_id = ?", customerID).Order("updated_at DESC").First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// MarkMessagesRead flips unread rows and resets the counter in one
// transaction, so a crash cannot leave messages read with a stale counter.
func (s *GormStore) MarkMessagesRead(conversationID, recipientID string, readAt time.Time) (int, error) {
	var flipped int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv ConversationModel
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		res := tx.Model(&MessageModel{}).
			Where("conversation_id = ? AND recipient_id = ? AND read = ?", conversationID, recipientID, false).
			Updates(map[string]any{"read": true, "read_at": readAt})
		if res.Error != nil {
			return res.Error
		}
		flipped = res.RowsAffected

		counter := "unread_customer"
		if recipientID == conv.AdminID {
			counter = "unread_admin"
		}
		return tx.Model(&ConversationModel{}).
			Where("id = ?", conversationID).
			Update(counter, 0).Error
	})
	if err != nil {
		return 0, err
	}
	return int(flipped), nil
}

// ListUnreadMessages returns unread messages addressed to recipientID in
// chronological order.
func (s *GormStore) ListUnreadMessages(conversationID, recipientID string) ([]domain.Message, error) {
	var models []MessageModel
	err := s.db.
		Where("conversation_id = ? AND recipient_id = ? AND read = ?", conversationID, recipientID, false).
		Order("timestamp ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// SumAdminUnread totals the admin counter over the admin's conversations.
func (s *GormStore) SumAdminUnread(adminID string) (int, error) {
	var total int64
	err := s.db.Model(&ConversationModel{}).
		Where("admin_id = ?", adminID).
		Select("COALESCE(SUM(unread_admin), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

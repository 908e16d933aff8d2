package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"chat-client/internal/models"
)

// MessageArchive keeps confirmed messages of each chat on local storage.
type MessageArchive interface {
	SaveMessages(ctx context.Context, chatID int, messages []models.Message) error
	ListMessages(ctx context.Context, chatID int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed archive.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type archivedMessage struct {
	models.Message
	AttachmentsJSON string `db:"attachments"`
}

const upsertMessage = `INSERT INTO archived_messages
        (message_id, temp_id, chat_id, sender_id, message_text, message_type, attachments, status, created_at)
    VALUES
        (:message_id, :temp_id, :chat_id, :sender_id, :message_text, :message_type, :attachments, :status, :created_at)
    ON CONFLICT (message_id) DO UPDATE SET
        message_text = EXCLUDED.message_text,
        attachments = EXCLUDED.attachments,
        status = EXCLUDED.status,
        archived_at = NOW()`

// SaveMessages upserts the confirmed messages of a chat. Optimistic entries are skipped.
func (r *MessageRepo) SaveMessages(ctx context.Context, chatID int, messages []models.Message) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	for _, msg := range messages {
		if msg.IsOptimistic || msg.ID == 0 {
			continue
		}
		if msg.ChatID == 0 {
			msg.ChatID = chatID
		}
		if msg.Type == "" {
			msg.Type = "text"
		}
		if msg.Status == "" {
			msg.Status = models.StatusSent
		}
		attachments := msg.Attachments
		if attachments == nil {
			attachments = []models.Attachment{}
		}
		raw, err := json.Marshal(attachments)
		if err != nil {
			return fmt.Errorf("encode attachments of message %d: %w", msg.ID, err)
		}
		if _, err := tx.NamedExecContext(ctx, upsertMessage, archivedMessage{Message: msg, AttachmentsJSON: string(raw)}); err != nil {
			return fmt.Errorf("archive message %d: %w", msg.ID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns the archived history of a chat in display order.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID int) ([]models.Message, error) {
	query := `SELECT message_id, temp_id, chat_id, sender_id, message_text, message_type, attachments, status, created_at
        FROM archived_messages
        WHERE chat_id=$1
        ORDER BY created_at ASC, message_id ASC`
	var rows []archivedMessage
	if err := r.db.SelectContext(ctx, &rows, query, chatID); err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msg := row.Message
		if len(row.AttachmentsJSON) > 0 {
			if err := json.Unmarshal([]byte(row.AttachmentsJSON), &msg.Attachments); err != nil {
				return nil, fmt.Errorf("decode attachments of message %d: %w", msg.ID, err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

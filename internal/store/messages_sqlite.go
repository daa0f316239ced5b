package store

import (
	"context"
	"fmt"

	"github.com/BTreeMap/FlowPipe/internal/models"
)

func (s *SQLiteStore) InsertInboundIfNew(ctx context.Context, msg models.NormalizedMessage) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_messages (user_id, instance, direction, message_id, text, media_type, created_at)
		 VALUES (?, ?, 'in', ?, ?, ?, ?)`,
		msg.UserID, msg.Instance, msg.MessageID, msg.Text, nilIfEmpty(mediaTypeOf(msg)), s.opts.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SetInboundText(ctx context.Context, messageID, text string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chat_messages SET text = ? WHERE message_id = ?`, text, messageID)
	if err != nil {
		return fmt.Errorf("update inbound text failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertOutbound(ctx context.Context, userID, instance, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (user_id, instance, direction, text, created_at) VALUES (?, ?, 'out', ?, ?)`,
		userID, instance, text, s.opts.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record outbound failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadRecent(ctx context.Context, userID string, limit int, excludeMessageID string) ([]models.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, instance, direction, message_id, text, created_at
		FROM chat_messages
		WHERE user_id = ? AND (message_id IS NULL OR message_id <> ?)
		ORDER BY id DESC
		LIMIT ?`,
		userID, excludeMessageID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load recent messages failed: %w", err)
	}
	return scanMessages(rows)
}

package transcript

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"typhonrelay/internal/models"
)

// SQLSink mirrors transcripts into the chat_entries and chat_pairs tables.
type SQLSink struct {
	db *sql.DB
}

func NewSQLSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

func (s *SQLSink) AppendEntries(ctx context.Context, entries []models.TranscriptEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transcript tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chat_entries (id, created_at, session_id, user_id, role, content, model, path_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare chat entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, id, e.Timestamp.UTC(), e.SessionID, e.UserID, string(e.Role), e.Content, e.Model, e.PathUsed); err != nil {
			return 0, fmt.Errorf("insert chat entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transcript tx: %w", err)
	}
	return len(entries), nil
}

func (s *SQLSink) AppendPair(ctx context.Context, pair models.ChatPair) (int, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO chat_pairs (player_name, user_message, user_sent_at, bot_reply, bot_replied_at)
		VALUES (?, ?, ?, ?, ?)`,
		pair.PlayerName, pair.UserMessage, pair.UserSentAt.UTC(), pair.BotReply, pair.BotRepliedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert chat pair: %w", err)
	}
	return 1, nil
}

// Entries lists the stored rows of one session in insertion order.
func (s *SQLSink) Entries(ctx context.Context, sessionID string) ([]models.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, session_id, user_id, role, content, model, path_used
		FROM chat_entries WHERE session_id = ? ORDER BY created_at, seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chat entries: %w", err)
	}
	defer rows.Close()

	var out []models.TranscriptEntry
	for rows.Next() {
		var (
			e    models.TranscriptEntry
			role string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.SessionID, &e.UserID, &role, &e.Content, &e.Model, &e.PathUsed); err != nil {
			return nil, fmt.Errorf("scan chat entry: %w", err)
		}
		e.Role = models.Role(role)
		out = append(out, e)
	}
	return out, rows.Err()
}

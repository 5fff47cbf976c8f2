package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"videorag/internal/apperr"
	"videorag/internal/models"
)

// ChatRepository persists ChatSession, ChatMessage, and ChatVideo rows.
type ChatRepository struct {
	db *DB
}

func NewChatRepository(db *DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// UpsertSession creates a new session (titled from the question) if
// sessionID is nil, otherwise returns the existing session unchanged. This
// grounds step 1 of the RAG Orchestrator's ask_stream sequence.
func (r *ChatRepository) UpsertSession(ctx context.Context, sessionID *uuid.UUID, question string, channelID *int64) (*models.ChatSession, error) {
	if sessionID != nil {
		return r.GetSession(ctx, *sessionID)
	}

	title := question
	if len(title) > 120 {
		title = title[:120]
	}

	var s models.ChatSession
	const q = `
		INSERT INTO chat_sessions (id, channel_id, title)
		VALUES ($1, $2, $3)
		RETURNING id, channel_id, title, created_at`
	if err := r.db.GetContext(ctx, &s, q, uuid.New(), channelID, title); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to create chat session", err)
	}
	return &s, nil
}

// GetSession fetches a chat session by id.
func (r *ChatRepository) GetSession(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	var s models.ChatSession
	const q = `SELECT id, channel_id, title, created_at FROM chat_sessions WHERE id = $1`
	if err := r.db.GetContext(ctx, &s, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("chat session not found")
		}
		return nil, apperr.Wrap(apperr.KindCritical, "failed to fetch chat session", err)
	}
	return &s, nil
}

// ListSessions returns a page of chat sessions, newest first.
func (r *ChatRepository) ListSessions(ctx context.Context, skip, limit int) ([]models.ChatSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.ChatSession
	const q = `SELECT id, channel_id, title, created_at FROM chat_sessions ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &out, q, limit, skip); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list chat sessions", err)
	}
	return out, nil
}

// DeleteSession removes a session; messages and video links cascade.
func (r *ChatRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to delete chat session", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("chat session not found")
	}
	return nil
}

// ReplaceVideos replaces the ChatVideo set for a session.
func (r *ChatRepository) ReplaceVideos(ctx context.Context, sessionID uuid.UUID, videoIDs []string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to begin chat video replacement", err)
	}
	defer func() { finishTx(tx, &err) }()

	if _, err = tx.ExecContext(ctx, `DELETE FROM chat_videos WHERE chat_id = $1`, sessionID); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to clear chat videos", err)
	}
	const insertQ = `INSERT INTO chat_videos (chat_id, video_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	for _, vid := range videoIDs {
		if _, err = tx.ExecContext(ctx, insertQ, sessionID, vid); err != nil {
			return apperr.Wrap(apperr.KindCritical, "failed to insert chat video", err)
		}
	}
	return nil
}

// VideosForSession returns the video ids restricting a session, if any.
func (r *ChatRepository) VideosForSession(ctx context.Context, sessionID uuid.UUID) ([]string, error) {
	var out []string
	const q = `SELECT video_id FROM chat_videos WHERE chat_id = $1`
	if err := r.db.SelectContext(ctx, &out, q, sessionID); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list chat videos", err)
	}
	return out, nil
}

// RecentMessages returns the most recent `limit` messages of a session, in
// ascending (oldest-first) order, for building chat context in prompts.
func (r *ChatRepository) RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	var desc []models.ChatMessage
	const q = `
		SELECT id, session_id, role, content, sources, created_at
		FROM chat_messages WHERE session_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &desc, q, sessionID, limit); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list recent chat messages", err)
	}
	out := make([]models.ChatMessage, len(desc))
	for i, m := range desc {
		out[len(desc)-1-i] = m
	}
	return out, nil
}

// AllMessages returns every message of a session in ascending order, for the
// session-detail endpoint.
func (r *ChatRepository) AllMessages(ctx context.Context, sessionID uuid.UUID) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	const q = `
		SELECT id, session_id, role, content, sources, created_at
		FROM chat_messages WHERE session_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &out, q, sessionID); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list chat messages", err)
	}
	return out, nil
}

// AppendTurn writes the user question and assistant answer as a single
// transaction, satisfying the invariant that every assistant answer is
// preceded in-session by its triggering user message. Called only after the
// stream generator completes normally — never on client disconnect.
func (r *ChatRepository) AppendTurn(ctx context.Context, sessionID uuid.UUID, question, answer string, sources []models.Source) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to begin chat turn transaction", err)
	}
	defer func() { finishTx(tx, &err) }()

	const insertQ = `INSERT INTO chat_messages (session_id, role, content, sources) VALUES ($1, $2, $3, $4)`
	if _, err = tx.ExecContext(ctx, insertQ, sessionID, models.ChatRoleUser, question, nil); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to insert user message", err)
	}
	if _, err = tx.ExecContext(ctx, insertQ, sessionID, models.ChatRoleAssistant, answer, []byte(models.SourcesJSON(sources))); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to insert assistant message", err)
	}
	return nil
}

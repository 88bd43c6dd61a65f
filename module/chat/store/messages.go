package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/errs"
)

const msgCols = `id, conversation_id, sender_id, body, kind, status, reply_to,
	edited, edited_at, metadata, attachments, client_msg_id, created_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		m           model.Message
		sender      *string
		replyTo     *string
		clientMsgID *string
		meta        []byte
		atts        []byte
	)
	err := row.Scan(&m.ID, &m.ConversationID, &sender, &m.Body, &m.Kind,
		&m.Status, &replyTo, &m.Edited, &m.EditedAt, &meta, &atts,
		&clientMsgID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if sender != nil {
		m.SenderID = *sender
	}
	if replyTo != nil {
		m.ReplyTo = *replyTo
	}
	if clientMsgID != nil {
		m.ClientMsgID = *clientMsgID
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &m.Metadata)
	}
	if len(atts) > 0 {
		_ = json.Unmarshal(atts, &m.Attachments)
	}
	return &m, nil
}

func (s *PG) collectMessages(rows pgx.Rows) ([]*model.Message, error) {
	defer rows.Close()
	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errs.ErrFetchFailed.WrapMsg("scan message", "err", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentMessages returns the newest page of a conversation in ascending
// creation order, ready for display.
func (s *PG) RecentMessages(ctx context.Context, convID string, limit int) ([]*model.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+msgCols+` FROM (
		    SELECT `+msgCols+` FROM messages
		     WHERE conversation_id = $1
		     ORDER BY created_at DESC, id DESC
		     LIMIT $2
		 ) newest ORDER BY created_at ASC, id ASC`, convID, limit)
	if err != nil {
		return nil, errs.ErrFetchFailed.WrapMsg("recent messages", "conversation", convID, "err", err)
	}
	return s.collectMessages(rows)
}

// MessagesBefore returns the page of up to limit messages strictly older
// than before, in ascending creation order.
func (s *PG) MessagesBefore(ctx context.Context, convID string, before time.Time, limit int) ([]*model.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+msgCols+` FROM (
		    SELECT `+msgCols+` FROM messages
		     WHERE conversation_id = $1 AND created_at < $2
		     ORDER BY created_at DESC, id DESC
		     LIMIT $3
		 ) older ORDER BY created_at ASC, id ASC`, convID, before, limit)
	if err != nil {
		return nil, errs.ErrFetchFailed.WrapMsg("older messages", "conversation", convID, "err", err)
	}
	return s.collectMessages(rows)
}

// InsertMessage persists a message and returns the durable row with the
// backend-assigned id and creation timestamp. client_msg_id makes retried
// inserts idempotent.
func (s *PG) InsertMessage(ctx context.Context, m *model.Message) (*model.Message, error) {
	meta, _ := json.Marshal(m.Metadata)
	atts, _ := json.Marshal(m.Attachments)
	out := *m
	out.Status = model.StatusSent
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, sender_id, body, kind, status, reply_to, metadata, attachments, client_msg_id)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7, $8, NULLIF($9, ''))
		 ON CONFLICT (client_msg_id) DO UPDATE SET client_msg_id = EXCLUDED.client_msg_id
		 RETURNING id, created_at`,
		m.ConversationID, m.SenderID, m.Body, m.Kind, model.StatusSent,
		m.ReplyTo, meta, atts, m.ClientMsgID).
		Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, errs.ErrSendFailed.WrapMsg("insert message",
			"conversation", m.ConversationID, "err", err)
	}
	return &out, nil
}

// UpdateMessageStatus advances the delivery status (the caller enforces the
// forward-only rule).
func (s *PG) UpdateMessageStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = $2 WHERE id = $1`, id, status)
	return errs.WrapMsg(err, "update message status", "id", id)
}

// EditMessageBody replaces the body and flags the edit.
func (s *PG) EditMessageBody(ctx context.Context, id, body string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE messages SET body = $2, edited = true, edited_at = now() WHERE id = $1`,
		id, body)
	return errs.WrapMsg(err, "edit message", "id", id)
}

// DeleteMessage removes a message row.
func (s *PG) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return errs.WrapMsg(err, "delete message", "id", id)
}

// MarkReadBefore moves every delivered message of the conversation not sent
// by reader to read, up to and including the given time.
func (s *PG) MarkReadBefore(ctx context.Context, convID, reader string, upTo time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = $4
		  WHERE conversation_id = $1
		    AND created_at <= $2
		    AND (sender_id IS NULL OR sender_id <> $3)
		    AND status IN ($5, $6)`,
		convID, upTo, reader, model.StatusRead, model.StatusSent, model.StatusDelivered)
	return errs.WrapMsg(err, "mark read", "conversation", convID)
}

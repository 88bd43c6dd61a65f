package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/errs"
)

const convCols = `id, owner_user_id, title, topic, status, last_activity, message_count, metadata, created_at`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		c     model.Conversation
		topic *string
		meta  []byte
	)
	err := row.Scan(&c.ID, &c.OwnerUserID, &c.Title, &topic, &c.Status,
		&c.LastActivity, &c.MessageCount, &meta, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if topic != nil {
		c.Topic = *topic
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &c.Metadata)
	}
	return &c, nil
}

func (s *PG) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+convCols+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, errs.ErrFetchFailed.WrapMsg("get conversation", "id", id, "err", err)
	}
	return c, nil
}

// ListConversations returns the owner's conversations, most recently active
// first, excluding closed ones.
func (s *PG) ListConversations(ctx context.Context, owner string) ([]*model.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+convCols+` FROM conversations
		  WHERE owner_user_id = $1 AND status <> $2
		  ORDER BY last_activity DESC`, owner, model.ConvStatusClosed)
	if err != nil {
		return nil, errs.ErrFetchFailed.WrapMsg("list conversations", "owner", owner, "err", err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, errs.ErrFetchFailed.WrapMsg("scan conversation", "err", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertConversation persists a new conversation and fills in the assigned
// id and timestamps.
func (s *PG) InsertConversation(ctx context.Context, c *model.Conversation) error {
	meta, _ := json.Marshal(c.Metadata)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (owner_user_id, title, topic, status, last_activity, message_count, metadata)
		 VALUES ($1, $2, NULLIF($3, ''), $4, now(), 0, $5)
		 RETURNING id, last_activity, created_at`,
		c.OwnerUserID, c.Title, c.Topic, model.ConvStatusActive, meta).
		Scan(&c.ID, &c.LastActivity, &c.CreatedAt)
	if err != nil {
		return errs.WrapMsg(err, "insert conversation", "owner", c.OwnerUserID)
	}
	c.Status = model.ConvStatusActive
	return nil
}

// RenameConversation updates the title.
func (s *PG) RenameConversation(ctx context.Context, id, title string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $2 WHERE id = $1`, id, title)
	return errs.WrapMsg(err, "rename conversation", "id", id)
}

// SetConversationStatus moves the soft lifecycle state. Conversations are
// never physically deleted while messages reference them.
func (s *PG) SetConversationStatus(ctx context.Context, id, status string) error {
	if !model.ValidConvStatus(status) {
		return errs.ErrArgs.WrapMsg("conversation status", "status", status)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $2 WHERE id = $1`, id, status)
	return errs.WrapMsg(err, "set conversation status", "id", id)
}

// TouchConversation bumps last_activity and the message counter after a new
// message.
func (s *PG) TouchConversation(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations
		    SET last_activity = GREATEST(last_activity, $2),
		        message_count = message_count + 1
		  WHERE id = $1`, id, at)
	return errs.WrapMsg(err, "touch conversation", "id", id)
}

package store

import (
	"context"

	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/errs"
)

// UpsertPresence overwrites the user's single durable presence row. Only
// the latest state is kept, never a history.
func (s *PG) UpsertPresence(ctx context.Context, rec model.PresenceRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_presence (user_id, status, last_seen, viewing_conversation)
		 VALUES ($1, $2, $3, NULLIF($4, ''))
		 ON CONFLICT (user_id) DO UPDATE
		    SET status = EXCLUDED.status,
		        last_seen = EXCLUDED.last_seen,
		        viewing_conversation = EXCLUDED.viewing_conversation`,
		rec.UserID, rec.Status, rec.LastSeen, rec.ViewingConversation)
	return errs.WrapMsg(err, "upsert presence", "user", rec.UserID)
}

// GetPresence returns the user's durable presence row, or nil when absent.
func (s *PG) GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	var (
		rec     model.PresenceRecord
		viewing *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, status, last_seen, viewing_conversation
		   FROM user_presence WHERE user_id = $1`, userID).
		Scan(&rec.UserID, &rec.Status, &rec.LastSeen, &viewing)
	if err != nil {
		return nil, errs.ErrFetchFailed.WrapMsg("get presence", "user", userID, "err", err)
	}
	if viewing != nil {
		rec.ViewingConversation = *viewing
	}
	return &rec, nil
}

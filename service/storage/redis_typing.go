package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/errs"
)

// typing key: chat:typing:<conversation>:<user>
// The TTL is the typing expiry window, so an abandoned indicator clears
// itself even if the client never publishes a stop.
func typingKey(conv, user string) string {
	return "chat:typing:" + conv + ":" + user
}

// TypingSet upserts the ephemeral typing row for its expiry window.
func (r *Redis) TypingSet(ctx context.Context, ind model.TypingIndicator, ttl time.Duration) error {
	if r == nil || r.rdb == nil {
		return errs.ErrNotReady.WrapMsg("redis")
	}
	return r.rdb.Set(ctx, typingKey(ind.ConversationID, ind.UserID), "1", ttl).Err()
}

// TypingClear removes the row on an explicit stop.
func (r *Redis) TypingClear(ctx context.Context, conv, user string) error {
	if r == nil || r.rdb == nil {
		return errs.ErrNotReady.WrapMsg("redis")
	}
	return r.rdb.Del(ctx, typingKey(conv, user)).Err()
}

// TypingActive reports whether the user's indicator is still inside its
// window.
func (r *Redis) TypingActive(ctx context.Context, conv, user string) (bool, error) {
	if r == nil || r.rdb == nil {
		return false, errs.ErrNotReady.WrapMsg("redis")
	}
	_, err := r.rdb.Get(ctx, typingKey(conv, user)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/errs"
)

// presence key: chat:presence:<user>
// Value is the JSON presence record; the TTL bounds the online validity
// period so a vanished client goes offline without an explicit signal.
func presenceKey(user string) string { return "chat:presence:" + user }

// PresenceUpsert sets the user's presence record and renews the TTL.
func (r *Redis) PresenceUpsert(ctx context.Context, rec model.PresenceRecord, ttl time.Duration) error {
	if r == nil || r.rdb == nil {
		return errs.ErrNotReady.WrapMsg("redis")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return errs.WrapMsg(err, "marshal presence", "user", rec.UserID)
	}
	return r.rdb.Set(ctx, presenceKey(rec.UserID), raw, ttl).Err()
}

// PresenceRemove deletes the record, actively marking the user offline.
func (r *Redis) PresenceRemove(ctx context.Context, user string) error {
	if r == nil || r.rdb == nil {
		return errs.ErrNotReady.WrapMsg("redis")
	}
	return r.rdb.Del(ctx, presenceKey(user)).Err()
}

// PresenceLookup returns the record when the user is currently online.
func (r *Redis) PresenceLookup(ctx context.Context, user string) (*model.PresenceRecord, bool, error) {
	if r == nil || r.rdb == nil {
		return nil, false, errs.ErrNotReady.WrapMsg("redis")
	}
	raw, err := r.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec model.PresenceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, errs.WrapMsg(err, "decode presence", "user", user)
	}
	return &rec, true, nil
}

// Package sessions contains external stores for mines sessions.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"dicebot/pkg/casino"

	"github.com/redis/go-redis/v9"
)

// removeIfOwner deletes user index key only when it still points to the session.
var removeIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a casino.SessionRepository backed by redis. Sessions are stored
// as JSON under {prefix}session:{id}, the user index under {prefix}user:{userID}.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis returns Redis store, zero ttl keeps sessions until they are removed.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) sessionKey(id string) string {
	return r.prefix + "session:" + id
}

func (r *Redis) userKey(userID int64) string {
	return r.prefix + "user:" + strconv.FormatInt(userID, 10)
}

func (r *Redis) Create(ctx context.Context, s *casino.MinesSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, r.userKey(s.UserID), s.ID, r.ttl).Result()
	if err != nil {
		return err
	} else if !ok {
		return casino.ErrConflictingSession
	}

	if err = r.client.Set(ctx, r.sessionKey(s.ID), data, r.ttl).Err(); err != nil {
		r.client.Del(ctx, r.userKey(s.UserID))
		return err
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*casino.MinesSession, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return decode(data)
}

func (r *Redis) ByUser(ctx context.Context, userID int64) (*casino.MinesSession, error) {
	id, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		// dangling index entry
		removeIfOwner.Run(ctx, r.client, []string{r.userKey(userID)}, id)
	}
	return s, nil
}

func (r *Redis) Save(ctx context.Context, s *casino.MinesSession) error {
	id, err := r.client.Get(ctx, r.userKey(s.UserID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && id != s.ID) {
		return casino.ErrNoActiveSession
	} else if err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(s.ID), data, r.ttl)
		if r.ttl > 0 {
			pipe.Expire(ctx, r.userKey(s.UserID), r.ttl)
		}
		return nil
	})
	return err
}

func (r *Redis) Remove(ctx context.Context, s *casino.MinesSession) error {
	if err := r.client.Del(ctx, r.sessionKey(s.ID)).Err(); err != nil {
		return err
	}
	return removeIfOwner.Run(ctx, r.client, []string{r.userKey(s.UserID)}, s.ID).Err()
}

func (r *Redis) List(ctx context.Context) ([]*casino.MinesSession, error) {
	var res []*casino.MinesSession

	iter := r.client.Scan(ctx, 0, r.prefix+"session:*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		} else if err != nil {
			return nil, err
		}
		s, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Val(), err)
		}
		res = append(res, s)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	sort.Slice(res, func(i, j int) bool { return res[i].StartedAt.Before(res[j].StartedAt) })
	return res, nil
}

func decode(data []byte) (*casino.MinesSession, error) {
	s := &casino.MinesSession{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if s.Revealed == nil {
		s.Revealed = map[int]int{}
	}
	return s, nil
}

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore mirrors connection and presence state into Redis so other
// instances (and the periodic status poll of the outer product) can observe
// it without reaching into this process.
//
// Keys:
//   <prefix>:conn:<userID>     set of connection meta JSON
//   <prefix>:presence:<userID> json {status,last_seen}
type RedisStore struct {
	client *redis.Client
	prefix string
}

type ConnMeta struct {
	ConnID      string `json:"conn_id"`
	ConnectedAt int64  `json:"connected_at"`
}

type PresenceState struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) connKey(userID string) string {
	return fmt.Sprintf("%s:conn:%s", s.prefix, userID)
}

func (s *RedisStore) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

func (s *RedisStore) AddConnection(ctx context.Context, userID, connID string, ttl time.Duration) error {
	meta, _ := json.Marshal(ConnMeta{ConnID: connID, ConnectedAt: time.Now().Unix()})
	if err := s.client.SAdd(ctx, s.connKey(userID), meta).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, s.connKey(userID), ttl).Err()
}

func (s *RedisStore) RemoveConnection(ctx context.Context, userID, connID string) error {
	key := s.connKey(userID)
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return err
	}
	for _, m := range members {
		var cm ConnMeta
		if json.Unmarshal([]byte(m), &cm) == nil && cm.ConnID == connID {
			if err := s.client.SRem(ctx, key, m).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RedisStore) SetPresence(ctx context.Context, userID string, online bool) error {
	status := "offline"
	if online {
		status = "online"
	}
	now := time.Now().Unix()
	b, _ := json.Marshal(PresenceState{Status: status, LastSeen: now})
	if err := s.client.Set(ctx, s.presenceKey(userID), b, 0).Err(); err != nil {
		return err
	}
	note, _ := json.Marshal(struct {
		UserID   string `json:"user_id"`
		Status   string `json:"status"`
		LastSeen int64  `json:"last_seen"`
	}{UserID: userID, Status: status, LastSeen: now})
	return s.client.Publish(ctx, s.prefix+":presence", note).Err()
}

func (s *RedisStore) GetPresence(ctx context.Context, userID string) (*PresenceState, error) {
	b, err := s.client.Get(ctx, s.presenceKey(userID)).Bytes()
	if err != nil {
		return nil, err
	}
	var st PresenceState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

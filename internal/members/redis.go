package members

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisRoster keeps one hash per chat, field = user id, value = JSON member.
// Bot instances behind one webhook share it.
type RedisRoster struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRoster(client redis.UniversalClient, prefix string) *RedisRoster {
	return &RedisRoster{client: client, prefix: prefix}
}

func (r *RedisRoster) key(chatID int64) string {
	return fmt.Sprintf("%sroster:%d", r.prefix, chatID)
}

func (r *RedisRoster) Add(ctx context.Context, chatID int64, m Member) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal member: %w", err)
	}
	return r.client.HSet(ctx, r.key(chatID), strconv.FormatInt(m.ID, 10), data).Err()
}

func (r *RedisRoster) Remove(ctx context.Context, chatID, userID int64) error {
	return r.client.HDel(ctx, r.key(chatID), strconv.FormatInt(userID, 10)).Err()
}

func (r *RedisRoster) List(ctx context.Context, chatID int64) ([]Member, error) {
	all, err := r.client.HGetAll(ctx, r.key(chatID)).Result()
	if err != nil {
		return nil, err
	}
	res := make([]Member, 0, len(all))
	for field, raw := range all {
		var m Member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal member %s: %w", field, err)
		}
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

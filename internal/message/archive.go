package message

import (
	"context"
	"encoding/json"
	"log"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Archive is the durable side of the message log. It retains full history
// independently of the in-memory recent windows and serves pagination.
type Archive interface {
	Append(m *Message)
	Find(id string) *Message
	Delete(id string) *Message
	Paginate(key string, before time.Time, limit int) []*Message
	Purge(key string)
	Count(key string) int
}

// msgKey returns the Redis key holding one message body.
func msgKey(id string) string {
	return "msg:" + id
}

// histKey returns the Redis key for a room or conversation timeline.
func histKey(key string) string {
	return "hist:" + key
}

// RedisArchive stores messages as JSON strings indexed by a sorted set
// per timeline, scored by creation time in milliseconds. Appending an
// existing ID overwrites in place, so reaction and read-receipt updates
// write through with a plain Append.
type RedisArchive struct {
	client redis.Cmdable
}

// NewRedisArchive creates an archive backed by the given Redis client.
func NewRedisArchive(client redis.Cmdable) *RedisArchive {
	return &RedisArchive{client: client}
}

func archiveCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

// Append writes a message to its timeline, overwriting any previous
// version with the same ID.
func (a *RedisArchive) Append(m *Message) {
	ctx, cancel := archiveCtx()
	defer cancel()

	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("redis: failed to marshal message %s: %v", m.ID, err)
		return
	}

	pipe := a.client.Pipeline()
	pipe.Set(ctx, msgKey(m.ID), data, 0)
	pipe.ZAdd(ctx, histKey(m.HistoryKey()), redis.Z{
		Score:  float64(m.CreatedAt.UnixMilli()),
		Member: m.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("redis: failed to append message %s: %v", m.ID, err)
	}
}

// Find returns the archived message with the given ID, or nil.
func (a *RedisArchive) Find(id string) *Message {
	ctx, cancel := archiveCtx()
	defer cancel()

	data, err := a.client.Get(ctx, msgKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("redis: failed to read message %s: %v", id, err)
		}
		return nil
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		log.Printf("redis: failed to decode message %s: %v", id, err)
		return nil
	}
	return &m
}

// Delete removes a message from the archive and its timeline, returning
// the removed message or nil if unknown.
func (a *RedisArchive) Delete(id string) *Message {
	m := a.Find(id)
	if m == nil {
		return nil
	}

	ctx, cancel := archiveCtx()
	defer cancel()

	pipe := a.client.Pipeline()
	pipe.Del(ctx, msgKey(id))
	pipe.ZRem(ctx, histKey(m.HistoryKey()), id)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("redis: failed to delete message %s: %v", id, err)
	}
	return m
}

// Paginate returns up to limit messages strictly older than before for a
// timeline, ascending. A zero before pages from the end of the timeline.
func (a *RedisArchive) Paginate(key string, before time.Time, limit int) []*Message {
	limit = ClampPageSize(limit)

	max := "+inf"
	if !before.IsZero() {
		max = "(" + strconv.FormatInt(before.UnixMilli(), 10)
	}

	ctx, cancel := archiveCtx()
	defer cancel()

	ids, err := a.client.ZRevRangeByScore(ctx, histKey(key), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: int64(limit),
	}).Result()
	if err != nil {
		log.Printf("redis: failed to page timeline %s: %v", key, err)
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = msgKey(id)
	}
	vals, err := a.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Printf("redis: failed to fetch page for %s: %v", key, err)
		return nil
	}

	msgs := make([]*Message, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		msgs = append(msgs, &m)
	}
	slices.Reverse(msgs)
	return msgs
}

// Purge drops a timeline and every message on it.
func (a *RedisArchive) Purge(key string) {
	ctx, cancel := archiveCtx()
	defer cancel()

	ids, err := a.client.ZRange(ctx, histKey(key), 0, -1).Result()
	if err != nil {
		log.Printf("redis: failed to list timeline %s: %v", key, err)
		return
	}

	pipe := a.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, msgKey(id))
	}
	pipe.Del(ctx, histKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("redis: failed to purge timeline %s: %v", key, err)
	}
}

// Count returns the number of archived messages on a timeline.
func (a *RedisArchive) Count(key string) int {
	ctx, cancel := archiveCtx()
	defer cancel()

	n, err := a.client.ZCard(ctx, histKey(key)).Result()
	if err != nil {
		log.Printf("redis: failed to count timeline %s: %v", key, err)
		return 0
	}
	return int(n)
}

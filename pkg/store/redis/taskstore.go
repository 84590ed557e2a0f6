package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/igorsilveira/sqlagent/pkg/a2a"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sqlagent:"

// TaskStore keeps each task as a JSON string with a TTL. Sorted sets scored
// by update time index all tasks and the tasks of each session.
type TaskStore struct {
	client *redis.Client
	ttl    time.Duration
}

func New(ctx context.Context, addr, password string, db int, ttl time.Duration) (*TaskStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &TaskStore{client: client, ttl: ttl}, nil
}

func (s *TaskStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("redis.TaskStore.Close: %w", err)
	}
	return nil
}

func (s *TaskStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *TaskStore) Save(ctx context.Context, task *a2a.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("redis.TaskStore.Save: marshal: %w", err)
	}

	updated := task.Status.Timestamp
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	member := redis.Z{Score: float64(updated.UnixMilli()), Member: task.ID}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, TaskKey(task.ID), data, s.ttl)
		pipe.ZAdd(ctx, IndexKey(), member)
		if task.SessionID != "" {
			pipe.ZAdd(ctx, SessionIndexKey(task.SessionID), member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis.TaskStore.Save: %w", err)
	}
	return nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*a2a.Task, error) {
	data, err := s.client.Get(ctx, TaskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("task %q: %w", id, a2a.ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis.TaskStore.Get: %w", err)
	}

	var t a2a.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("redis.TaskStore.Get: decode: %w", err)
	}
	return &t, nil
}

// List returns tasks newest first. Index entries whose task key has expired
// are removed as they are found.
func (s *TaskStore) List(ctx context.Context, filter a2a.TaskFilter) ([]*a2a.Task, error) {
	index := IndexKey()
	if filter.SessionID != "" {
		index = SessionIndexKey(filter.SessionID)
	}

	stop := int64(-1)
	if filter.Limit > 0 {
		stop = int64(filter.Limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.TaskStore.List: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = TaskKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.TaskStore.List: %w", err)
	}

	tasks := make([]*a2a.Task, 0, len(values))
	var expired []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var t a2a.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("redis.TaskStore.List: decode %s: %w", ids[i], err)
		}
		tasks = append(tasks, &t)
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, index, expired...).Err(); err != nil {
			return nil, fmt.Errorf("redis.TaskStore.List: trim index: %w", err)
		}
	}
	return tasks, nil
}

func TaskKey(id string) string {
	return keyPrefix + "task:" + id
}

func IndexKey() string {
	return keyPrefix + "tasks"
}

func SessionIndexKey(sessionID string) string {
	return keyPrefix + "session:" + sessionID + ":tasks"
}

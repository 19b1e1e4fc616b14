package taskstore

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-agent/pkg/codec"
	"github.com/kart-io/sentinel-agent/pkg/errors"
	"github.com/kart-io/sentinel-agent/pkg/scheduling"
)

// Redis keeps the tasks of each owner in one hash, one field per task.
type Redis struct {
	rdb    goredis.UniversalClient
	prefix string
}

var _ scheduling.TaskStore = (*Redis)(nil)

// NewRedis creates a store writing under prefix.
func NewRedis(rdb goredis.UniversalClient, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix + "tasks:"}
}

func (r *Redis) hash(ownerKey string) string {
	return r.prefix + ownerKey
}

func (r *Redis) Save(ctx context.Context, task scheduling.Task) error {
	data, err := codec.Marshal(task)
	if err != nil {
		return errors.ErrStore.WithCause(err)
	}
	if err := r.rdb.HSet(ctx, r.hash(task.OwnerKey), task.ID, data).Err(); err != nil {
		return errors.ErrStore.WithCause(err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, ownerKey, id string) error {
	if err := r.rdb.HDel(ctx, r.hash(ownerKey), id).Err(); err != nil {
		return errors.ErrStore.WithCause(err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, ownerKey string) ([]scheduling.Task, error) {
	all, err := r.rdb.HGetAll(ctx, r.hash(ownerKey)).Result()
	if err != nil {
		return nil, errors.ErrStore.WithCause(err)
	}

	tasks := make([]scheduling.Task, 0, len(all))
	for _, data := range all {
		var t scheduling.Task
		if err := codec.Unmarshal([]byte(data), &t); err != nil {
			return nil, errors.ErrStore.WithCause(err)
		}
		tasks = append(tasks, t)
	}
	sortTasks(tasks)
	return tasks, nil
}

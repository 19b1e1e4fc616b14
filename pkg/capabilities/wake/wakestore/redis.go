package wakestore

import (
	"context"
	stderrors "errors"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake"
	"github.com/kart-io/sentinel-agent/pkg/codec"
	"github.com/kart-io/sentinel-agent/pkg/errors"
)

// Redis keeps all registrations in one hash, one field per key.
type Redis struct {
	rdb  goredis.UniversalClient
	hash string
}

var _ wake.Store = (*Redis)(nil)

// NewRedis creates a store writing under prefix.
func NewRedis(rdb goredis.UniversalClient, prefix string) *Redis {
	return &Redis{rdb: rdb, hash: prefix + "wake:registrations"}
}

func (r *Redis) Put(ctx context.Context, reg wake.Registration) error {
	data, err := codec.Marshal(reg)
	if err != nil {
		return errors.ErrStore.WithCause(err)
	}
	if err := r.rdb.HSet(ctx, r.hash, reg.Key, data).Err(); err != nil {
		return errors.ErrStore.WithCause(err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (wake.Registration, error) {
	data, err := r.rdb.HGet(ctx, r.hash, key).Bytes()
	if stderrors.Is(err, goredis.Nil) {
		return wake.Registration{}, errors.ErrRecordNotFound.WithMessagef("registration %q not found", key)
	}
	if err != nil {
		return wake.Registration{}, errors.ErrStore.WithCause(err)
	}
	return decodeRegistration(data)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.HDel(ctx, r.hash, key).Err(); err != nil {
		return errors.ErrStore.WithCause(err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]wake.Registration, error) {
	all, err := r.rdb.HGetAll(ctx, r.hash).Result()
	if err != nil {
		return nil, errors.ErrStore.WithCause(err)
	}

	regs := make([]wake.Registration, 0, len(all))
	for _, data := range all {
		reg, err := decodeRegistration([]byte(data))
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Key < regs[j].Key })
	return regs, nil
}

func decodeRegistration(data []byte) (wake.Registration, error) {
	var reg wake.Registration
	if err := codec.Unmarshal(data, &reg); err != nil {
		return wake.Registration{}, errors.ErrStore.WithCause(err)
	}
	return reg, nil
}

package wakestore

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake"
	"github.com/kart-io/sentinel-agent/pkg/codec"
	"github.com/kart-io/sentinel-agent/pkg/errors"
)

// Etcd keeps each registration under prefix + "wake/" + key.
type Etcd struct {
	kv      clientv3.KV
	prefix  string
	timeout time.Duration
}

var _ wake.Store = (*Etcd)(nil)

// NewEtcd creates a store on kv. timeout bounds every request; zero
// leaves the caller's context in charge.
func NewEtcd(kv clientv3.KV, prefix string, timeout time.Duration) *Etcd {
	return &Etcd{kv: kv, prefix: prefix + "wake/", timeout: timeout}
}

func (e *Etcd) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Etcd) Put(ctx context.Context, reg wake.Registration) error {
	data, err := codec.Marshal(reg)
	if err != nil {
		return errors.ErrStore.WithCause(err)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if _, err := e.kv.Put(ctx, e.prefix+reg.Key, string(data)); err != nil {
		return errors.ErrStore.WithCause(err)
	}
	return nil
}

func (e *Etcd) Get(ctx context.Context, key string) (wake.Registration, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	resp, err := e.kv.Get(ctx, e.prefix+key)
	if err != nil {
		return wake.Registration{}, errors.ErrStore.WithCause(err)
	}
	if len(resp.Kvs) == 0 {
		return wake.Registration{}, errors.ErrRecordNotFound.WithMessagef("registration %q not found", key)
	}
	return decodeRegistration(resp.Kvs[0].Value)
}

func (e *Etcd) Delete(ctx context.Context, key string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if _, err := e.kv.Delete(ctx, e.prefix+key); err != nil {
		return errors.ErrStore.WithCause(err)
	}
	return nil
}

func (e *Etcd) List(ctx context.Context) ([]wake.Registration, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	resp, err := e.kv.Get(ctx, e.prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, errors.ErrStore.WithCause(err)
	}

	regs := make([]wake.Registration, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		reg, err := decodeRegistration(kv.Value)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

package wakestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake"
	"github.com/kart-io/sentinel-agent/pkg/errors"
)

func registration(key string, greeting string) wake.Registration {
	return wake.Registration{
		Key:  key,
		Kind: "echo",
		Config: capabilities.Config{
			Key:    key,
			Kind:   "echo",
			Params: map[string]interface{}{"greeting": greeting},
		},
	}
}

// testStore runs the contract every backend must satisfy.
func testStore(t *testing.T, store wake.Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrRecordNotFound)

	require.NoError(t, store.Put(ctx, registration("agent-b", "hello")))
	require.NoError(t, store.Put(ctx, registration("agent-a", "hi")))

	got, err := store.Get(ctx, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, registration("agent-b", "hello"), got)

	// Put replaces.
	require.NoError(t, store.Put(ctx, registration("agent-b", "bonjour")))
	got, err = store.Get(ctx, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", got.Config.Params["greeting"])

	regs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, "agent-a", regs[0].Key)
	assert.Equal(t, "agent-b", regs[1].Key)

	require.NoError(t, store.Delete(ctx, "agent-a"))
	require.NoError(t, store.Delete(ctx, "agent-a"))
	_, err = store.Get(ctx, "agent-a")
	assert.ErrorIs(t, err, errors.ErrRecordNotFound)

	regs, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, regs, 1)
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestMemoryCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	reg := registration("agent-a", "hi")
	require.NoError(t, store.Put(ctx, reg))
	reg.Config.Params["greeting"] = "changed"

	got, err := store.Get(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Config.Params["greeting"])

	got.Config.Params["greeting"] = "changed again"
	again, err := store.Get(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Config.Params["greeting"])
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	testStore(t, NewRedis(rdb, "test:"))
	assert.True(t, mr.Exists("test:wake:registrations"))
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	_, err := NewRedis(rdb, "test:").Get(context.Background(), "agent-a")
	assert.ErrorIs(t, err, errors.ErrStore)
}

func TestSQL(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "wake.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	store, err := NewSQL(context.Background(), db)
	require.NoError(t, err)
	testStore(t, store)
}

// TestEtcd needs a reachable cluster in ETCD_ENDPOINTS.
func TestEtcd(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(endpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer cli.Close()

	prefix := "/sentinel-test/" + t.Name() + "/"
	_, err = cli.Delete(context.Background(), prefix, clientv3.WithPrefix())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = cli.Delete(context.Background(), prefix, clientv3.WithPrefix())
	})

	testStore(t, NewEtcd(cli, prefix, 5*time.Second))
}

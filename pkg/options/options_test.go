package options_test

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-agent/pkg/infra/pool"
	"github.com/kart-io/sentinel-agent/pkg/options"
	etcdopts "github.com/kart-io/sentinel-agent/pkg/options/etcd"
	poolopts "github.com/kart-io/sentinel-agent/pkg/options/pool"
	redisopts "github.com/kart-io/sentinel-agent/pkg/options/redis"
	scheduleropts "github.com/kart-io/sentinel-agent/pkg/options/scheduler"
	sqlopts "github.com/kart-io/sentinel-agent/pkg/options/sql"
	tracingopts "github.com/kart-io/sentinel-agent/pkg/options/tracing"
	wakeopts "github.com/kart-io/sentinel-agent/pkg/options/wake"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, "", options.Join())
	assert.Equal(t, "redis.", options.Join("redis"))
	assert.Equal(t, "store.redis.", options.Join("store", "redis"))
}

func TestDefaultsValidate(t *testing.T) {
	for name, o := range map[string]options.CliOptions{
		"redis":     redisopts.NewOptions(),
		"etcd":      etcdopts.NewOptions(),
		"sql":       sqlopts.NewOptions(),
		"pool":      poolopts.NewOptions(),
		"scheduler": scheduleropts.NewOptions(),
		"wake":      wakeopts.NewOptions(),
		"tracing":   tracingopts.NewOptions(),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, o.Complete())
			assert.NoError(t, o.Validate())
		})
	}
}

func TestInvalidOptions(t *testing.T) {
	s := scheduleropts.NewOptions()
	s.TaskStore = "disk"
	assert.Error(t, s.Validate())

	w := wakeopts.NewOptions()
	w.Seeds = []wakeopts.Seed{{Key: "agent-1"}}
	assert.Error(t, w.Validate())

	q := sqlopts.NewOptions()
	q.Driver = sqlopts.DriverMySQL
	require.NoError(t, q.Complete())
	assert.Equal(t, 3306, q.Port)
	assert.Error(t, q.Validate(), "mysql requires a host")

	r := redisopts.NewOptions()
	r.Port = 0
	assert.Error(t, r.Validate())
}

func TestRedisFlagsWithPrefix(t *testing.T) {
	o := redisopts.NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--redis.host=cache.internal", "--redis.port=6380"}))
	assert.Equal(t, "cache.internal:6380", o.Addr())
	assert.NotContains(t, o.String(), "secret")
}

func TestPoolConfig(t *testing.T) {
	o := poolopts.NewOptions()
	o.DispatchCapacity = 7
	o.BackgroundCapacity = 3

	assert.Equal(t, 7, o.Config(pool.DispatchPool).Capacity)
	assert.Equal(t, 3, o.Config(pool.BackgroundPool).Capacity)
	assert.False(t, o.Config(pool.DispatchPool).Nonblocking)
}

func TestTracingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *tracingopts.Options)
		wantErr bool
	}{
		{name: "disabled ignores bad values", mutate: func(o *tracingopts.Options) { o.ExporterType = "zipkin" }},
		{name: "enabled defaults", mutate: func(o *tracingopts.Options) { o.Enabled = true }},
		{name: "stdout without endpoint", mutate: func(o *tracingopts.Options) {
			o.Enabled, o.ExporterType, o.Endpoint = true, tracingopts.ExporterStdout, ""
		}},
		{name: "otlp without endpoint", wantErr: true, mutate: func(o *tracingopts.Options) {
			o.Enabled, o.Endpoint = true, ""
		}},
		{name: "unknown exporter", wantErr: true, mutate: func(o *tracingopts.Options) {
			o.Enabled, o.ExporterType = true, "zipkin"
		}},
		{name: "ratio out of range", wantErr: true, mutate: func(o *tracingopts.Options) {
			o.Enabled, o.SamplerType, o.SamplerRatio = true, tracingopts.SamplerRatio, 1.5
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tracingopts.NewOptions()
			tt.mutate(o)
			if err := o.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTracingFlags(t *testing.T) {
	o := tracingopts.NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--tracing.enabled",
		"--tracing.exporter-type=otlp_http",
		"--tracing.headers=x-token=abc",
	}))
	assert.True(t, o.Enabled)
	assert.Equal(t, tracingopts.ExporterOTLPHTTP, o.ExporterType)
	assert.Equal(t, "abc", o.Headers["x-token"])
}

package agentd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-agent/pkg/infra/app"
	scheduleropts "github.com/kart-io/sentinel-agent/pkg/options/scheduler"
	wakeopts "github.com/kart-io/sentinel-agent/pkg/options/wake"
)

func TestSampleConfig(t *testing.T) {
	opts := NewOptions()
	var ran bool
	a := app.NewApp(
		app.WithName(appName),
		app.WithNoVersion(),
		app.WithOptions(opts),
		app.WithRunFunc(func(context.Context) error {
			ran = true
			return nil
		}),
	)
	a.Command().SetArgs([]string{"-c", "../../configs/sentinel-agentd.yaml", "--wake.eager=false"})
	require.NoError(t, a.Command().Execute())

	require.True(t, ran)
	assert.Equal(t, scheduleropts.StoreRedis, opts.Scheduler.TaskStore)
	assert.Equal(t, wakeopts.StoreRedis, opts.Wake.Store)
	assert.False(t, opts.Wake.Eager, "flags win over the file")
	assert.Equal(t, 30*time.Second, opts.Wake.BootTimeout)
	require.Len(t, opts.Wake.Seeds, 1)
	assert.Equal(t, "hello", opts.Wake.Seeds[0].Params["greeting"])
	assert.Equal(t, 64, opts.Pool.DispatchCapacity)
	assert.True(t, opts.UsesRedis())
	assert.False(t, opts.UsesEtcd())
}

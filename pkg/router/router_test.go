package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/kotoba/pkg/config"
	"github.com/pario-ai/kotoba/pkg/models"
	"github.com/pario-ai/kotoba/pkg/retry"
)

func TestResolveDefaults(t *testing.T) {
	r := New(config.Default())

	for _, op := range models.Operations {
		route, err := r.Resolve(op)
		require.NoError(t, err)
		assert.Equal(t, op, route.Operation)
		assert.Equal(t, "gemini-2.0-flash", route.Model)
		assert.Equal(t, retry.DefaultPolicy(), route.Policy)
	}
}

func TestResolveOverlay(t *testing.T) {
	temp := 0.2
	cfg := config.Default()
	one := 1
	cfg.Routes[models.OpIdentify] = config.RouteConfig{
		Model:       "gemini-2.0-pro",
		Retry:       config.RetryOverride{MaxRetries: &one, InitialDelay: 500 * time.Millisecond},
		Temperature: &temp,
	}

	route, err := New(cfg).Resolve(models.OpIdentify)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.0-pro", route.Model)
	assert.Equal(t, 1, route.Policy.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, route.Policy.InitialDelay)
	assert.Equal(t, 32*time.Second, route.Policy.MaxDelay)
	assert.Equal(t, 2.0, route.Policy.BackoffMultiplier)
	require.NotNil(t, route.Temperature)
	assert.Equal(t, 0.2, *route.Temperature)
}

func TestResolveRouteDisablesRetries(t *testing.T) {
	zero := 0
	cfg := config.Default()
	cfg.Routes[models.OpIdentify] = config.RouteConfig{Retry: config.RetryOverride{MaxRetries: &zero}}

	r := New(cfg)
	route, err := r.Resolve(models.OpIdentify)
	require.NoError(t, err)
	assert.Equal(t, 0, route.Policy.MaxRetries)
	assert.Equal(t, time.Second, route.Policy.InitialDelay)

	route, err = r.Resolve(models.OpAnalyze)
	require.NoError(t, err)
	assert.Equal(t, 3, route.Policy.MaxRetries)
}

func TestResolveMissingRoute(t *testing.T) {
	cfg := config.Default()
	cfg.Routes = nil

	route, err := New(cfg).Resolve(models.OpExtract)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, route.Model)
	assert.Equal(t, cfg.Retry, route.Policy)
}

func TestResolveUnknownOperation(t *testing.T) {
	_, err := New(config.Default()).Resolve("summarize")
	assert.Error(t, err)
}

func TestResolveInvalidPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Routes[models.OpAnalyze] = config.RouteConfig{Retry: config.RetryOverride{BackoffMultiplier: 0.5}}

	_, err := New(cfg).Resolve(models.OpAnalyze)
	assert.Error(t, err)
}

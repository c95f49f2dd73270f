package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 10*time.Minute, cfg.ReconcileInterval)
	require.Equal(t, 72*time.Hour, cfg.ReconcileWindow)
	require.Equal(t, 0, cfg.DefaultCreditDays)
	require.False(t, cfg.AllowNegativeStock)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("RECONCILE_INTERVAL", "5m")
	t.Setenv("DEFAULT_CREDIT_DAYS", "30")
	t.Setenv("ALLOW_NEGATIVE_STOCK", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
	require.Equal(t, 30, cfg.DefaultCreditDays)
	require.True(t, cfg.AllowNegativeStock)
}

func TestReferenceMethodsTrimsAndSkipsEmpties(t *testing.T) {
	cfg := &Config{ReferenceRequiredMethods: " transfer , cheque ,,"}
	require.Equal(t, []string{"transfer", "cheque"}, cfg.ReferenceMethods())

	cfg.ReferenceRequiredMethods = ""
	require.Nil(t, cfg.ReferenceMethods())
}

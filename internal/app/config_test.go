package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, StoreDriverPostgres, cfg.TrustStoreDriver)
	require.Equal(t, trust.TxModeAuto, cfg.TxMode())
	require.Equal(t, 30*time.Minute, cfg.ReconcileConfig().LeaseTTL)

	rates, err := cfg.TaxRates()
	require.NoError(t, err)
	require.True(t, rates.CGTRate.Equal(decimal.RequireFromString("0.20")))
	require.True(t, rates.VATSaleRate.Equal(decimal.RequireFromString("0.15")))
	require.True(t, rates.VATOnCommissionRate.Equal(decimal.RequireFromString("0.155")))
	require.False(t, rates.VATOnSaleEnabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("TRUST_STORE_DRIVER", "mongo")
	t.Setenv("TRUST_TX_MODE", "sequential")
	t.Setenv("TRUST_VAT_ON_SALE_ENABLED", "true")
	t.Setenv("TRUST_RECON_CONCURRENCY", "8")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StoreDriverMongo, cfg.TrustStoreDriver)
	require.Equal(t, trust.TxModeSequential, cfg.TxMode())
	require.Equal(t, 8, cfg.ReconcileConfig().Concurrency)

	rates, err := cfg.TaxRates()
	require.NoError(t, err)
	require.True(t, rates.VATOnSaleEnabled)
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	cases := map[string][2]string{
		"unknown driver": {"TRUST_STORE_DRIVER", "sqlite"},
		"unknown lock":   {"TRUST_LOCK_DRIVER", "etcd"},
		"unknown mode":   {"TRUST_TX_MODE", "eventual"},
		"rate above one": {"TRUST_CGT_RATE", "1.5"},
		"rate not num":   {"TRUST_VAT_SALE_RATE", "fifteen"},
		"bad cron":       {"TRUST_RECON_CRON", "every night"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestGLMirrorRequiresPostgres(t *testing.T) {
	t.Setenv("TRUST_STORE_DRIVER", "memory")
	t.Setenv("TRUST_GL_MIRROR", "true")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "TRUST_GL_MIRROR")
}

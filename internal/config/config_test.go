package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SIMULATION_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "BTC", cfg.TradingAsset)
	assert.True(t, cfg.EntryPrice.Equal(decimal.NewFromFloat(0.45)))
	assert.True(t, cfg.StopLossPrice.Equal(decimal.NewFromFloat(0.72)))
	assert.True(t, cfg.MaxDailyLoss.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 5, cfg.MaxConsecutiveLosses)
	assert.Equal(t, 20, cfg.RedeemPollAttempts)
	assert.Equal(t, "fixed", cfg.SizingMode)

	// 15m on by default, 5m opt-in.
	tfs := cfg.EnabledTimeframes()
	require.Len(t, tfs, 1)
	assert.Equal(t, "15m", tfs[0].Label)
	assert.Equal(t, int64(900), tfs[0].PeriodSeconds)
}

func TestLoadEnablesSecondStream(t *testing.T) {
	t.Setenv("SIMULATION_MODE", "true")
	t.Setenv("ENABLE_5M", "true")
	t.Setenv("TF5_ENTRY_PRICE", "0.47")

	cfg, err := Load()
	require.NoError(t, err)

	tfs := cfg.EnabledTimeframes()
	require.Len(t, tfs, 2)
	assert.Equal(t, "5m", tfs[0].Label)
	assert.True(t, tfs[0].EntryPrice.Equal(decimal.NewFromFloat(0.47)))
}

func TestLoadRejectsBadSizingMode(t *testing.T) {
	t.Setenv("SIMULATION_MODE", "true")
	t.Setenv("POSITION_SIZING", "martingale")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSITION_SIZING")
}

func TestLoadRequiresKeyOutsideSimulation(t *testing.T) {
	t.Setenv("SIMULATION_MODE", "false")
	t.Setenv("WALLET_PRIVATE_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WALLET_PRIVATE_KEY")
}

package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, LedgerModeLocal, cfg.Ledger.Mode)
	assert.Equal(t, LedgerStoreMemory, cfg.Ledger.Store)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ChallengeTTL)
	assert.Equal(t, "@every 1m", cfg.Maintenance.GrantSchedule)
	assert.Nil(t, cfg.Auth.AdminAddresses)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("ADMIN_ADDRESSES", " 0xA , ,0xB")
	v.Set("SESSION_IDLE_TTL", "not-a-duration")
	v.Set("LEDGER_MODE", "RPC")

	cfg := fromViper(v)

	assert.Equal(t, []string{"0xA", "0xB"}, cfg.Auth.AdminAddresses)
	assert.Equal(t, 2*time.Hour, cfg.Session.IdleTTL)
	assert.Equal(t, LedgerModeRPC, cfg.Ledger.Mode)
}

func TestNodeURL(t *testing.T) {
	assert.Equal(t, NetworkPresets["devnet"], LedgerConfig{Network: "devnet"}.NodeURL())
	assert.Equal(t, "http://node:9000", LedgerConfig{Network: "devnet", RPCURL: "http://node:9000"}.NodeURL())
	assert.Equal(t, NetworkPresets["testnet"], LedgerConfig{Network: "unknown"}.NodeURL())
}

func TestValidateRequiresRPCTokenWhenServing(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("LEDGER_SERVE_RPC", true)

	cfg := fromViper(v)
	assert.ErrorIs(t, cfg.Validate(), ErrRPCTokenRequired)

	cfg.Ledger.RPCToken = "node-secret"
	assert.NoError(t, cfg.Validate())
}

func TestLoadRefusesOpenRPCEndpoint(t *testing.T) {
	t.Setenv("LEDGER_SERVE_RPC", "true")
	t.Setenv("LEDGER_RPC_TOKEN", "")

	cfg, err := Load()
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrRPCTokenRequired)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NODE_URL", "https://node.example")
	t.Setenv("INDEXER_URL", "https://indexer.example")
	t.Setenv("DATABASE_URL", "postgres://localhost/wallet")
	t.Setenv("USDC_ASSET_ID", "10458941")
	t.Setenv("CUSD_ASSET_ID", "744150851")
	t.Setenv("CONFIO_ASSET_ID", "744150852")
	t.Setenv("CUSD_APP_ID", "744151020")
	t.Setenv("INVITE_APP_ID", "744151197")
	t.Setenv("SPONSOR_ADDRESS", "SPONSORADDR")
	t.Setenv("SPONSOR_KEY_SOURCE", "mnemonic:abandon abandon")
	t.Setenv("SESSION_JWT_SECRET", "secret")
}

func TestLoadFromEnvironment(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, uint64(744150851), cfg.Assets.CUSDAssetID)
	require.Equal(t, 30*time.Second, cfg.Scanner.Interval)
	require.Equal(t, 24*time.Hour, cfg.Session.PreparedTTL)
	require.Equal(t, []uint64{10458941, 744150851, 744150852}, cfg.TrackedAssetIDs())
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SESSION_JWT_SECRET", "")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "SESSION_JWT_SECRET")
}

func TestLoadAppliesYAMLOverlay(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "wallet.yaml")
	overlay := []byte("server:\n  addr: \":9090\"\nscanner:\n  lookback_rounds: 5000\n")
	require.NoError(t, os.WriteFile(path, overlay, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, uint64(5000), cfg.Scanner.LookbackRounds)
	// Untouched fields keep their environment defaults.
	require.Equal(t, uint64(744151020), cfg.Apps.CUSDAppID)
}

func TestLoadMissingOverlayIsIgnored(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
}

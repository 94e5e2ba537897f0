package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "REQUIRE_API_KEY", "API_KEY", "RPC_CONCURRENCY", "MAX_TX_SIZE_BYTES", "MONGODB_URL", "BSV_NETWORK")
	os.Setenv("MONGODB_URL", "mongodb://localhost:27017")
	t.Cleanup(func() { os.Unsetenv("MONGODB_URL") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.BSVNetwork != "mainnet" {
		t.Errorf("BSVNetwork = %q, want mainnet", cfg.Network.BSVNetwork)
	}
	if cfg.Tracker.RPCConcurrency != 4 {
		t.Errorf("RPCConcurrency = %d, want 4", cfg.Tracker.RPCConcurrency)
	}
}

func TestLoadRejectsRequireAPIKeyWithoutKey(t *testing.T) {
	clearEnv(t, "REQUIRE_API_KEY", "API_KEY")
	os.Setenv("REQUIRE_API_KEY", "true")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to fail when REQUIRE_API_KEY=true and API_KEY is unset")
	}
}

func TestLoadRejectsNonPositiveRPCConcurrency(t *testing.T) {
	clearEnv(t, "RPC_CONCURRENCY")
	os.Setenv("RPC_CONCURRENCY", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to fail when RPC_CONCURRENCY is 0")
	}
}

func TestLoadRejectsZeroMaxTxSize(t *testing.T) {
	clearEnv(t, "MAX_TX_SIZE_BYTES")
	os.Setenv("MAX_TX_SIZE_BYTES", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to fail when MAX_TX_SIZE_BYTES is 0")
	}
}

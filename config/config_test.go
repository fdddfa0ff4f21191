package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
log:
  level: debug
  format: json
database:
  path: /tmp/slips.db
pinning:
  api_url: https://api.pinata.cloud
  api_key: pk
  api_secret: sk
ledger:
  rpc_url: http://127.0.0.1:8545
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  private_key: "0xabc"
  chain_id: 1337
  gas_limit: 3000000
  gas_price_gwei: 20
identity:
  api_url: https://identitytoolkit.example.com
  api_key: idk
auth:
  jwt_secret: secret
  token_expire_hours: 48
users:
  - username: issuer
    password: pass123
wallets:
  - email: buyer@example.com
    address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Ledger.GasLimit != 3000000 || cfg.Ledger.GasPriceGwei != 20 {
		t.Errorf("ledger gas settings not loaded: %+v", cfg.Ledger)
	}
	if cfg.Ledger.ChainID != 1337 {
		t.Errorf("chain id: got %d", cfg.Ledger.ChainID)
	}
	if cfg.Auth.TokenExpireHours != 48 {
		t.Errorf("token expiry: got %d", cfg.Auth.TokenExpireHours)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
pinning:
  api_url: https://api.pinata.cloud
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Database.Path != "slipchain.db" {
		t.Errorf("default db path: got %s", cfg.Database.Path)
	}
	if cfg.Ledger.GasLimit != 2_000_000 {
		t.Errorf("default gas limit: got %d", cfg.Ledger.GasLimit)
	}
	if cfg.Ledger.GasPriceGwei != 10 {
		t.Errorf("default gas price: got %d", cfg.Ledger.GasPriceGwei)
	}
	if cfg.Ledger.ConfirmTimeout != 90 || cfg.Ledger.PollInterval != 2 {
		t.Errorf("default confirmation settings: %+v", cfg.Ledger)
	}
	if cfg.Auth.TokenExpireHours != 24 {
		t.Errorf("default token expiry: got %d", cfg.Auth.TokenExpireHours)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestFindUser(t *testing.T) {
	cfg := &Config{Users: []User{{Username: "issuer", Password: "x"}}}

	if cfg.FindUser("issuer") == nil {
		t.Error("expected to find issuer")
	}
	if cfg.FindUser("nobody") != nil {
		t.Error("expected nil for unknown user")
	}
}

func TestFindWallet(t *testing.T) {
	cfg := &Config{Wallets: []Wallet{{Email: "a@b.c", Address: "0x1"}}}

	if got := cfg.FindWallet("a@b.c"); got != "0x1" {
		t.Errorf("expected 0x1, got %s", got)
	}
	if got := cfg.FindWallet("x@y.z"); got != "" {
		t.Errorf("expected empty address, got %s", got)
	}
}

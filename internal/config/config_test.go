package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

const sampleConfig = `
binance:
  api_key: "test_key"
  api_secret: "test_secret"
  testnet: true
  recv_window_ms: 6000

gate:
  margin: 300

probe:
  interval: 2s
  failure_threshold: 5

leverage:
  min_notional: 500
  max_leverage: 20
  empty_policy: highest

orderbook:
  depth_limit: 500
  symbols: ["btcusdt", "ETHUSDT"]

log:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"BINANCE_API_KEY", "BINANCE_API_SECRET", "BINANCE_TESTNET", "SCREENER_GATE_MARGIN"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Binance.APIKey != "test_key" || !cfg.Binance.TestNet {
		t.Errorf("Unexpected binance config %+v", cfg.Binance)
	}
	if cfg.Binance.RecvWindowMs != 6000 {
		t.Errorf("Expected recv window 6000, got %d", cfg.Binance.RecvWindowMs)
	}
	if cfg.Gate.Margin != 300 {
		t.Errorf("Expected margin 300, got %d", cfg.Gate.Margin)
	}
	if cfg.Probe.Interval != 2*time.Second || cfg.Probe.FailureThreshold != 5 {
		t.Errorf("Unexpected probe config %+v", cfg.Probe)
	}
	if cfg.Probe.RecoveryThreshold != 2 {
		t.Errorf("Expected default recovery threshold 2, got %d", cfg.Probe.RecoveryThreshold)
	}
	if cfg.Leverage.MinNotional != 500 || cfg.Leverage.MaxLeverage != 20 || cfg.Leverage.EmptyPolicy != "highest" {
		t.Errorf("Unexpected leverage config %+v", cfg.Leverage)
	}
	if cfg.Orderbook.DepthLimit != 500 || len(cfg.Orderbook.Symbols) != 2 || cfg.Orderbook.Symbols[0] != "BTCUSDT" {
		t.Errorf("Unexpected orderbook config %+v", cfg.Orderbook)
	}
	if cfg.Server.Addr != ":8080" || cfg.Binance.Timeout != 10*time.Second {
		t.Errorf("Defaults not applied: server=%+v timeout=%v", cfg.Server, cfg.Binance.Timeout)
	}
	if !cfg.HasCredentials() {
		t.Error("Expected credentials")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("BINANCE_API_KEY", "env_key")
	t.Setenv("SCREENER_GATE_MARGIN", "50")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Binance.APIKey != "env_key" {
		t.Errorf("Expected env api key, got %q", cfg.Binance.APIKey)
	}
	if cfg.Gate.Margin != 50 {
		t.Errorf("Expected env margin 50, got %d", cfg.Gate.Margin)
	}
}

func TestValidateConfig(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"negative margin": "gate:\n  margin: -1\n",
		"depth limit":     "orderbook:\n  depth_limit: 7\n",
		"policy":          "leverage:\n  empty_policy: median\n",
		"probe interval":  "probe:\n  interval: 10ms\n",
		"log level":       "log:\n  level: loud\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, content)); err == nil {
				t.Errorf("Expected validation error for %s", name)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestReloadNotifiesCallbacks(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, sampleConfig)
	l := NewLoader(path)
	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	var got *Config
	l.OnChange(func(c *Config) { got = c })

	updated := "gate:\n  margin: 900\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}
	if err := l.v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	if _, err := l.reload(); err != nil {
		t.Fatalf("reload err: %v", err)
	}

	if got == nil || got.Gate.Margin != 900 {
		t.Fatalf("Expected callback with margin 900, got %+v", got)
	}
	if got.Binance.APIKey != "test_key" {
		t.Errorf("Resolved credentials must carry over on reload, got %q", got.Binance.APIKey)
	}
	if l.Current() != got {
		t.Error("Current config should be the reloaded one")
	}

	if err := os.WriteFile(path, []byte("gate:\n  margin: -5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_ = l.v.ReadInConfig()
	if _, err := l.reload(); err == nil {
		t.Fatal("Expected invalid reload to fail")
	}
	if l.Current().Gate.Margin != 900 {
		t.Error("Invalid reload must keep the previous config")
	}
}

type fakeParams struct {
	values map[string]string
	calls  []string
}

func (f *fakeParams) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls = append(f.calls, *in.Name)
	if in.WithDecryption == nil || !*in.WithDecryption {
		return nil, errors.New("decryption not requested")
	}
	v, ok := f.values[*in.Name]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func TestLoadConfigResolvesSSMSecrets(t *testing.T) {
	clearEnv(t)
	content := `
secrets:
  ssm_region: ap-northeast-1
  ssm_api_key_param: /screener/api_key
  ssm_api_secret_param: /screener/api_secret
`
	fake := &fakeParams{values: map[string]string{"/screener/api_key": "ssm_key", "/screener/api_secret": "ssm_secret"}}
	var region string
	resolver := &SSMResolver{newClient: func(ctx context.Context, r string) (ParameterAPI, error) {
		region = r
		return fake, nil
	}}

	cfg, err := NewLoader(writeConfig(t, content)).WithSecretResolver(resolver).Load(context.Background())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Binance.APIKey != "ssm_key" || cfg.Binance.APISecret != "ssm_secret" {
		t.Errorf("Expected secrets from SSM, got %+v", cfg.Binance)
	}
	if region != "ap-northeast-1" {
		t.Errorf("Expected region to be passed through, got %q", region)
	}
	if len(fake.calls) != 2 {
		t.Errorf("Expected 2 parameter lookups, got %v", fake.calls)
	}
}

func TestSSMSkippedWhenCredentialsPresent(t *testing.T) {
	clearEnv(t)
	content := sampleConfig + `
secrets:
  ssm_api_key_param: /screener/api_key
`
	fake := &fakeParams{}
	resolver := &SSMResolver{newClient: func(ctx context.Context, r string) (ParameterAPI, error) { return fake, nil }}

	if _, err := NewLoader(writeConfig(t, content)).WithSecretResolver(resolver).Load(context.Background()); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if len(fake.calls) != 0 {
		t.Errorf("SSM must not be called when credentials are set, got %v", fake.calls)
	}
}

func TestSSMErrorFailsLoad(t *testing.T) {
	clearEnv(t)
	content := "secrets:\n  ssm_api_key_param: /missing\n"
	resolver := &SSMResolver{newClient: func(ctx context.Context, r string) (ParameterAPI, error) { return &fakeParams{}, nil }}

	if _, err := NewLoader(writeConfig(t, content)).WithSecretResolver(resolver).Load(context.Background()); err == nil {
		t.Fatal("Expected SSM lookup failure to fail the load")
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("Missing .env should be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SCREENER_DOTENV_PROBE=from_file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCREENER_DOTENV_PROBE", "")
	os.Unsetenv("SCREENER_DOTENV_PROBE")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv err: %v", err)
	}
	if os.Getenv("SCREENER_DOTENV_PROBE") != "from_file" {
		t.Errorf("Expected value from .env, got %q", os.Getenv("SCREENER_DOTENV_PROBE"))
	}
}

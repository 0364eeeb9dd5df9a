package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Binance   BinanceConfig   `mapstructure:"binance"`
	Gate      GateConfig      `mapstructure:"gate"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Leverage  LeverageConfig  `mapstructure:"leverage"`
	Orderbook OrderbookConfig `mapstructure:"orderbook"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
}

// BinanceConfig 交易所连接配置
type BinanceConfig struct {
	APIKey       string        `mapstructure:"api_key"`        // Binance API Key
	APISecret    string        `mapstructure:"api_secret"`     // Binance API Secret
	TestNet      bool          `mapstructure:"testnet"`        // 是否使用测试网
	BaseURL      string        `mapstructure:"base_url"`       // 自定义 REST 地址（可选）
	RecvWindowMs int64         `mapstructure:"recv_window_ms"` // 签名请求 recvWindow
	Timeout      time.Duration `mapstructure:"timeout"`        // HTTP 超时
	TimeSync     time.Duration `mapstructure:"time_sync"`      // 服务器时间同步间隔
}

// GateConfig 自限流配置
type GateConfig struct {
	Margin int `mapstructure:"margin"` // 距离权重上限的安全余量
}

// ProbeConfig 心跳配置
type ProbeConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	RecoveryThreshold int           `mapstructure:"recovery_threshold"`
}

// LeverageConfig 杠杆计算默认参数
type LeverageConfig struct {
	MinNotional float64 `mapstructure:"min_notional"`
	MaxLeverage int     `mapstructure:"max_leverage"`
	EmptyPolicy string  `mapstructure:"empty_policy"` // skip | highest
}

// OrderbookConfig 订单簿刷新配置
type OrderbookConfig struct {
	DepthLimit int      `mapstructure:"depth_limit"`
	Symbols    []string `mapstructure:"symbols"` // 为空时刷新全部 USDT 永续
}

// ServerConfig HTTP 控制接口
type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MetricsConfig Prometheus
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig 日志
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SecretsConfig AWS SSM 参数名；API Key/Secret 为空时从参数仓库解析
type SecretsConfig struct {
	SSMRegion         string `mapstructure:"ssm_region"`
	SSMAPIKeyParam    string `mapstructure:"ssm_api_key_param"`
	SSMAPISecretParam string `mapstructure:"ssm_api_secret_param"`
}

var validDepthLimits = map[int]bool{5: true, 10: true, 20: true, 50: true, 100: true, 500: true, 1000: true}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.api_secret", "")
	v.SetDefault("binance.testnet", false)
	v.SetDefault("binance.base_url", "")
	v.SetDefault("binance.recv_window_ms", 5000)
	v.SetDefault("binance.timeout", 10*time.Second)
	v.SetDefault("binance.time_sync", 30*time.Minute)

	v.SetDefault("gate.margin", 400)

	v.SetDefault("probe.interval", time.Second)
	v.SetDefault("probe.failure_threshold", 3)
	v.SetDefault("probe.recovery_threshold", 2)

	v.SetDefault("leverage.min_notional", 0.0)
	v.SetDefault("leverage.max_leverage", 125)
	v.SetDefault("leverage.empty_policy", "skip")

	v.SetDefault("orderbook.depth_limit", 1000)
	v.SetDefault("orderbook.symbols", []string{})

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9101)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", true)

	v.SetDefault("secrets.ssm_region", "")
	v.SetDefault("secrets.ssm_api_key_param", "")
	v.SetDefault("secrets.ssm_api_secret_param", "")
}

// Loader 持有 viper 实例，负责加载、校验与热重载
type Loader struct {
	v        *viper.Viper
	path     string
	resolver SecretResolver

	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config)
}

// NewLoader 创建加载器；path 为空时只使用默认值与环境变量
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	// 环境变量覆盖
	v.SetEnvPrefix("SCREENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 显式绑定嵌套字段的环境变量（生产推荐）
	_ = v.BindEnv("binance.api_key", "BINANCE_API_KEY")
	_ = v.BindEnv("binance.api_secret", "BINANCE_API_SECRET")
	_ = v.BindEnv("binance.testnet", "BINANCE_TESTNET")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	return &Loader{v: v, path: path, resolver: NewSSMResolver()}
}

// WithSecretResolver 替换密钥解析器
func (l *Loader) WithSecretResolver(r SecretResolver) *Loader {
	l.resolver = r
	return l
}

// LoadDotEnv 将 .env 中的变量注入进程环境；文件不存在不是错误
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("加载 .env 失败: %w", err)
	}
	return nil
}

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	return NewLoader(path).Load(context.Background())
}

// Load 读取、解析、解析密钥并校验
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	if err := resolveSecrets(ctx, cfg, l.resolver); err != nil {
		return nil, fmt.Errorf("解析密钥失败: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()

	log.Info().Str("path", l.path).Msg("配置加载成功")
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &cfg, nil
}

// Current 返回当前生效配置
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange 注册热重载回调，回调收到已校验的新配置
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	l.callbacks = append(l.callbacks, fn)
	l.mu.Unlock()
}

// Watch 监听配置文件变化并热重载
func (l *Loader) Watch() {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("检测到配置文件变化，正在重载...")
		if _, err := l.reload(); err != nil {
			log.Error().Err(err).Msg("新配置无效，保持旧配置")
		}
	})
	l.v.WatchConfig()
}

// reload 重新解析当前 viper 内容；密钥沿用已解析的值，不再访问 SSM
func (l *Loader) reload() (*Config, error) {
	newCfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	old := l.current
	callbacks := append([]func(*Config){}, l.callbacks...)
	l.mu.RUnlock()

	if old != nil {
		if newCfg.Binance.APIKey == "" {
			newCfg.Binance.APIKey = old.Binance.APIKey
		}
		if newCfg.Binance.APISecret == "" {
			newCfg.Binance.APISecret = old.Binance.APISecret
		}
	}

	if err := validateConfig(newCfg); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = newCfg
	l.mu.Unlock()

	for _, fn := range callbacks {
		fn(newCfg)
	}
	log.Info().Msg("配置热重载成功")
	return newCfg, nil
}

// validateConfig 验证配置有效性
func validateConfig(cfg *Config) error {
	if cfg.Binance.RecvWindowMs <= 0 || cfg.Binance.RecvWindowMs > 60000 {
		return fmt.Errorf("binance.recv_window_ms 必须在 (0, 60000] 之间")
	}
	if cfg.Binance.Timeout <= 0 {
		return fmt.Errorf("binance.timeout 必须 > 0")
	}
	if cfg.Gate.Margin < 0 {
		return fmt.Errorf("gate.margin 不能为负")
	}
	if cfg.Probe.Interval < 100*time.Millisecond {
		return fmt.Errorf("probe.interval 必须 >= 100ms")
	}
	if cfg.Probe.FailureThreshold < 1 || cfg.Probe.RecoveryThreshold < 1 {
		return fmt.Errorf("probe 阈值必须 >= 1")
	}
	if cfg.Leverage.MinNotional < 0 {
		return fmt.Errorf("leverage.min_notional 不能为负")
	}
	if cfg.Leverage.MaxLeverage < 0 {
		return fmt.Errorf("leverage.max_leverage 不能为负")
	}
	switch strings.ToLower(cfg.Leverage.EmptyPolicy) {
	case "", "skip", "highest":
	default:
		return fmt.Errorf("leverage.empty_policy 只能是 skip 或 highest，当前 %q", cfg.Leverage.EmptyPolicy)
	}
	if !validDepthLimits[cfg.Orderbook.DepthLimit] {
		return fmt.Errorf("orderbook.depth_limit %d 不受支持", cfg.Orderbook.DepthLimit)
	}
	for i, s := range cfg.Orderbook.Symbols {
		if s == "" {
			return fmt.Errorf("orderbook.symbols[%d] 不能为空", i)
		}
		cfg.Orderbook.Symbols[i] = strings.ToUpper(s)
	}
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr 不能为空")
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port 超出范围")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.level 无效: %w", err)
	}
	return nil
}

// HasCredentials 是否配置了签名所需的 API Key/Secret
func (c *Config) HasCredentials() bool {
	return c.Binance.APIKey != "" && c.Binance.APISecret != ""
}

package config

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// SecretResolver 按参数名取回密文
type SecretResolver interface {
	Resolve(ctx context.Context, region, name string) (string, error)
}

// ParameterAPI ssm.Client 中用到的方法
type ParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMResolver 从 AWS SSM Parameter Store 读取 SecureString
type SSMResolver struct {
	Timeout time.Duration
	// newClient 为空时使用默认凭证链
	newClient func(ctx context.Context, region string) (ParameterAPI, error)
}

// NewSSMResolver 使用默认凭证链
func NewSSMResolver() *SSMResolver {
	return &SSMResolver{Timeout: 5 * time.Second, newClient: defaultSSMClient}
}

func defaultSSMClient(ctx context.Context, region string) (ParameterAPI, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return ssm.NewFromConfig(cfg), nil
}

// Resolve 读取并解密参数
func (r *SSMResolver) Resolve(ctx context.Context, region, name string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := r.newClient(ctxWithTimeout, region)
	if err != nil {
		return "", err
	}

	decrypt := true
	result, err := client.GetParameter(ctxWithTimeout, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *result.Parameter.Value, nil
}

// resolveSecrets 仅在 key/secret 为空且配置了参数名时访问 SSM
func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) error {
	if resolver == nil {
		return nil
	}
	sec := cfg.Secrets

	if cfg.Binance.APIKey == "" && sec.SSMAPIKeyParam != "" {
		v, err := resolver.Resolve(ctx, sec.SSMRegion, sec.SSMAPIKeyParam)
		if err != nil {
			return err
		}
		cfg.Binance.APIKey = v
		log.Info().Str("param", sec.SSMAPIKeyParam).Msg("API Key 已从 SSM 读取")
	}
	if cfg.Binance.APISecret == "" && sec.SSMAPISecretParam != "" {
		v, err := resolver.Resolve(ctx, sec.SSMRegion, sec.SSMAPISecretParam)
		if err != nil {
			return err
		}
		cfg.Binance.APISecret = v
		log.Info().Str("param", sec.SSMAPISecretParam).Msg("API Secret 已从 SSM 读取")
	}
	return nil
}

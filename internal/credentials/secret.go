// Package credentials completes the OAuth client registration at startup,
// fetching the client secret from AWS Secrets Manager when it is configured
// by ARN rather than supplied directly.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog/log"
	"github.com/shex1627/warcraftlogs/internal/config"
	"github.com/tidwall/gjson"
)

// secretField is the key read when the secret holds a JSON object.
const secretField = "client_secret"

// SecretsClient is the subset of the Secrets Manager API used here.
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveClientSecret returns cfg with ClientSecret populated. A directly
// configured secret is returned unchanged; otherwise the secret named by
// ClientSecretARN is read using the default AWS configuration chain.
func ResolveClientSecret(ctx context.Context, cfg config.CredentialConfig) (config.CredentialConfig, error) {
	if cfg.ClientSecretARN == "" {
		return cfg, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return cfg, fmt.Errorf("loading AWS config: %w", err)
	}

	return ResolveClientSecretWith(ctx, secretsmanager.NewFromConfig(awsCfg), cfg)
}

// ResolveClientSecretWith is ResolveClientSecret with an explicit client.
//
// The secret may be stored either as the bare client secret or as a JSON
// object with a "client_secret" field.
func ResolveClientSecretWith(ctx context.Context, client SecretsClient, cfg config.CredentialConfig) (config.CredentialConfig, error) {
	if cfg.ClientSecretARN == "" {
		return cfg, nil
	}

	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(cfg.ClientSecretARN),
	})
	if err != nil {
		return cfg, fmt.Errorf("getting secret %q: %w", cfg.ClientSecretARN, err)
	}

	if result.SecretString == nil {
		return cfg, fmt.Errorf("secret %q has no string value", cfg.ClientSecretARN)
	}

	secret, err := extractSecret(*result.SecretString)
	if err != nil {
		return cfg, fmt.Errorf("secret %q: %w", cfg.ClientSecretARN, err)
	}

	log.Info().
		Str("arn", cfg.ClientSecretARN).
		Msg("client secret loaded from secrets manager")

	cfg.ClientSecret = secret
	return cfg, nil
}

func extractSecret(value string) (string, error) {
	trimmed := strings.TrimSpace(value)

	if strings.HasPrefix(trimmed, "{") {
		if !gjson.Valid(trimmed) {
			return "", errors.New("secret looks like JSON but does not parse")
		}

		field := gjson.Get(trimmed, secretField)
		if field.Type != gjson.String || field.String() == "" {
			return "", fmt.Errorf("secret JSON has no %q string field", secretField)
		}
		return field.String(), nil
	}

	if trimmed == "" {
		return "", errors.New("secret is empty")
	}

	return trimmed, nil
}

package credentials_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/shex1627/warcraftlogs/internal/config"
	"github.com/shex1627/warcraftlogs/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testARN = "arn:aws:secretsmanager:us-east-1:123456789012:secret:wcl-client"

type fakeSecrets struct {
	value    *string
	err      error
	calls    int
	lastName string
}

func (f *fakeSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	f.lastName = aws.ToString(params.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestResolveClientSecret_DirectSecretUnchanged(t *testing.T) {
	cfg := config.CredentialConfig{ClientID: "id", ClientSecret: "direct"}
	client := &fakeSecrets{}

	resolved, err := credentials.ResolveClientSecretWith(context.Background(), client, cfg)

	require.NoError(t, err)
	assert.Equal(t, "direct", resolved.ClientSecret)
	assert.Equal(t, 0, client.calls)
}

func TestResolveClientSecret_NoARNSkipsAWS(t *testing.T) {
	cfg := config.CredentialConfig{ClientID: "id", ClientSecret: "direct"}

	resolved, err := credentials.ResolveClientSecret(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, cfg, resolved)
}

func TestResolveClientSecret_FromARN(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
	}{
		{name: "plain string", value: "s3cret", expected: "s3cret"},
		{name: "plain string with newline", value: "s3cret\n", expected: "s3cret"},
		{name: "json object", value: `{"client_secret":"from-json","other":1}`, expected: "from-json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSecrets{value: aws.String(tt.value)}
			cfg := config.CredentialConfig{ClientID: "id", ClientSecretARN: testARN}

			resolved, err := credentials.ResolveClientSecretWith(context.Background(), client, cfg)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, resolved.ClientSecret)
			assert.Equal(t, testARN, client.lastName)
		})
	}
}

func TestResolveClientSecret_Errors(t *testing.T) {
	tests := []struct {
		name        string
		client      *fakeSecrets
		errContains string
	}{
		{
			name:        "lookup fails",
			client:      &fakeSecrets{err: errors.New("access denied")},
			errContains: "access denied",
		},
		{
			name:        "binary secret",
			client:      &fakeSecrets{},
			errContains: "no string value",
		},
		{
			name:        "empty secret",
			client:      &fakeSecrets{value: aws.String("  ")},
			errContains: "secret is empty",
		},
		{
			name:        "json without field",
			client:      &fakeSecrets{value: aws.String(`{"password":"x"}`)},
			errContains: `no "client_secret" string field`,
		},
		{
			name:        "broken json",
			client:      &fakeSecrets{value: aws.String(`{"client_secret":`)},
			errContains: "does not parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.CredentialConfig{ClientID: "id", ClientSecretARN: testARN}

			_, err := credentials.ResolveClientSecretWith(context.Background(), tt.client, cfg)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

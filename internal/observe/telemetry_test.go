package observe

import (
	"context"
	"net/http"
	"testing"

	"github.com/shex1627/warcraftlogs/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_Disabled(t *testing.T) {
	shutdown, err := Configure(context.Background(), config.ObserveConfig{Enabled: false})

	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_UnknownType(t *testing.T) {
	_, err := Configure(context.Background(), config.ObserveConfig{
		Enabled:     true,
		Type:        "carrier-pigeon",
		ServiceName: "test",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestHTTPTransport(t *testing.T) {
	base := http.DefaultTransport

	tests := []struct {
		name      string
		cfg       config.ObserveConfig
		unwrapped bool
	}{
		{
			name:      "telemetry disabled",
			cfg:       config.ObserveConfig{Enabled: false, HTTPTransportEnabled: true},
			unwrapped: true,
		},
		{
			name:      "transport disabled",
			cfg:       config.ObserveConfig{Enabled: true, HTTPTransportEnabled: false},
			unwrapped: true,
		},
		{
			name:      "enabled",
			cfg:       config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true},
			unwrapped: false,
		},
		{
			name:      "enabled with connection trace",
			cfg:       config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true, HTTPConnectionTraceEnabled: true},
			unwrapped: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := HTTPTransport(base, tt.cfg)

			if tt.unwrapped {
				assert.Same(t, base, transport)
			} else {
				assert.NotSame(t, base, transport)
			}
		})
	}
}

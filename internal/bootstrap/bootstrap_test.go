package bootstrap

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsgate/golang_services/internal/platform/config"
	"github.com/whatsgate/golang_services/internal/platform/signature"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

func TestSignatureRegistry_InstanceOverrides(t *testing.T) {
	cfg := &config.Config{
		GreenAPIWebhookSecret:  "green-default",
		WaveWebhookSecret:      "wave-secret",
		WebhookInstanceSecrets: "greenapi:1101=green-1101, meta:555=meta-555",
	}
	reg, err := SignatureRegistry(cfg)
	require.NoError(t, err)

	assert.Equal(t, "green-1101", reg.Secret(signature.ProviderGreenAPI, "1101"))
	assert.Equal(t, "green-default", reg.Secret(signature.ProviderGreenAPI, "2202"))
	assert.Equal(t, "meta-555", reg.Secret(signature.ProviderMeta, "555"))
	assert.Equal(t, "wave-secret", reg.Secret(signature.ProviderWave, ""))
}

func TestSignatureRegistry_RejectsMalformedOverrides(t *testing.T) {
	_, err := SignatureRegistry(&config.Config{WebhookInstanceSecrets: "greenapi:1101"})
	assert.Error(t, err)
}

func TestProviderRegistry_LegacyOnlyWhenConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := ProviderRegistry(&config.Config{}, logger)
	require.NoError(t, err)
	assert.Equal(t, []tdomain.Provider{tdomain.ProviderGreenAPI, tdomain.ProviderMeta}, reg.Names())

	reg, err = ProviderRegistry(&config.Config{LegacyAPIBaseURL: "https://legacy.example"}, logger)
	require.NoError(t, err)
	assert.Equal(t, []tdomain.Provider{tdomain.ProviderGreenAPI, tdomain.ProviderLegacy, tdomain.ProviderMeta}, reg.Names())
}

func TestLocalSweepInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, localSweepInterval(&config.Config{DirectoryLocalCacheTTL: 30 * time.Second}))
	assert.Equal(t, time.Minute, localSweepInterval(&config.Config{}))
}

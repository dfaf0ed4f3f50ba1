package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerSettingString(t *testing.T) {
	tests := []struct {
		name string
		ws   WorkerSetting
		want string
	}{
		{"auto mode", WorkerSetting{Mode: WorkersAuto}, "auto"},
		{"fixed mode 4", WorkerSetting{Mode: WorkersFixed, Value: 4}, "4"},
		{"fixed mode 0", WorkerSetting{Mode: WorkersFixed, Value: 0}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ws.String())
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.TLS.Enabled)
	assert.Equal(t, 5000, cfg.ShutdownGraceMS)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 32, cfg.TCP.MaxConnectionsPerIP)
	assert.Equal(t, 256, cfg.TCP.MuxMaxStreams)
	require.Len(t, cfg.DNS.Upstreams, 1)
	assert.Equal(t, "8.8.8.8:53", cfg.DNS.Upstreams[0])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9443")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("TCP_MAX_CONNECTIONS_PER_IP", "8")
	t.Setenv("TCP_BLOCK_LIST", "10.0.0.0/8,192.168.0.0/16")
	t.Setenv("DNS_UPSTREAMS", "1.1.1.1:53,8.8.4.4:53")
	t.Setenv("DNS_QPS_PER_IP", "25.5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9443, cfg.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 8, cfg.TCP.MaxConnectionsPerIP)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.TCP.BlockList)
	assert.Equal(t, []string{"1.1.1.1:53", "8.8.4.4:53"}, cfg.DNS.Upstreams)
	assert.InDelta(t, 25.5, cfg.DNS.QPSPerIP, 0.0001)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadInvalidPort(t *testing.T) {
	t.Setenv("PORT", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadTLSRequiresCertAndKey(t *testing.T) {
	t.Setenv("TLS_ENABLED", "true")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadEmptyUpstreamsFallsBackToDefault(t *testing.T) {
	t.Setenv("DNS_UPSTREAMS", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"8.8.8.8:53"}, cfg.DNS.Upstreams)
}

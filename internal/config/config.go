package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the env-only loader with defaults, matching the
// teacher's initConfig shape minus the config-file branch.
func initConfig() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_path", "")
	v.SetDefault("tls.key_path", "")
	v.SetDefault("public_base_url", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_limit_requests_per_minute", 600)
	v.SetDefault("shutdown_grace_ms", 5000)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("cross_origin_isolation", false)
	v.SetDefault("session_hmac_secret", "")

	v.SetDefault("tcp.max_connections", 0)
	v.SetDefault("tcp.max_connections_per_ip", 32)
	v.SetDefault("tcp.allow_private_ips", false)
	v.SetDefault("tcp.require_dns_name", false)
	v.SetDefault("tcp.block_list", []string{})
	v.SetDefault("tcp.allow_list", []string{})
	v.SetDefault("tcp.mux_max_streams", 256)
	v.SetDefault("tcp.mux_max_stream_buffer_bytes", 64*1024)
	v.SetDefault("tcp.mux_max_frame_payload_bytes", 16*1024*1024)
	v.SetDefault("tcp.mux_initial_window_bytes", 64*1024)

	v.SetDefault("dns.upstreams", []string{"8.8.8.8:53"})
	v.SetDefault("dns.qps_per_ip", 50.0)
	v.SetDefault("dns.burst_per_ip", 100)
	v.SetDefault("dns.allow_any_qtype", false)
	v.SetDefault("dns.allow_private_answers", false)
	v.SetDefault("dns.allow_private_ptr", false)
	v.SetDefault("dns.upstream_timeout_ms", 3000)
	v.SetDefault("dns.cache_max_entries", 65536)
	v.SetDefault("dns.cache_max_ttl_seconds", 3600)
	v.SetDefault("dns.cache_negative_ttl_seconds", 60)
	v.SetDefault("dns.max_query_bytes", 4096)
	v.SetDefault("dns.max_response_bytes", 65535)
}

// Load reads the environment into a Config, applying defaults and
// normalization. This is the sole entry point cmd/gatewayd uses.
func Load() (*Config, error) {
	v := initConfig()

	cfg := &Config{
		Host: v.GetString("host"),
		Port: v.GetInt("port"),
		TLS: TLSConfig{
			Enabled:  v.GetBool("tls.enabled"),
			CertPath: v.GetString("tls.cert_path"),
			KeyPath:  v.GetString("tls.key_path"),
		},
		PublicBaseURL:              strings.TrimRight(v.GetString("public_base_url"), "/"),
		AllowedOrigins:             getStringSliceOrSplit(v, "allowed_origins"),
		TrustProxy:                 v.GetBool("trust_proxy"),
		RateLimitRequestsPerMinute: v.GetInt("rate_limit_requests_per_minute"),
		ShutdownGraceMS:            v.GetInt("shutdown_grace_ms"),
		LogLevel:                   strings.ToUpper(v.GetString("log_level")),
		CrossOriginIsolation:       v.GetBool("cross_origin_isolation"),
		SessionHMACSecret:          v.GetString("session_hmac_secret"),

		TCP: TCPConfig{
			MaxConnections:          v.GetInt("tcp.max_connections"),
			MaxConnectionsPerIP:     v.GetInt("tcp.max_connections_per_ip"),
			AllowPrivateIPs:         v.GetBool("tcp.allow_private_ips"),
			RequireDNSName:          v.GetBool("tcp.require_dns_name"),
			BlockList:               getStringSliceOrSplit(v, "tcp.block_list"),
			AllowList:               getStringSliceOrSplit(v, "tcp.allow_list"),
			MuxMaxStreams:           v.GetInt("tcp.mux_max_streams"),
			MuxMaxStreamBufferBytes: v.GetInt64("tcp.mux_max_stream_buffer_bytes"),
			MuxMaxFramePayloadBytes: v.GetInt("tcp.mux_max_frame_payload_bytes"),
			MuxInitialWindowBytes:   uint32(v.GetUint("tcp.mux_initial_window_bytes")),
		},

		DNS: DNSConfig{
			Upstreams:               getStringSliceOrSplit(v, "dns.upstreams"),
			QPSPerIP:                v.GetFloat64("dns.qps_per_ip"),
			BurstPerIP:              v.GetInt("dns.burst_per_ip"),
			AllowAnyQType:           v.GetBool("dns.allow_any_qtype"),
			AllowPrivateAnswers:     v.GetBool("dns.allow_private_answers"),
			AllowPrivatePTR:         v.GetBool("dns.allow_private_ptr"),
			UpstreamTimeoutMS:       v.GetInt("dns.upstream_timeout_ms"),
			CacheMaxEntries:         v.GetInt("dns.cache_max_entries"),
			CacheMaxTTLSeconds:      v.GetInt("dns.cache_max_ttl_seconds"),
			CacheNegativeTTLSeconds: v.GetInt("dns.cache_negative_ttl_seconds"),
			MaxQueryBytes:           v.GetInt("dns.max_query_bytes"),
			MaxResponseBytes:        v.GetInt("dns.max_response_bytes"),
		},
	}

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getStringSliceOrSplit handles both a real string slice and a
// comma-separated value, matching the teacher's helper of the same name.
func getStringSliceOrSplit(v *viper.Viper, key string) []string {
	if s, ok := v.Get(key).(string); ok {
		if s == "" {
			return nil
		}
		return trimAll(strings.Split(s, ","))
	}
	if slice := v.GetStringSlice(key); len(slice) > 0 {
		return trimAll(slice)
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeConfig(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.New("port must be 1..65535")
	}
	if cfg.TLS.Enabled && (cfg.TLS.CertPath == "" || cfg.TLS.KeyPath == "") {
		return errors.New("tls_cert_path and tls_key_path are required when tls.enabled is set")
	}
	if len(cfg.DNS.Upstreams) == 0 {
		cfg.DNS.Upstreams = []string{"8.8.8.8:53"}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.ShutdownGraceMS <= 0 {
		cfg.ShutdownGraceMS = 5000
	}
	return nil
}

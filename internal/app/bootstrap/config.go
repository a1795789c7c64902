package bootstrap

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/RayanAndish/GoldACC-sub003/internal/application"
	"github.com/RayanAndish/GoldACC-sub003/internal/secure"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config is the resolved runtime configuration. Every field can be set in
// configs/default.yaml and overridden by the environment variable in its
// envconfig tag.
type Config struct {
	ServiceID string `yaml:"service_id" envconfig:"SERVICE_ID"`
	HTTPPort  int    `yaml:"http_port" envconfig:"HTTP_PORT"`
	GRPCPort  int    `yaml:"grpc_port" envconfig:"GRPC_PORT"`

	StorageDriver string `yaml:"storage_driver" envconfig:"STORAGE_DRIVER"`
	DatabaseURL   string `yaml:"db_url" envconfig:"DB_URL"`
	MaxDBConns    int32  `yaml:"db_max_conns" envconfig:"DB_MAX_CONNS"`
	RedisURL      string `yaml:"redis_url" envconfig:"REDIS_URL"`

	HandshakeSecret  string `yaml:"handshake_secret" envconfig:"HANDSHAKE_SECRET"`
	PBKDF2Iterations int    `yaml:"pbkdf2_iterations" envconfig:"PBKDF2_ITERATIONS"`
	VaultAddr        string `yaml:"vault_addr" envconfig:"VAULT_ADDR"`
	VaultToken       string `yaml:"vault_token" envconfig:"VAULT_TOKEN"`
	VaultSecretPath  string `yaml:"vault_secret_path" envconfig:"VAULT_SECRET_PATH"`
	VaultSecretField string `yaml:"vault_secret_field" envconfig:"VAULT_SECRET_FIELD"`

	AgeIdentity        string `yaml:"age_identity" envconfig:"AGE_IDENTITY"`
	AllowEphemeralKeys bool   `yaml:"allow_ephemeral_keys" envconfig:"ALLOW_EPHEMERAL_KEYS"`
	JWTPrivateKeyPEM   string `yaml:"jwt_private_key_pem" envconfig:"JWT_PRIVATE_KEY_PEM"`
	JWTPublicKeyPEM    string `yaml:"jwt_public_key_pem" envconfig:"JWT_PUBLIC_KEY_PEM"`
	JWTKeyID           string `yaml:"jwt_key_id" envconfig:"JWT_KEY_ID"`

	ChallengeTTL       time.Duration `yaml:"challenge_ttl" envconfig:"CHALLENGE_TTL"`
	CredentialTTL      time.Duration `yaml:"credential_ttl" envconfig:"CREDENTIAL_TTL"`
	RequestCodeTTL     time.Duration `yaml:"request_code_ttl" envconfig:"REQUEST_CODE_TTL"`
	SignatureSkew      time.Duration `yaml:"signature_skew" envconfig:"SIGNATURE_SKEW"`
	StatusTokenTTL     time.Duration `yaml:"status_token_ttl" envconfig:"STATUS_TOKEN_TTL"`
	RateLimitThreshold int           `yaml:"rate_limit_threshold" envconfig:"RATE_LIMIT_THRESHOLD"`
	RateLimitWindow    time.Duration `yaml:"rate_limit_window" envconfig:"RATE_LIMIT_WINDOW"`
	FailureThreshold   int           `yaml:"failure_threshold" envconfig:"FAILURE_THRESHOLD"`
	FailureWindow      time.Duration `yaml:"failure_window" envconfig:"FAILURE_WINDOW"`
	SuspiciousTTL      time.Duration `yaml:"suspicious_ttl" envconfig:"SUSPICIOUS_TTL"`

	GlobalRPS   float64 `yaml:"global_rps" envconfig:"GLOBAL_RPS"`
	GlobalBurst int     `yaml:"global_burst" envconfig:"GLOBAL_BURST"`

	// TrustedProxies holds the addresses or CIDRs whose X-Forwarded-For
	// header is honoured. Empty means the peer address is always the client.
	TrustedProxies []string `yaml:"trusted_proxies" envconfig:"TRUSTED_PROXIES"`

	KafkaBrokers []string          `yaml:"kafka_brokers" envconfig:"KAFKA_BROKERS"`
	KafkaTopics  map[string]string `yaml:"kafka_topics" envconfig:"KAFKA_TOPICS"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval" envconfig:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size" envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxClaimTTL     time.Duration `yaml:"outbox_claim_ttl" envconfig:"OUTBOX_CLAIM_TTL"`
	OutboxMaxRetries   int           `yaml:"outbox_max_retries" envconfig:"OUTBOX_MAX_RETRIES"`
}

func defaultConfig() Config {
	app := application.DefaultConfig()
	return Config{
		ServiceID:          "license-activation-service",
		HTTPPort:           8080,
		GRPCPort:           9090,
		StorageDriver:      StorageDriverPostgres,
		MaxDBConns:         20,
		PBKDF2Iterations:   secure.DefaultIterations,
		VaultSecretField:   "handshake_secret",
		JWTKeyID:           "license-status-key-1",
		ChallengeTTL:       app.ChallengeTTL,
		CredentialTTL:      app.CredentialTTL,
		RequestCodeTTL:     app.RequestCodeTTL,
		SignatureSkew:      app.SignatureSkew,
		StatusTokenTTL:     app.StatusTokenTTL,
		RateLimitThreshold: app.RateLimitThreshold,
		RateLimitWindow:    app.RateLimitWindow,
		FailureThreshold:   app.FailureThreshold,
		FailureWindow:      app.FailureWindow,
		SuspiciousTTL:      app.SuspiciousTTL,
		GlobalRPS:          200,
		GlobalBurst:        400,
		OutboxPollInterval: 2 * time.Second,
		OutboxBatchSize:    100,
		OutboxClaimTTL:     30 * time.Second,
		OutboxMaxRetries:   5,
	}
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error so containers can run on env alone.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	// No default tags: unset variables leave the file value in place.
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config from env: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("missing DB_URL")
		}
		if c.RedisURL == "" {
			return errors.New("missing REDIS_URL")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.HandshakeSecret == "" && (c.VaultAddr == "" || c.VaultSecretPath == "") {
		return errors.New("missing HANDSHAKE_SECRET or VAULT_ADDR/VAULT_SECRET_PATH")
	}
	if !c.AllowEphemeralKeys {
		if c.AgeIdentity == "" {
			return errors.New("missing AGE_IDENTITY")
		}
		if c.JWTPrivateKeyPEM == "" || c.JWTPublicKeyPEM == "" {
			return errors.New("missing JWT_PRIVATE_KEY_PEM or JWT_PUBLIC_KEY_PEM")
		}
	}
	if c.RateLimitThreshold <= 0 || c.FailureThreshold <= 0 {
		return errors.New("rate limit and failure thresholds must be positive")
	}
	if c.ChallengeTTL <= 0 || c.RequestCodeTTL <= 0 || c.CredentialTTL <= 0 {
		return errors.New("challenge, request code and credential TTLs must be positive")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is taken as a
// single-host prefix.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", raw, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", raw, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Application projects the protocol settings handed to the use-case layer.
func (c Config) Application() application.Config {
	return application.Config{
		ChallengeTTL:       c.ChallengeTTL,
		CredentialTTL:      c.CredentialTTL,
		RequestCodeTTL:     c.RequestCodeTTL,
		SignatureSkew:      c.SignatureSkew,
		StatusTokenTTL:     c.StatusTokenTTL,
		RateLimitThreshold: c.RateLimitThreshold,
		RateLimitWindow:    c.RateLimitWindow,
		FailureThreshold:   c.FailureThreshold,
		FailureWindow:      c.FailureWindow,
		SuspiciousTTL:      c.SuspiciousTTL,
	}
}

// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/net/idna"

	"github.com/hitoshi/coestate/internal/model"
)

// ネットワーク名。
const (
	NetworkLocal = "local"
	NetworkIC    = "ic"
)

// 資格情報ストアの種類。
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// productionIdentityProvider は本番ネットワークのIDプロバイダーの公開オリジン。
const productionIdentityProvider = "https://identity.ic0.app"

// localRootKeyPath はローカルレプリカがルート鍵を返すパス。
const localRootKeyPath = "/api/v2/root_key"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Network
	Network                    string
	InternetIdentityCanisterID string
	BackendCanisterID          string
	LocalReplicaHost           string
	ICHost                     string

	// 以下はNetworkから導出される
	BackendTarget       string
	IdentityProviderURL string
	RootKeyURL          string

	// Trust
	IdentityProviderPublicKey []byte
	RootKey                   []byte

	// Session
	MaxTimeToLive     time.Duration
	CredentialStore   string
	CredentialProfile string
	CredentialSecret  string
	DatabaseURL       string
	RedisURL          string

	// RPC
	RPCRateLimit    float64
	RPCRateBurst    int
	RefreshInterval time.Duration

	// Observability
	MetricsAddr  string
	OTelEndpoint string
	OTelEnabled  bool
	LogLevel     string
}

// rawEnv は環境変数の生の値。
type rawEnv struct {
	Network                    string        `env:"DFX_NETWORK"                   envDefault:"local"`
	InternetIdentityCanisterID string        `env:"CANISTER_ID_INTERNET_IDENTITY"`
	BackendCanisterID          string        `env:"CANISTER_ID_PROJECT_BACKEND"`
	LocalReplicaHost           string        `env:"LOCAL_REPLICA_HOST"            envDefault:"http://localhost:4943"`
	ICHost                     string        `env:"IC_HOST"                       envDefault:"https://ic0.app"`
	BackendTarget              string        `env:"BACKEND_TARGET"`
	IdentityProviderURL        string        `env:"IDENTITY_PROVIDER_URL"`
	IdentityProviderPublicKey  string        `env:"IDENTITY_PROVIDER_PUBLIC_KEY"`
	RootKey                    string        `env:"ROOT_KEY"`
	MaxTimeToLive              time.Duration `env:"MAX_TIME_TO_LIVE"              envDefault:"168h"`
	CredentialStore            string        `env:"CREDENTIAL_STORE"              envDefault:"memory"`
	CredentialProfile          string        `env:"CREDENTIAL_PROFILE"            envDefault:"default"`
	CredentialSecret           string        `env:"CREDENTIAL_SECRET"`
	DatabaseURL                string        `env:"DATABASE_URL"`
	RedisURL                   string        `env:"REDIS_URL"`
	RPCRateLimit               float64       `env:"RPC_RATE_LIMIT"                envDefault:"20"`
	RPCRateBurst               int           `env:"RPC_RATE_BURST"                envDefault:"10"`
	RefreshInterval            time.Duration `env:"REFRESH_INTERVAL"              envDefault:"3s"`
	MetricsAddr                string        `env:"METRICS_ADDR"`
	OTelEndpoint               string        `env:"OTEL_ENDPOINT"`
	OTelEnabled                bool          `env:"OTEL_ENABLED"`
	LogLevel                   string        `env:"LOG_LEVEL"                     envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
// 値が不正な場合は*model.ConfigurationErrorを返す。
func Load() (*Config, error) {
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	network := strings.ToLower(strings.TrimSpace(raw.Network))
	store := strings.ToLower(strings.TrimSpace(raw.CredentialStore))

	var missing []string
	if raw.BackendCanisterID == "" {
		missing = append(missing, "CANISTER_ID_PROJECT_BACKEND")
	}
	if network == NetworkLocal && raw.InternetIdentityCanisterID == "" && raw.IdentityProviderURL == "" {
		missing = append(missing, "CANISTER_ID_INTERNET_IDENTITY")
	}
	if store != StoreMemory && raw.CredentialSecret == "" {
		missing = append(missing, "CREDENTIAL_SECRET")
	}
	if store == StorePostgres && raw.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if store == StoreRedis && raw.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg := &Config{
		Network:                    network,
		InternetIdentityCanisterID: strings.ToLower(strings.TrimSpace(raw.InternetIdentityCanisterID)),
		BackendCanisterID:          strings.TrimSpace(raw.BackendCanisterID),
		MaxTimeToLive:              raw.MaxTimeToLive,
		CredentialStore:            store,
		CredentialProfile:          raw.CredentialProfile,
		CredentialSecret:           raw.CredentialSecret,
		DatabaseURL:                raw.DatabaseURL,
		RedisURL:                   raw.RedisURL,
		RPCRateLimit:               raw.RPCRateLimit,
		RPCRateBurst:               raw.RPCRateBurst,
		RefreshInterval:            raw.RefreshInterval,
		MetricsAddr:                raw.MetricsAddr,
		OTelEndpoint:               raw.OTelEndpoint,
		OTelEnabled:                raw.OTelEnabled,
		LogLevel:                   raw.LogLevel,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var err error
	if cfg.LocalReplicaHost, err = normalizeOrigin("LOCAL_REPLICA_HOST", raw.LocalReplicaHost); err != nil {
		return nil, err
	}
	if cfg.ICHost, err = normalizeOrigin("IC_HOST", raw.ICHost); err != nil {
		return nil, err
	}
	if cfg.IdentityProviderPublicKey, err = decodeKey("IDENTITY_PROVIDER_PUBLIC_KEY", raw.IdentityProviderPublicKey); err != nil {
		return nil, err
	}
	if cfg.RootKey, err = decodeKey("ROOT_KEY", raw.RootKey); err != nil {
		return nil, err
	}

	if err := cfg.derive(raw); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsLocal はローカル開発ネットワークかどうかを返す。
func (c *Config) IsLocal() bool {
	return c.Network == NetworkLocal
}

func (c *Config) validate() error {
	switch c.Network {
	case NetworkLocal, NetworkIC:
	default:
		return &model.ConfigurationError{Field: "DFX_NETWORK", Reason: fmt.Sprintf("unknown network %q (want local or ic)", c.Network)}
	}
	switch c.CredentialStore {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return &model.ConfigurationError{Field: "CREDENTIAL_STORE", Reason: fmt.Sprintf("unknown store %q", c.CredentialStore)}
	}
	if c.CredentialProfile == "" {
		return &model.ConfigurationError{Field: "CREDENTIAL_PROFILE", Reason: "must not be empty"}
	}
	if c.MaxTimeToLive <= 0 {
		return &model.ConfigurationError{Field: "MAX_TIME_TO_LIVE", Reason: "must be positive"}
	}
	if c.RPCRateLimit < 0 || c.RPCRateBurst < 0 {
		return &model.ConfigurationError{Field: "RPC_RATE_LIMIT", Reason: "must not be negative"}
	}
	if c.RefreshInterval <= 0 {
		return &model.ConfigurationError{Field: "REFRESH_INTERVAL", Reason: "must be positive"}
	}
	return nil
}

// derive はネットワーク種別から接続先を導出する。明示的な指定があればそちらを優先する。
func (c *Config) derive(raw rawEnv) error {
	base := c.ICHost
	if c.IsLocal() {
		base = c.LocalReplicaHost
		c.RootKeyURL = base + localRootKeyPath
	}

	if raw.BackendTarget != "" {
		c.BackendTarget = strings.TrimSpace(raw.BackendTarget)
	} else {
		target, err := grpcTarget(base)
		if err != nil {
			return &model.ConfigurationError{Field: "BACKEND_TARGET", Reason: err.Error()}
		}
		c.BackendTarget = target
	}

	switch {
	case raw.IdentityProviderURL != "":
		origin, err := normalizeOrigin("IDENTITY_PROVIDER_URL", raw.IdentityProviderURL)
		if err != nil {
			return err
		}
		c.IdentityProviderURL = origin
	case c.IsLocal():
		u, _ := url.Parse(c.LocalReplicaHost)
		host, err := idna.Lookup.ToASCII(c.InternetIdentityCanisterID + "." + u.Hostname())
		if err != nil {
			return &model.ConfigurationError{Field: "CANISTER_ID_INTERNET_IDENTITY", Reason: err.Error()}
		}
		if port := u.Port(); port != "" {
			host = net.JoinHostPort(host, port)
		}
		c.IdentityProviderURL = u.Scheme + "://" + host + "/"
	default:
		c.IdentityProviderURL = productionIdentityProvider
	}
	return nil
}

// normalizeOrigin はURLを検証し、ホスト名をIDNAでASCII小文字に正規化したオリジンを返す。
func normalizeOrigin(field, raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &model.ConfigurationError{Field: field, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("scheme must be http or https, got %q", u.Scheme)}
	}
	if u.Hostname() == "" {
		return "", &model.ConfigurationError{Field: field, Reason: "host is empty"}
	}
	host, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		return "", &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("invalid host: %v", err)}
	}
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	}
	return u.Scheme + "://" + host + strings.TrimSuffix(u.Path, "/"), nil
}

// grpcTarget はオリジンからgRPCのダイアル先 (host:port) を求める。
func grpcTarget(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

func decodeKey(field, raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("not valid base64: %v", err)}
	}
	return b, nil
}

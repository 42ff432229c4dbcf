// Package rpc はアイデンティティに束縛されたバックエンド呼び出し用のgRPCバインディングを構築する。
package rpc

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hitoshi/coestate/internal/identity"
	"github.com/hitoshi/coestate/internal/metrics"
	"github.com/hitoshi/coestate/internal/model"
)

const (
	// DefaultIngressExpiry はリクエストの有効期限。
	DefaultIngressExpiry = 5 * time.Minute
	defaultFetchTimeout  = 5 * time.Second
)

// NetworkConfig はバインディングの接続先と信頼情報。
type NetworkConfig struct {
	// Target はgRPCのダイアル先 (host:port または resolver付きURI)。
	Target string
	// ServiceName はバックエンドキャニスターID。
	ServiceName string
	// TrustLocalRootKey はローカルレプリカからルート鍵を取得するかどうか。
	TrustLocalRootKey bool
	// RootKeyURL はルート鍵の取得先。TrustLocalRootKeyの場合は必須。
	RootKeyURL string
	// RootKey は事前に配布されたルート鍵 (ed25519公開鍵)。
	RootKey []byte
	// Plaintext はTLSを使わずに接続するかどうか。
	Plaintext bool
}

// Validate は設定の妥当性を検証する。
func (c NetworkConfig) Validate() error {
	if strings.TrimSpace(c.Target) == "" {
		return &model.ConfigurationError{Field: "Target", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		return &model.ConfigurationError{Field: "ServiceName", Reason: "must not be empty"}
	}
	if c.TrustLocalRootKey {
		u, err := url.Parse(c.RootKeyURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &model.ConfigurationError{Field: "RootKeyURL", Reason: "must be an absolute http(s) URL"}
		}
	}
	if len(c.RootKey) != 0 && len(c.RootKey) != ed25519.PublicKeySize {
		return &model.ConfigurationError{Field: "RootKey", Reason: "must be a 32-byte ed25519 public key"}
	}
	return nil
}

// Options はFactoryの動作設定。
type Options struct {
	// RateLimit は1秒あたりの呼び出し上限。0以下で無制限。
	RateLimit float64
	RateBurst int
	// IngressExpiry はリクエストの有効期限。0の場合はDefaultIngressExpiry。
	IngressExpiry time.Duration
	// HTTPClient はルート鍵取得に使うクライアント。
	HTTPClient *http.Client
	// Generation は現在のセッション世代を返す。古い世代の応答の破棄に使う。
	Generation func() uint64
	// DialOptions は追加のダイアルオプション。
	DialOptions []grpc.DialOption
	Now         func() time.Time
}

// Factory はアイデンティティごとのBindingを生成する。
type Factory struct {
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewFactory はFactoryを生成する。レートリミッターはバインディング間で共有する。
func NewFactory(opts Options, logger *slog.Logger, mc metrics.MetricsCollector) *Factory {
	if opts.IngressExpiry <= 0 {
		opts.IngressExpiry = DefaultIngressExpiry
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Factory{opts: opts, limiter: limiter, logger: logger, metrics: mc}
}

// Build はidentityで署名するBindingを生成する。接続は最初の呼び出しまで確立しない。
// 設定不備は*model.ConfigurationErrorを返す。ルート鍵の取得失敗は致命的ではなく、
// 信頼度低下モードのBindingとして返す。
func (f *Factory) Build(ctx context.Context, id identity.Identity, cfg NetworkConfig, generation uint64) (*Binding, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if id == nil {
		id = identity.Anonymous{}
	}

	b := &Binding{
		identity:   id,
		generation: generation,
		current:    f.opts.Generation,
		metrics:    f.metrics,
		done:       make(chan struct{}),
	}

	var rootKey ed25519.PublicKey
	switch {
	case cfg.TrustLocalRootKey:
		key, err := fetchRootKey(ctx, f.opts.HTTPClient, cfg.RootKeyURL)
		if err != nil {
			b.trust = TrustDegraded
			b.warning = &model.TrustBootstrapWarning{URL: cfg.RootKeyURL, Err: err}
			f.metrics.RecordTrustDegraded()
			f.logger.Warn("ルート鍵を取得できないため応答を検証せずに動作します",
				slog.String("root_key_url", cfg.RootKeyURL),
				slog.String("error", err.Error()),
			)
		} else {
			rootKey = key
			b.trust = TrustVerified
		}
	case len(cfg.RootKey) > 0:
		rootKey = ed25519.PublicKey(cfg.RootKey)
		b.trust = TrustVerified
	default:
		b.trust = TrustUnverified
	}

	var creds credentials.TransportCredentials
	if cfg.Plaintext {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(
			rateLimitInterceptor(f.limiter),
			metricsInterceptor(f.metrics),
			envelopeInterceptor(id, cfg.ServiceName, f.opts.IngressExpiry, f.opts.Now, rootKey),
		),
	}
	dialOpts = append(dialOpts, f.opts.DialOptions...)

	conn, err := grpc.NewClient(cfg.Target, dialOpts...)
	if err != nil {
		return nil, &model.ConfigurationError{Field: "Target", Reason: err.Error()}
	}
	b.conn = conn

	f.metrics.SetBindingGeneration(generation)
	f.logger.Debug("バインディングを構築しました",
		slog.String("principal", id.Principal().String()),
		slog.Uint64("generation", generation),
		slog.String("trust", b.trust.String()),
	)
	return b, nil
}

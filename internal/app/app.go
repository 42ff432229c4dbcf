// Package app はcoestate CLIの初期化と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/coestate/internal/auth"
	"github.com/hitoshi/coestate/internal/config"
	"github.com/hitoshi/coestate/internal/database"
	"github.com/hitoshi/coestate/internal/identity"
	"github.com/hitoshi/coestate/internal/logger"
	"github.com/hitoshi/coestate/internal/metrics"
	"github.com/hitoshi/coestate/internal/model"
	"github.com/hitoshi/coestate/internal/portfolio"
	"github.com/hitoshi/coestate/internal/repository"
	"github.com/hitoshi/coestate/internal/rpc"
	"github.com/hitoshi/coestate/internal/security"
	"github.com/hitoshi/coestate/internal/session"
	"github.com/hitoshi/coestate/internal/telemetry"
	"github.com/hitoshi/coestate/internal/worker/cleanup"
)

const (
	serviceName       = "coestate"
	httpClientTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, "info")

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はCLIのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。結果のJSONはstdoutへ、ログと案内はstderrへ書く。
func Run(stdout, stderr io.Writer, args []string) error {
	cmd, rest := ParseCommand(args)

	switch cmd {
	case CommandHelp:
		_, err := io.WriteString(stdout, usage)
		return err
	case CommandUnknown:
		_, _ = io.WriteString(stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}

	cfg, err := Init(stderr)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	slog.Debug("コマンドを開始します",
		slog.String("command", string(cmd)),
		slog.String("network", cfg.Network),
	)

	if !cmd.needsSession() {
		if cmd == CommandMigrate {
			return runMigrate(cfg)
		}
		return runDevBackend(ctx, cfg, slog.Default(), rest)
	}

	rt, err := newRuntime(ctx, cfg, slog.Default(), stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.dispatch(ctx, cmd, rest, stdout)
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sig:
			slog.Info("シグナルを受信しました。終了します")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sig)
	}()
	return ctx, cancel
}

// runtime はセッションを必要とするコマンドの依存関係一式。
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	stderr    io.Writer
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	manager   *auth.Manager
	session   *session.Context
	portfolio *portfolio.Service
	cleanup   *cleanup.CleanupJob

	closers []func()
}

// newRuntime は全依存関係をワイヤリングし、保存済み資格情報の復元まで行う。
func newRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger, stderr io.Writer) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, logger: log, stderr: stderr}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	// 1. トレーシング
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		return rt, fmt.Errorf("failed to set up tracing: %w", err)
	}
	rt.closers = append(rt.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	})

	// 2. メトリクス
	rt.registry = prometheus.NewRegistry()
	rt.metrics = metrics.NewCollector(rt.registry)

	// 3. 資格情報ストア
	repo, err := rt.openCredentialRepo(ctx)
	if err != nil {
		return rt, err
	}

	secret, err := credentialSecret(cfg)
	if err != nil {
		return rt, err
	}
	sealer, err := identity.NewSealer(secret)
	if err != nil {
		return rt, fmt.Errorf("failed to create sealer: %w", err)
	}

	// 4. IDプロバイダー
	verifier, err := auth.NewDelegationVerifier(auth.DelegationVerifierConfig{
		PublicKey:       cfg.IdentityProviderPublicKey,
		AllowUnverified: cfg.IsLocal() && len(cfg.IdentityProviderPublicKey) == 0,
	}, log)
	if err != nil {
		return rt, fmt.Errorf("failed to create delegation verifier: %w", err)
	}

	guard := security.NewSSRFGuard()
	httpClient := outboundClient(cfg, guard)

	provider, err := auth.NewLoopbackProvider(auth.LoopbackConfig{
		ProviderURL: cfg.IdentityProviderURL,
		Opener:      auth.PrintOpener(stderr),
		Verifier:    verifier,
		HTTPClient:  httpClient,
	}, log)
	if err != nil {
		return rt, fmt.Errorf("failed to create identity provider: %w", err)
	}

	// 5. セッションマネージャー
	rt.manager = auth.NewManager(provider, repo, identity.NewStore(), auth.ManagerConfig{
		Profile:       cfg.CredentialProfile,
		MaxTimeToLive: cfg.MaxTimeToLive,
		Sealer:        sealer,
		Verifier:      verifier,
	}, log, rt.metrics)

	// 6. バインディングとセッションコンテキスト
	factory := rpc.NewFactory(rpc.Options{
		RateLimit:  cfg.RPCRateLimit,
		RateBurst:  cfg.RPCRateBurst,
		HTTPClient: httpClient,
		Generation: rt.manager.Generation,
	}, log, rt.metrics)

	rt.session, err = session.New(ctx, rt.manager, factory, NetworkConfig(cfg), log)
	if err != nil {
		return rt, fmt.Errorf("failed to build backend binding: %w", err)
	}
	rt.closers = append(rt.closers, rt.session.Close)

	if err := rt.manager.Bootstrap(ctx); err != nil {
		// 復元に失敗しても匿名で続行できる
		log.Warn("保存済み資格情報の復元に失敗しました", slog.String("error", err.Error()))
	}

	// 7. ビュー
	sess := rt.session
	rt.portfolio = portfolio.NewService(
		func() portfolio.Backend { return sess.Client() },
		guard,
		sess.IsAuthenticated,
		log,
	)

	if b := sess.Binding(); b.Warning() != nil {
		log.Warn("応答証明を検証せずに動作しています",
			slog.String("trust_mode", b.TrustMode().String()),
			slog.String("error", b.Warning().Error()),
		)
	}

	return rt, nil
}

// openCredentialRepo は設定に応じた資格情報リポジトリを開く。
func (rt *runtime) openCredentialRepo(ctx context.Context) (repository.CredentialRepository, error) {
	cfg := rt.cfg
	switch cfg.CredentialStore {
	case config.StorePostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		rt.logger.Info("データベースに接続しました",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)

		repo := repository.NewPostgresCredentialRepo(db)
		rt.cleanup = cleanup.NewCleanupJob(repo, rt.logger)
		if err := rt.cleanup.Run(ctx); err != nil {
			rt.logger.Warn("期限切れ資格情報の削除に失敗しました", slog.String("error", err.Error()))
		}
		return repo, nil

	case config.StoreRedis:
		client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		return repository.NewRedisCredentialRepo(client), nil

	default:
		rt.logger.Debug("メモリストアのため資格情報はプロセス終了時に失われます")
		return repository.NewMemoryCredentialRepo(), nil
	}
}

// Close は確保した資源を逆順に解放する。
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// NetworkConfig は設定からバインディングの接続先を組み立てる。
func NetworkConfig(cfg *config.Config) rpc.NetworkConfig {
	origin := cfg.ICHost
	if cfg.IsLocal() {
		origin = cfg.LocalReplicaHost
	}
	return rpc.NetworkConfig{
		Target:            cfg.BackendTarget,
		ServiceName:       cfg.BackendCanisterID,
		TrustLocalRootKey: cfg.IsLocal() && len(cfg.RootKey) == 0,
		RootKeyURL:        cfg.RootKeyURL,
		RootKey:           cfg.RootKey,
		Plaintext:         strings.HasPrefix(origin, "http://"),
	}
}

// outboundClient は外部HTTP呼び出し用のクライアントを返す。
// ローカルネットワークはループバック宛てのためSSRFガードを通さない。
func outboundClient(cfg *config.Config, guard *security.Guard) *http.Client {
	if cfg.IsLocal() {
		return &http.Client{Timeout: httpClientTimeout}
	}
	return guard.NewSafeClient(httpClientTimeout)
}

// credentialSecret は封印鍵の導出元を返す。
// メモリストアで未設定の場合はプロセスごとの乱数を使う。
func credentialSecret(cfg *config.Config) ([]byte, error) {
	if cfg.CredentialSecret != "" {
		return []byte(cfg.CredentialSecret), nil
	}
	if cfg.CredentialStore != config.StoreMemory {
		return nil, errors.New("CREDENTIAL_SECRET is required for persistent credential stores")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate credential secret: %w", err)
	}
	return secret, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return &model.ConfigurationError{Field: "DATABASE_URL", Reason: "must be set for migrate"}
	}

	slog.Info("データベースマイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	st, err := database.Migrate(cfg.DatabaseURL, slog.Default())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("データベースマイグレーションが完了しました",
		slog.Uint64("version", uint64(st.Version)),
		slog.Bool("changed", st.Changed),
	)
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

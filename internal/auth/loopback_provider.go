package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/coestate/internal/middleware"
)

const (
	defaultListenAddr   = "127.0.0.1:0"
	callbackPath        = "/callback"
	logoutPath          = "/logout"
	shutdownGracePeriod = 2 * time.Second
)

// Opener はユーザーに認証URLを開かせる。
type Opener func(ctx context.Context, authURL string) error

// PrintOpener は認証URLをwに表示するOpenerを返す。
func PrintOpener(w io.Writer) Opener {
	return func(_ context.Context, authURL string) error {
		_, err := fmt.Fprintf(w, "ブラウザで次のURLを開いてログインしてください:\n%s\n", authURL)
		return err
	}
}

// LoopbackConfig はループバックリダイレクト方式のプロバイダー設定。
type LoopbackConfig struct {
	// ProviderURL はIDプロバイダーのオリジン。
	ProviderURL string
	// ListenAddr はコールバックサーバーの待受アドレス。空の場合は127.0.0.1の空きポート。
	ListenAddr string
	Opener     Opener
	Verifier   *DelegationVerifier
	// HTTPClient はリモートログアウトに使うクライアント。本番ではSSRF防止付きのものを渡す。
	HTTPClient *http.Client
}

// LoopbackProvider はローカルのコールバックサーバーで委任トークンを受け取るIdentityProvider。
type LoopbackProvider struct {
	cfg    LoopbackConfig
	logger *slog.Logger
}

// NewLoopbackProvider はLoopbackProviderを生成する。
func NewLoopbackProvider(cfg LoopbackConfig, logger *slog.Logger) (*LoopbackProvider, error) {
	origin, err := url.Parse(cfg.ProviderURL)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid identity provider URL: %q", cfg.ProviderURL)
	}
	if cfg.Verifier == nil {
		return nil, errors.New("delegation verifier is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.Opener == nil {
		return nil, errors.New("opener is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	cfg.ProviderURL = strings.TrimRight(cfg.ProviderURL, "/")
	return &LoopbackProvider{cfg: cfg, logger: logger}, nil
}

// callbackResult はコールバックで受け取った結果。
type callbackResult struct {
	delegation *Delegation
	err        error
}

// Authenticate はコールバックサーバーを起動し、認証URLを開いて委任を待つ。
func (p *LoopbackProvider) Authenticate(ctx context.Context, req AuthRequest) (*Delegation, error) {
	ln, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback listener: %w", err)
	}

	state := uuid.NewString()
	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           p.callbackRouter(state, req, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("コールバックサーバーが異常終了しました", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	redirectURI := "http://" + ln.Addr().String() + callbackPath
	if err := p.cfg.Opener(ctx, p.authorizeURL(req, redirectURI, state)); err != nil {
		return nil, fmt.Errorf("failed to open authorize URL: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		return res.delegation, res.err
	}
}

// authorizeURL はプロバイダーの認可ページURLを組み立てる。
func (p *LoopbackProvider) authorizeURL(req AuthRequest, redirectURI, state string) string {
	q := url.Values{
		"session_key":  {EncodeSessionKey(req.SessionKey)},
		"max_ttl":      {strconv.FormatInt(int64(req.MaxTimeToLive/time.Second), 10)},
		"redirect_uri": {redirectURI},
		"state":        {state},
	}
	return p.cfg.ProviderURL + "/#authorize?" + q.Encode()
}

// callbackRouter はコールバックを1回だけ受け付けるルーターを返す。
func (p *LoopbackProvider) callbackRouter(state string, req AuthRequest, results chan<- callbackResult) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Standard(p.logger, middleware.ComponentCallback)...)

	deliver := func(res callbackResult) {
		select {
		case results <- res:
		default:
		}
	}

	r.Get(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("callback state mismatch")})
			return
		}
		if reason := q.Get("error"); reason != "" {
			http.Error(w, "login was rejected", http.StatusBadRequest)
			deliver(callbackResult{err: fmt.Errorf("identity provider rejected login: %s", reason)})
			return
		}

		d, err := p.cfg.Verifier.Verify(q.Get("delegation"), req.SessionKey, req.MaxTimeToLive)
		if err != nil {
			http.Error(w, "invalid delegation", http.StatusBadRequest)
			deliver(callbackResult{err: err})
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ログインが完了しました。このウィンドウは閉じて構いません。\n")
		deliver(callbackResult{delegation: d})
	})
	return r
}

// Logout はプロバイダーに委任の失効を要求する。
func (p *LoopbackProvider) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.ProviderURL+logoutPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("logout failed with status %d", resp.StatusCode)
	}
	return nil
}

// compile-time interface check
var _ IdentityProvider = (*LoopbackProvider)(nil)

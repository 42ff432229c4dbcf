package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"

	"github.com/hitoshi/coestate/internal/backend/backendtest"
	"github.com/hitoshi/coestate/internal/config"
	"github.com/hitoshi/coestate/internal/middleware"
)

// rootKeyPath はローカルレプリカ互換のルート鍵エンドポイント。
const rootKeyPath = "/api/v2/root_key"

// runDevBackend はインメモリのバックエンドを起動する。
// gRPCとルート鍵エンドポイントを同じポートでh2cにより提供する。
func runDevBackend(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	if !cfg.IsLocal() {
		return errors.New("dev-backend is only available on the local network")
	}

	fs := newFlagSet(CommandDevBackend, nil)
	addr := fs.String("addr", cfg.BackendTarget, "待受アドレス")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate root key: %w", err)
	}

	gs := backendtest.NewGRPCServer(backendtest.NewServer(), priv, cfg.BackendCanisterID)
	defer gs.Stop()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           devBackendHandler(gs, pub, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("開発用バックエンドを起動します",
			slog.String("addr", srv.Addr),
			slog.String("canister", cfg.BackendCanisterID),
			slog.String("root_key", base64.StdEncoding.EncodeToString(pub)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dev backend listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("dev backend shutdown failed: %w", err)
	}
	log.Info("開発用バックエンドを停止しました")
	return nil
}

// devBackendHandler はgRPCリクエストをgsへ、それ以外をルート鍵ルーターへ振り分ける。
func devBackendHandler(gs *grpc.Server, rootKey ed25519.PublicKey, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Standard(log, middleware.ComponentDevBackend)...)
	r.Get(rootKeyPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"root_key": base64.StdEncoding.EncodeToString(rootKey),
		})
	})

	mux := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.ProtoMajor == 2 && strings.HasPrefix(req.Header.Get("Content-Type"), "application/grpc") {
			gs.ServeHTTP(w, req)
			return
		}
		r.ServeHTTP(w, req)
	})
	return h2c.NewHandler(mux, &http2.Server{})
}

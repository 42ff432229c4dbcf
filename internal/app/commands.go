package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/coestate/internal/backend"
	"github.com/hitoshi/coestate/internal/metrics"
	"github.com/hitoshi/coestate/internal/middleware"
	"github.com/hitoshi/coestate/internal/model"
	"github.com/hitoshi/coestate/internal/worker/refresh"
)

// cleanupInterval はwatch中に期限切れ資格情報を削除する間隔。
const cleanupInterval = 24 * time.Hour

// whoami はwhoamiコマンドの出力。
type whoami struct {
	State         string `json:"state"`
	Authenticated bool   `json:"authenticated"`
	Principal     string `json:"principal"`
	Generation    uint64 `json:"generation"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
	TrustMode     string `json:"trustMode"`
}

// result は更新系コマンドの出力。
type result struct {
	Message string `json:"message"`
}

// dispatch はコマンドを実行し、結果をJSONでoutへ書く。
func (rt *runtime) dispatch(ctx context.Context, cmd Command, args []string, out io.Writer) error {
	switch cmd {
	case CommandWhoami:
		return writeJSON(out, rt.whoami())

	case CommandLogin:
		if err := rt.session.Login(ctx); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		return writeJSON(out, rt.whoami())

	case CommandLogout:
		if err := rt.session.Logout(ctx); err != nil {
			return fmt.Errorf("logout failed: %w", err)
		}
		return writeJSON(out, rt.whoami())

	case CommandProperties:
		fs := newFlagSet(cmd, rt.stderr)
		typeFilter := fs.String("type", "", "物件種別で絞り込む")
		if err := fs.Parse(args); err != nil {
			return err
		}
		props, err := rt.portfolio.ListProperties(ctx, *typeFilter)
		if err != nil {
			return err
		}
		return writeJSON(out, props)

	case CommandProperty:
		if len(args) != 1 {
			return fmt.Errorf("usage: coestate property <id>")
		}
		id, err := parseUint("id", args[0])
		if err != nil {
			return err
		}
		p, err := rt.portfolio.GetProperty(ctx, id)
		if err != nil {
			return err
		}
		return writeJSON(out, p)

	case CommandPortfolio:
		v, err := rt.portfolio.Portfolio(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, v)

	case CommandLeases:
		fs := newFlagSet(cmd, rt.stderr)
		all := fs.Bool("all", false, "全利用者の賃貸契約を表示する")
		if err := fs.Parse(args); err != nil {
			return err
		}
		leases, err := rt.portfolio.Leases(ctx, *all)
		if err != nil {
			return err
		}
		return writeJSON(out, leases)

	case CommandDashboard:
		v, err := rt.portfolio.Dashboard(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, v)

	case CommandWatch:
		return rt.watch(ctx, args, out)

	case CommandBuy:
		if len(args) != 2 {
			return fmt.Errorf("usage: coestate buy <property-id> <shares>")
		}
		id, err := parseUint("property_id", args[0])
		if err != nil {
			return err
		}
		shares, err := parseUint("shares", args[1])
		if err != nil {
			return err
		}
		msg, err := rt.portfolio.BuyShares(ctx, id, shares)
		if err != nil {
			return err
		}
		return writeJSON(out, result{Message: msg})

	case CommandRegisterProperty:
		p, err := parsePropertyFlags(newFlagSet(cmd, rt.stderr), args)
		if err != nil {
			return err
		}
		msg, err := rt.portfolio.RegisterProperty(ctx, p)
		if err != nil {
			return err
		}
		return writeJSON(out, result{Message: msg})

	case CommandRegisterLease:
		l, err := parseLeaseFlags(newFlagSet(cmd, rt.stderr), args)
		if err != nil {
			return err
		}
		msg, err := rt.portfolio.RegisterLease(ctx, l)
		if err != nil {
			return err
		}
		return writeJSON(out, result{Message: msg})

	case CommandRegisterUser:
		msg, err := rt.portfolio.RegisterUser(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, result{Message: msg})

	default:
		return fmt.Errorf("command %q is not supported here", cmd)
	}
}

func (rt *runtime) whoami() whoami {
	snap := rt.session.Snapshot()
	w := whoami{
		State:         snap.State.String(),
		Authenticated: snap.Authenticated,
		Principal:     snap.Principal.String(),
		Generation:    snap.Generation,
		TrustMode:     rt.session.Binding().TrustMode().String(),
	}
	if !snap.ExpiresAt.IsZero() {
		w.ExpiresAt = snap.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return w
}

// watch はダッシュボードを定期的に取得して出力する。
// METRICS_ADDRが設定されていれば/metricsを公開する。
func (rt *runtime) watch(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet(CommandWatch, rt.stderr)
	interval := fs.Duration("interval", rt.cfg.RefreshInterval, "更新間隔")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *interval <= 0 {
		return model.NewInvalidAmountError("interval", interval.String())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if rt.cfg.MetricsAddr != "" {
		srv := rt.metricsServer(rt.cfg.MetricsAddr)
		go func() {
			rt.logger.Info("メトリクスサーバーを起動します", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Error("メトリクスサーバーの待受に失敗しました", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if rt.cleanup != nil {
		go rt.runCleanupLoop(ctx)
	}

	// セッション状態の変化をログに残す
	changes, unsubscribe := rt.session.Subscribe()
	defer unsubscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-changes:
				if !ok {
					return
				}
				rt.logger.Info("セッション状態が変わりました",
					slog.String("state", snap.State.String()),
					slog.String("principal", snap.Principal.String()),
					slog.Uint64("generation", snap.Generation),
				)
			}
		}
	}()

	enc := json.NewEncoder(out)
	poller := refresh.NewPoller(func(ctx context.Context) error {
		v, err := rt.portfolio.Dashboard(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(v)
	}, *interval, rt.logger, rt.metrics)

	rt.logger.Info("ダッシュボードの定期更新を開始します", slog.Duration("interval", *interval))
	poller.Start(ctx)
	rt.logger.Info("ダッシュボードの定期更新を停止しました")
	return nil
}

// metricsServer は/metricsを提供するHTTPサーバーを返す。
func (rt *runtime) metricsServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           middleware.Wrap(metrics.SetupMetricsRoute(rt.registry), middleware.Standard(rt.logger, middleware.ComponentMetrics)...),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// runCleanupLoop は期限切れ資格情報の削除を日次で実行する。
func (rt *runtime) runCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rt.cleanup.Run(ctx); err != nil {
				rt.logger.Error("クリーンアップジョブに失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

func newFlagSet(cmd Command, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(string(cmd), flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parsePropertyFlags はregister-propertyの引数を解析する。
func parsePropertyFlags(fs *flag.FlagSet, args []string) (backend.PropertyRegistration, error) {
	var p backend.PropertyRegistration
	var amenities, images string
	fs.StringVar(&p.Title, "title", "", "物件名")
	fs.StringVar(&p.Street, "street", "", "番地")
	fs.StringVar(&p.City, "city", "", "市区町村")
	fs.StringVar(&p.State, "state", "", "州・都道府県")
	fs.Uint64Var(&p.ZipCode, "zip", 0, "郵便番号")
	fs.StringVar(&p.PropertyType, "type", "", "物件種別 (Residential, Industrial, Commercial, MixedUse)")
	fs.Uint64Var(&p.TotalValue, "total-value", 0, "物件の総額")
	fs.Uint64Var(&p.Shares, "shares", 0, "発行する持分数")
	fs.Uint64Var(&p.PricePerShare, "price-per-share", 0, "1持分あたりの価格")
	fs.StringVar(&p.Description, "description", "", "説明")
	fs.StringVar(&amenities, "amenities", "", "設備 (カンマ区切り)")
	fs.StringVar(&images, "images", "", "画像URL (カンマ区切り)")
	fs.Uint64Var(&p.MonthlyRent, "monthly-rent", 0, "月額賃料")
	if err := fs.Parse(args); err != nil {
		return p, err
	}
	p.Amenities = splitList(amenities)
	p.Images = splitList(images)
	return p, nil
}

// parseLeaseFlags はregister-leaseの引数を解析する。
func parseLeaseFlags(fs *flag.FlagSet, args []string) (backend.LeaseRegistration, error) {
	var l backend.LeaseRegistration
	fs.Uint64Var(&l.PropertyID, "property", 0, "物件ID")
	fs.StringVar(&l.TenantName, "tenant-name", "", "借主名")
	fs.StringVar(&l.TenantEmail, "tenant-email", "", "借主メールアドレス")
	fs.StringVar(&l.TenantPhone, "tenant-phone", "", "借主電話番号")
	fs.StringVar(&l.StartDate, "start", "", "開始日 (YYYY-MM-DD)")
	fs.StringVar(&l.EndDate, "end", "", "終了日 (YYYY-MM-DD)")
	fs.Uint64Var(&l.MonthlyRent, "monthly-rent", 0, "月額賃料")
	fs.Uint64Var(&l.SecurityDeposit, "deposit", 0, "敷金")
	fs.StringVar(&l.LeaseTerms, "terms", "", "契約条件")
	fs.StringVar(&l.SpecialConditions, "conditions", "", "特約")
	if err := fs.Parse(args); err != nil {
		return l, err
	}
	return l, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseUint(field, s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, model.NewInvalidAmountError(field, s)
	}
	return n, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

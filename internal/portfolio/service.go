// Package portfolio はバックエンド呼び出しと正規化を組み合わせて表示用のビューを組み立てる。
//
// ビューは一括で読み込み、途中で失敗した場合は部分的な結果を返さない。
package portfolio

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/hitoshi/coestate/internal/backend"
	"github.com/hitoshi/coestate/internal/model"
	"github.com/hitoshi/coestate/internal/normalize"
)

// Backend はビューの組み立てに使うバックエンド操作。*backend.Client が実装する。
type Backend interface {
	GetAllProperties(ctx context.Context) ([]any, error)
	GetUserRegisteredProperties(ctx context.Context) ([]any, error)
	GetUserInvestedProperties(ctx context.Context) ([]any, error)
	GetUserData(ctx context.Context) (backend.RawRecord, error)
	GetMyLeases(ctx context.Context) ([]any, error)
	GetAllLeases(ctx context.Context) ([]any, error)
	RegisterProperty(ctx context.Context, p backend.PropertyRegistration) (string, error)
	RegisterLease(ctx context.Context, l backend.LeaseRegistration) (string, error)
	BuyShare(ctx context.Context, propertyID, shares uint64) (string, error)
	RegisterUser(ctx context.Context) (string, error)
}

// BackendSource は現在のセッションに束縛されたBackendを返す。
type BackendSource func() Backend

// URLValidator は画像URLを検証する。security.SSRFGuardService が実装する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// PortfolioView は投資家向けのポートフォリオ。
type PortfolioView struct {
	Summary     normalize.AccountSummary `json:"summary"`
	Investments []normalize.Investment   `json:"investments"`
	Leases      []normalize.Lease        `json:"leases"`
}

// DashboardView は物件オーナー向けのダッシュボード。
type DashboardView struct {
	Summary    normalize.AccountSummary `json:"summary"`
	Properties []normalize.Property     `json:"properties"`
}

// Service はポートフォリオ関連の操作を提供する。
type Service struct {
	source        BackendSource
	urls          URLValidator
	authenticated func() bool
	logger        *slog.Logger
}

// NewService はServiceを生成する。
// authenticatedは登録・購入系の操作の前に呼ばれ、falseならErrNotAuthenticatedを返す。
func NewService(source BackendSource, urls URLValidator, authenticated func() bool, logger *slog.Logger) *Service {
	if authenticated == nil {
		authenticated = func() bool { return true }
	}
	return &Service{source: source, urls: urls, authenticated: authenticated, logger: logger}
}

// ListProperties は全物件を返す。typeFilterが空でなければ物件種別で絞り込む。
func (s *Service) ListProperties(ctx context.Context, typeFilter string) ([]normalize.Property, error) {
	raws, err := s.source().GetAllProperties(ctx)
	if err != nil {
		return nil, err
	}
	props := normalize.NormalizeProperties(raws)
	if typeFilter == "" {
		return props, nil
	}
	out := make([]normalize.Property, 0, len(props))
	for _, p := range props {
		if p.MatchesType(typeFilter) {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetProperty はIDで物件を探す。見つからない場合はPROPERTY_NOT_FOUNDのAPIErrorを返す。
func (s *Service) GetProperty(ctx context.Context, id uint64) (*normalize.Property, error) {
	return s.findProperty(ctx, s.source(), id)
}

func (s *Service) findProperty(ctx context.Context, b Backend, id uint64) (*normalize.Property, error) {
	raws, err := b.GetAllProperties(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range normalize.NormalizeProperties(raws) {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, model.NewPropertyNotFoundError(id)
}

// Portfolio はアカウント概要、投資一覧、契約一覧を1つの単位として読み込む。
func (s *Service) Portfolio(ctx context.Context) (*PortfolioView, error) {
	b := s.source()

	data, err := b.GetUserData(ctx)
	if err != nil {
		return nil, err
	}
	invested, err := b.GetUserInvestedProperties(ctx)
	if err != nil {
		return nil, err
	}
	leases, err := b.GetMyLeases(ctx)
	if err != nil {
		return nil, err
	}

	return &PortfolioView{
		Summary:     normalize.NormalizeAccountSummary(data),
		Investments: normalize.NormalizeInvestments(invested),
		Leases:      normalize.NormalizeLeases(leases),
	}, nil
}

// Dashboard はアカウント概要と登録物件を1つの単位として読み込む。
func (s *Service) Dashboard(ctx context.Context) (*DashboardView, error) {
	b := s.source()

	data, err := b.GetUserData(ctx)
	if err != nil {
		return nil, err
	}
	registered, err := b.GetUserRegisteredProperties(ctx)
	if err != nil {
		return nil, err
	}

	return &DashboardView{
		Summary:    normalize.NormalizeAccountSummary(data),
		Properties: normalize.NormalizeProperties(registered),
	}, nil
}

// Leases は契約一覧を返す。allがfalseなら呼び出し元がテナントの契約のみ。
func (s *Service) Leases(ctx context.Context, all bool) ([]normalize.Lease, error) {
	b := s.source()
	var (
		raws []any
		err  error
	)
	if all {
		raws, err = b.GetAllLeases(ctx)
	} else {
		raws, err = b.GetMyLeases(ctx)
	}
	if err != nil {
		return nil, err
	}
	return normalize.NormalizeLeases(raws), nil
}

// BuyShares は残り株数を確認してから持分を購入する。
func (s *Service) BuyShares(ctx context.Context, propertyID, shares uint64) (string, error) {
	if !s.authenticated() {
		return "", model.ErrNotAuthenticated
	}
	if shares == 0 {
		return "", model.NewInvalidShareCountError(0, 0)
	}

	b := s.source()
	p, err := s.findProperty(ctx, b, propertyID)
	if err != nil {
		return "", err
	}
	available := shareCount(p.AvailableShares)
	if shares > available {
		return "", model.NewInvalidShareCountError(shares, available)
	}

	msg, err := b.BuyShare(ctx, propertyID, shares)
	if err != nil {
		return "", err
	}
	s.logger.Info("持分を購入しました",
		slog.Uint64("property_id", propertyID),
		slog.Uint64("shares", shares),
	)
	return msg, nil
}

// RegisterProperty は入力を検証してから物件を登録する。
func (s *Service) RegisterProperty(ctx context.Context, p backend.PropertyRegistration) (string, error) {
	if !s.authenticated() {
		return "", model.ErrNotAuthenticated
	}
	if err := s.validateProperty(&p); err != nil {
		return "", err
	}
	msg, err := s.source().RegisterProperty(ctx, p)
	if err != nil {
		return "", err
	}
	s.logger.Info("物件を登録しました", slog.String("title", p.Title))
	return msg, nil
}

func (s *Service) validateProperty(p *backend.PropertyRegistration) error {
	for _, f := range []struct{ name, value string }{
		{"title", p.Title},
		{"street", p.Street},
		{"city", p.City},
		{"state", p.State},
	} {
		if strings.TrimSpace(f.value) == "" {
			return model.NewMissingFieldError(f.name)
		}
	}
	if !contains(normalize.PropertyTypes, p.PropertyType) {
		return model.NewInvalidPropertyTypeError(p.PropertyType)
	}
	for _, a := range p.Amenities {
		if !contains(normalize.Amenities, a) {
			return model.NewInvalidAmenityError(a)
		}
	}
	if p.Shares == 0 {
		return model.NewInvalidAmountError("shares", "0")
	}
	if p.PricePerShare == 0 {
		return model.NewInvalidAmountError("price_per_share", "0")
	}
	for _, img := range p.Images {
		if err := s.urls.ValidateURL(img); err != nil {
			return model.NewInvalidImageURLError(err.Error())
		}
	}
	return nil
}

// leaseDateLayout は契約日の形式。
const leaseDateLayout = "2006-01-02"

// RegisterLease は対象物件の存在と契約期間を確認してから契約を登録する。
func (s *Service) RegisterLease(ctx context.Context, l backend.LeaseRegistration) (string, error) {
	if !s.authenticated() {
		return "", model.ErrNotAuthenticated
	}
	for _, f := range []struct{ name, value string }{
		{"tenant_name", l.TenantName},
		{"lease_start_date", l.StartDate},
		{"lease_end_date", l.EndDate},
	} {
		if strings.TrimSpace(f.value) == "" {
			return "", model.NewMissingFieldError(f.name)
		}
	}
	start, errStart := time.Parse(leaseDateLayout, l.StartDate)
	end, errEnd := time.Parse(leaseDateLayout, l.EndDate)
	if errStart != nil || errEnd != nil || end.Before(start) {
		return "", model.NewInvalidLeasePeriodError(l.StartDate, l.EndDate)
	}

	b := s.source()
	if _, err := s.findProperty(ctx, b, l.PropertyID); err != nil {
		return "", err
	}
	return b.RegisterLease(ctx, l)
}

// RegisterUser は呼び出し元をユーザー登録する。
func (s *Service) RegisterUser(ctx context.Context) (string, error) {
	if !s.authenticated() {
		return "", model.ErrNotAuthenticated
	}
	return s.source().RegisterUser(ctx)
}

// shareCount は株数を0以上に丸めてuint64に変換する。負数とNaNは0。
func shareCount(f float64) uint64 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= math.MaxUint64:
		return math.MaxUint64
	default:
		return uint64(f)
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

var _ Backend = (*backend.Client)(nil)

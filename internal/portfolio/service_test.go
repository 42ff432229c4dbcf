package portfolio

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hitoshi/coestate/internal/backend"
	"github.com/hitoshi/coestate/internal/logger"
	"github.com/hitoshi/coestate/internal/model"
	"github.com/hitoshi/coestate/internal/security"
)

// mockBackend はBackendのモック。未設定の操作は空の結果を返す。
type mockBackend struct {
	getAllPropertiesFn            func(ctx context.Context) ([]any, error)
	getUserRegisteredPropertiesFn func(ctx context.Context) ([]any, error)
	getUserInvestedPropertiesFn   func(ctx context.Context) ([]any, error)
	getUserDataFn                 func(ctx context.Context) (backend.RawRecord, error)
	getMyLeasesFn                 func(ctx context.Context) ([]any, error)
	getAllLeasesFn                func(ctx context.Context) ([]any, error)
	registerPropertyFn            func(ctx context.Context, p backend.PropertyRegistration) (string, error)
	registerLeaseFn               func(ctx context.Context, l backend.LeaseRegistration) (string, error)
	buyShareFn                    func(ctx context.Context, propertyID, shares uint64) (string, error)
	registerUserFn                func(ctx context.Context) (string, error)
}

func callList(fn func(context.Context) ([]any, error), ctx context.Context) ([]any, error) {
	if fn == nil {
		return []any{}, nil
	}
	return fn(ctx)
}

func (m *mockBackend) GetAllProperties(ctx context.Context) ([]any, error) {
	return callList(m.getAllPropertiesFn, ctx)
}
func (m *mockBackend) GetUserRegisteredProperties(ctx context.Context) ([]any, error) {
	return callList(m.getUserRegisteredPropertiesFn, ctx)
}
func (m *mockBackend) GetUserInvestedProperties(ctx context.Context) ([]any, error) {
	return callList(m.getUserInvestedPropertiesFn, ctx)
}
func (m *mockBackend) GetMyLeases(ctx context.Context) ([]any, error) {
	return callList(m.getMyLeasesFn, ctx)
}
func (m *mockBackend) GetAllLeases(ctx context.Context) ([]any, error) {
	return callList(m.getAllLeasesFn, ctx)
}
func (m *mockBackend) GetUserData(ctx context.Context) (backend.RawRecord, error) {
	if m.getUserDataFn == nil {
		return backend.RawRecord{}, nil
	}
	return m.getUserDataFn(ctx)
}
func (m *mockBackend) RegisterProperty(ctx context.Context, p backend.PropertyRegistration) (string, error) {
	return m.registerPropertyFn(ctx, p)
}
func (m *mockBackend) RegisterLease(ctx context.Context, l backend.LeaseRegistration) (string, error) {
	return m.registerLeaseFn(ctx, l)
}
func (m *mockBackend) BuyShare(ctx context.Context, propertyID, shares uint64) (string, error) {
	return m.buyShareFn(ctx, propertyID, shares)
}
func (m *mockBackend) RegisterUser(ctx context.Context) (string, error) {
	return m.registerUserFn(ctx)
}

func newService(b Backend, authenticated bool) *Service {
	return NewService(func() Backend { return b }, security.NewSSRFGuard(), func() bool { return authenticated }, logger.Discard())
}

func rawProperty(id, typ, available string) map[string]any {
	return map[string]any{
		"id":            id,
		"title":         "Property " + id,
		"property_type": map[string]any{typ: nil},
		"financial_details": map[string]any{
			"total_property_value": "100000",
			"available_shares":     available,
			"price_per_share":      "1000",
		},
	}
}

func twoProperties(context.Context) ([]any, error) {
	return []any{
		rawProperty("1", "Residential", "50"),
		rawProperty("2", "Commercial", "5"),
	}, nil
}

// propertiesWithNegativeShares は残り株数が負数の物件を含む一覧を返す。
func propertiesWithNegativeShares(ctx context.Context) ([]any, error) {
	props, _ := twoProperties(ctx)
	return append(props, rawProperty("3", "Industrial", "-5")), nil
}

func apiErrorCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *model.APIError", err)
	}
	return apiErr.Code
}

func validProperty() backend.PropertyRegistration {
	return backend.PropertyRegistration{
		Title:         "Harbor View",
		Street:        "1 Bay St",
		City:          "Springfield",
		State:         "IL",
		ZipCode:       62701,
		PropertyType:  "Residential",
		TotalValue:    1000000,
		Shares:        100,
		PricePerShare: 10000,
		Amenities:     []string{"Pool"},
		Images:        []string{"https://example.com/a.jpg"},
		MonthlyRent:   2500,
	}
}

func TestListProperties(t *testing.T) {
	svc := newService(&mockBackend{getAllPropertiesFn: twoProperties}, false)

	tests := []struct {
		name   string
		filter string
		want   int
	}{
		{name: "フィルタなし", filter: "", want: 2},
		{name: "種別で絞り込み", filter: "commercial", want: 1},
		{name: "該当なし", filter: "Industrial", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props, err := svc.ListProperties(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ListProperties() error = %v", err)
			}
			if len(props) != tt.want {
				t.Errorf("len = %d, want %d", len(props), tt.want)
			}
		})
	}
}

func TestGetProperty(t *testing.T) {
	svc := newService(&mockBackend{getAllPropertiesFn: twoProperties}, false)

	p, err := svc.GetProperty(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetProperty() error = %v", err)
	}
	if p.ID != 2 || p.PropertyType != "Commercial" {
		t.Errorf("property = %+v", p)
	}

	_, err = svc.GetProperty(context.Background(), 9)
	if code := apiErrorCode(t, err); code != model.ErrCodePropertyNotFound {
		t.Errorf("code = %q, want %q", code, model.ErrCodePropertyNotFound)
	}
}

func TestPortfolio_LoadsAsUnit(t *testing.T) {
	leasesErr := errors.New("replica unavailable")
	svc := newService(&mockBackend{
		getUserDataFn: func(context.Context) (backend.RawRecord, error) {
			return backend.RawRecord{"total_investment": "1000", "total_return": "50"}, nil
		},
		getUserInvestedPropertiesFn: func(context.Context) ([]any, error) {
			return []any{map[string]any{"property": rawProperty("1", "Residential", "90"), "shares_owned": "10"}}, nil
		},
		getMyLeasesFn: func(context.Context) ([]any, error) { return nil, leasesErr },
	}, true)

	view, err := svc.Portfolio(context.Background())
	if !errors.Is(err, leasesErr) {
		t.Fatalf("Portfolio() error = %v, want %v", err, leasesErr)
	}
	if view != nil {
		t.Errorf("Portfolio() returned partial view %+v", view)
	}
}

func TestPortfolio_Success(t *testing.T) {
	svc := newService(&mockBackend{
		getUserDataFn: func(context.Context) (backend.RawRecord, error) {
			return backend.RawRecord{"total_investment": "1000", "total_return": "50"}, nil
		},
		getUserInvestedPropertiesFn: func(context.Context) ([]any, error) {
			return []any{map[string]any{"property": rawProperty("1", "Residential", "90"), "shares_owned": "10"}}, nil
		},
		getMyLeasesFn: func(context.Context) ([]any, error) {
			return []any{map[string]any{"lease_id": "1", "status": map[string]any{"Active": nil}}}, nil
		},
	}, true)

	view, err := svc.Portfolio(context.Background())
	if err != nil {
		t.Fatalf("Portfolio() error = %v", err)
	}
	if view.Summary.ReturnPct != 5 {
		t.Errorf("ReturnPct = %v, want 5", view.Summary.ReturnPct)
	}
	if len(view.Investments) != 1 || view.Investments[0].OwnershipPct != 0.1 {
		t.Errorf("Investments = %+v", view.Investments)
	}
	if len(view.Leases) != 1 || view.Leases[0].Status != "Active" {
		t.Errorf("Leases = %+v", view.Leases)
	}
}

func TestDashboard(t *testing.T) {
	svc := newService(&mockBackend{
		getUserDataFn: func(context.Context) (backend.RawRecord, error) {
			return backend.RawRecord{"monthly_income": "2500"}, nil
		},
		getUserRegisteredPropertiesFn: twoProperties,
	}, true)

	view, err := svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}
	if view.Summary.MonthlyIncome != 2500 || len(view.Properties) != 2 {
		t.Errorf("view = %+v", view)
	}

	failing := newService(&mockBackend{
		getUserRegisteredPropertiesFn: func(context.Context) ([]any, error) { return nil, errors.New("boom") },
	}, true)
	if view, err := failing.Dashboard(context.Background()); err == nil || view != nil {
		t.Errorf("Dashboard() = %+v, %v; want nil view and error", view, err)
	}
}

func TestLeases_AllOrMine(t *testing.T) {
	var called string
	svc := newService(&mockBackend{
		getMyLeasesFn:  func(context.Context) ([]any, error) { called = "mine"; return []any{}, nil },
		getAllLeasesFn: func(context.Context) ([]any, error) { called = "all"; return []any{}, nil },
	}, true)

	if _, err := svc.Leases(context.Background(), true); err != nil || called != "all" {
		t.Errorf("Leases(all) called %q, err %v", called, err)
	}
	if _, err := svc.Leases(context.Background(), false); err != nil || called != "mine" {
		t.Errorf("Leases(mine) called %q, err %v", called, err)
	}
}

func TestBuyShares(t *testing.T) {
	tests := []struct {
		name       string
		auth       bool
		propertyID uint64
		shares     uint64
		wantCode   string
		wantErr    error
		wantCall   bool
	}{
		{name: "未認証", auth: false, propertyID: 1, shares: 1, wantErr: model.ErrNotAuthenticated},
		{name: "0株", auth: true, propertyID: 1, shares: 0, wantCode: model.ErrCodeInvalidShareCount},
		{name: "存在しない物件", auth: true, propertyID: 9, shares: 1, wantCode: model.ErrCodePropertyNotFound},
		{name: "残り株数超過", auth: true, propertyID: 2, shares: 6, wantCode: model.ErrCodeInvalidShareCount},
		{name: "残り株数が負数なら購入不可", auth: true, propertyID: 3, shares: 1, wantCode: model.ErrCodeInvalidShareCount},
		{name: "購入成功", auth: true, propertyID: 2, shares: 5, wantCall: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := newService(&mockBackend{
				getAllPropertiesFn: propertiesWithNegativeShares,
				buyShareFn: func(_ context.Context, id, shares uint64) (string, error) {
					called = true
					return "ok", nil
				},
			}, tt.auth)

			_, err := svc.BuyShares(context.Background(), tt.propertyID, tt.shares)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("BuyShares() error = %v, want %v", err, tt.wantErr)
				}
			case tt.wantCode != "":
				if code := apiErrorCode(t, err); code != tt.wantCode {
					t.Errorf("code = %q, want %q", code, tt.wantCode)
				}
			default:
				if err != nil {
					t.Fatalf("BuyShares() error = %v", err)
				}
			}
			if called != tt.wantCall {
				t.Errorf("backend called = %v, want %v", called, tt.wantCall)
			}
		})
	}
}

func TestShareCount(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want uint64
	}{
		{name: "通常", in: 5, want: 5},
		{name: "小数は切り捨て", in: 5.9, want: 5},
		{name: "負数は0", in: -5, want: 0},
		{name: "NaNは0", in: math.NaN(), want: 0},
		{name: "上限で飽和", in: math.Inf(1), want: math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shareCount(tt.in); got != tt.want {
				t.Errorf("shareCount(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestRegisterProperty_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(p *backend.PropertyRegistration)
		wantCode string
	}{
		{name: "正常", mutate: func(*backend.PropertyRegistration) {}},
		{name: "タイトルなし", mutate: func(p *backend.PropertyRegistration) { p.Title = " " }, wantCode: model.ErrCodeMissingField},
		{name: "未知の物件種別", mutate: func(p *backend.PropertyRegistration) { p.PropertyType = "Castle" }, wantCode: model.ErrCodeInvalidPropertyType},
		{name: "未知の設備", mutate: func(p *backend.PropertyRegistration) { p.Amenities = []string{"Helipad"} }, wantCode: model.ErrCodeInvalidAmenity},
		{name: "株数0", mutate: func(p *backend.PropertyRegistration) { p.Shares = 0 }, wantCode: model.ErrCodeInvalidAmount},
		{name: "1株価格0", mutate: func(p *backend.PropertyRegistration) { p.PricePerShare = 0 }, wantCode: model.ErrCodeInvalidAmount},
		{name: "data URLの画像", mutate: func(p *backend.PropertyRegistration) { p.Images = []string{"data:image/png;base64,AAAA"} }, wantCode: model.ErrCodeInvalidImageURL},
		{name: "内部アドレスの画像", mutate: func(p *backend.PropertyRegistration) { p.Images = []string{"http://169.254.169.254/latest"} }, wantCode: model.ErrCodeInvalidImageURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sent *backend.PropertyRegistration
			svc := newService(&mockBackend{
				registerPropertyFn: func(_ context.Context, p backend.PropertyRegistration) (string, error) {
					sent = &p
					return "Property registered successfully with id: 1", nil
				},
			}, true)

			p := validProperty()
			tt.mutate(&p)
			msg, err := svc.RegisterProperty(context.Background(), p)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("RegisterProperty() error = %v", err)
				}
				if sent == nil || msg == "" {
					t.Error("backend should be called on valid input")
				}
				return
			}
			if code := apiErrorCode(t, err); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if sent != nil {
				t.Error("backend should not be called on invalid input")
			}
		})
	}
}

func TestRegisterProperty_RequiresAuthentication(t *testing.T) {
	svc := newService(&mockBackend{}, false)
	if _, err := svc.RegisterProperty(context.Background(), validProperty()); !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("RegisterProperty() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestRegisterLease(t *testing.T) {
	valid := backend.LeaseRegistration{
		PropertyID: 1,
		TenantName: "Alex Doe",
		StartDate:  "2026-01-01",
		EndDate:    "2026-12-31",
	}

	tests := []struct {
		name     string
		mutate   func(l *backend.LeaseRegistration)
		wantCode string
	}{
		{name: "正常", mutate: func(*backend.LeaseRegistration) {}},
		{name: "テナント名なし", mutate: func(l *backend.LeaseRegistration) { l.TenantName = "" }, wantCode: model.ErrCodeMissingField},
		{name: "日付形式不正", mutate: func(l *backend.LeaseRegistration) { l.StartDate = "01/01/2026" }, wantCode: model.ErrCodeInvalidLeasePeriod},
		{name: "終了日が開始日より前", mutate: func(l *backend.LeaseRegistration) { l.EndDate = "2025-12-31" }, wantCode: model.ErrCodeInvalidLeasePeriod},
		{name: "存在しない物件", mutate: func(l *backend.LeaseRegistration) { l.PropertyID = 9 }, wantCode: model.ErrCodePropertyNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := newService(&mockBackend{
				getAllPropertiesFn: twoProperties,
				registerLeaseFn: func(context.Context, backend.LeaseRegistration) (string, error) {
					called = true
					return "Lease registered with ID: 1", nil
				},
			}, true)

			l := valid
			tt.mutate(&l)
			_, err := svc.RegisterLease(context.Background(), l)
			if tt.wantCode == "" {
				if err != nil || !called {
					t.Fatalf("RegisterLease() error = %v, called = %v", err, called)
				}
				return
			}
			if code := apiErrorCode(t, err); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if called {
				t.Error("backend should not be called on invalid input")
			}
		})
	}
}

func TestRegisterUser(t *testing.T) {
	svc := newService(&mockBackend{
		registerUserFn: func(context.Context) (string, error) { return "User registered successfully", nil },
	}, true)
	msg, err := svc.RegisterUser(context.Background())
	if err != nil || msg != "User registered successfully" {
		t.Errorf("RegisterUser() = %q, %v", msg, err)
	}

	anon := newService(&mockBackend{}, false)
	if _, err := anon.RegisterUser(context.Background()); !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("RegisterUser() error = %v, want ErrNotAuthenticated", err)
	}
}

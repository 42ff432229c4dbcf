package backend

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// RawRecord はバックエンドが返す正規化前のレコード。
type RawRecord = map[string]any

// PropertyRegistration は物件登録の引数。
type PropertyRegistration struct {
	Title         string
	Street        string
	City          string
	State         string
	ZipCode       uint64
	PropertyType  string
	TotalValue    uint64
	Shares        uint64
	PricePerShare uint64
	Description   string
	Amenities     []string
	Images        []string
	MonthlyRent   uint64
}

// LeaseRegistration は賃貸契約登録の引数。
type LeaseRegistration struct {
	PropertyID        uint64
	TenantName        string
	TenantEmail       string
	TenantPhone       string
	StartDate         string
	EndDate           string
	MonthlyRent       uint64
	SecurityDeposit   uint64
	LeaseTerms        string
	SpecialConditions string
}

// Client はバックエンドの型付きクライアント。
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient はClientを生成する。
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, args *structpb.ListValue) (any, error) {
	if args == nil {
		args = Args()
	}
	out := new(structpb.Value)
	if err := c.cc.Invoke(ctx, FullMethod(method), args, out); err != nil {
		return nil, err
	}
	return out.AsInterface(), nil
}

func (c *Client) list(ctx context.Context, method string) ([]any, error) {
	v, err := c.call(ctx, method, nil)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return []any{}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected list, got %T", method, v)
	}
	return items, nil
}

func (c *Client) text(ctx context.Context, method string, args *structpb.ListValue) (string, error) {
	v, err := c.call(ctx, method, args)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected text, got %T", method, v)
	}
	return s, nil
}

// GetAllProperties は全物件を返す。
func (c *Client) GetAllProperties(ctx context.Context) ([]any, error) {
	return c.list(ctx, MethodGetAllProperties)
}

// GetUserRegisteredProperties は呼び出し元が登録した物件を返す。
func (c *Client) GetUserRegisteredProperties(ctx context.Context) ([]any, error) {
	return c.list(ctx, MethodGetUserRegisteredProperties)
}

// GetUserInvestedProperties は呼び出し元の投資一覧を返す。
func (c *Client) GetUserInvestedProperties(ctx context.Context) ([]any, error) {
	return c.list(ctx, MethodGetUserInvestedProperties)
}

// GetMyLeases は呼び出し元がテナントの契約を返す。
func (c *Client) GetMyLeases(ctx context.Context) ([]any, error) {
	return c.list(ctx, MethodGetMyLeases)
}

// GetAllLeases は全契約を返す。
func (c *Client) GetAllLeases(ctx context.Context) ([]any, error) {
	return c.list(ctx, MethodGetAllLeases)
}

// GetUserData は呼び出し元のアカウント情報を返す。
func (c *Client) GetUserData(ctx context.Context) (RawRecord, error) {
	v, err := c.call(ctx, MethodGetUserData, nil)
	if err != nil {
		return nil, err
	}
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected record, got %T", MethodGetUserData, v)
	}
	return rec, nil
}

// RegisterProperty は物件を登録し、バックエンドのメッセージを返す。
func (c *Client) RegisterProperty(ctx context.Context, p PropertyRegistration) (string, error) {
	return c.text(ctx, MethodRegisterProperty, Args(
		structpb.NewStringValue(p.Title),
		structpb.NewStringValue(p.Street),
		structpb.NewStringValue(p.City),
		structpb.NewStringValue(p.State),
		Nat(p.ZipCode),
		structpb.NewStringValue(p.PropertyType),
		Nat(p.TotalValue),
		Nat(p.Shares),
		Nat(p.PricePerShare),
		structpb.NewStringValue(p.Description),
		Strings(p.Amenities),
		Strings(p.Images),
		Nat(p.MonthlyRent),
	))
}

// RegisterLease は賃貸契約を登録する。
func (c *Client) RegisterLease(ctx context.Context, l LeaseRegistration) (string, error) {
	return c.text(ctx, MethodRegisterLease, Args(
		Nat(l.PropertyID),
		structpb.NewStringValue(l.TenantName),
		structpb.NewStringValue(l.TenantEmail),
		structpb.NewStringValue(l.TenantPhone),
		structpb.NewStringValue(l.StartDate),
		structpb.NewStringValue(l.EndDate),
		Nat(l.MonthlyRent),
		Nat(l.SecurityDeposit),
		structpb.NewStringValue(l.LeaseTerms),
		structpb.NewStringValue(l.SpecialConditions),
	))
}

// BuyShare は持分を購入する。
func (c *Client) BuyShare(ctx context.Context, propertyID, shares uint64) (string, error) {
	return c.text(ctx, MethodBuyShare, Args(Nat(propertyID), Nat(shares)))
}

// RegisterUser は呼び出し元をユーザー登録する。
func (c *Client) RegisterUser(ctx context.Context) (string, error) {
	return c.text(ctx, MethodRegisterUser, nil)
}

// Logout はバックエンド側のログアウトを呼び出す。
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.call(ctx, MethodLogout, nil)
	return err
}

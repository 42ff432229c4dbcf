// Package backendtest はバックエンドキャニスターと同じ振る舞いをするインメモリ実装を提供する。
// テストとローカル開発で使う。
package backendtest

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"math/bits"
	"net"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hitoshi/coestate/internal/backend"
	"github.com/hitoshi/coestate/internal/identity"
	"github.com/hitoshi/coestate/internal/rpc"
)

var propertyTypes = map[string]bool{
	"Residential": true, "Industrial": true, "Commercial": true, "MixedUse": true,
}

var amenities = map[string]bool{
	"Parking": true, "Pool": true, "Gym": true, "Security": true, "Garden": true,
	"Balcony": true, "AirConditioning": true, "Heating": true, "Elevator": true, "Storage": true,
}

type property struct {
	id            uint64
	title         string
	street        string
	city          string
	state         string
	zipCode       uint64
	propertyType  string
	totalValue    uint64
	available     uint64
	pricePerShare uint64
	description   string
	amenities     []string
	images        []string
	monthlyRent   uint64
	collectedRent uint64
	owner         identity.Principal
	investors     map[identity.Principal]uint64
	createdAt     int64
}

type holding struct {
	propertyID uint64
	shares     uint64
}

type account struct {
	totalInvestment uint64
	currentValue    uint64
	monthlyIncome   uint64
	totalReturn     uint64
	registered      []uint64
	invested        []holding
}

type lease struct {
	id                uint64
	propertyID        uint64
	tenant            identity.Principal
	tenantName        string
	tenantEmail       string
	tenantPhone       string
	startDate         string
	endDate           string
	monthlyRent       uint64
	securityDeposit   uint64
	terms             string
	specialConditions string
}

// Server はインメモリのバックエンド。呼び出し元はrpc.CallerFromContextで判定する。
type Server struct {
	backend.UnimplementedBackendServer

	mu         sync.Mutex
	properties []*property
	leases     []*lease
	users      map[identity.Principal]*account
	now        func() time.Time

	// Hook が設定されている場合、各呼び出しの処理前に呼ばれる。
	// テストで応答を遅らせたりエラーを注入したりするために使う。
	Hook func(ctx context.Context, method string) error
}

// NewServer は空のServerを生成する。
func NewServer() *Server {
	return &Server{
		users: make(map[identity.Principal]*account),
		now:   time.Now,
	}
}

// Call はメソッド名で処理を振り分ける。
func (s *Server) Call(ctx context.Context, method string, args *structpb.ListValue) (*structpb.Value, error) {
	if s.Hook != nil {
		if err := s.Hook(ctx, method); err != nil {
			return nil, err
		}
	}
	caller := rpc.CallerFromContext(ctx)

	var (
		out any
		err error
	)
	switch method {
	case backend.MethodGetAllProperties:
		out = s.allProperties()
	case backend.MethodGetUserRegisteredProperties:
		out = s.registeredProperties(caller)
	case backend.MethodGetUserInvestedProperties:
		out = s.investedProperties(caller)
	case backend.MethodGetUserData:
		out = s.userData(caller)
	case backend.MethodGetMyLeases:
		out = s.myLeases(caller)
	case backend.MethodGetAllLeases:
		out = s.allLeases()
	case backend.MethodRegisterProperty:
		out, err = s.registerProperty(caller, args)
	case backend.MethodRegisterLease:
		out, err = s.registerLease(caller, args)
	case backend.MethodBuyShare:
		out, err = s.buyShare(caller, args)
	case backend.MethodRegisterUser:
		out = s.registerUser(caller)
	case backend.MethodLogout:
		out = nil
	default:
		return s.UnimplementedBackendServer.Call(ctx, method, args)
	}
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	v, err := structpb.NewValue(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return v, nil
}

func nat(n uint64) string {
	return strconv.FormatUint(n, 10)
}

func variant(tag string) map[string]any {
	return map[string]any{tag: nil}
}

func stringList(ss []string) []any {
	out := make([]any, 0, len(ss))
	for _, s := range ss {
		out = append(out, s)
	}
	return out
}

func (p *property) record() map[string]any {
	ams := make([]any, 0, len(p.amenities))
	for _, a := range p.amenities {
		ams = append(ams, variant(a))
	}
	return map[string]any{
		"id":    nat(p.id),
		"title": p.title,
		"address": map[string]any{
			"street":  p.street,
			"city":    p.city,
			"state":   p.state,
			"zipcode": nat(p.zipCode),
		},
		"property_type": variant(p.propertyType),
		"financial_details": map[string]any{
			"total_property_value": nat(p.totalValue),
			"available_shares":     nat(p.available),
			"price_per_share":      nat(p.pricePerShare),
		},
		"property_description": p.description,
		"amenities":            ams,
		"images":               stringList(p.images),
		"monthly_rent":         nat(p.monthlyRent),
		"collected_rent":       nat(p.collectedRent),
		"owner":                p.owner.String(),
		"created_at":           strconv.FormatInt(p.createdAt, 10),
	}
}

func (l *lease) record() map[string]any {
	return map[string]any{
		"lease_id":           nat(l.id),
		"property_id":        nat(l.propertyID),
		"tenant":             l.tenant.String(),
		"tenant_name":        l.tenantName,
		"tenant_email":       l.tenantEmail,
		"tenant_phone":       l.tenantPhone,
		"lease_start_date":   l.startDate,
		"lease_end_date":     l.endDate,
		"monthly_rent":       nat(l.monthlyRent),
		"security_deposit":   nat(l.securityDeposit),
		"lease_terms":        l.terms,
		"special_conditions": l.specialConditions,
		"status":             variant("Active"),
	}
}

func (a *account) record() map[string]any {
	registered := make([]any, 0, len(a.registered))
	for _, id := range a.registered {
		registered = append(registered, nat(id))
	}
	invested := make([]any, 0, len(a.invested))
	for _, h := range a.invested {
		invested = append(invested, map[string]any{
			"property_id":  nat(h.propertyID),
			"shares_owned": nat(h.shares),
		})
	}
	return map[string]any{
		"total_investment":           nat(a.totalInvestment),
		"current_value":              nat(a.currentValue),
		"monthly_income":             nat(a.monthlyIncome),
		"total_return":               nat(a.totalReturn),
		"user_registered_properties": registered,
		"user_invested_properties":   invested,
	}
}

// user は呼び出し元のアカウントを返す。無ければ作成する。
func (s *Server) user(p identity.Principal) *account {
	a, ok := s.users[p]
	if !ok {
		a = &account{}
		s.users[p] = a
	}
	return a
}

func (s *Server) findProperty(id uint64) *property {
	for _, p := range s.properties {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (s *Server) allProperties() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, 0, len(s.properties))
	for _, p := range s.properties {
		out = append(out, p.record())
	}
	return out
}

func (s *Server) registeredProperties(caller identity.Principal) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []any{}
	a, ok := s.users[caller]
	if !ok {
		return out
	}
	for _, id := range a.registered {
		if p := s.findProperty(id); p != nil {
			out = append(out, p.record())
		}
	}
	return out
}

func (s *Server) investedProperties(caller identity.Principal) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []any{}
	a, ok := s.users[caller]
	if !ok {
		return out
	}
	for _, h := range a.invested {
		if p := s.findProperty(h.propertyID); p != nil {
			out = append(out, map[string]any{
				"property":     p.record(),
				"shares_owned": nat(h.shares),
			})
		}
	}
	return out
}

func (s *Server) userData(caller identity.Principal) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user(caller).record()
}

func (s *Server) myLeases(caller identity.Principal) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []any{}
	for _, l := range s.leases {
		if l.tenant == caller {
			out = append(out, l.record())
		}
	}
	return out
}

func (s *Server) allLeases() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, l.record())
	}
	return out
}

func (s *Server) registerUser(caller identity.Principal) string {
	if caller.IsAnonymous() {
		return "Anonymous Principal not allowed"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[caller]; ok {
		return "User already registered"
	}
	s.users[caller] = &account{totalInvestment: 1}
	return "User registered successfully"
}

type argReader struct {
	args []*structpb.Value
	err  error
}

func (r *argReader) str(i int) string {
	if r.err != nil {
		return ""
	}
	s, err := backend.ArgString(r.args[i])
	if err != nil {
		r.err = fmt.Errorf("argument %d: %w", i, err)
	}
	return s
}

func (r *argReader) nat(i int) uint64 {
	if r.err != nil {
		return 0
	}
	n, err := backend.ArgUint64(r.args[i])
	if err != nil {
		r.err = fmt.Errorf("argument %d: %w", i, err)
	}
	return n
}

func (r *argReader) strs(i int) []string {
	if r.err != nil {
		return nil
	}
	ss, err := backend.ArgStrings(r.args[i])
	if err != nil {
		r.err = fmt.Errorf("argument %d: %w", i, err)
	}
	return ss
}

func (s *Server) registerProperty(caller identity.Principal, args *structpb.ListValue) (string, error) {
	if err := backend.CheckArgs(backend.MethodRegisterProperty, args, 13); err != nil {
		return "", err
	}
	r := &argReader{args: args.GetValues()}
	p := &property{
		title:         r.str(0),
		street:        r.str(1),
		city:          r.str(2),
		state:         r.str(3),
		zipCode:       r.nat(4),
		propertyType:  r.str(5),
		totalValue:    r.nat(6),
		available:     r.nat(7),
		pricePerShare: r.nat(8),
		description:   r.str(9),
		images:        r.strs(11),
		monthlyRent:   r.nat(12),
		owner:         caller,
		investors:     make(map[identity.Principal]uint64),
	}
	tags := r.strs(10)
	if r.err != nil {
		return "", r.err
	}
	if !propertyTypes[p.propertyType] {
		return "Invalid property type", nil
	}
	p.amenities = []string{}
	for _, t := range tags {
		if amenities[t] {
			p.amenities = append(p.amenities, t)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p.id = uint64(len(s.properties)) + 1
	p.createdAt = s.now().UnixNano()
	s.properties = append(s.properties, p)

	a := s.user(caller)
	a.registered = append(a.registered, p.id)
	a.monthlyIncome += p.monthlyRent

	return fmt.Sprintf("Property registered successfully with id: %d", p.id), nil
}

func (s *Server) registerLease(caller identity.Principal, args *structpb.ListValue) (string, error) {
	if err := backend.CheckArgs(backend.MethodRegisterLease, args, 10); err != nil {
		return "", err
	}
	r := &argReader{args: args.GetValues()}
	l := &lease{
		propertyID:        r.nat(0),
		tenant:            caller,
		tenantName:        r.str(1),
		tenantEmail:       r.str(2),
		tenantPhone:       r.str(3),
		startDate:         r.str(4),
		endDate:           r.str(5),
		monthlyRent:       r.nat(6),
		securityDeposit:   r.nat(7),
		terms:             r.str(8),
		specialConditions: r.str(9),
	}
	if r.err != nil {
		return "", r.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l.id = uint64(len(s.leases)) + 1
	s.leases = append(s.leases, l)
	return fmt.Sprintf("Lease registered with ID: %d", l.id), nil
}

func (s *Server) buyShare(caller identity.Principal, args *structpb.ListValue) (string, error) {
	if err := backend.CheckArgs(backend.MethodBuyShare, args, 2); err != nil {
		return "", err
	}
	r := &argReader{args: args.GetValues()}
	propertyID := r.nat(0)
	shares := r.nat(1)
	if r.err != nil {
		return "", r.err
	}
	if shares == 0 {
		return "Cannot buy zero shares", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findProperty(propertyID)
	if p == nil {
		return "Property not found", nil
	}
	if p.available < shares {
		return fmt.Sprintf("Not enough shares available. Only %d shares left", p.available), nil
	}
	hi, cost := bits.Mul64(shares, p.pricePerShare)
	if hi != 0 {
		return "", fmt.Errorf("purchase amount overflows")
	}

	p.available -= shares
	p.investors[caller] += shares

	a := s.user(caller)
	a.totalInvestment += cost
	a.currentValue += cost
	found := false
	for i := range a.invested {
		if a.invested[i].propertyID == propertyID {
			a.invested[i].shares += shares
			found = true
			break
		}
	}
	if !found {
		a.invested = append(a.invested, holding{propertyID: propertyID, shares: shares})
	}

	return fmt.Sprintf("Successfully bought %d shares of property %d for a total of %d tokens", shares, propertyID, cost), nil
}

// NewGRPCServer はsrvを登録した認証付きgRPCサーバーを返す。rootKeyがnilでなければ応答に証明を付ける。
func NewGRPCServer(srv backend.BackendServer, rootKey ed25519.PrivateKey, canister string) *grpc.Server {
	auth := rpc.NewServerAuth(rootKey, canister)
	gs := grpc.NewServer(grpc.UnaryInterceptor(auth.UnaryInterceptor()))
	backend.RegisterBackendServer(gs, srv)
	return gs
}

// Serve はlisにgRPCサーバーを立ち上げる。
// 返り値のstopでサーバーを停止する。
func Serve(lis net.Listener, srv backend.BackendServer, rootKey ed25519.PrivateKey, canister string) (stop func()) {
	gs := NewGRPCServer(srv, rootKey, canister)
	go func() {
		_ = gs.Serve(lis)
	}()
	return gs.Stop
}

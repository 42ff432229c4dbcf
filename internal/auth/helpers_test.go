package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/coestate/internal/identity"
	"github.com/hitoshi/coestate/internal/logger"
)

// testIssuer はテスト用のIDプロバイダー署名鍵とユーザーを表す。
type testIssuer struct {
	key  ed25519.PrivateKey
	user identity.Principal
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate issuer key: %v", err)
	}
	userKey, err := identity.NewEd25519Identity(nil)
	if err != nil {
		t.Fatalf("failed to generate user key: %v", err)
	}
	return &testIssuer{key: key, user: userKey.Principal()}
}

func (ti *testIssuer) publicKey() ed25519.PublicKey {
	return ti.key.Public().(ed25519.PublicKey)
}

// mint はsessionKey向けの委任トークンを発行する。
func (ti *testIssuer) mint(t *testing.T, sub string, sessionKey ed25519.PublicKey, exp time.Time) string {
	t.Helper()
	claims := delegationClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
		SessionKey:       EncodeSessionKey(sessionKey),
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(ti.key)
	if err != nil {
		t.Fatalf("failed to sign delegation: %v", err)
	}
	return token
}

func (ti *testIssuer) verifier(t *testing.T) *DelegationVerifier {
	t.Helper()
	v, err := NewDelegationVerifier(DelegationVerifierConfig{PublicKey: ti.publicKey()}, logger.Discard())
	if err != nil {
		t.Fatalf("NewDelegationVerifier() error = %v", err)
	}
	return v
}

// mockProvider はIdentityProviderのモック。
type mockProvider struct {
	authenticateFn func(ctx context.Context, req AuthRequest) (*Delegation, error)
	logoutFn       func(ctx context.Context, token string) error
}

func (m *mockProvider) Authenticate(ctx context.Context, req AuthRequest) (*Delegation, error) {
	return m.authenticateFn(ctx, req)
}

func (m *mockProvider) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

// issuingProvider はtestIssuerで委任を即時発行するモックを返す。
func issuingProvider(t *testing.T, ti *testIssuer) *mockProvider {
	return &mockProvider{
		authenticateFn: func(ctx context.Context, req AuthRequest) (*Delegation, error) {
			token := ti.mint(t, ti.user.String(), req.SessionKey, time.Now().Add(time.Hour))
			return ti.verifier(t).Verify(token, req.SessionKey, req.MaxTimeToLive)
		},
	}
}

// spyMetrics は記録回数を数えるMetricsCollector。
type spyMetrics struct {
	logins         map[string]int
	logoutFailures int
	generation     uint64
}

func newSpyMetrics() *spyMetrics {
	return &spyMetrics{logins: make(map[string]int)}
}

func (s *spyMetrics) RecordRPCCall(string, string, time.Duration) {}
func (s *spyMetrics) RecordStaleResponse(string)                  {}
func (s *spyMetrics) RecordLogin(outcome string)                  { s.logins[outcome]++ }
func (s *spyMetrics) RecordLogoutRemoteFailure()                  { s.logoutFailures++ }
func (s *spyMetrics) RecordTrustDegraded()                        {}
func (s *spyMetrics) SetBindingGeneration(g uint64)               { s.generation = g }
func (s *spyMetrics) RecordRefresh(string)                        {}

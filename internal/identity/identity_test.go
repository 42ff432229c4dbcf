package identity

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"
)

// deterministicReader は鍵生成を再現可能にするための固定バイト列リーダー。
type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func TestAnonymousPrincipal_TextForm(t *testing.T) {
	p := AnonymousPrincipal()
	if got := p.String(); got != "2vxsx-fae" {
		t.Errorf("String() = %q, want %q", got, "2vxsx-fae")
	}
	if !p.IsAnonymous() {
		t.Error("IsAnonymous() = false, want true")
	}
}

func TestSelfAuthenticatingPrincipal_KnownVector(t *testing.T) {
	pub := make([]byte, ed25519.PublicKeySize)
	for i := range pub {
		pub[i] = byte(i)
	}
	p, err := SelfAuthenticatingPrincipal(ed25519.PublicKey(pub))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "7gheb-jchfc-rcrvr-e6jtu-yplhf-2463c-shoi4-2zgcr-mxtd4-e4v72-6qe"
	if got := p.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if len(p.Bytes()) != 29 {
		t.Errorf("len(Bytes()) = %d, want 29", len(p.Bytes()))
	}
}

func TestParsePrincipal_RoundTrip(t *testing.T) {
	id, err := NewEd25519Identity(&deterministicReader{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := id.Principal().String()

	parsed, err := ParsePrincipal(text)
	if err != nil {
		t.Fatalf("ParsePrincipal(%q) error: %v", text, err)
	}
	if parsed != id.Principal() {
		t.Errorf("parsed principal = %v, want %v", parsed, id.Principal())
	}
}

func TestParsePrincipal_Invalid(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "空文字列", text: ""},
		{name: "チェックサム不一致", text: "2vxsx-fab"},
		{name: "base32以外の文字", text: "!!!!!"},
		{name: "区切り位置が不正", text: "2vxs-xfae"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePrincipal(tt.text); err == nil {
				t.Errorf("ParsePrincipal(%q) should fail", tt.text)
			}
		})
	}
}

func TestPrincipal_Comparable(t *testing.T) {
	a, _ := ParsePrincipal("2vxsx-fae")
	b := AnonymousPrincipal()
	m := map[Principal]int{a: 1}
	if m[b] != 1 {
		t.Error("equal principals should hash to the same map key")
	}
}

func TestEd25519Identity_SignVerifies(t *testing.T) {
	id, err := NewEd25519Identity(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := []byte("hello")
	sig, err := id.Sign(msg)
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(id.PublicKey()), msg, sig) {
		t.Error("signature does not verify")
	}
	if id.Delegation() != "" {
		t.Errorf("Delegation() = %q, want empty", id.Delegation())
	}
}

func TestDelegatedIdentity_UsesProviderPrincipal(t *testing.T) {
	session, _ := NewEd25519Identity(&deterministicReader{b: 7})
	user, _ := NewEd25519Identity(&deterministicReader{b: 99})
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	d, err := NewDelegatedIdentity(session, user.Principal(), "token", exp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Principal() != user.Principal() {
		t.Error("delegated identity should report the provider principal")
	}
	if !bytes.Equal(d.PublicKey(), session.PublicKey()) {
		t.Error("delegated identity should sign with the session key")
	}
	if d.Delegation() != "token" || !d.ExpiresAt().Equal(exp) {
		t.Error("delegation fields not preserved")
	}
}

func TestNewDelegatedIdentity_RejectsAnonymous(t *testing.T) {
	session, _ := NewEd25519Identity(nil)
	if _, err := NewDelegatedIdentity(session, AnonymousPrincipal(), "token", time.Now()); err == nil {
		t.Error("anonymous delegated principal should be rejected")
	}
	if _, err := NewDelegatedIdentity(session, session.Principal(), "", time.Now()); err == nil {
		t.Error("empty delegation should be rejected")
	}
}

func TestStore_ReplaceAndReset(t *testing.T) {
	s := NewStore()
	if !s.Principal().IsAnonymous() {
		t.Fatal("new store should start anonymous")
	}

	id, _ := NewEd25519Identity(nil)
	s.Replace(id)
	if s.Principal() != id.Principal() {
		t.Error("Principal() should follow Replace")
	}

	s.Reset()
	if !s.Principal().IsAnonymous() {
		t.Error("Reset() should restore the anonymous principal")
	}

	s.Replace(nil)
	if _, ok := s.Current().(Anonymous); !ok {
		t.Error("Replace(nil) should store the anonymous identity")
	}
}

func TestStore_ConcurrentReads(t *testing.T) {
	s := NewStore()
	id, _ := NewEd25519Identity(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Principal().String()
		}()
		go func() {
			defer wg.Done()
			s.Replace(id)
		}()
	}
	wg.Wait()
}

func TestSealer_RoundTrip(t *testing.T) {
	sealer, err := NewSealer([]byte("test-secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, _ := NewEd25519Identity(nil)

	sealed, err := sealer.Seal("default", id.PrivateKey())
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	opened, err := sealer.Open("default", sealed)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if !opened.Equal(id.PrivateKey()) {
		t.Error("opened key differs from the sealed key")
	}
}

func TestSealer_RejectsTamperingAndWrongProfile(t *testing.T) {
	sealer, _ := NewSealer([]byte("test-secret"))
	other, _ := NewSealer([]byte("another-secret"))
	id, _ := NewEd25519Identity(nil)
	sealed, _ := sealer.Seal("default", id.PrivateKey())

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name    string
		sealer  *Sealer
		profile string
		data    []byte
	}{
		{name: "改ざん", sealer: sealer, profile: "default", data: tampered},
		{name: "プロファイル違い", sealer: sealer, profile: "work", data: sealed},
		{name: "シークレット違い", sealer: other, profile: "default", data: sealed},
		{name: "短すぎる", sealer: sealer, profile: "default", data: []byte{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.sealer.Open(tt.profile, tt.data)
			if !errors.Is(err, ErrSealCorrupted) {
				t.Errorf("Open error = %v, want ErrSealCorrupted", err)
			}
		})
	}
}

func TestNewSealer_EmptySecret(t *testing.T) {
	if _, err := NewSealer(nil); err == nil {
		t.Error("empty secret should be rejected")
	}
}

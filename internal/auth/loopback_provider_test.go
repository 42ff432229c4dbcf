package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/coestate/internal/identity"
	"github.com/hitoshi/coestate/internal/logger"
)

// browserParams は認証URLのフラグメントから取り出したパラメータ。
func browserParams(t *testing.T, authURL string) url.Values {
	t.Helper()
	_, fragment, ok := strings.Cut(authURL, "#authorize?")
	if !ok {
		t.Fatalf("authorize fragment not found in %q", authURL)
	}
	q, err := url.ParseQuery(fragment)
	if err != nil {
		t.Fatalf("failed to parse fragment: %v", err)
	}
	return q
}

// fakeBrowser はプロバイダーの認可ページの代わりにコールバックを呼ぶOpenerを返す。
// editは送信前にコールバックのクエリを書き換える。
func fakeBrowser(t *testing.T, ti *testIssuer, edit func(q url.Values), gotStatus *int) Opener {
	return func(ctx context.Context, authURL string) error {
		params := browserParams(t, authURL)
		key, err := base64.RawURLEncoding.DecodeString(params.Get("session_key"))
		if err != nil {
			t.Errorf("invalid session_key: %v", err)
		}

		q := url.Values{
			"state":      {params.Get("state")},
			"delegation": {ti.mint(t, ti.user.String(), ed25519.PublicKey(key), time.Now().Add(time.Hour))},
		}
		if edit != nil {
			edit(q)
		}

		resp, err := http.Get(params.Get("redirect_uri") + "?" + q.Encode())
		if err != nil {
			return err
		}
		resp.Body.Close()
		if gotStatus != nil {
			*gotStatus = resp.StatusCode
		}
		return nil
	}
}

func newTestLoopback(t *testing.T, ti *testIssuer, opener Opener) *LoopbackProvider {
	t.Helper()
	p, err := NewLoopbackProvider(LoopbackConfig{
		ProviderURL: "http://rdmx6-jaaaa-aaaaa-aaadq-cai.localhost:4943/",
		Opener:      opener,
		Verifier:    ti.verifier(t),
	}, logger.Discard())
	if err != nil {
		t.Fatalf("NewLoopbackProvider() error = %v", err)
	}
	return p
}

func TestLoopbackProvider_Authenticate(t *testing.T) {
	ti := newTestIssuer(t)
	session, _ := identity.NewEd25519Identity(nil)

	tests := []struct {
		name       string
		edit       func(q url.Values)
		wantStatus int
		wantErr    bool
	}{
		{name: "成功", wantStatus: http.StatusOK},
		{name: "state不一致", edit: func(q url.Values) { q.Set("state", "forged") }, wantStatus: http.StatusBadRequest, wantErr: true},
		{name: "プロバイダーが拒否", edit: func(q url.Values) { q.Set("error", "UserInterrupt") }, wantStatus: http.StatusBadRequest, wantErr: true},
		{name: "委任トークン欠落", edit: func(q url.Values) { q.Del("delegation") }, wantStatus: http.StatusBadRequest, wantErr: true},
		{name: "別セッション鍵の委任", edit: func(q url.Values) {
			other, _ := identity.NewEd25519Identity(nil)
			q.Set("delegation", ti.mint(t, ti.user.String(), other.PublicKey(), time.Now().Add(time.Hour)))
		}, wantStatus: http.StatusBadRequest, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var status int
			p := newTestLoopback(t, ti, fakeBrowser(t, ti, tt.edit, &status))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			d, err := p.Authenticate(ctx, AuthRequest{
				SessionKey:    ed25519.PublicKey(session.PublicKey()),
				MaxTimeToLive: DefaultMaxTimeToLive,
			})
			if status != tt.wantStatus {
				t.Errorf("callback status = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if d.Principal != ti.user {
				t.Errorf("Principal = %s, want %s", d.Principal, ti.user)
			}
		})
	}
}

func TestLoopbackProvider_Authenticate_ContextCancelled(t *testing.T) {
	ti := newTestIssuer(t)
	session, _ := identity.NewEd25519Identity(nil)

	ctx, cancel := context.WithCancel(context.Background())
	p := newTestLoopback(t, ti, func(context.Context, string) error {
		cancel()
		return nil
	})

	_, err := p.Authenticate(ctx, AuthRequest{SessionKey: session.PublicKey(), MaxTimeToLive: time.Hour})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestLoopbackProvider_AuthorizeURL(t *testing.T) {
	ti := newTestIssuer(t)
	session, _ := identity.NewEd25519Identity(nil)
	p := newTestLoopback(t, ti, PrintOpener(&strings.Builder{}))

	got := p.authorizeURL(AuthRequest{SessionKey: session.PublicKey(), MaxTimeToLive: 2 * time.Hour}, "http://127.0.0.1:5000/callback", "st")
	if !strings.HasPrefix(got, "http://rdmx6-jaaaa-aaaaa-aaadq-cai.localhost:4943/#authorize?") {
		t.Errorf("unexpected authorize URL prefix: %s", got)
	}

	q := browserParams(t, got)
	want := map[string]string{
		"session_key":  EncodeSessionKey(session.PublicKey()),
		"max_ttl":      "7200",
		"redirect_uri": "http://127.0.0.1:5000/callback",
		"state":        "st",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, q.Get(k), v)
		}
	}
}

func TestLoopbackProvider_Logout(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		status     int
		wantCalled bool
		wantErr    bool
	}{
		{name: "成功", token: "tok", status: http.StatusNoContent, wantCalled: true},
		{name: "プロバイダー側エラー", token: "tok", status: http.StatusInternalServerError, wantCalled: true, wantErr: true},
		{name: "トークンなしは何もしない", token: "", wantCalled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if r.Method != http.MethodPost || r.URL.Path != "/logout" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer "+tt.token {
					t.Errorf("Authorization = %q", got)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			ti := newTestIssuer(t)
			p, err := NewLoopbackProvider(LoopbackConfig{
				ProviderURL: server.URL,
				Opener:      PrintOpener(&strings.Builder{}),
				Verifier:    ti.verifier(t),
				HTTPClient:  server.Client(),
			}, logger.Discard())
			if err != nil {
				t.Fatalf("NewLoopbackProvider() error = %v", err)
			}

			err = p.Logout(context.Background(), tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("Logout() error = %v, wantErr %v", err, tt.wantErr)
			}
			if called != tt.wantCalled {
				t.Errorf("called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestNewLoopbackProvider_Validation(t *testing.T) {
	ti := newTestIssuer(t)
	tests := []struct {
		name string
		cfg  LoopbackConfig
	}{
		{name: "URLが不正", cfg: LoopbackConfig{ProviderURL: "::", Opener: PrintOpener(&strings.Builder{}), Verifier: ti.verifier(t)}},
		{name: "検証器なし", cfg: LoopbackConfig{ProviderURL: "https://identity.ic0.app", Opener: PrintOpener(&strings.Builder{})}},
		{name: "Openerなし", cfg: LoopbackConfig{ProviderURL: "https://identity.ic0.app", Verifier: ti.verifier(t)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoopbackProvider(tt.cfg, logger.Discard()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPrintOpener(t *testing.T) {
	var sb strings.Builder
	if err := PrintOpener(&sb)(context.Background(), "https://identity.ic0.app/#authorize?x=1"); err != nil {
		t.Fatalf("PrintOpener() error = %v", err)
	}
	if !strings.Contains(sb.String(), "https://identity.ic0.app/#authorize?x=1") {
		t.Errorf("output = %q", sb.String())
	}
}

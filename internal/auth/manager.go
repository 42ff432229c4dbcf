package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/coestate/internal/identity"
	"github.com/hitoshi/coestate/internal/metrics"
	"github.com/hitoshi/coestate/internal/model"
	"github.com/hitoshi/coestate/internal/repository"
)

// State はセッションの認証状態。
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Snapshot は読み取り側に渡すセッション状態のイミュータブルなコピー。
type Snapshot struct {
	State         State
	Principal     identity.Principal
	Authenticated bool
	Generation    uint64
	ExpiresAt     time.Time
}

// IdentityChangeHook はアイデンティティが差し替わるたびに遷移の内側で同期的に呼ばれる。
type IdentityChangeHook func(ctx context.Context, id identity.Identity, generation uint64) error

// ManagerConfig はセッションマネージャーの設定。
type ManagerConfig struct {
	Profile       string
	MaxTimeToLive time.Duration
	// Sealer がnilの場合、資格情報は永続化しない。
	Sealer *identity.Sealer
	// Verifier がnilの場合、起動時の復元は行わない。
	Verifier *DelegationVerifier
	Now      func() time.Time
	Rand     io.Reader
}

// Manager はプロセス内で唯一のセッション状態を管理する。
// アイデンティティを差し替えるのはLogin、Logout、Bootstrapのみ。
type Manager struct {
	provider IdentityProvider
	repo     repository.CredentialRepository
	store    *identity.Store
	cfg      ManagerConfig
	logger   *slog.Logger
	metrics  metrics.MetricsCollector

	// transitionMu はアイデンティティ差し替えとフック実行を直列化する。
	transitionMu sync.Mutex

	mu            sync.RWMutex
	state         State
	generation    uint64
	expiresAt     time.Time
	loginInFlight bool
	cancelLogin   context.CancelFunc
	logoutEpoch   uint64
	hooks         []IdentityChangeHook

	subsMu  sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int

	bootstrapOnce sync.Once
	bootstrapErr  error
	ready         chan struct{}
}

// NewManager はManagerを生成する。状態は匿名で開始し、Bootstrap完了まではログインできない。
func NewManager(
	provider IdentityProvider,
	repo repository.CredentialRepository,
	store *identity.Store,
	cfg ManagerConfig,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
) *Manager {
	if cfg.MaxTimeToLive <= 0 {
		cfg.MaxTimeToLive = DefaultMaxTimeToLive
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if store == nil {
		store = identity.NewStore()
	}
	return &Manager{
		provider: provider,
		repo:     repo,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		metrics:  mc,
		state:    StateAnonymous,
		subs:     make(map[int]chan Snapshot),
		ready:    make(chan struct{}),
	}
}

// Ready は起動時の復元が完了すると閉じられるチャネルを返す。
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// WaitReady は起動時の復元完了またはctxの終了まで待つ。
func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bootstrap は保存済みの資格情報を1回だけ調べ、有効なら認証済み状態で開始する。
// 2回目以降の呼び出しは何もせず初回と同じ結果を返す。
// 資格情報が無効・期限切れ・読み取り不能な場合は匿名のまま開始する。
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.bootstrapOnce.Do(func() {
		defer close(m.ready)
		m.bootstrapErr = m.restore(ctx)
	})
	return m.bootstrapErr
}

func (m *Manager) restore(ctx context.Context) error {
	if m.repo == nil || m.cfg.Sealer == nil || m.cfg.Verifier == nil {
		return nil
	}

	m.mu.RLock()
	epoch := m.logoutEpoch
	m.mu.RUnlock()

	cred, err := m.repo.Load(ctx, m.cfg.Profile)
	if err != nil {
		m.logger.Warn("保存済み資格情報の読み込みに失敗しました", slog.String("error", err.Error()))
		return nil
	}
	if cred == nil {
		return nil
	}

	id, err := m.openCredential(cred)
	if err != nil {
		m.logger.Info("保存済み資格情報を破棄します",
			slog.String("profile", m.cfg.Profile),
			slog.String("reason", err.Error()),
		)
		if err := m.repo.Delete(ctx, m.cfg.Profile); err != nil {
			m.logger.Warn("保存済み資格情報の削除に失敗しました", slog.String("error", err.Error()))
		}
		return nil
	}

	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()
	// 読み込み中にログアウトされた資格情報は復元しない
	if m.logoutEpoch != epoch {
		m.mu.Unlock()
		m.logger.Info("ログアウト済みのため保存済み資格情報を復元しません",
			slog.String("profile", m.cfg.Profile),
		)
		return nil
	}
	m.store.Replace(id)
	m.generation++
	m.state = StateAuthenticated
	m.expiresAt = id.ExpiresAt()
	gen := m.generation
	m.mu.Unlock()

	m.logger.Info("セッションを復元しました",
		slog.String("principal", id.Principal().String()),
		slog.Uint64("generation", gen),
	)

	err = m.runHooks(ctx, id, gen)
	m.metrics.SetBindingGeneration(gen)
	m.notify()
	return err
}

// openCredential は保存済み資格情報からアイデンティティを復元する。
func (m *Manager) openCredential(cred *model.StoredCredential) (*identity.DelegatedIdentity, error) {
	if cred.Expired(m.cfg.Now()) {
		return nil, errors.New("credential expired")
	}
	priv, err := m.cfg.Sealer.Open(cred.Profile, cred.SealedSessionKey)
	if err != nil {
		return nil, err
	}
	key, err := identity.Ed25519IdentityFromKey(priv)
	if err != nil {
		return nil, err
	}
	d, err := m.cfg.Verifier.Verify(cred.Delegation, key.PublicKey(), 0)
	if err != nil {
		return nil, err
	}
	if d.Principal.String() != cred.Principal {
		return nil, errors.New("stored principal does not match delegation")
	}
	expiresAt := d.ExpiresAt
	if cred.ExpiresAt.Before(expiresAt) {
		expiresAt = cred.ExpiresAt
	}
	return identity.NewDelegatedIdentity(key, d.Principal, d.Token, expiresAt)
}

// Login はIDプロバイダーとのハンドシェイクを行い、成功したらアイデンティティを差し替える。
// 差し替え後のフック（バインディング再構築）が完了してから戻る。
func (m *Manager) Login(ctx context.Context) error {
	select {
	case <-m.ready:
	default:
		return model.ErrNotReady
	}

	loginCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.loginInFlight {
		m.mu.Unlock()
		return model.ErrAlreadyInProgress
	}
	prior := m.state
	epoch := m.logoutEpoch
	m.state = StateAuthenticating
	m.loginInFlight = true
	m.cancelLogin = cancel
	m.mu.Unlock()
	m.notify()

	key, err := identity.NewEd25519Identity(m.cfg.Rand)
	if err == nil {
		var d *Delegation
		d, err = m.provider.Authenticate(loginCtx, AuthRequest{
			SessionKey:    ed25519.PublicKey(key.PublicKey()),
			MaxTimeToLive: m.cfg.MaxTimeToLive,
		})
		if err == nil {
			return m.completeLogin(ctx, epoch, prior, key, d)
		}
	}

	m.mu.Lock()
	m.loginInFlight = false
	m.cancelLogin = nil
	superseded := m.logoutEpoch != epoch
	if !superseded {
		m.state = prior
	}
	m.mu.Unlock()
	m.notify()

	if superseded {
		m.metrics.RecordLogin(metrics.OutcomeSuperseded)
		return &model.HandshakeError{Op: "login", Err: model.ErrSuperseded}
	}
	m.metrics.RecordLogin(metrics.OutcomeFailure)
	m.logger.Warn("ログインに失敗しました", slog.String("error", err.Error()))
	return &model.HandshakeError{Op: "login", Err: err}
}

// completeLogin はハンドシェイク成功後の遷移を行う。
func (m *Manager) completeLogin(ctx context.Context, epoch uint64, prior State, key *identity.Ed25519Identity, d *Delegation) error {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()
	m.loginInFlight = false
	m.cancelLogin = nil
	if m.logoutEpoch != epoch {
		m.mu.Unlock()
		m.metrics.RecordLogin(metrics.OutcomeSuperseded)
		m.notify()
		return &model.HandshakeError{Op: "login", Err: model.ErrSuperseded}
	}
	id, err := identity.NewDelegatedIdentity(key, d.Principal, d.Token, d.ExpiresAt)
	if err != nil {
		m.state = prior
		m.mu.Unlock()
		m.metrics.RecordLogin(metrics.OutcomeFailure)
		m.notify()
		return &model.HandshakeError{Op: "login", Err: err}
	}
	m.store.Replace(id)
	m.generation++
	m.state = StateAuthenticated
	m.expiresAt = d.ExpiresAt
	gen := m.generation
	m.mu.Unlock()

	m.logger.Info("ログインしました",
		slog.String("principal", d.Principal.String()),
		slog.Uint64("generation", gen),
	)
	m.persist(ctx, key, d)

	hookErr := m.runHooks(ctx, id, gen)
	m.metrics.RecordLogin(metrics.OutcomeSuccess)
	m.metrics.SetBindingGeneration(gen)
	m.notify()
	return hookErr
}

// persist は資格情報を保存する。失敗はログに残すだけでログイン自体は成功とする。
func (m *Manager) persist(ctx context.Context, key *identity.Ed25519Identity, d *Delegation) {
	if m.repo == nil || m.cfg.Sealer == nil {
		return
	}
	sealed, err := m.cfg.Sealer.Seal(m.cfg.Profile, key.PrivateKey())
	if err == nil {
		err = m.repo.Save(ctx, &model.StoredCredential{
			Profile:          m.cfg.Profile,
			Principal:        d.Principal.String(),
			SealedSessionKey: sealed,
			Delegation:       d.Token,
			ExpiresAt:        d.ExpiresAt,
			CreatedAt:        m.cfg.Now(),
		})
	}
	if err != nil {
		m.logger.Warn("資格情報の保存に失敗しました", slog.String("error", err.Error()))
	}
}

// Logout はどの状態からでも匿名状態に戻す。
// プロバイダー側の失効は失敗してもログとメトリクスに残すだけで、ローカルの状態は必ずリセットする。
// 戻り値はフック（バインディング再構築）のエラーのみ。
func (m *Manager) Logout(ctx context.Context) error {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	token := m.store.Current().Delegation()

	m.mu.Lock()
	m.logoutEpoch++
	if m.cancelLogin != nil {
		m.cancelLogin()
	}
	prev := m.store.Principal()
	m.store.Reset()
	m.generation++
	m.state = StateAnonymous
	m.expiresAt = time.Time{}
	gen := m.generation
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.Delete(ctx, m.cfg.Profile); err != nil {
			m.logger.Warn("保存済み資格情報の削除に失敗しました", slog.String("error", err.Error()))
		}
	}

	hookErr := m.runHooks(ctx, identity.Anonymous{}, gen)
	m.metrics.SetBindingGeneration(gen)
	m.notify()

	if token != "" {
		if err := m.provider.Logout(ctx, token); err != nil {
			m.metrics.RecordLogoutRemoteFailure()
			m.logger.Warn("IDプロバイダーのログアウトに失敗しました",
				slog.String("principal", prev.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("ログアウトしました",
		slog.String("principal", prev.String()),
		slog.Uint64("generation", gen),
	)
	return hookErr
}

// runHooks は登録済みフックを順に実行し、失敗をまとめて返す。
func (m *Manager) runHooks(ctx context.Context, id identity.Identity, gen uint64) error {
	m.mu.RLock()
	hooks := append([]IdentityChangeHook(nil), m.hooks...)
	m.mu.RUnlock()

	var errs []error
	for _, hook := range hooks {
		if err := hook(ctx, id, gen); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		m.logger.Error("アイデンティティ変更フックが失敗しました",
			slog.Uint64("generation", gen),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("identity change hook: %w", err)
	}
	return nil
}

// OnIdentityChange はアイデンティティ差し替え時のフックを登録する。
func (m *Manager) OnIdentityChange(hook IdentityChangeHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Snapshot は現在の状態を返す。
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.store.Principal()
	return Snapshot{
		State:         m.state,
		Principal:     p,
		Authenticated: m.state == StateAuthenticated && !p.IsAnonymous(),
		Generation:    m.generation,
		ExpiresAt:     m.expiresAt,
	}
}

// Generation は現在のセッション世代を返す。
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Identity は現在のアイデンティティを返す。
func (m *Manager) Identity() identity.Identity {
	return m.store.Current()
}

// Subscribe は状態変化の通知チャネルと解除関数を返す。
// 受信が遅れた場合は最新のスナップショットのみが残る。
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
			close(ch)
		})
	}
}

// notify は全購読者に最新のスナップショットを送る。
func (m *Manager) notify() {
	snap := m.Snapshot()

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Package model はドメインモデルとエラー分類を定義する。
package model

import (
	"errors"
	"fmt"
)

// 状態遷移・RPC呼び出しで返される定義済みエラー。
var (
	// ErrNotReady は起動時のセッション復元が完了する前にログインが呼ばれたことを示す。
	ErrNotReady = errors.New("session manager is not ready")
	// ErrAlreadyInProgress は別のログインハンドシェイクが進行中であることを示す。
	ErrAlreadyInProgress = errors.New("login already in progress")
	// ErrSuperseded はハンドシェイク中にログアウトが行われ、結果が破棄されたことを示す。
	ErrSuperseded = errors.New("handshake superseded by logout")
	// ErrStaleResponse は古い世代のバインディングで発行された呼び出しの応答を破棄したことを示す。
	ErrStaleResponse = errors.New("response belongs to a previous session generation")
	// ErrUncertifiedResponse はルート鍵による応答証明が欠落または不正であることを示す。
	ErrUncertifiedResponse = errors.New("response certificate missing or invalid")
	// ErrNotAuthenticated は認証が必要な操作が匿名セッションで呼ばれたことを示す。
	ErrNotAuthenticated = errors.New("not authenticated")
)

// ConfigurationError はネットワーク・環境設定の不備を表す。
// バインディング構築に対して致命的であり、即座に呼び出し元へ返される。
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// HandshakeError はIDプロバイダーとのログイン/ログアウト処理の失敗を表す。
type HandshakeError struct {
	Op  string // "login" または "logout"
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s handshake failed: %v", e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// TrustBootstrapWarning はローカルネットワークのルート鍵取得に失敗したことを表す。
// 致命的ではなく、バインディングは信頼度低下モードで返される。
type TrustBootstrapWarning struct {
	URL string
	Err error
}

// Error はerrorインターフェースを実装する。
func (w *TrustBootstrapWarning) Error() string {
	return fmt.Sprintf("root key fetch from %s failed, running in degraded-trust mode: %v", w.URL, w.Err)
}

// Unwrap は元のエラーを返す。
func (w *TrustBootstrapWarning) Unwrap() error {
	return w.Err
}

// RemoteCallError はリモートプロシージャ呼び出しの失敗を表す。
// gRPCステータスはUnwrapで取り出せる。このレイヤーでは自動リトライしない。
type RemoteCallError struct {
	Method string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("remote call %s failed: %v", e.Method, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// APIError はリクエスト検証エラーの統一フォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, property, lease
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidPropertyType = "INVALID_PROPERTY_TYPE"
	ErrCodeInvalidAmenity      = "INVALID_AMENITY"
	ErrCodeInvalidImageURL     = "INVALID_IMAGE_URL"
	ErrCodeInvalidShareCount   = "INVALID_SHARE_COUNT"
	ErrCodePropertyNotFound    = "PROPERTY_NOT_FOUND"
	ErrCodeInvalidAmount       = "INVALID_AMOUNT"
	ErrCodeMissingField        = "MISSING_FIELD"
	ErrCodeInvalidLeasePeriod  = "INVALID_LEASE_PERIOD"
)

// NewInvalidPropertyTypeError は未知の物件種別エラーを生成する。
func NewInvalidPropertyTypeError(tag string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPropertyType,
		Message:  fmt.Sprintf("無効な物件種別です: %s", tag),
		Category: "validation",
		Action:   "物件種別には Residential、Industrial、Commercial、MixedUse のいずれかを指定してください。",
	}
}

// NewInvalidAmenityError は未知の設備タグエラーを生成する。
func NewInvalidAmenityError(tag string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAmenity,
		Message:  fmt.Sprintf("無効な設備タグです: %s", tag),
		Category: "validation",
		Action:   "設備タグは一覧に含まれるもののみ指定できます。",
	}
}

// NewInvalidImageURLError は画像URLの検証エラーを生成する。
func NewInvalidImageURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImageURL,
		Message:  fmt.Sprintf("無効な画像URLです: %s", reason),
		Category: "validation",
		Action:   "公開されている http:// または https:// の画像URLを入力してください。",
	}
}

// NewInvalidShareCountError は購入株数の検証エラーを生成する。
func NewInvalidShareCountError(requested, available uint64) *APIError {
	if requested == 0 {
		return &APIError{
			Code:     ErrCodeInvalidShareCount,
			Message:  "購入株数は1以上を指定してください。",
			Category: "validation",
			Action:   "有効な株数を入力してください。",
		}
	}
	return &APIError{
		Code:     ErrCodeInvalidShareCount,
		Message:  fmt.Sprintf("購入可能な株数を超えています: %d > %d", requested, available),
		Category: "validation",
		Action:   fmt.Sprintf("%d株以下を指定してください。", available),
	}
}

// NewPropertyNotFoundError は物件未検出エラーを生成する。
func NewPropertyNotFoundError(id uint64) *APIError {
	return &APIError{
		Code:     ErrCodePropertyNotFound,
		Message:  fmt.Sprintf("指定された物件が見つかりません: %d", id),
		Category: "property",
		Action:   "物件IDを確認してください。",
	}
}

// NewInvalidAmountError は金額・数量の検証エラーを生成する。
func NewInvalidAmountError(field, value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAmount,
		Message:  fmt.Sprintf("無効な数値です: %s=%q", field, value),
		Category: "validation",
		Action:   "0以上の整数を入力してください。",
	}
}

// NewMissingFieldError は必須項目の欠落エラーを生成する。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("必須項目が入力されていません: %s", field),
		Category: "validation",
		Action:   "必須項目をすべて入力してください。",
	}
}

// NewInvalidLeasePeriodError は契約期間の検証エラーを生成する。
func NewInvalidLeasePeriodError(start, end string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLeasePeriod,
		Message:  fmt.Sprintf("無効な契約期間です: %s 〜 %s", start, end),
		Category: "lease",
		Action:   "日付はYYYY-MM-DD形式で、終了日は開始日以降を指定してください。",
	}
}

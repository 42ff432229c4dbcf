package model

import "time"

// StoredCredential は起動時のセッション復元に使用する永続化済み資格情報を表す。
// セッション鍵は封印（暗号化）された状態でのみ保存される。
type StoredCredential struct {
	Profile          string    `json:"profile"`
	Principal        string    `json:"principal"` // IDプロバイダーが表明したプリンシパルのテキスト形式
	SealedSessionKey []byte    `json:"sealed_session_key"`
	Delegation       string    `json:"delegation"` // IDプロバイダーが発行した委任トークン
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// Expired は指定時刻において資格情報が期限切れかどうかを返す。
func (c *StoredCredential) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

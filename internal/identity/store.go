package identity

import "sync/atomic"

// Store は現在のアイデンティティと導出済みプリンシパルを保持する。
// 書き換えはセッションマネージャーのみが行い、読み取りは並行に安全。
type Store struct {
	current atomic.Pointer[entry]
}

type entry struct {
	id        Identity
	principal Principal
}

// NewStore は匿名アイデンティティで初期化されたStoreを生成する。
func NewStore() *Store {
	s := &Store{}
	s.Replace(Anonymous{})
	return s
}

// Current は現在のアイデンティティを返す。
func (s *Store) Current() Identity {
	return s.current.Load().id
}

// Principal は現在のプリンシパルを返す。
func (s *Store) Principal() Principal {
	return s.current.Load().principal
}

// Replace はアイデンティティを差し替える。nilは匿名として扱う。
func (s *Store) Replace(id Identity) {
	if id == nil {
		id = Anonymous{}
	}
	s.current.Store(&entry{id: id, principal: id.Principal()})
}

// Reset は匿名アイデンティティに戻す。
func (s *Store) Reset() {
	s.Replace(Anonymous{})
}

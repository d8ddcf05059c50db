package authclient

import "sync"

// セッションスロットのキー
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

// SessionStore はクライアント側のセッション永続化のインターフェース。
// Getはキーが無い場合("", false, nil)を返す。
type SessionStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Clear() error
}

// MemoryStore はプロセス内のみのSessionStore。
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	return nil
}

// compile-time interface check
var _ SessionStore = (*MemoryStore)(nil)

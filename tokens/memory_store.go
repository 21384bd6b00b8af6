package tokens

import "sync"

// MemoryStore хранит токен в памяти процесса; после перезапуска он пуст.
type MemoryStore struct {
	mu    sync.RWMutex
	token Token
	set   bool
}

// LoadToken возвращает текущий токен и признак его наличия.
func (store *MemoryStore) LoadToken() (Token, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return store.token, store.set
}

// SaveToken заменяет токен целиком.
func (store *MemoryStore) SaveToken(token Token) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.token = token
	store.set = true
}

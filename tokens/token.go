package tokens

import "time"

// Token описывает закэшированный OAuth токен.
type Token struct {
	Access    string
	ExpiresAt time.Time
}

// TokenStore описывает хранилище единственного токена процесса.
type TokenStore interface {
	LoadToken() (Token, bool)
	SaveToken(Token)
}

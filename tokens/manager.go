package tokens

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"token-proxy/auth"
	"token-proxy/model"
)

// SafetyMargin — за сколько до истечения токен считается устаревшим.
const SafetyMargin = 5 * time.Minute

const refreshKey = "token"

// Fetcher запрашивает новый токен у провайдера.
type Fetcher func(ctx context.Context) (auth.Grant, error)

// FetchHook получает событие о каждом обращении к провайдеру.
type FetchHook func(model.FetchEvent)

// Result — ответ Get: токен и число секунд до его истечения.
type Result struct {
	AccessToken string
	ExpiresIn   int64
	Cached      bool
}

// Health — снимок состояния кэша без побочных эффектов.
type Health struct {
	TokenCached bool
	ExpiresAt   *time.Time
}

// Manager управляет единственным OAuth токеном процесса.
type Manager struct {
	store  TokenStore
	fetch  Fetcher
	now    func() time.Time
	margin time.Duration
	hooks  []FetchHook
	logger *slog.Logger

	// одновременные обновления устаревшего токена склеиваются в один запрос
	group singleflight.Group
}

// ManagerOption настраивает Manager.
type ManagerOption func(*Manager)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithSafetyMargin меняет запас до истечения токена.
func WithSafetyMargin(margin time.Duration) ManagerOption {
	return func(m *Manager) {
		m.margin = margin
	}
}

// WithFetchHook добавляет получателя событий о запросах к провайдеру.
func WithFetchHook(hook FetchHook) ManagerOption {
	return func(m *Manager) {
		m.hooks = append(m.hooks, hook)
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager создает менеджер токена.
func NewManager(store TokenStore, fetch Fetcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		fetch:  fetch,
		now:    time.Now,
		margin: SafetyMargin,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Get возвращает OAuth токен, обновляя его при необходимости. Ошибка
// провайдера или транспорта не трогает закэшированный токен.
func (m *Manager) Get(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if result, ok := m.cached(); ok {
		return result, nil
	}

	v, err, _ := m.group.Do(refreshKey, func() (any, error) {
		// токен мог обновиться, пока мы ждали
		if result, ok := m.cached(); ok {
			return result, nil
		}
		// отмена одного из ожидающих не должна обрывать общий запрос
		return m.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Result{}, err
	}

	return v.(Result), nil
}

// Health сообщает, есть ли токен в кэше, и когда он истекает.
func (m *Manager) Health() Health {
	token, ok := m.store.LoadToken()
	if !ok {
		return Health{}
	}

	expiresAt := token.ExpiresAt
	return Health{TokenCached: true, ExpiresAt: &expiresAt}
}

func (m *Manager) cached() (Result, bool) {
	token, ok := m.store.LoadToken()
	if !ok {
		return Result{}, false
	}

	now := m.now()
	if !now.Before(token.ExpiresAt.Add(-m.margin)) {
		return Result{}, false
	}

	return Result{
		AccessToken: token.Access,
		ExpiresIn:   ceilSeconds(token.ExpiresAt.Sub(now)),
		Cached:      true,
	}, true
}

func (m *Manager) refresh(ctx context.Context) (Result, error) {
	m.logger.Debug("fetching new OAuth token")

	started := m.now()
	grant, err := m.fetch(ctx)
	fetchedAt := m.now()

	event := model.FetchEvent{
		RequestedAt: started,
		Duration:    fetchedAt.Sub(started),
	}

	if err != nil {
		var rejected *auth.RejectedError
		if errors.As(err, &rejected) {
			event.Outcome = model.OutcomeRejected
			event.StatusCode = rejected.StatusCode
			m.logger.Debug("token fetch rejected",
				"status", rejected.StatusCode,
				"response", rejected.Body)
		} else {
			event.Outcome = model.OutcomeFailed
			m.logger.Debug("token fetch failed", "error", err)
		}
		m.emit(event)
		return Result{}, err
	}

	token := Token{
		Access:    grant.AccessToken,
		ExpiresAt: fetchedAt.Add(grant.ExpiresIn),
	}
	m.store.SaveToken(token)

	event.Outcome = model.OutcomeSuccess
	event.StatusCode = http.StatusOK
	event.ExpiresAt = token.ExpiresAt
	m.emit(event)

	m.logger.Debug("token obtained", "expires_in", grant.ExpiresIn)

	return Result{
		AccessToken: token.Access,
		ExpiresIn:   int64(grant.ExpiresIn / time.Second),
		Cached:      false,
	}, nil
}

func (m *Manager) emit(event model.FetchEvent) {
	for _, hook := range m.hooks {
		hook(event)
	}
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

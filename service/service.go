package service

import (
	"context"
	"log/slog"
	"net"

	"token-proxy/metrics"
	"token-proxy/model"
	"token-proxy/server"
	"token-proxy/storage"
)

// Service управляет жизненным циклом HTTP сервера и журнала запросов токена.
type Service struct {
	server  *server.Server
	journal *storage.Batcher
}

// New создаёт Service с уже собранным сервером; journal может быть nil.
func New(srv *server.Server, journal *storage.Batcher) *Service {
	return &Service{server: srv, journal: journal}
}

// Run запускает сервер и блокируется до отмены контекста или ошибки.
// Журнал останавливается после возврата сервера на любом пути выхода.
func (s *Service) Run(ctx context.Context) error {
	return s.run(ctx, s.server.Run)
}

// Serve как Run, но обслуживает уже открытый ln.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	return s.run(ctx, func(ctx context.Context) error {
		return s.server.Serve(ctx, ln)
	})
}

func (s *Service) run(ctx context.Context, serve func(context.Context) error) error {
	err := serve(ctx)

	if s.journal != nil {
		s.journal.Stop()
	}

	return err
}

// Handler получает события о запросах к провайдеру и раскладывает их
// по метрикам и журналу.
type Handler struct {
	journal *storage.Batcher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHandler собирает Handler; journal и m могут быть nil.
func NewHandler(journal *storage.Batcher, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{journal: journal, metrics: m, logger: logger}
}

// HandleFetch учитывает событие и ставит его в очередь журнала.
func (h *Handler) HandleFetch(event model.FetchEvent) {
	if h.metrics != nil {
		h.metrics.ObserveFetch(event)
	}

	if h.journal == nil {
		return
	}

	if ok := h.journal.Enqueue(event); !ok {
		if h.metrics != nil {
			h.metrics.JournalDropped.Inc()
		}
		h.logger.Debug("journal: событие отброшено", "outcome", event.Outcome)
	}
}

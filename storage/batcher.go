package storage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"token-proxy/model"
)

// BatchConfig задаёт параметры батчинга для записи событий журнала.
type BatchConfig struct {
	MaxBatch      int
	FlushEvery    time.Duration
	ChanBuffer    int
	StatsLogEvery time.Duration
	FlushTimeout  time.Duration
}

// Batcher асинхронно пишет события запросов токена через pgx.Batch.
type Batcher struct {
	input   chan model.FetchEvent
	done    chan struct{}
	cancel  context.CancelFunc
	config  BatchConfig
	sender  BatchSender
	logger  *slog.Logger
	dropped atomic.Uint64
}

// BatchSender — часть pgxpool.Pool, через которую уходят батчи.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// NewBatcher создаёт батчер и запускает фоновые флаши до отмены ctx или Stop.
func NewBatcher(ctx context.Context, sender BatchSender, cfg BatchConfig, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	b := &Batcher{
		input:  make(chan model.FetchEvent, cfg.ChanBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
		config: cfg,
		sender: sender,
		logger: logger,
	}

	go b.run(ctx)

	return b
}

// Enqueue пытается добавить событие в очередь; при переполнении возвращает false.
func (b *Batcher) Enqueue(event model.FetchEvent) bool {
	select {
	case b.input <- event:
		return true
	default:
		dropped := b.dropped.Add(1)
		if dropped%100 == 0 {
			b.logger.Warn("journal: очередь заполнена", "dropped_total", dropped)
		}
		return false
	}
}

// Dropped возвращает число событий, отброшенных из-за переполнения.
func (b *Batcher) Dropped() uint64 {
	return b.dropped.Load()
}

// Done закрывается после финального флаша при отмене контекста.
func (b *Batcher) Done() <-chan struct{} {
	return b.done
}

// Stop останавливает батчер и ждёт финального флаша. Повторный вызов безопасен.
func (b *Batcher) Stop() {
	b.cancel()
	<-b.done
}

const insertFetchEvent = `
insert into token_fetches (
  requested_at, duration_ms, outcome, status_code, expires_at
) values ($1,$2,$3,$4,$5);`

func (b *Batcher) run(ctx context.Context) {
	defer close(b.done)

	flushTicker := time.NewTicker(b.config.FlushEvery)
	statsTicker := time.NewTicker(b.config.StatsLogEvery)
	defer flushTicker.Stop()
	defer statsTicker.Stop()

	var (
		batch            = &pgx.Batch{}
		pending          = 0
		totalInserted    uint64
		intervalInserted uint64
	)

	flush := func() {
		if pending == 0 {
			return
		}

		dbCtx, cancel := context.WithTimeout(context.Background(), b.config.FlushTimeout)
		defer cancel()

		br := b.sender.SendBatch(dbCtx, batch)
		if err := br.Close(); err != nil {
			b.logger.Error("journal: ошибка флаша", "error", err, "rows", pending)
		} else {
			totalInserted += uint64(pending)
			intervalInserted += uint64(pending)
		}

		batch = &pgx.Batch{}
		pending = 0
	}

	for {
		select {
		case <-ctx.Done():
			// забираем то, что уже лежит в очереди
		drain:
			for {
				select {
				case event := <-b.input:
					queueEvent(batch, event)
					pending++
				default:
					break drain
				}
			}
			flush()
			b.logger.Info("journal: контекст отменён", "inserted_total", totalInserted)
			return
		case <-flushTicker.C:
			flush()
		case <-statsTicker.C:
			b.logger.Info("journal: статистика",
				"inserted", intervalInserted,
				"interval", b.config.StatsLogEvery,
				"inserted_total", totalInserted,
				"dropped_total", b.dropped.Load())
			intervalInserted = 0
		case event := <-b.input:
			queueEvent(batch, event)
			pending++
			if pending >= b.config.MaxBatch {
				flush()
			}
		}
	}
}

func queueEvent(batch *pgx.Batch, event model.FetchEvent) {
	batch.Queue(insertFetchEvent,
		event.RequestedAt.UTC(),
		event.Duration.Milliseconds(),
		string(event.Outcome),
		nullableInt(event.StatusCode),
		nullableTime(event.ExpiresAt),
	)
}

func nullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jub0bs/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"token-proxy/auth"
	"token-proxy/metrics"
	"token-proxy/tokens"
)

// TokenSource — то, что HTTP слою нужно от кэша токенов.
type TokenSource interface {
	Get(ctx context.Context) (tokens.Result, error)
	Health() tokens.Health
}

// Options задаёт необязательные части HTTP слоя.
type Options struct {
	// StaticDir — корень статики клиента; пустая строка отключает раздачу.
	StaticDir string
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

type handler struct {
	source  TokenSource
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type tokenSuccess struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Cached      bool   `json:"cached"`
}

type tokenFailure struct {
	Success bool    `json:"success"`
	Error   string  `json:"error"`
	Detail  *string `json:"detail,omitempty"`
}

type healthResponse struct {
	Status         string  `json:"status"`
	TokenCached    bool    `json:"token_cached"`
	TokenExpiresAt *string `json:"token_expires_at"`
}

// NewHandler собирает маршруты прокси: /api/token, /api/health, /metrics и статику.
func NewHandler(source TokenSource, opts Options) (http.Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handler{source: source, metrics: opts.Metrics, logger: logger}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/token", h.token)
	api.HandleFunc("GET /api/health", h.health)

	// GET безопасный метод, отдельно его разрешать не нужно.
	corsMw, err := cors.NewMiddleware(cors.Config{
		Origins: []string{"*"},
	})
	if err != nil {
		return nil, fmt.Errorf("cors: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", corsMw.Wrap(api))

	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.StaticDir != "" {
		registerStatic(mux, opts.StaticDir)
	}

	return mux, nil
}

func (h *handler) token(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	result, err := h.source.Get(r.Context())
	if err != nil {
		var rejected *auth.RejectedError
		if errors.As(err, &rejected) {
			h.observe(metrics.ResultRejected)
			detail := rejected.Body
			writeJSON(w, rejected.StatusCode, tokenFailure{
				Error:  fmt.Sprintf("Token request failed: %d", rejected.StatusCode),
				Detail: &detail,
			})
			return
		}

		h.observe(metrics.ResultError)
		h.logger.Debug("token request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, tokenFailure{Error: "Internal server error"})
		return
	}

	if result.Cached {
		h.observe(metrics.ResultHit)
	} else {
		h.observe(metrics.ResultMiss)
	}

	writeJSON(w, http.StatusOK, tokenSuccess{
		Success:     true,
		AccessToken: result.AccessToken,
		ExpiresIn:   result.ExpiresIn,
		Cached:      result.Cached,
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	health := h.source.Health()

	resp := healthResponse{Status: "healthy", TokenCached: health.TokenCached}
	if health.ExpiresAt != nil {
		formatted := health.ExpiresAt.UTC().Format(time.RFC3339)
		resp.TokenExpiresAt = &formatted
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) observe(result string) {
	if h.metrics != nil {
		h.metrics.ObserveTokenRequest(result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

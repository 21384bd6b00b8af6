package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"token-proxy/config"
)

// DefaultExpiresIn применяется, если провайдер не прислал expires_in.
const DefaultExpiresIn = 3600 * time.Second

// maxBodySize ограничивает чтение ответа провайдера.
const maxBodySize = 1 << 20

// ErrMalformedResponse — ответ 200 не соответствует ожидаемой схеме.
var ErrMalformedResponse = errors.New("malformed token response")

// RejectedError возвращается, когда провайдер ответил статусом, отличным от 200.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("token provider: unexpected status %d", e.StatusCode)
}

// Grant — успешный ответ провайдера.
type Grant struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Client запрашивает токен у провайдера по фиксированным учётным данным.
type Client struct {
	httpClient *http.Client
	tokenURL   string
	form       url.Values
}

// NewClient собирает клиента из конфигурации OAuth. Таймаут запроса берётся
// из cfg.RequestTimeout, если httpClient не передан.
func NewClient(cfg config.OAuthConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	form := url.Values{}
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	form.Set("username", cfg.Username)
	form.Set("password", cfg.Password)
	form.Set("scope", cfg.Scope)
	form.Set("grant_type", cfg.GrantType)
	form.Set("response_type", cfg.ResponseType)

	return &Client{
		httpClient: httpClient,
		tokenURL:   cfg.TokenURL,
		form:       form,
	}
}

// RequestToken выполняет ровно один запрос к провайдеру, без повторов.
func (c *Client) RequestToken(ctx context.Context) (Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(c.form.Encode()))
	if err != nil {
		return Grant{}, fmt.Errorf("token provider: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Grant{}, fmt.Errorf("token provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Grant{}, fmt.Errorf("token provider: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Grant{}, &RejectedError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return decodeGrant(body)
}

// maxExpiresIn — наибольшее expires_in в секундах, которое помещается в time.Duration.
const maxExpiresIn = math.MaxInt64 / int64(time.Second)

type tokenResponse struct {
	AccessToken *string          `json:"access_token"`
	ExpiresIn   *json.RawMessage `json:"expires_in"`
}

// decodeGrant проверяет схему ответа: access_token — непустая строка,
// expires_in — неотрицательное целое, если присутствует.
func decodeGrant(body []byte) (Grant, error) {
	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Grant{}, fmt.Errorf("token provider: decode response: %w: %v", ErrMalformedResponse, err)
	}

	if payload.AccessToken == nil || strings.TrimSpace(*payload.AccessToken) == "" {
		return Grant{}, fmt.Errorf("token provider: %w: access_token missing", ErrMalformedResponse)
	}

	expiresIn := DefaultExpiresIn
	if payload.ExpiresIn != nil && string(*payload.ExpiresIn) != "null" {
		var seconds int64
		if err := json.Unmarshal(*payload.ExpiresIn, &seconds); err != nil {
			return Grant{}, fmt.Errorf("token provider: %w: expires_in is not an integer", ErrMalformedResponse)
		}
		if seconds < 0 {
			return Grant{}, fmt.Errorf("token provider: %w: negative expires_in", ErrMalformedResponse)
		}
		if seconds > maxExpiresIn {
			return Grant{}, fmt.Errorf("token provider: %w: expires_in out of range", ErrMalformedResponse)
		}
		expiresIn = time.Duration(seconds) * time.Second
	}

	return Grant{AccessToken: *payload.AccessToken, ExpiresIn: expiresIn}, nil
}

package model

import "time"

// FetchOutcome — итог одного обращения к провайдеру токенов.
type FetchOutcome string

const (
	OutcomeSuccess  FetchOutcome = "success"
	OutcomeRejected FetchOutcome = "rejected"
	OutcomeFailed   FetchOutcome = "failed"
)

// FetchEvent описывает запрос токена у провайдера. Сам токен и учётные
// данные сюда не попадают.
type FetchEvent struct {
	RequestedAt time.Time
	Duration    time.Duration
	Outcome     FetchOutcome
	StatusCode  int
	ExpiresAt   time.Time
}

package redis

import "errors"

var (
	// ErrFailedToParseConnString is returned for an invalid Redis
	// connection URL.
	ErrFailedToParseConnString = errors.New("failed to parse redis connection string")

	// ErrRedisNotReady is returned when the connection could not be
	// validated within the retry budget.
	ErrRedisNotReady = errors.New("redis did not become ready within the given time period")

	// ErrEmptyConnectionURL is returned when no connection URL is
	// configured.
	ErrEmptyConnectionURL = errors.New("empty redis connection URL")

	// ErrHealthcheckFailed is returned when the health check ping fails.
	ErrHealthcheckFailed = errors.New("redis healthcheck failed")
)

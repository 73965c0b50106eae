// Path: internal/storage/errors.go
package storage

import "errors"

// Domain-specific storage errors. Use errors.Is() to check them.
var (
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL")
	ErrHealthcheckFailed            = errors.New("registry healthcheck failed")
	ErrInvalidTTL                   = errors.New("marker ttl must be positive")
)

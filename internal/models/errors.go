package models

import "errors"

var (
	ErrInvalidUserID     = errors.New("invalid user ID")
	ErrInvalidTimeframe  = errors.New("invalid timeframe")
	ErrUnknownSubCache   = errors.New("unknown sub-cache")
	ErrInvalidMetricType = errors.New("invalid metric type")
	ErrInvalidValue      = errors.New("invalid value")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrInvalidEvent      = errors.New("invalid document event")
	ErrUserNotFound      = errors.New("user not found")
	ErrCacheRead         = errors.New("cache read failed")
	ErrCacheWrite        = errors.New("cache write failed")
)

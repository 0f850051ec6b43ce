package fuzz

import (
	"errors"
	"fmt"
)

var (
	ErrNoPositions     = errors.New("no positions marked")
	ErrNoPayloads      = errors.New("no payloads configured")
	ErrNoCombinations  = errors.New("no attack combinations generated")
	ErrTooManyRequests = errors.New("too many combinations")
	ErrUnknownMode     = errors.New("unknown attack mode")
	ErrInvalidPayloads = errors.New("invalid payload generator")
	ErrAlreadyStarted  = errors.New("attack already started")
)

// ConfigError 攻击配置不足或无效，启动前返回，不会发出任何请求
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid attack config: %v", e.Err)
	}
	return fmt.Sprintf("invalid attack config: %v: %s", e.Err, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

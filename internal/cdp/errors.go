package cdp

import (
	"errors"
	"fmt"

	"repplus/pkg/domain"
)

var (
	ErrAlreadyAttached = errors.New("tab already has an active debugging session")
	ErrAttachDenied    = errors.New("browser denied debugger attachment")
	ErrTargetNotFound  = errors.New("target not found")
	ErrSessionLost     = errors.New("debugging session lost")
	ErrCommandFailed   = errors.New("protocol command failed")
	ErrNotQueued       = errors.New("transaction not queued")
)

// AttachError 无法建立调试会话，不会自动重试
type AttachError struct {
	Tab domain.TargetID
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach %s: %v", e.Tab, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// SessionLostError 转发/丢弃时所属标签页会话已断开，事务已从队列移除
type SessionLostError struct {
	Tab           domain.TargetID
	TransactionID string
}

func (e *SessionLostError) Error() string {
	return fmt.Sprintf("transaction %s: session for tab %s is gone", e.TransactionID, e.Tab)
}

func (e *SessionLostError) Unwrap() error { return ErrSessionLost }

// CommandFailure 浏览器拒绝了协议命令
type CommandFailure struct {
	Command       string
	TransactionID string
	Err           error
}

func (e *CommandFailure) Error() string {
	if e.TransactionID != "" {
		return fmt.Sprintf("%s for %s failed: %v", e.Command, e.TransactionID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *CommandFailure) Unwrap() []error { return []error{ErrCommandFailed, e.Err} }

package entity

import (
	"errors"
	"fmt"
)

var (
	ErrNegativeCount    = errors.New("vehicle count must be non-negative")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrAlreadyServing   = errors.New("already serving")
	ErrQueueFull        = errors.New("observation queue is full")
	ErrStopped          = errors.New("signal controller is stopped")
)

// ErrorCode 信控错误分类
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	// 非法输入（负计数、未知方向），在边界拒绝，不影响当前相位
	ErrCodeInvalidInput
	// 配置错误（阈值非单调、min_green > max_green等），启动时致命
	ErrCodeConfiguration
	// 某方向连续跳过次数超过上限
	ErrCodeStarvationViolation
	// 内部故障，信号机回退到全红
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNone:
		return "none"
	case ErrCodeInvalidInput:
		return "invalid_input"
	case ErrCodeConfiguration:
		return "configuration"
	case ErrCodeStarvationViolation:
		return "starvation_violation"
	case ErrCodeInternal:
		return "internal"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// SignalError 带分类码的信控错误
type SignalError struct {
	Code      ErrorCode
	Op        string
	Direction Direction
	Message   string
	Err       error
}

func (e *SignalError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Direction.Valid() {
		return fmt.Sprintf("%s error [%s %v]: %s", e.Code, e.Op, e.Direction, msg)
	}
	return fmt.Sprintf("%s error [%s]: %s", e.Code, e.Op, msg)
}

func (e *SignalError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError 边界拒绝的输入错误，err为具体原因（sentinel）
func NewInvalidInputError(op string, d Direction, err error) *SignalError {
	return &SignalError{Code: ErrCodeInvalidInput, Op: op, Direction: d, Err: err}
}

// NewConfigurationError 配置错误
func NewConfigurationError(message string) *SignalError {
	return &SignalError{Code: ErrCodeConfiguration, Op: "config", Direction: DirectionNone, Message: message}
}

// NewStarvationError 饥饿违规
func NewStarvationError(d Direction, skips, limit int) *SignalError {
	return &SignalError{
		Code:      ErrCodeStarvationViolation,
		Op:        "select",
		Direction: d,
		Message:   fmt.Sprintf("skipped %d times, limit %d", skips, limit),
	}
}

// NewInternalError 内部故障
func NewInternalError(op string, cause any) *SignalError {
	return &SignalError{Code: ErrCodeInternal, Op: op, Direction: DirectionNone, Message: fmt.Sprintf("%v", cause)}
}

// CodeOf 取出错误的分类码，非SignalError返回ErrCodeNone
func CodeOf(err error) ErrorCode {
	var se *SignalError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeNone
}

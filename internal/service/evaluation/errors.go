package evaluation

import (
	"errors"
	"fmt"
)

// Kind 评测失败的类型
type Kind string

const (
	KindSigning          Kind = "signing"
	KindConnect          Kind = "connect"
	KindTransport        Kind = "transport"
	KindTimeout          Kind = "timeout"
	KindAborted          Kind = "aborted"
	KindMalformedPayload Kind = "malformed_payload"
	KindService          Kind = "service"
	KindInvalidRequest   Kind = "invalid_request"
)

// Error 评测会话返回的类型化错误
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error

	// Raw 保留无法解析的原始载荷，便于排查
	Raw string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// IsKind 判断错误链中是否存在指定类型的评测错误
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// KindOf 返回错误的类型，非评测错误返回空字符串
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}

var (
	errSessionTimeout = errors.New("session budget exceeded")
	errSessionAborted = errors.New("session aborted")
)

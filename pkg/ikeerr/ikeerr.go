// Package ikeerr 定义核心状态机与编解码器统一使用的错误分类。
//
// 每个 Kind 对应一类需要由状态机区别处理的故障（致命 vs 非致命，
// 丢弃 vs 回复通知）。具体错误通过 Wrap 附带上下文原因，调用方用
// errors.Is(err, ikeerr.IntegrityFailure) 之类的判定来分支，而不是
// 比较字符串或做类型断言链。
package ikeerr

import (
	"errors"
	"fmt"
)

type Kind error

var (
	MalformedMessage       Kind = errors.New("malformed message")
	UnsupportedPayload     Kind = errors.New("unsupported payload")
	UnsupportedAttribute   Kind = errors.New("unsupported attribute")
	NoAcceptableProposal   Kind = errors.New("no acceptable proposal")
	InvalidKeyExchange     Kind = errors.New("invalid key exchange")
	IntegrityFailure       Kind = errors.New("integrity failure")
	DecryptionFailure      Kind = errors.New("decryption failure")
	AuthenticationFailed   Kind = errors.New("authentication failed")
	IdentityUnavailable    Kind = errors.New("identity unavailable")
	InvalidSyntax          Kind = errors.New("invalid syntax")
	UnexpectedState        Kind = errors.New("unexpected state")
	Timeout                Kind = errors.New("timeout")
	TransportError         Kind = errors.New("transport error")
	Internal               Kind = errors.New("internal error")
)

// Wrap 将 cause 归类为 kind，保留 cause 作为 errors.Unwrap 链的下一环。
func Wrap(kind Kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &wrapped{kind: kind, cause: cause}
}

// Wrapf 类似 Wrap，但消息由 format/args 构造后附加在 kind 之后。
func Wrapf(kind Kind, format string, args ...any) error {
	return &wrapped{kind: kind, cause: fmt.Errorf(format, args...)}
}

type wrapped struct {
	kind  Kind
	cause error
}

func (w *wrapped) Error() string {
	return fmt.Sprintf("%v: %v", w.kind, w.cause)
}

func (w *wrapped) Is(target error) bool {
	return errors.Is(w.kind, target)
}

func (w *wrapped) Unwrap() error {
	return w.cause
}

package mvcc

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so callers can branch without string matching,
// the way callers of storage/kvrows distinguish io.EOF from decode errors.
type Kind int

const (
	NotFound Kind = iota + 1
	AlreadyExists
	SemanticError
	LockConflict
	CorruptPage
	CorruptWal
	IoError
	TxState
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case SemanticError:
		return "semantic error"
	case LockConflict:
		return "lock conflict"
	case CorruptPage:
		return "corrupt page"
	case CorruptWal:
		return "corrupt wal"
	case IoError:
		return "io error"
	case TxState:
		return "transaction state"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every mvcc operation that can fail
// for a reason the caller might want to distinguish (lock conflicts must
// trigger rollback, NotFound must not).
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mvcc: %s: %s: %s", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("mvcc: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(k Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, k Kind) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == k
	}
	return false
}

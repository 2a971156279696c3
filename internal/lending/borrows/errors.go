package borrows

import (
	"errors"
	"fmt"
)

// ===== Error model (equipment と同型 + 遷移系コード) =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeConflict        Code = "CONFLICT"
	CodeConsistency     Code = "CONSISTENCY"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

// ErrInvalidState: 呼び出し側がユーザー向けメッセージを組めるよう
// id・試行した遷移・現在状態を必ず入れる。
func ErrInvalidState(id, op string, current BorrowStatus) *APIError {
	return &APIError{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("%s not allowed: borrow %s is %s", op, id, current),
	}
}

// ErrConsistency: 台帳バッチが部分適用された疑い。リトライせず必ず表面化させる。
func ErrConsistency(msg string) *APIError {
	return &APIError{Code: CodeConsistency, Message: msg}
}

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeInvalidState, CodeConflict:
			return 409
		default:
			return 500
		}
	}
	return 500
}

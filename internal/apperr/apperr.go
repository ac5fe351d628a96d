package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a typed domain error with HTTP awareness. Message is the
// user-facing wording; Err carries the underlying cause for logs.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is makes sentinel comparison work through wrapping: two *Error values
// match when their codes match.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches a cause to a sentinel, keeping its code and wording.
func Wrap(base *Error, err error) *Error {
	return &Error{Code: base.Code, Status: base.Status, Message: base.Message, Err: err}
}

// The engine's failure taxonomy. SourceUnavailable and ParseError abort only
// the affected user's query; RuleError degrades one template to zero
// occurrences and never surfaces past the expander.
var (
	ErrNotBound          = New("NOT_BOUND", http.StatusNotFound, "你还没有在这个群绑定课表哦，请先绑定 .ics 课表。")
	ErrSourceUnavailable = New("SOURCE_UNAVAILABLE", http.StatusNotFound, "课表文件不存在，可能已被删除。请重新绑定。")
	ErrParse             = New("PARSE_ERROR", http.StatusUnprocessableEntity, "课表数据无效，无法解析。")
	ErrRule              = New("RULE_ERROR", http.StatusUnprocessableEntity, "课表重复规则无效。")
	ErrGroupEmpty        = New("GROUP_EMPTY", http.StatusNotFound, "本群还没有人绑定课表哦。")
	ErrValidation        = New("VALIDATION_ERROR", http.StatusBadRequest, "请求参数无效。")
	ErrInternal          = New("INTERNAL_ERROR", http.StatusInternalServerError, "服务器内部错误。")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(ErrInternal, err)
}

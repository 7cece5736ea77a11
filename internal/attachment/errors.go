package attachment

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid 表示存在阻止提交的错误，Save 未做任何写入。
	ErrInvalid = errors.New("attachment: invalid, not saved")

	// ErrNotPresent 表示附件当前没有文件。
	ErrNotPresent = errors.New("attachment: no file present")
)

// Kind 区分错误来源。
type Kind string

const (
	KindValidation Kind = "validation"
	KindProcessing Kind = "processing"
)

// Error 是收集在附件上的校验或处理错误，不会中断赋值流程。
type Error struct {
	Kind  Kind
	Style string
	// Message 面向用户，例如 "can't be blank"。
	Message string
	Err     error
	// Blocking 为 true 时 Save 不会提交。
	Blocking bool
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Style != "" {
		msg = fmt.Sprintf("%s (style %s)", msg, e.Style)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

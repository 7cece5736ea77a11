package command

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 表示外部命令无法解析到可执行文件。
	ErrNotFound = errors.New("command: not found")

	// ErrReservedKey 表示插值表中出现了保留的选项名。
	ErrReservedKey = errors.New("command: reserved interpolation key")
)

// NotFoundError 携带未找到的命令名。
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("command: %s not found: %v", e.Name, e.Err)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// ExitError 表示命令以非预期的退出码结束。
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("command %q exited with status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("command %q exited with status %d: %s", e.Command, e.Code, e.Output)
}

// Package command 封装对外部命令行工具（file、identify、convert）的调用。
//
// 调用一律以参数向量方式执行，不经过 shell；命令模板中的 :key 占位符
// 会被整体替换为单个参数，因此值中的空格、引号不会造成注入。
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"attachr/internal/metrics"
)

// Vars 是命令模板的插值表。
type Vars map[string]string

// Options 控制单次调用的退出码与输出处理。
type Options struct {
	ExpectedExitCodes []int
	SwallowStderr     bool
	Timeout           time.Duration
}

// Runner 执行外部命令并返回标准输出。
type Runner interface {
	Run(ctx context.Context, name, line string, vars Vars, opts Options) (string, error)
}

// RunnerFunc 让普通函数满足 Runner。
type RunnerFunc func(ctx context.Context, name, line string, vars Vars, opts Options) (string, error)

func (f RunnerFunc) Run(ctx context.Context, name, line string, vars Vars, opts Options) (string, error) {
	return f(ctx, name, line, vars, opts)
}

// reservedKeys 是调用选项名，不允许出现在插值表中。
var reservedKeys = []string{"expected_outcodes", "swallow_stderr"}

var placeholder = regexp.MustCompile(`:([a-z_][a-z0-9_]*)`)

// Args 将命令模板切分为参数向量，并替换已知的 :key 占位符。
// 未出现在 vars 中的占位符保持原样（例如 %[exif:orientation]）。
func Args(line string, vars Vars) ([]string, error) {
	for _, key := range reservedKeys {
		if _, ok := vars[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrReservedKey, key)
		}
	}

	tokens, err := split(line)
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		args = append(args, placeholder.ReplaceAllStringFunc(tok, func(m string) string {
			if v, ok := vars[m[1:]]; ok {
				return v
			}
			return m
		}))
	}
	return args, nil
}

func split(line string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		quote   rune
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("command: unterminated quote in %q", line)
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

var safeArg = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./\-\[\]]+$`)

// Quote 以单引号包裹参数，内嵌的单引号转义为 '\''。
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if safeArg.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Display 生成可读的命令字符串，仅用于日志与错误信息。
func Display(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// Exec 通过 os/exec 运行命令。
type Exec struct {
	// SearchPath 中的目录优先于 PATH 被搜索。
	SearchPath []string
	Timeout    time.Duration
	Logger     *slog.Logger
}

func NewExec(searchPath []string, timeout time.Duration, logger *slog.Logger) *Exec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{SearchPath: searchPath, Timeout: timeout, Logger: logger}
}

// Resolve 定位可执行文件。
func (e *Exec) Resolve(name string) (string, error) {
	for _, dir := range e.SearchPath {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &NotFoundError{Name: name, Err: err}
	}
	return path, nil
}

func (e *Exec) Run(ctx context.Context, name, line string, vars Vars, opts Options) (out string, err error) {
	if e == nil {
		return "", fmt.Errorf("command runner uninitialized")
	}

	args, err := Args(line, vars)
	if err != nil {
		return "", err
	}

	started := time.Now()
	defer func() { metrics.ObserveCommand(name, started, err) }()

	bin, err := e.Resolve(name)
	if err != nil {
		return "", err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	if opts.SwallowStderr {
		cmd.Stderr = io.Discard
	} else {
		cmd.Stderr = &stderr
	}

	display := Display(name, args)
	e.Logger.Debug("running command", "command", display)

	code := 0
	if runErr := cmd.Run(); runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return "", fmt.Errorf("%s: %w", display, ctx.Err())
		case errors.As(runErr, &exitErr):
			code = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrNotFound), errors.Is(runErr, os.ErrNotExist):
			return "", &NotFoundError{Name: name, Err: runErr}
		default:
			return "", fmt.Errorf("%s: %w", display, runErr)
		}
	}

	if !expected(code, opts.ExpectedExitCodes) {
		output := strings.TrimSpace(stdout.String() + "\n" + stderr.String())
		e.Logger.Warn("command exited unexpectedly", "command", display, "code", code)
		return stdout.String(), &ExitError{Command: display, Code: code, Output: output}
	}

	return stdout.String(), nil
}

func expected(code int, codes []int) bool {
	if len(codes) == 0 {
		return code == 0
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

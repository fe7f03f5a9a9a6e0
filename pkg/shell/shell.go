package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

var ErrTimeout = errors.New("command timed out")

// Runner executes one command bounded by timeout.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
}

// Exec runs commands on the host. Each invocation is logged at debug level
// when Logger is set.
type Exec struct {
	Logger zerolog.Logger
}

func (e Exec) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	start := time.Now()
	res, err := Run(ctx, timeout, name, args...)
	ev := e.Logger.Debug()
	if err != nil {
		ev = e.Logger.Warn().Err(err).Str("stderr", strings.TrimSpace(string(res.Stderr)))
	}
	ev.Str("cmd", name).Strs("args", args).Int("code", res.Code).Dur("took", time.Since(start)).Msg("exec")
	return res, err
}

func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	if _, err := exec.LookPath(name); err != nil {
		return Result{Code: -1}, err
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return res, ErrTimeout
	}
	return res, err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

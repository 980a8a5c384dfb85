package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// stderrTailSize bounds how much of the child's stderr is kept for error reports
const stderrTailSize = 4096

// Runner executes an external command given as argv
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// ExternalCommandError is returned when the external command exits non-zero
type ExternalCommandError struct {
	ExitCode int
	Command  []string
	Stderr   string // last line of error output, if any
}

func (e *ExternalCommandError) Error() string {
	name := ""
	if len(e.Command) > 0 {
		name = e.Command[0]
	}
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with status %d: %s", name, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s exited with status %d", name, e.ExitCode)
}

// ExecRunner runs commands as child processes whose output is passed through
// to Stdout and Stderr.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner creates an ExecRunner writing to the given streams
func NewExecRunner(stdout, stderr io.Writer) *ExecRunner {
	return &ExecRunner{Stdout: stdout, Stderr: stderr}
}

// Run starts args[0] with the remaining tokens and blocks until it exits
func (r *ExecRunner) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}

	stdout, stderr := r.Stdout, r.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	tail := &tailWriter{max: stderrTailSize}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // argv is built by BuildCommand
	cmd.Stdin = os.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, tail)

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExternalCommandError{
			ExitCode: exitErr.ExitCode(),
			Command:  append([]string(nil), args...),
			Stderr:   tail.lastLine(),
		}
	}
	return fmt.Errorf("failed to run %s: %w", args[0], err)
}

// tailWriter keeps the last max bytes written to it
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = w.buf[len(w.buf)-w.max:]
	}
	return len(p), nil
}

func (w *tailWriter) lastLine() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	lines := strings.Split(strings.TrimRight(string(w.buf), "\r\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

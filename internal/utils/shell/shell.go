package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
)

// maxLineLen bounds a single logged line of streamed output.
const maxLineLen = 1 << 20

// waitDelay is how long a command's output is still read after it exits or
// its context is cancelled, while another process keeps the output open.
var waitDelay = 5 * time.Second

// GetOSEnvirons returns the system environment variables
func GetOSEnvirons() map[string]string {
	environ := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			environ[parts[0]] = parts[1]
		}
	}
	return environ
}

// GetOSProxyEnvirons retrieves HTTP and HTTPS proxy environment variables
func GetOSProxyEnvirons() map[string]string {
	proxyEnv := make(map[string]string)
	for key, value := range GetOSEnvirons() {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "http_proxy") ||
			strings.Contains(lower, "https_proxy") ||
			lower == "no_proxy" {
			proxyEnv[key] = value
		}
	}
	return proxyEnv
}

// GetShell returns the preferred shell, falling back to /bin/sh if bash is not available
func GetShell() string {
	shells := []string{"/bin/bash", "/usr/bin/bash", "/bin/sh"}
	for _, shell := range shells {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}

// IsCommandExist checks if a command can be found on PATH
func IsCommandExist(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// Quote joins args into a single string that the shell splits back into the same args.
func Quote(args ...string) string {
	return shellquote.Join(args...)
}

// MergeEnv overlays envVal (KEY=VALUE entries) on top of the current process
// environment. Later entries win.
func MergeEnv(envVal []string) []string {
	merged := GetOSEnvirons()
	for _, kv := range envVal {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		merged[parts[0]] = parts[1]
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// ExitCode extracts the exit status from an error returned by ExecCmd.
// It returns 0 for a nil error and -1 when the process never ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func newCmd(ctx context.Context, cmdStr string, workDir string, envVal []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, GetShell(), "-c", cmdStr)
	cmd.Dir = workDir
	cmd.Env = MergeEnv(envVal)
	cmd.WaitDelay = waitDelay
	return cmd
}

// ExecCmd executes a command in workDir and returns its combined output
func ExecCmd(ctx context.Context, cmdStr string, workDir string, envVal []string) (string, error) {
	log := logger.Logger()
	log.Debugf("Exec: [%s] in %s", cmdStr, workDir)

	cmd := newCmd(ctx, cmdStr, workDir, envVal)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Start()
	if err == nil {
		err = waitCmd(cmd)
	}
	outputStr := output.String()

	if err != nil {
		if outputStr != "" {
			log.Info(outputStr)
		}
		return outputStr, fmt.Errorf("failed to exec %s: %w", cmdStr, err)
	}
	if outputStr != "" {
		log.Debug(outputStr)
	}
	return outputStr, nil
}

// ExecCmdWithStream executes a command and streams its output to the log
func ExecCmdWithStream(ctx context.Context, cmdStr string, workDir string, envVal []string) (string, error) {
	log := logger.Logger()
	log.Debugf("Exec: [%s] in %s", cmdStr, workDir)

	var out strings.Builder
	stdout := &lineWriter{emit: func(line string) {
		out.WriteString(line)
		out.WriteString("\n")
		log.Info(line)
	}}
	stderr := &lineWriter{emit: func(line string) { log.Info(line) }}

	cmd := newCmd(ctx, cmdStr, workDir, envVal)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start command %s: %w", cmdStr, err)
	}
	err := waitCmd(cmd)
	stdout.Flush()
	stderr.Flush()
	if err != nil {
		return out.String(), fmt.Errorf("failed to wait for command %s: %w", cmdStr, err)
	}
	return out.String(), nil
}

// waitCmd waits for cmd. A command that exited successfully but left a
// background process holding its output open is not a failure.
func waitCmd(cmd *exec.Cmd) error {
	err := cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		logger.Logger().Warnf("command %s left a process holding its output open", cmd.Path)
		return nil
	}
	return err
}

// lineWriter hands every non-empty line written to it to emit. Lines longer
// than maxLineLen are emitted in pieces.
type lineWriter struct {
	buf  []byte
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	start := 0
	for {
		i := bytes.IndexByte(w.buf[start:], '\n')
		if i < 0 {
			break
		}
		w.line(w.buf[start : start+i])
		start += i + 1
	}
	for len(w.buf)-start >= maxLineLen {
		w.line(w.buf[start : start+maxLineLen])
		start += maxLineLen
	}
	w.buf = append(w.buf[:0], w.buf[start:]...)
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	w.line(w.buf)
	w.buf = nil
}

func (w *lineWriter) line(b []byte) {
	if len(b) > 0 {
		w.emit(string(b))
	}
}

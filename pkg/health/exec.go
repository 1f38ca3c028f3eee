package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/cuemby/stackup/pkg/types"
)

// ExecChecker performs exec-based health checks by running a command
type ExecChecker struct {
	// Command is the command to execute (e.g., ["pg_isready", "-U", "postgres"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	// ContainerID is the runtime handle of the instance to exec into.
	// If empty, runs on host (useful for testing)
	ContainerID string

	executor Executor
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
	}
}

// Check performs the exec health check. A non-zero exit status is a
// transient failure.
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return unhealthy(start, true, "no command specified")
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	var res *types.ExecResult
	var err error
	if e.ContainerID != "" && e.executor != nil {
		res, err = e.executor.Exec(execCtx, e.ContainerID, e.Command)
	} else {
		res, err = runOnHost(execCtx, e.Command)
	}

	message := fmt.Sprintf("Command: %v", e.Command)
	if err != nil {
		return unhealthy(start, false, "%s, Error: %v", message, err)
	}
	if res.ExitCode != 0 {
		message = fmt.Sprintf("%s, Exit: %d", message, res.ExitCode)
		if res.Stderr != "" {
			message = fmt.Sprintf("%s, Stderr: %s", message, truncate(res.Stderr))
		}
		return unhealthy(start, false, "%s", message)
	}

	if res.Stdout != "" {
		message = fmt.Sprintf("%s, Output: %s", message, truncate(res.Stdout))
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithContainer runs the command inside the instance with the given handle
func (e *ExecChecker) WithContainer(containerID string, executor Executor) *ExecChecker {
	e.ContainerID = containerID
	e.executor = executor
	return e
}

func runOnHost(ctx context.Context, command []string) (*types.ExecResult, error) {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &types.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func truncate(s string) string {
	const limit = 100
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

package interceptor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// ErrorDetector runs an external check command (e.g. a linter, type
// checker, or test runner) in the workspace after every turn. Exit code 0
// completes the chain; a non-zero exit appends the captured stderr (stdout
// if stderr is empty) alongside the command description and continues
// (§4.3), giving the model a chance to fix what the check caught.
type ErrorDetector struct {
	command string
	args    []string
	workDir string
}

// NewErrorDetector builds the interceptor. workDir may be empty to run in
// the current process's working directory.
func NewErrorDetector(command string, args []string, workDir string) *ErrorDetector {
	return &ErrorDetector{command: command, args: args, workDir: workDir}
}

func (e *ErrorDetector) Name() string { return "error_detector" }

func (e *ErrorDetector) Intercept(ctx context.Context, ictx *Context) (Result, error) {
	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Dir = e.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err == nil {
		return Complete(), nil
	}

	output := strings.TrimSpace(stderr.String())
	if output == "" {
		output = strings.TrimSpace(stdout.String())
	}

	description := e.command
	if len(e.args) > 0 {
		description = fmt.Sprintf("%s %s", e.command, strings.Join(e.args, " "))
	}

	*ictx.Messages = append(*ictx.Messages, models.NewUserMessage(
		models.TextBlock(fmt.Sprintf("Check failed: %s\n\n%s", description, output)),
	))
	return Result{Decision: models.InterceptorContinue}, nil
}

package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	ierr "github.com/mark3labs/consolewiz/internal/errors"
	"github.com/mark3labs/consolewiz/internal/logger"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the hooks configuration file.
const ConfigFileName = ".consolewiz.hooks.yml"

// LoadConfig loads the hooks configuration from the working directory.
// Returns nil if the config file doesn't exist (hooks are optional).
// Returns an error only if the file exists but cannot be parsed.
func LoadConfig(workDir string) (*Config, error) {
	configPath := filepath.Join(workDir, ConfigFileName)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("No hooks config found at %s", configPath)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read hooks config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse hooks config: %w", err)
	}

	logger.Debug("Loaded hooks config from %s (version: %d)", configPath, cfg.Version)
	return &cfg, nil
}

// Variables holds template variables that can be expanded in hook commands.
type Variables struct {
	TaskID string
	Result string
}

// VariablesFor builds the variables for a settled task. On success Result is
// the raw result payload; on failure it is the failure message.
func VariablesFor(taskID string, result json.RawMessage, err error) Variables {
	vars := Variables{TaskID: taskID}
	var failure *ierr.TaskFailure
	switch {
	case err == nil:
		vars.Result = string(result)
	case errors.As(err, &failure):
		vars.Result = failure.Message()
	default:
		vars.Result = err.Error()
	}
	return vars
}

// Execute runs a hook command and returns its output.
// Template variables in the command ({{task_id}}, {{result}}) are expanded
// before execution as single shell words, and also exported as
// CONSOLEWIZ_TASK_ID and CONSOLEWIZ_RESULT.
// On error, returns an error message as output and nil error (graceful degradation).
// Only returns error for context cancellation.
func Execute(ctx context.Context, hook *HookConfig, workDir string, vars Variables) (string, error) {
	if hook == nil || hook.Command == "" {
		return "", nil
	}

	// Expand template variables in command
	command := expandVariables(hook.Command, vars)
	logger.Debug("Executing hook command: %s", command)

	// Determine timeout
	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Create context with timeout
	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	// Execute command via shell, with the variables also in the environment
	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		"CONSOLEWIZ_TASK_ID="+vars.TaskID,
		"CONSOLEWIZ_RESULT="+vars.Result,
	)

	// Capture stdout and stderr separately
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Run the command
	err := cmd.Run()

	// Check for context cancellation (propagate this)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	// Handle timeout
	if execCtx.Err() == context.DeadlineExceeded {
		logger.Warn("Hook command timed out after %ds: %s", timeout, command)
		return fmt.Sprintf("[Hook timed out after %ds]\nPartial output:\n%s", timeout, stdout.String()), nil
	}

	// Handle command failure (graceful degradation - include error in output)
	if err != nil {
		logger.Warn("Hook command failed: %v", err)
		output := stdout.String()
		if stderr.Len() > 0 {
			output += "\n[stderr]\n" + stderr.String()
		}
		return fmt.Sprintf("[Hook command failed: %v]\n%s", err, output), nil
	}

	// Success - return stdout (include stderr if present)
	output := stdout.String()
	if stderr.Len() > 0 {
		logger.Debug("Hook stderr: %s", stderr.String())
		output += "\n[stderr]\n" + stderr.String()
	}

	logger.Debug("Hook executed successfully, output length: %d bytes", len(output))
	return output, nil
}

// ExecuteAll runs hooks in order and joins their non-empty outputs with a
// blank line. A failing hook does not stop the ones after it.
func ExecuteAll(ctx context.Context, hooks []*HookConfig, workDir string, vars Variables) (string, error) {
	var outputs []string
	for _, hook := range hooks {
		out, err := Execute(ctx, hook, workDir, vars)
		if err != nil {
			return strings.Join(outputs, "\n"), err
		}
		if out != "" {
			outputs = append(outputs, out)
		}
	}
	return strings.Join(outputs, "\n"), nil
}

// RunTaskSettled runs the hooks matching how the task settled: on_task_complete
// when err is nil, on_task_failed otherwise. A nil cfg runs nothing.
func RunTaskSettled(ctx context.Context, cfg *Config, workDir, taskID string, result json.RawMessage, err error) (string, error) {
	if cfg == nil {
		return "", nil
	}
	hooks := cfg.Hooks.OnTaskComplete
	if err != nil {
		hooks = cfg.Hooks.OnTaskFailed
	}
	if len(hooks) == 0 {
		return "", nil
	}
	logger.Debug("Running %d hook(s) for task %s", len(hooks), taskID)
	return ExecuteAll(ctx, hooks, workDir, VariablesFor(taskID, result, err))
}

// expandVariables replaces {{variable}} placeholders in the command string.
// Values come from the backend, so each one is quoted and the shell sees it
// as a single literal word.
func expandVariables(command string, vars Variables) string {
	replacements := map[string]string{
		"{{task_id}}": shellQuote(vars.TaskID),
		"{{result}}":  shellQuote(vars.Result),
	}

	result := command
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}
	return result
}

// shellQuote wraps s in single quotes. Embedded single quotes close the
// quoted string, add an escaped quote and reopen it.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

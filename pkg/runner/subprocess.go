package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/maestro-sh/maestro/pkg/models"
)

// scanBufferSize accommodates large single-line JSON chunks from the
// assistant's stream output.
const scanBufferSize = 1024 * 1024

// SubprocessRunner launches the code-assistant CLI in print mode and
// aggregates its stream-json output.
type SubprocessRunner struct {
	// Command is the assistant binary, normally "claude".
	Command string

	// MaxTurns bounds assistant turns per invocation. Kept small for cost.
	MaxTurns int

	logger *slog.Logger
}

// NewSubprocessRunner creates a runner for the given assistant command.
func NewSubprocessRunner(command string, maxTurns int, logger *slog.Logger) *SubprocessRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubprocessRunner{
		Command:  command,
		MaxTurns: maxTurns,
		logger:   logger.With("component", "subprocess_runner"),
	}
}

// Execute runs the assistant for one prompt. The caller bounds the call
// with a context deadline; when it elapses the subprocess is signaled and
// reaped by CommandContext.
func (r *SubprocessRunner) Execute(ctx context.Context, agent *models.Agent, task *models.Task, workDir string) (*Result, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	prompt := buildPrompt(agent, task)

	cmd := exec.CommandContext(ctx, r.Command,
		"-p", prompt,
		"--output-format=stream-json",
		"--max-turns", strconv.Itoa(r.MaxTurns),
		"--dangerously-skip-permissions",
	)
	cmd.Dir = workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSubprocess, err)
	}

	r.logger.Info("Starting assistant subprocess",
		"agent_id", agent.ID, "task_id", task.ID, "work_directory", workDir)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrSubprocess, err)
	}

	var response strings.Builder
	messages := 0

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		messages++
		for _, text := range extractText(line) {
			response.WriteString(text)
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: deadline elapsed", ErrTimeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrSubprocess, err)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrSubprocess, scanErr)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: deadline elapsed", ErrTimeout)
	}

	r.logger.Info("Assistant subprocess finished",
		"agent_id", agent.ID, "task_id", task.ID, "messages", messages)

	return &Result{
		Response:        truncateResponse(response.String()),
		Analysis:        fmt.Sprintf("Completed via code assistant in %d messages", messages),
		MessagesCount:   messages,
		WorkDirectory:   workDir,
		ExecutionMethod: "subprocess",
	}, nil
}

// streamChunk covers the stream-json shapes the assistant emits: a final
// "result" chunk with the whole answer, and assistant message chunks whose
// content blocks carry text.
type streamChunk struct {
	Type    string `json:"type"`
	Result  string `json:"result,omitempty"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
	} `json:"message"`
}

// extractText pulls the text blocks out of one stream-json line. Unparseable
// lines contribute nothing but still count as messages.
func extractText(line string) []string {
	var chunk streamChunk
	if err := json.Unmarshal([]byte(line), &chunk); err != nil {
		return nil
	}
	if chunk.Type == "result" && chunk.Result != "" {
		return []string{chunk.Result}
	}
	var texts []string
	for _, block := range chunk.Message.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	return texts
}

// buildPrompt combines the agent persona with the task brief.
func buildPrompt(agent *models.Agent, task *models.Task) string {
	var b strings.Builder
	if agent.SystemPrompt != "" {
		b.WriteString(agent.SystemPrompt)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	if task.ExpectedOutput != "" {
		fmt.Fprintf(&b, "Expected output: %s\n", task.ExpectedOutput)
	}
	return b.String()
}

// IsRecoverable reports whether the engine should continue with the
// fallback responder after this error.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSubprocess)
}

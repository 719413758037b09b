package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-sh/maestro/pkg/models"
)

func TestFallbackResponderByRole(t *testing.T) {
	task := &models.Task{Title: "Build the login page"}

	tests := []struct {
		name     string
		role     string
		contains string
	}{
		{name: "backend role", role: "Senior Backend Developer", contains: "backend work for 'Build the login page'"},
		{name: "frontend role", role: "frontend engineer", contains: "frontend for 'Build the login page'"},
		{name: "test role", role: "QA test specialist", contains: "Verified 'Build the login page'"},
		{name: "unknown role falls through", role: "designer", contains: "Task 'Build the login page' completed by Casey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &FallbackResponder{Delay: time.Millisecond}
			agent := &models.Agent{Name: "Casey", Role: tt.role}

			start := time.Now()
			res, err := f.Execute(context.Background(), agent, task, "/tmp/w")
			require.NoError(t, err)

			assert.Contains(t, res.Response, tt.contains)
			assert.Equal(t, "fallback", res.ExecutionMethod)
			assert.Equal(t, 1, res.MessagesCount)
			assert.Equal(t, "/tmp/w", res.WorkDirectory)
			// The simulated delay gives observers a non-zero duration.
			assert.GreaterOrEqual(t, time.Since(start), time.Millisecond)
		})
	}
}

func TestFallbackResponderHonorsCancellation(t *testing.T) {
	f := &FallbackResponder{Delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Execute(ctx, &models.Agent{Name: "a"}, &models.Task{Title: "t"}, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "result chunk",
			line: `{"type":"result","result":"final answer"}`,
			want: []string{"final answer"},
		},
		{
			name: "assistant message with text blocks",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":"part one "},{"type":"tool_use"},{"type":"text","text":"part two"}]}}`,
			want: []string{"part one ", "part two"},
		},
		{
			name: "system chunk contributes nothing",
			line: `{"type":"system","subtype":"init"}`,
			want: nil,
		},
		{
			name: "unparseable line contributes nothing",
			line: `not json at all`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractText(tt.line))
		})
	}
}

func TestTruncateResponse(t *testing.T) {
	long := strings.Repeat("x", 1500)
	assert.Len(t, truncateResponse(long), 1000)
	assert.Equal(t, "short", truncateResponse("short"))
}

func TestBuildPrompt(t *testing.T) {
	agent := &models.Agent{SystemPrompt: "You are a careful engineer."}
	task := &models.Task{
		Title:          "Add pagination",
		Description:    "Cursor-based, page size 50",
		ExpectedOutput: "Working endpoint with tests",
	}

	prompt := buildPrompt(agent, task)
	assert.Contains(t, prompt, "You are a careful engineer.")
	assert.Contains(t, prompt, "Task: Add pagination")
	assert.Contains(t, prompt, "Description: Cursor-based, page size 50")
	assert.Contains(t, prompt, "Expected output: Working endpoint with tests")
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(ErrSubprocess))
	assert.False(t, IsRecoverable(ErrTimeout))
	assert.False(t, IsRecoverable(assert.AnError))
}

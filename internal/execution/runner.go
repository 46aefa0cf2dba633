package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xymarket/node/internal/models"
)

// ArchiveRunner is the built-in demo runner: it answers task descriptions
// with a deterministic archive summary. Deployments swap in their own
// TaskRunner; this one exists so a fresh node does something useful.
type ArchiveRunner struct {
	// Delay simulates work. Zero means the task completes immediately.
	Delay time.Duration
}

var _ TaskRunner = (*ArchiveRunner)(nil)

func (a *ArchiveRunner) Run(ctx context.Context, req models.ExecutionRequest) (*RunResult, error) {
	description := strings.TrimSpace(req.TaskDescription)
	if description == "" {
		return nil, &Failure{Kind: "ValueError", Message: "task_description must not be empty"}
	}

	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	tools := []string{"lookup_archive"}
	if len(req.Context) > 0 {
		tools = append(tools, "context_reader")
	}

	return &RunResult{
		Output: map[string]any{
			"summary":      summarize(description),
			"sources":      searchedSources(description),
			"context_keys": len(req.Context),
		},
		ToolsUsed: tools,
	}, nil
}

// summarize clips the description to a headline-sized answer.
func summarize(description string) string {
	const maxLen = 200
	if len(description) > maxLen {
		description = description[:maxLen] + "..."
	}
	return fmt.Sprintf("Archive summary for: %s", description)
}

// searchedSources derives a stable pseudo source count from the
// description so repeated runs return identical results.
func searchedSources(description string) int {
	return len(strings.Fields(description))%5 + 1
}

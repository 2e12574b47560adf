package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kamlesh9876/devium/internal/graph"
)

// TaskSummary is the minimal task info sent to Claude for dependency inference.
type TaskSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	Assignee    string   `json:"assignee,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Summaries converts open tasks for the prompt. Done tasks are left out;
// nothing can usefully depend on them any more.
func Summaries(tasks []graph.Task) []TaskSummary {
	out := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		if t.IsDone() {
			continue
		}
		desc := t.Description
		if r := []rune(desc); len(r) > 280 {
			desc = string(r[:277]) + "..."
		}
		out = append(out, TaskSummary{
			ID:          t.ID,
			Title:       t.Title,
			Description: desc,
			Status:      string(t.Status),
			Priority:    string(t.Priority),
			Assignee:    t.AssigneeName,
			Tags:        t.Tags,
		})
	}
	return out
}

// DepEdge is a single inferred dependency.
type DepEdge struct {
	BlockedID string `json:"blocked_id"` // task that is blocked
	BlockerID string `json:"blocker_id"` // task that must finish first
	Reason    string `json:"reason"`
}

// InferDepsResult holds the full response from Claude.
type InferDepsResult struct {
	Edges   []DepEdge `json:"edges"`
	Summary string    `json:"summary"`
}

// Valid drops edges that name unknown tasks, point at themselves or repeat
// an edge already present in tasks. It does not check for cycles; the task
// repository rejects those when the edge is applied.
func (r *InferDepsResult) Valid(tasks []graph.Task) []DepEdge {
	byID := make(map[string]graph.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	seen := make(map[[2]string]bool)
	var out []DepEdge
	for _, e := range r.Edges {
		blocked, ok := byID[e.BlockedID]
		if !ok || e.BlockedID == e.BlockerID {
			continue
		}
		if _, ok := byID[e.BlockerID]; !ok {
			continue
		}
		key := [2]string{e.BlockedID, e.BlockerID}
		if seen[key] || slices.Contains(blocked.BlockedBy, e.BlockerID) {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// Client wraps the Anthropic SDK for Claude API calls.
type Client struct {
	inner anthropic.Client
	model anthropic.Model
}

// NewClient creates a Claude client. apiKey defaults to ANTHROPIC_API_KEY env.
// model defaults to Claude Sonnet.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	inner := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	m := anthropic.Model("claude-sonnet-4-6") // value of ModelClaudeSonnet4_6; constant absent in SDK versions supporting go1.21
	if model != "" {
		m = anthropic.Model(model)
	}

	return &Client{inner: inner, model: m}, nil
}

const inferDepsPrompt = `You are an expert software project manager. Given the open tasks of a team's project board, infer dependency edges between them.

Rules:
- Only add a dependency when there is a strong causal reason (task B cannot start until task A is complete).
- Prefer fewer edges. Do not add transitive or speculative dependencies.
- Do not create cycles.
- Only use task IDs from the provided list.
- A task cannot depend on itself.

Return your answer as JSON with this exact structure:
{
  "edges": [
    {"blocked_id": "<task that is blocked>", "blocker_id": "<task that must finish first>", "reason": "<short explanation>"}
  ],
  "summary": "<one paragraph summary of the dependency structure>"
}

Return ONLY the JSON object. No markdown fences, no commentary outside the JSON.

Here are the tasks:
`

// buildPrompt constructs the full prompt for dependency inference.
func buildPrompt(tasks []TaskSummary) (string, error) {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tasks: %w", err)
	}
	return inferDepsPrompt + string(data), nil
}

// InferDeps calls the Claude API to infer task dependencies.
func (c *Client) InferDeps(ctx context.Context, tasks []TaskSummary) (*InferDepsResult, error) {
	prompt, err := buildPrompt(tasks)
	if err != nil {
		return nil, err
	}

	text, err := c.complete(ctx, "", prompt)
	if err != nil {
		return nil, err
	}
	return parseInferDeps(text)
}

func parseInferDeps(text string) (*InferDepsResult, error) {
	text = stripJSONFences(text)

	var result InferDepsResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("parse claude response: %w\nraw: %s", err, text)
	}
	return &result, nil
}

const digestPrompt = `You are a delivery lead writing a short status digest for a software team.

You will receive a plain-text report with:
1. Sync status (online/offline, queued writes, errors).
2. Bottlenecks and the critical path through open tasks.
3. Per-member workload scores.
4. Security metrics and active threats.
5. System health checks.

Produce a concise digest covering:
- The one or two things most likely to delay delivery, and who can unblock them.
- Any member who is overloaded and a suggested rebalancing.
- Security or health issues that need attention today.

Keep it under 200 words. Do not repeat the raw numbers verbatim when a plain statement will do.
`

// Digest sends a rendered report to Claude and returns a short narrative
// for the team.
func (c *Client) Digest(ctx context.Context, report string) (string, error) {
	var userContent strings.Builder
	userContent.WriteString("## Report\n\n")
	userContent.WriteString(report)
	return c.complete(ctx, digestPrompt, userContent.String())
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(4096),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API call: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return strings.TrimSpace(text), nil
}

// stripJSONFences removes markdown code fences that Claude sometimes adds.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// Package llm wraps the optional language model used by opt-in cognitive
// features: contradiction checks during verification, memory rewriting and
// suggestion generation during consolidation, and summary polishing. When no
// API key is configured every method degrades to a graceful no-op error the
// caller swallows.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel   = "claude-3-5-haiku-20241022"
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	callTimeout    = 120 * time.Second
)

// ErrUnavailable is returned when no language model is configured. Callers
// treat it the same way they treat an unreachable embedding provider: skip
// the optional step and continue.
var ErrUnavailable = errors.New("language model unavailable")

// Client wraps the Anthropic API for Claudia's optional cognitive features.
type Client struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
}

// New creates a Client from the configured model name. ANTHROPIC_API_KEY in
// the environment is required; without it New returns (nil, nil) so callers
// hold a nil client and every feature no-ops.
func New(model string) (*Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, nil
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// Available reports whether the client can be used. A nil receiver is the
// common "not configured" case.
func (c *Client) Available() bool { return c != nil }

// Complete sends a single-turn prompt and returns the text response.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c == nil {
		return "", ErrUnavailable
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-callCtx.Done():
				return "", callCtx.Err()
			}
		}

		message, err := c.client.Messages.New(callCtx, params)
		if err == nil {
			if len(message.Content) > 0 && message.Content[0].Type == "text" {
				return message.Content[0].Text, nil
			}
			return "", fmt.Errorf("unexpected response format: not a text block")
		}
		lastErr = err
	}
	return "", fmt.Errorf("language model call failed after %d retries: %w", c.maxRetries, lastErr)
}

// CheckContradiction asks whether a new fact contradicts any of the existing
// verified facts. Returns contradicts=true on any response that is not a
// plain "no", per the verifier cascade's conservative contract.
func (c *Client) CheckContradiction(ctx context.Context, newFact string, existing []string) (bool, string, error) {
	if c == nil {
		return false, "", ErrUnavailable
	}
	if len(existing) == 0 {
		return false, "", nil
	}

	var sb strings.Builder
	sb.WriteString("Does the new statement contradict any of the established facts?\n")
	sb.WriteString("Answer with exactly \"no\" if there is no contradiction; otherwise describe the contradiction in one sentence.\n\n")
	sb.WriteString("New statement: " + newFact + "\n\nEstablished facts:\n")
	for _, f := range existing {
		sb.WriteString("- " + f + "\n")
	}

	resp, err := c.Complete(ctx, sb.String(), 256)
	if err != nil {
		return false, "", err
	}
	answer := strings.ToLower(strings.TrimSpace(resp))
	if answer == "no" || strings.HasPrefix(answer, "no.") || strings.HasPrefix(answer, "no,") {
		return false, "", nil
	}
	return true, strings.TrimSpace(resp), nil
}

// CheckCommitmentCompleteness asks whether a commitment names an owner and a
// deadline, returning warnings for whichever is missing.
func (c *Client) CheckCommitmentCompleteness(ctx context.Context, content string) ([]string, error) {
	if c == nil {
		return nil, ErrUnavailable
	}
	prompt := "The following is a recorded commitment. Reply with exactly \"complete\" if it names " +
		"both who is responsible and when it is due. Otherwise reply with \"missing: owner\", " +
		"\"missing: deadline\", or \"missing: owner, deadline\".\n\nCommitment: " + content
	resp, err := c.Complete(ctx, prompt, 64)
	if err != nil {
		return nil, err
	}
	answer := strings.ToLower(strings.TrimSpace(resp))
	if answer == "complete" {
		return nil, nil
	}
	var warnings []string
	if strings.Contains(answer, "owner") {
		warnings = append(warnings, "commitment does not name an owner")
	}
	if strings.Contains(answer, "deadline") {
		warnings = append(warnings, "commitment does not name a deadline")
	}
	return warnings, nil
}

// RewriteForConcision asks the model to tighten a memory's wording without
// dropping facts, for the LM consolidation phase. Returns the original text
// unchanged if the rewrite is longer or empty.
func (c *Client) RewriteForConcision(ctx context.Context, content string) (string, error) {
	if c == nil {
		return "", ErrUnavailable
	}
	prompt := "Rewrite the following note to be as concise as possible while preserving every fact, " +
		"name, date, and number. Reply with only the rewritten note.\n\n" + content
	resp, err := c.Complete(ctx, prompt, 512)
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(resp)
	if rewritten == "" || len(rewritten) >= len(content) {
		return content, nil
	}
	return rewritten, nil
}

// PolishSummary asks the model to smooth a mechanically composed entity
// summary into a readable paragraph.
func (c *Client) PolishSummary(ctx context.Context, draft string) (string, error) {
	if c == nil {
		return "", ErrUnavailable
	}
	prompt := "Rewrite the following notes as one concise, readable paragraph. Keep every fact. " +
		"Reply with only the paragraph.\n\n" + draft
	resp, err := c.Complete(ctx, prompt, 512)
	if err != nil {
		return "", err
	}
	polished := strings.TrimSpace(resp)
	if polished == "" {
		return draft, nil
	}
	return polished, nil
}

// SuggestFromMemories asks for actionable suggestions derived from recent
// memories, one per line, for the consolidation prediction phase.
func (c *Client) SuggestFromMemories(ctx context.Context, memories []string, max int) ([]string, error) {
	if c == nil {
		return nil, ErrUnavailable
	}
	if len(memories) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Given these recent notes, suggest up to %d concrete, actionable follow-ups. ", max)
	sb.WriteString("Reply with one suggestion per line and nothing else.\n\n")
	for _, m := range memories {
		sb.WriteString("- " + m + "\n")
	}
	resp, err := c.Complete(ctx, sb.String(), 512)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) >= max {
			break
		}
	}
	return out, nil
}

// ABOUTME: OpenAI-compatible chat-completions client implementing the decision Service
// ABOUTME: Single-turn, temperature-zero calls with strict output parsing

package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient implements Service against any OpenAI-compatible
// chat-completions endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewOpenAIClient creates a decision client. The timeout bounds every
// individual decision call.
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// complete performs one bounded, deterministic chat completion and returns
// the trimmed assistant text.
func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("decision request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading decision response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding decision response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("decision service error (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("decision service returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrNoDecision
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// ClassifyRoute picks one agent name from candidates, or ErrNoDecision.
func (c *OpenAIClient) ClassifyRoute(ctx context.Context, message string, candidates []string) (string, error) {
	system := "You route chat messages to the single best-suited agent. " +
		"Reply with exactly one agent name from the list, or the word none."
	user := fmt.Sprintf("Agents: %s\n\nMessage:\n%s", strings.Join(candidates, ", "), message)

	answer, err := c.complete(ctx, system, user)
	if err != nil {
		return "", err
	}

	answer = strings.Trim(strings.ToLower(answer), " .\"'")
	for _, cand := range candidates {
		if strings.EqualFold(cand, answer) {
			return cand, nil
		}
	}
	return "", ErrNoDecision
}

// DecideTeamMode classifies a task as coordinate or collaborate.
func (c *OpenAIClient) DecideTeamMode(ctx context.Context, message string, members []string) (TeamMode, error) {
	system := "You decide how a team of AI agents should handle a task. " +
		"Answer coordinate if the task decomposes into distinct subtasks for specific members, " +
		"collaborate if every member should answer the same prompt independently. " +
		"Reply with exactly one word: coordinate or collaborate."
	user := fmt.Sprintf("Team members: %s\n\nTask:\n%s", strings.Join(members, ", "), message)

	answer, err := c.complete(ctx, system, user)
	if err != nil {
		return "", err
	}

	switch strings.Trim(strings.ToLower(answer), " .\"'") {
	case string(ModeCoordinate):
		return ModeCoordinate, nil
	case string(ModeCollaborate):
		return ModeCollaborate, nil
	}
	return "", ErrNoDecision
}

// scheduleAnswer is the strict JSON shape ParseSchedule demands.
type scheduleAnswer struct {
	Kind     string `json:"kind"` // "once" or "cron"
	At       string `json:"at"`   // RFC 3339, for once
	Cron     string `json:"cron"` // five-field expression, for cron
	Template string `json:"template"`
}

// ParseSchedule turns a natural-language request into a one-time instant or
// a cron expression. Anything the model cannot express in those two forms
// is ErrNoDecision; there is no ambiguous result.
func (c *OpenAIClient) ParseSchedule(ctx context.Context, text string, now time.Time, loc *time.Location) (*ScheduleSpec, error) {
	system := "You parse scheduling requests. Reply with only a JSON object: " +
		`{"kind":"once","at":"<RFC3339 instant>","template":"<message to deliver>"} ` +
		`for a single future instant, or {"kind":"cron","cron":"<five-field cron>","template":"<message to deliver>"} ` +
		"for a recurring schedule. The template keeps any @mentions from the request. " +
		`If the request is not a schedulable instruction, reply {"kind":"none"}.`
	user := fmt.Sprintf("Current time: %s (%s)\n\nRequest:\n%s",
		now.In(loc).Format(time.RFC3339), loc.String(), text)

	answer, err := c.complete(ctx, system, user)
	if err != nil {
		return nil, err
	}

	// Models occasionally fence the JSON; strip that before decoding.
	answer = strings.TrimSpace(strings.Trim(answer, "`"))
	answer = strings.TrimPrefix(answer, "json")

	var parsed scheduleAnswer
	if err := json.Unmarshal([]byte(answer), &parsed); err != nil {
		return nil, fmt.Errorf("%w: unparseable schedule answer", ErrNoDecision)
	}

	switch parsed.Kind {
	case "once":
		at, err := time.Parse(time.RFC3339, parsed.At)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid instant %q", ErrNoDecision, parsed.At)
		}
		at = at.In(loc)
		return &ScheduleSpec{Once: &at, Template: parsed.Template}, nil
	case "cron":
		if parsed.Cron == "" {
			return nil, fmt.Errorf("%w: empty cron expression", ErrNoDecision)
		}
		return &ScheduleSpec{Cron: parsed.Cron, Template: parsed.Template}, nil
	}
	return nil, ErrNoDecision
}

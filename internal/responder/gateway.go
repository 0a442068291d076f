// ABOUTME: HTTP/SSE client for the agent gateway that performs model inference
// ABOUTME: Streams partial text events and returns the full response on done

package responder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EventType represents SSE event types from the gateway.
type EventType string

const (
	EventText  EventType = "text"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// sseEvent is a parsed Server-Sent Event.
type sseEvent struct {
	Type EventType
	Data string
}

// textEventData is the JSON structure for text/done events.
type textEventData struct {
	Text         string `json:"text,omitempty"`
	FullResponse string `json:"full_response,omitempty"`
}

// errorEventData is the JSON structure for error events.
type errorEventData struct {
	Error string `json:"error"`
}

// Gateway is a Responder backed by the agent gateway HTTP API.
type Gateway struct {
	baseURL string
	client  *http.Client
}

// NewGateway creates a gateway responder.
func NewGateway(baseURL string) *Gateway {
	return &Gateway{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Respond sends the request to the gateway and streams the SSE response.
func (g *Gateway) Respond(ctx context.Context, req Request, onPartial func(string)) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/respond", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", g.errorFromResponse(resp)
	}

	return g.parseSSEStream(ctx, resp.Body, onPartial)
}

// errorFromResponse extracts an error message from non-200 responses.
func (g *Gateway) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp errorEventData
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
		}
	}
	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
}

// parseSSEStream reads SSE events, invoking onPartial for each text chunk.
func (g *Gateway) parseSSEStream(ctx context.Context, body io.Reader, onPartial func(string)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventType EventType
	var dataLines []string
	var full strings.Builder
	var fullResponse string

	dispatch := func() error {
		if eventType == "" && len(dataLines) == 0 {
			return nil
		}
		evt := sseEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
		eventType = ""
		dataLines = nil

		switch evt.Type {
		case EventText:
			var data textEventData
			if err := json.Unmarshal([]byte(evt.Data), &data); err == nil && data.Text != "" {
				full.WriteString(data.Text)
				if onPartial != nil {
					onPartial(full.String())
				}
			}
		case EventDone:
			var data textEventData
			if err := json.Unmarshal([]byte(evt.Data), &data); err == nil {
				fullResponse = data.FullResponse
			}
		case EventError:
			var data errorEventData
			if err := json.Unmarshal([]byte(evt.Data), &data); err == nil && data.Error != "" {
				return fmt.Errorf("agent error: %s", data.Error)
			}
			return fmt.Errorf("agent error")
		}
		return nil
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return full.String(), ctx.Err()
		default:
		}

		line := scanner.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return full.String(), err
			}
		case strings.HasPrefix(line, "event:"):
			eventType = EventType(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := dispatch(); err != nil {
		return full.String(), err
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("reading response stream: %w", err)
	}

	if fullResponse != "" {
		return fullResponse, nil
	}
	return full.String(), nil
}

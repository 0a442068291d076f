// ABOUTME: Tests for the OpenAI-compatible decision client with a stub server
// ABOUTME: Strict answer parsing: anything off-format is ErrNoDecision

package decision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCompletions serves a fixed assistant answer.
func stubCompletions(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 0, req["temperature"], "decisions are deterministic")

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": answer}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newStubClient(t *testing.T, answer string) *OpenAIClient {
	srv := stubCompletions(t, answer)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(srv.URL, "test-key", "test-model", 5*time.Second)
}

func TestClassifyRoute(t *testing.T) {
	candidates := []string{"finance", "research"}

	tests := []struct {
		name    string
		answer  string
		want    string
		wantErr bool
	}{
		{"exact", "finance", "finance", false},
		{"cased and punctuated", `"Finance".`, "finance", false},
		{"none", "none", "", true},
		{"invented name", "marketing", "", true},
		{"prose answer", "I think finance would be best", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newStubClient(t, tt.answer)
			got, err := c.ClassifyRoute(context.Background(), "what's our burn rate", candidates)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoDecision)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecideTeamMode(t *testing.T) {
	tests := []struct {
		answer  string
		want    TeamMode
		wantErr bool
	}{
		{"coordinate", ModeCoordinate, false},
		{"Collaborate.", ModeCollaborate, false},
		{"both", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			c := newStubClient(t, tt.answer)
			got, err := c.DecideTeamMode(context.Background(), "do things", []string{"a", "b"})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoDecision)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSchedule(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("once", func(t *testing.T) {
		c := newStubClient(t, `{"kind":"once","at":"2025-06-02T09:00:00Z","template":"@finance report"}`)
		spec, err := c.ParseSchedule(context.Background(), "tomorrow at 9", now, time.UTC)
		require.NoError(t, err)
		require.NotNil(t, spec.Once)
		assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), spec.Once.UTC())
		assert.Equal(t, "@finance report", spec.Template)
		assert.False(t, spec.Recurring())
	})

	t.Run("cron", func(t *testing.T) {
		c := newStubClient(t, `{"kind":"cron","cron":"0 9 * * 1","template":"weekly sync"}`)
		spec, err := c.ParseSchedule(context.Background(), "every monday at 9", now, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, "0 9 * * 1", spec.Cron)
		assert.True(t, spec.Recurring())
	})

	t.Run("fenced json", func(t *testing.T) {
		c := newStubClient(t, "```json\n{\"kind\":\"cron\",\"cron\":\"0 9 * * *\",\"template\":\"x\"}\n```")
		spec, err := c.ParseSchedule(context.Background(), "daily", now, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, "0 9 * * *", spec.Cron)
	})

	t.Run("none", func(t *testing.T) {
		c := newStubClient(t, `{"kind":"none"}`)
		_, err := c.ParseSchedule(context.Background(), "hello", now, time.UTC)
		assert.ErrorIs(t, err, ErrNoDecision)
	})

	t.Run("invalid instant", func(t *testing.T) {
		c := newStubClient(t, `{"kind":"once","at":"tomorrow-ish"}`)
		_, err := c.ParseSchedule(context.Background(), "x", now, time.UTC)
		assert.ErrorIs(t, err, ErrNoDecision)
	})

	t.Run("prose answer", func(t *testing.T) {
		c := newStubClient(t, "Sure! I'll schedule that for you.")
		_, err := c.ParseSchedule(context.Background(), "x", now, time.UTC)
		assert.ErrorIs(t, err, ErrNoDecision)
	})
}

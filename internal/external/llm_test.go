package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/types"
)

func newTestChatClient(t *testing.T, handler http.HandlerFunc) *OpenAIChatClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIChatClientWithBase(newTestClient(t, fastPolicy(0)), OpenAIChatConfig{
		BaseURL: server.URL + "/",
		APIKey:  "sk-llm",
		Model:   "gpt-test",
	})
}

func TestOpenAIChatClient_Complete(t *testing.T) {
	var got chatCompletionRequest
	client := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-llm", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"model":"gpt-test","choices":[{"message":{"role":"assistant","content":"hello there"}}]}`))
	})

	reply, err := client.Complete(context.Background(), ChatRequest{
		Persona:  types.Persona{ID: "aiko", DisplayName: "Aiko"},
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply.Content)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "Aiko")
	assert.Equal(t, "gpt-test", got.Model)
}

func TestOpenAIChatClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   types.ErrorCode
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"message":"nope","type":"invalid_request_error"}}`, types.ErrCodeUpstreamLLM},
		{"empty choices", http.StatusOK, `{"choices":[]}`, types.ErrCodeUpstreamLLM},
		{"server error", http.StatusInternalServerError, `{}`, types.ErrCodeUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := client.Complete(context.Background(), ChatRequest{Persona: types.Persona{ID: "aiko"}})
			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.True(t, appErr.Code.Retryable())
		})
	}
}

package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/dnaeon/go-vcr.v4/recorder"

	"github.com/howard-nolan/unigate/internal/model"
)

// fakeOpenAIBackend answers one /chat/completions call with a canned
// response, standing in for the real OpenAI-wire API during cassette
// recording.
func fakeOpenAIBackend(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), `"model":"gpt-4o"`)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-test-1",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`))
	}
}

// recordThenReplay records one real exchange against backend into a cassette
// on disk, then runs do again against a client that replays that exact
// cassette with backend already torn down — the standard go-vcr
// record-once/replay workflow, kept here as the one checked-in exerciser of
// the teacher's go-vcr dependency (otherwise unused in the original
// codebase).
func recordThenReplay(t *testing.T, backend http.HandlerFunc, do func(client *http.Client, baseURL string)) {
	t.Helper()
	srv := httptest.NewServer(backend)
	baseURL := srv.URL

	cassettePath := filepath.Join(t.TempDir(), "chat_completion")

	rec, err := recorder.NewWithOptions(&recorder.Options{
		CassetteName: cassettePath,
		Mode:         recorder.ModeRecordOnly,
	})
	require.NoError(t, err)
	do(&http.Client{Transport: rec}, baseURL)
	require.NoError(t, rec.Stop())
	srv.Close()

	replay, err := recorder.NewWithOptions(&recorder.Options{
		CassetteName: cassettePath,
		Mode:         recorder.ModeReplayOnly,
	})
	require.NoError(t, err)
	defer replay.Stop()
	do(&http.Client{Transport: replay}, baseURL)
}

func TestOpenAIProviderChatCompletionViaCassette(t *testing.T) {
	req := &model.ChatRequest{
		Model:    "gpt-4o",
		Messages: []model.ChatMessage{{Role: model.RoleUser, Content: model.NewTextContent("hello")}},
	}

	var lastResp *model.ChatCompletionResponse
	recordThenReplay(t, fakeOpenAIBackend(t), func(client *http.Client, baseURL string) {
		p := NewOpenAIProvider("openai-test", baseURL, "test-key", client, model.ThinkingCapabilities{}, nil)
		resp, err := p.ChatCompletion(context.Background(), req)
		require.NoError(t, err)
		lastResp = resp
	})

	require.NotNil(t, lastResp)
	assert.Equal(t, "chatcmpl-test-1", lastResp.ID)
	assert.Equal(t, "hi there", lastResp.Choices[0].Message.Content.Text)
	assert.Equal(t, 12, lastResp.Usage.TotalTokens)
}

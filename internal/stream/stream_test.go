package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/unigate/internal/model"
)

// sendChunks sends chunks on a channel in a goroutine and closes it when
// done, simulating what a provider adapter does in production.
func sendChunks(chunks ...model.ChatCompletionChunk) <-chan model.ChatCompletionChunk {
	ch := make(chan model.ChatCompletionChunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			ch <- c
		}
	}()
	return ch
}

// parseSSEEvents splits the raw SSE output into individual data payloads,
// excluding the "data: [DONE]" sentinel.
func parseSSEEvents(body string) []string {
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			payload := strings.TrimPrefix(line, "data: ")
			if payload != "[DONE]" {
				events = append(events, payload)
			}
		}
	}
	return events
}

func finishReason(r model.FinishReason) *model.FinishReason { return &r }

func TestWriteMultipleChunks(t *testing.T) {
	ch := sendChunks(
		model.ChatCompletionChunk{Model: "test-model", Choices: []model.ChunkChoice{{Delta: model.ChatCompletionChunkDelta{Content: "Hello"}}}},
		model.ChatCompletionChunk{Model: "test-model", Choices: []model.ChunkChoice{{Delta: model.ChatCompletionChunkDelta{Content: " world"}}}},
		model.ChatCompletionChunk{
			Model:   "test-model",
			Choices: []model.ChunkChoice{{FinishReason: finishReason(model.FinishStop)}},
			Usage:   &model.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
		},
	)

	w := httptest.NewRecorder()
	require.NoError(t, Write(context.Background(), w, ch))

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	body := w.Body.String()
	assert.Contains(t, body, "data: [DONE]")

	events := parseSSEEvents(body)
	require.Len(t, events, 3)

	var first model.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(events[0]), &first))
	assert.Equal(t, "Hello", first.Choices[0].Delta.Content)
	assert.Nil(t, first.Choices[0].FinishReason)

	var third model.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(events[2]), &third))
	require.NotNil(t, third.Choices[0].FinishReason)
	assert.Equal(t, model.FinishStop, *third.Choices[0].FinishReason)
	require.NotNil(t, third.Usage)
	assert.Equal(t, 7, third.Usage.TotalTokens)
}

func TestWriteMidStreamErrorEmitsSyntheticEventThenDone(t *testing.T) {
	ch := sendChunks(
		model.ChatCompletionChunk{Model: "test-model", Choices: []model.ChunkChoice{{Delta: model.ChatCompletionChunkDelta{Content: "partial"}}}},
		model.ChatCompletionChunk{Err: errors.New("connection reset")},
	)

	w := httptest.NewRecorder()
	require.NoError(t, Write(context.Background(), w, ch))

	body := w.Body.String()
	assert.Contains(t, body, "connection reset")
	assert.Contains(t, body, "data: [DONE]", "a mid-stream error must still terminate the SSE sequence cleanly")
}

func TestWriteStopsImmediatelyOnContextCancellation(t *testing.T) {
	ch := make(chan model.ChatCompletionChunk)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	err := Write(ctx, w, ch)
	assert.Error(t, err)
	assert.NotContains(t, w.Body.String(), "[DONE]", "a cancelled client never receives a DONE sentinel")
}

func TestWriteSSEFraming(t *testing.T) {
	ch := sendChunks(
		model.ChatCompletionChunk{Model: "m", Choices: []model.ChunkChoice{{Delta: model.ChatCompletionChunkDelta{Content: "hi"}}}},
		model.ChatCompletionChunk{Model: "m", Choices: []model.ChunkChoice{{FinishReason: finishReason(model.FinishStop)}}},
	)

	w := httptest.NewRecorder()
	require.NoError(t, Write(context.Background(), w, ch))

	body := w.Body.String()
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	parts := strings.Split(body, "\n\n")
	nonEmpty := 0
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty++
		}
	}
	assert.Equal(t, 3, nonEmpty, "content + finish + DONE")
}

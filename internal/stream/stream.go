// Package stream normalizes every adapter's streaming output into
// OpenAI-compatible Server-Sent Events (spec §4.9) and writes them to an
// http.ResponseWriter. Because every provider adapter already emits
// model.ChatCompletionChunk — the unified wire shape — this package's only
// job is framing: write each chunk as "data: {json}\n\n", flush
// immediately so tokens arrive in real time, turn a mid-stream provider
// failure into one synthetic error chunk before closing out, and always
// terminate with the "data: [DONE]" sentinel so a client can tell a clean
// end from a dropped connection.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/howard-nolan/unigate/internal/model"
)

// errorChunk is the JSON shape written for a synthetic mid-stream error
// event (spec §4.9: "a provider failure after the stream has started must
// still produce a terminated, well-formed SSE sequence").
type errorChunk struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Write reads normalized chunks from ch and streams them to w as SSE,
// returning when the channel closes, ctx is cancelled, or a write to w
// fails. It is the consumer end of the adapter's goroutine+channel
// streaming pattern: the adapter owns ch and closes it; Write only reads.
func Write(ctx context.Context, w http.ResponseWriter, ch <-chan model.ChatCompletionChunk) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			// The client disconnected or the request deadline fired. There is
			// no client left to receive [DONE], so just stop.
			return ctx.Err()

		case chunk, ok := <-ch:
			if !ok {
				return writeDone(w, flusher)
			}

			if chunk.Err != nil {
				if err := writeErrorEvent(w, flusher, chunk.Err); err != nil {
					return err
				}
				return writeDone(w, flusher)
			}

			if err := writeEvent(w, flusher, chunk); err != nil {
				return err
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, chunk model.ChatCompletionChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshaling stream chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing SSE event: %w", err)
	}
	flusher.Flush()
	return nil
}

func writeErrorEvent(w http.ResponseWriter, flusher http.Flusher, upstream error) error {
	data, err := json.Marshal(errorChunk{Error: errorDetail{
		Message: upstream.Error(),
		Type:    "upstream_error",
	}})
	if err != nil {
		return fmt.Errorf("marshaling error chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing SSE error event: %w", err)
	}
	flusher.Flush()
	return nil
}

func writeDone(w http.ResponseWriter, flusher http.Flusher) error {
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing SSE done marker: %w", err)
	}
	flusher.Flush()
	return nil
}

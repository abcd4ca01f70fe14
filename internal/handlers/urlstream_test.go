package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"lambda-event-patterns/internal/relay"
)

func readFrames(t *testing.T, body io.Reader) []relay.Frame {
	t.Helper()

	var frames []relay.Frame
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		var frame relay.Frame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			t.Fatalf("Invalid frame %q: %v", scanner.Text(), err)
		}
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	return frames
}

func TestURLStreamHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("Streams body prompt", func(t *testing.T) {
		model := &fakeModel{tokens: []string{"Hel", "lo"}}
		handler := NewURLStreamHandler(model, 2, testLogger)

		resp, err := handler.Handle(ctx, events.LambdaFunctionURLRequest{Body: `{"prompt":"Say hello"}`})
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}
		if resp.Headers["Content-Type"] != "application/x-ndjson" {
			t.Errorf("Expected ndjson content type, got %s", resp.Headers["Content-Type"])
		}

		frames := readFrames(t, resp.Body)
		var text string
		for _, f := range frames {
			if f.Type == "text" && f.Message != nil {
				text += *f.Message
			}
		}
		if text != "Hello" {
			t.Errorf("Expected Hello, got %q", text)
		}
		if len(frames) != 4 {
			t.Errorf("Expected 4 frames, got %d", len(frames))
		}
		if model.prompts[0] != "Say hello" {
			t.Errorf("Expected prompt forwarded, got %q", model.prompts[0])
		}
	})

	t.Run("Query prompt", func(t *testing.T) {
		model := &fakeModel{tokens: []string{"ok"}}
		handler := NewURLStreamHandler(model, 2, testLogger)

		resp, err := handler.Handle(ctx, events.LambdaFunctionURLRequest{
			QueryStringParameters: map[string]string{"prompt": "from query"},
		})
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		readFrames(t, resp.Body)
		if model.prompts[0] != "from query" {
			t.Errorf("Expected query prompt, got %q", model.prompts[0])
		}
	})

	t.Run("Missing prompt", func(t *testing.T) {
		model := &fakeModel{}
		handler := NewURLStreamHandler(model, 2, testLogger)

		resp, err := handler.Handle(ctx, events.LambdaFunctionURLRequest{})
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
		if len(model.prompts) != 0 {
			t.Errorf("Expected model not called, got %d calls", len(model.prompts))
		}
	})

	t.Run("Stream open failure", func(t *testing.T) {
		handler := NewURLStreamHandler(&fakeModel{err: errBoom}, 2, testLogger)

		if _, err := handler.Handle(ctx, events.LambdaFunctionURLRequest{Body: `{"prompt":"x"}`}); err == nil {
			t.Error("Expected error")
		}
	})
}

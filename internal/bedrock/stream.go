package bedrock

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"lambda-event-patterns/internal/relay"
)

// EventReader is the read side of a ConverseStream event stream.
// *bedrockruntime.ConverseStreamEventStream implements it.
type EventReader interface {
	Events() <-chan types.ConverseStreamOutput
	Err() error
	Close() error
}

// StreamSource adapts an EventReader to relay.Source
type StreamSource struct {
	reader EventReader
}

// NewStreamSource returns a relay source reading from r
func NewStreamSource(r EventReader) *StreamSource {
	return &StreamSource{reader: r}
}

// Recv returns the next frame. Once the event channel is closed it returns
// the reader error if there is one, io.EOF otherwise.
func (s *StreamSource) Recv(ctx context.Context) (relay.Frame, error) {
	select {
	case <-ctx.Done():
		return relay.Frame{}, ctx.Err()
	case event, ok := <-s.reader.Events():
		if !ok {
			if err := s.reader.Err(); err != nil {
				return relay.Frame{}, err
			}
			return relay.Frame{}, io.EOF
		}
		return FrameFor(event)
	}
}

// Close closes the underlying reader
func (s *StreamSource) Close() error {
	return s.reader.Close()
}

// FrameFor converts one stream event into the frame sent downstream.
// Text deltas become "text" frames, an empty delta becomes an empty
// "message" frame and every other event becomes an "other" frame without a
// message.
func FrameFor(event types.ConverseStreamOutput) (relay.Frame, error) {
	block, ok := event.(*types.ConverseStreamOutputMemberContentBlockDelta)
	if !ok {
		return relay.Frame{Type: "other"}, nil
	}

	switch delta := block.Value.Delta.(type) {
	case nil:
		empty := ""
		return relay.Frame{Type: "message", Message: &empty}, nil
	case *types.ContentBlockDeltaMemberText:
		return relay.Text(delta.Value), nil
	default:
		return relay.Frame{}, fmt.Errorf("unsupported content delta %T", delta)
	}
}

package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"

	"lambda-event-patterns/internal/relay"
)

// ErrConnectionGone is returned when the WebSocket client disconnected
// before the relay finished
var ErrConnectionGone = errors.New("websocket connection gone")

// ConnectionPoster is the subset of the API Gateway management client used
// to push frames to a WebSocket connection
type ConnectionPoster interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// WebSocketSink posts every frame as a JSON message to one connection
type WebSocketSink struct {
	poster       ConnectionPoster
	connectionID string
}

// NewWebSocketSink returns a sink writing to connectionID
func NewWebSocketSink(poster ConnectionPoster, connectionID string) *WebSocketSink {
	return &WebSocketSink{poster: poster, connectionID: connectionID}
}

// Send implements relay.Sink
func (s *WebSocketSink) Send(ctx context.Context, frame relay.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	_, err = s.poster.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(s.connectionID),
		Data:         data,
	})
	if err != nil {
		var gone *types.GoneException
		if errors.As(err, &gone) {
			return fmt.Errorf("%w: %s", ErrConnectionGone, s.connectionID)
		}
		return fmt.Errorf("post to connection %s: %w", s.connectionID, err)
	}
	return nil
}

// WriterSink writes frames as newline-delimited JSON
type WriterSink struct {
	w   io.Writer
	enc *json.Encoder
}

// NewWriterSink returns a sink encoding frames onto w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w, enc: json.NewEncoder(w)}
}

type flusher interface{ Flush() }

// Send implements relay.Sink. Writers with a Flush method are flushed after
// every frame.
func (s *WriterSink) Send(ctx context.Context, frame relay.Frame) error {
	if err := s.enc.Encode(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if f, ok := s.w.(flusher); ok {
		f.Flush()
	}
	return nil
}

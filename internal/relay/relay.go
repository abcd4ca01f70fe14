// Package relay forwards incrementally produced frames from one upstream
// source to one downstream sink through a bounded queue.
//
// A producer goroutine pulls from the Source and a consumer goroutine pushes
// to the Sink. They are joined before Run returns, frames keep their upstream
// order, and the first failure on either side stops both.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultCapacity is the relay queue depth used when none is configured
const DefaultCapacity = 32

// ErrSinkGone is returned by the producer when the consumer stopped before
// the upstream finished
var ErrSinkGone = errors.New("relay sink gone")

// Frame is the wrapper record forwarded for every upstream unit
type Frame struct {
	Type    string  `json:"type"`
	Message *string `json:"message"`
}

// Text returns a frame of type "text" carrying s
func Text(s string) Frame {
	return Frame{Type: "text", Message: &s}
}

// Source yields frames until it returns io.EOF
type Source interface {
	Recv(ctx context.Context) (Frame, error)
}

// Sink accepts frames in order. A Sink that also implements io.Closer is
// closed once every frame has been delivered.
type Sink interface {
	Send(ctx context.Context, frame Frame) error
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) (Frame, error)

// Recv calls f(ctx)
func (f SourceFunc) Recv(ctx context.Context) (Frame, error) { return f(ctx) }

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, frame Frame) error

// Send calls f(ctx, frame)
func (f SinkFunc) Send(ctx context.Context, frame Frame) error { return f(ctx, frame) }

// Stats reports what a relay run did
type Stats struct {
	Produced  int64
	Delivered int64
}

type options struct {
	capacity int
	stats    *Stats
}

// Option configures Run
type Option func(*options)

// WithCapacity sets the queue depth. Values below 1 use DefaultCapacity.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithStats records frame counts into s when Run returns
func WithStats(s *Stats) Option {
	return func(o *options) { o.stats = s }
}

// Run relays frames from src to sink and returns once both sides finished.
// It returns nil only when the source reached io.EOF and every frame was
// delivered.
func Run(ctx context.Context, src Source, sink Sink, opts ...Option) error {
	o := options{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	var produced, delivered atomic.Int64
	queue := make(chan Frame, o.capacity)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			frame, err := src.Recv(gctx)
			if errors.Is(err, io.EOF) {
				close(queue)
				return nil
			}
			if err != nil {
				return fmt.Errorf("receive from upstream: %w", err)
			}

			select {
			case queue <- frame:
				produced.Add(1)
			case <-gctx.Done():
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrSinkGone
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case frame, ok := <-queue:
				if !ok {
					if closer, isCloser := sink.(io.Closer); isCloser {
						return closer.Close()
					}
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := sink.Send(gctx, frame); err != nil {
					return fmt.Errorf("send to sink: %w", err)
				}
				delivered.Add(1)
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	err := g.Wait()
	if o.stats != nil {
		o.stats.Produced = produced.Load()
		o.stats.Delivered = delivered.Load()
	}
	return err
}
